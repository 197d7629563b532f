// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Options 控制全局日志的输出格式
type Options struct {
	Level   string // debug / info / warn / error
	Console bool   // true 时输出人类可读格式，否则输出 JSON
	Service string
}

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局 logger，应当在进程启动时调用一次
func Init(opts Options) {
	var w io.Writer = os.Stdout
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := zerolog.New(w).With().Timestamp()
	if opts.Service != "" {
		ctx = ctx.Str("service", opts.Service)
	}
	base = ctx.Logger()
}

// L 返回不带请求上下文的全局 logger
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回带有 trace_id / span_id 的 logger，用于把日志和 Jaeger 链路关联起来
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
