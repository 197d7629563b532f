// internal/service/deal/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"dealhub/internal/service/deal/domain/port"
)

// CELConditionEngine 是 port.ConditionEvaluator 的 CEL 实现。
// 表达式可以使用 count、weekday（0=周日）和 hour 三个整型变量，例如：
//
//	count <= 4 && weekday != 0 && hour >= 13
type CELConditionEngine struct {
	env      *cel.Env
	programs sync.Map // expr -> cel.Program
}

var _ port.ConditionEvaluator = (*CELConditionEngine)(nil)

func NewCELConditionEngine() (*CELConditionEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("count", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel env: %w", err)
	}
	return &CELConditionEngine{env: env}, nil
}

func (e *CELConditionEngine) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

func (e *CELConditionEngine) Evaluate(expr string, in port.ConditionInput) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"count":   int64(in.Count),
		"weekday": int64(in.ReservationDate.Weekday()),
		"hour":    int64(in.ReservationDate.Hour()),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("condition %q did not yield a bool", expr)
	}
	return ok, nil
}

// program 编译并缓存表达式，同一个表达式只编译一次
func (e *CELConditionEngine) program(expr string) (cel.Program, error) {
	if p, ok := e.programs.Load(expr); ok {
		return p.(cel.Program), nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q must be a boolean expression, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", expr, err)
	}
	e.programs.Store(expr, prg)
	return prg, nil
}
