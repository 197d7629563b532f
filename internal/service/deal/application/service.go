package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dealhub/internal/pkg/clock"
	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/metrics"
	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/domain/port"
)

// Deps 汇总应用服务需要的所有出站依赖
type Deps struct {
	Store      domain.Store
	Clock      clock.Clock
	Tracer     trace.Tracer
	Notifier   port.Notifier
	Search     port.SearchIndex
	Guard      port.RedemptionGuard
	Locker     port.JobLocker
	Conditions port.ConditionEvaluator
	Settings   Settings
}

// Services 是对外暴露的全部用例
type Services struct {
	Capacity     *CapacityController
	Reservations *ReservationService
	Recorder     *RedemptionRecorder
	Billing      *BillingService
	Maintenance  *MaintenanceService
	Catalog      *CatalogService
}

func New(d Deps) *Services {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Settings.Location == nil {
		d.Settings.Location = time.UTC
	}
	capacity := NewCapacityController(d)
	recorder := NewRedemptionRecorder(d, capacity)
	return &Services{
		Capacity:     capacity,
		Reservations: NewReservationService(d, capacity, recorder),
		Recorder:     recorder,
		Billing:      NewBillingService(d),
		Maintenance:  NewMaintenanceService(d),
		Catalog:      NewCatalogService(d),
	}
}

var newID = uuid.NewString

// fail 把错误记录到 span 上并原样返回
func fail(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// resultLabel 用于指标的 result 维度
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.CodeOf(err))
}

// notify 尽力投递通知，失败只记录日志
func notify(ctx context.Context, n port.Notifier, msg port.Notification) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("kind", string(msg.Kind)).
			Str("recipient", msg.RecipientID).
			Msg("notification dropped")
		return
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
}

func isNotFound(err error) bool {
	return domain.KindOf(err) == domain.KindNotFound
}

func traceAttr(k, v string) trace.EventOption {
	return trace.WithAttributes(attribute.String(k, v))
}
