package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/metrics"
	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/domain/port"
)

// CapacityController 判断一个 Deal 当前是否还能被预约或兑现，
// 并在发现名额耗尽但仍处于激活状态时把 active=false 写回存储。
type CapacityController struct {
	deps Deps
}

func NewCapacityController(d Deps) *CapacityController {
	return &CapacityController{deps: d}
}

// Check 执行容量检查。deals 决定写回落在哪个事务里；
// 需要写回在请求失败时也保留，就传入事务外的仓储。
func (c *CapacityController) Check(ctx context.Context, deals domain.DealRepository, d *domain.Deal, now time.Time, holdsSlot bool) error {
	ctx, span := c.deps.Tracer.Start(ctx, "capacity.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("deal.id", d.ID),
		attribute.Int("deal.use_count", d.UseCount),
		attribute.Int("deal.use_max", d.UseMax),
		attribute.Bool("caller.holds_slot", holdsSlot),
	)

	v := d.CheckCapacity(now, c.deps.Settings.Tolerance, holdsSlot)
	if v.Deactivate {
		c.deactivate(ctx, deals, d)
	}
	if v.Err != nil {
		span.AddEvent("deal rejected", traceAttr("reason", string(domain.CodeOf(v.Err))))
	}
	return v.Err
}

// DeactivateIfExhausted 在占用数变化后调用，名额耗尽时写回 active=false
func (c *CapacityController) DeactivateIfExhausted(ctx context.Context, deals domain.DealRepository, d *domain.Deal) {
	if d.Active && d.Exhausted() {
		c.deactivate(ctx, deals, d)
	}
}

// Heal 在事务回滚后重新读取 Deal，必要时在事务外补做写回
func (c *CapacityController) Heal(ctx context.Context, dealID string) {
	d, err := c.deps.Store.Deals().FindByID(ctx, dealID)
	if err != nil {
		return
	}
	c.DeactivateIfExhausted(ctx, c.deps.Store.Deals(), d)
}

func (c *CapacityController) deactivate(ctx context.Context, deals domain.DealRepository, d *domain.Deal) {
	changed, err := deals.SetActive(ctx, d.ID, false)
	if err != nil {
		// 写回失败不影响本次判断，下一次检查会再次尝试
		logger.Ctx(ctx).Warn().Err(err).Str("deal_id", d.ID).Msg("capacity write-back failed")
		return
	}
	d.Active = false
	if !changed {
		return
	}
	metrics.DealDeactivationsTotal.Inc()
	logger.Ctx(ctx).Info().
		Str("deal_id", d.ID).
		Int("use_count", d.UseCount).
		Int("use_max", d.UseMax).
		Msg("deal deactivated, capacity exhausted")
	notify(ctx, c.deps.Notifier, port.Notification{
		Kind:        port.NotifyDealDeactivated,
		Audience:    port.AudienceRestaurant,
		RecipientID: d.RestaurantID,
		DealID:      d.ID,
		OccurredAt:  c.deps.Clock.Now(),
	})
}
