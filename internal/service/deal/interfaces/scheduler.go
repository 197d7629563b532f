// internal/service/deal/interfaces/scheduler.go
package interfaces

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"dealhub/internal/pkg/clock"
	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal/application"
	"dealhub/internal/service/deal/domain"
)

// billingDelay 让月度账单在月初稍后执行，避开跨月边界上还在写入的兑现
const billingDelay = 5 * time.Minute

// Scheduler 周期性地驱动维护任务与月度对账
type Scheduler struct {
	svc      *application.Services
	clock    clock.Clock
	loc      *time.Location
	interval time.Duration
	wg       sync.WaitGroup
}

func NewScheduler(svc *application.Services, clk clock.Clock, loc *time.Location, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{svc: svc, clock: clk, loc: loc, interval: interval}
}

// Start 启动后台循环，ctx 结束后退出，Wait 等待退出完成
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.billingLoop(ctx)
	}()
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.svc.Maintenance.RunAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// billingLoop 启动时先补跑一次上个月，之后每个月初执行。已存在的账单会被跳过。
func (s *Scheduler) billingLoop(ctx context.Context) {
	for {
		s.runBilling(ctx)
		wait := NextBillingRun(s.clock.Now(), s.loc).Sub(s.clock.Now())
		logger.Ctx(ctx).Info().Dur("wait", wait).Msg("next monthly billing scheduled")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runBilling(ctx context.Context) {
	res, err := s.svc.Billing.CreateLastMonthBillings(ctx)
	var batchErr *application.BatchError
	switch {
	case err == nil:
	case errors.As(err, &batchErr):
		logger.Ctx(ctx).Warn().Int("failed", len(batchErr.Errors)).Msg("monthly billing finished with failures")
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("monthly billing run failed")
		return
	}
	if res != nil {
		logger.Ctx(ctx).Info().
			Time("period_start", res.PeriodStart).
			Int("created", len(res.Created)).
			Int("skipped", len(res.Skipped)).
			Msg("monthly billing finished")
	}
}

// NextBillingRun 返回 now 之后最近的一个 月初（按 loc）+billingDelay
func NextBillingRun(now time.Time, loc *time.Location) time.Time {
	start, end := domain.MonthPeriod(now, loc, 0)
	if run := start.Add(billingDelay); run.After(now) {
		return run
	}
	return end.Add(domain.PeriodPrecision).Add(billingDelay)
}
