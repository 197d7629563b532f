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

// 各周期任务的名字，同时用作指标标签和分布式锁名
const (
	JobCancelExpiredReservations = "cancel-expired-reservations"
	JobExpireDeals               = "expire-deals"
	JobSendReminders             = "send-reservation-reminders"
)

// MaintenanceService 包含所有周期性清理任务。
// 每个任务只挑选 active=true 的记录，重复执行是安全的。
type MaintenanceService struct {
	deps Deps
}

func NewMaintenanceService(d Deps) *MaintenanceService {
	return &MaintenanceService{deps: d}
}

// SweepReport 记录一次清理推进了多少条记录
type SweepReport struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// CancelExpiredReservations 关闭超过 预约时间+容忍时间 仍未到店的预约，并记一次爽约
func (s *MaintenanceService) CancelExpiredReservations(ctx context.Context) (SweepReport, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "job.CancelExpiredReservations")
	defer span.End()

	report := SweepReport{Job: JobCancelExpiredReservations}
	now := s.deps.Clock.Now()
	due, err := s.deps.Store.Reservations().ListLiveBefore(ctx, now.Add(-s.deps.Settings.Tolerance))
	if err != nil {
		return report, fail(span, domain.Dependency("list overdue reservations", err))
	}
	span.SetAttributes(attribute.Int("candidates", len(due)))

	for _, candidate := range due {
		var expired *domain.Reservation
		err := s.deps.Store.InTx(ctx, func(tx domain.Store) error {
			res, err := tx.Reservations().FindByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return domain.Dependency("lock reservation", err)
			}
			if !res.Live() {
				// 已被其他实例处理
				return nil
			}
			if err := res.Expire(now); err != nil {
				return err
			}
			if err := tx.Reservations().Update(ctx, res); err != nil {
				return domain.Dependency("update reservation", err)
			}
			if err := tx.Strikes().Create(ctx, domain.NewNoShowStrike(newID(), res, now)); err != nil {
				return domain.Dependency("insert strike", err)
			}
			expired = res
			return nil
		})
		if err != nil {
			report.Failed++
			logger.Ctx(ctx).Error().Err(err).Str("reservation_id", candidate.ID).Msg("expire reservation failed")
			continue
		}
		if expired == nil {
			continue
		}
		report.Processed++
		notify(ctx, s.deps.Notifier, port.Notification{
			Kind:          port.NotifyReservationExpired,
			Audience:      port.AudienceCustomer,
			RecipientID:   expired.CustomerID,
			DealID:        expired.DealID,
			ReservationID: expired.ID,
			OccurredAt:    now,
		})
	}

	s.finish(ctx, report)
	return report, nil
}

// ExpireDeals 下线已过期的 Deal，并关闭其仍在等待的预约
func (s *MaintenanceService) ExpireDeals(ctx context.Context) (SweepReport, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "job.ExpireDeals")
	defer span.End()

	report := SweepReport{Job: JobExpireDeals}
	now := s.deps.Clock.Now()
	deals, err := s.deps.Store.Deals().ListActiveExpiredBefore(ctx, now.Add(-s.deps.Settings.Tolerance))
	if err != nil {
		return report, fail(span, domain.Dependency("list expired deals", err))
	}
	span.SetAttributes(attribute.Int("candidates", len(deals)))

	for _, d := range deals {
		err := s.deps.Store.InTx(ctx, func(tx domain.Store) error {
			changed, err := tx.Deals().SetActive(ctx, d.ID, false)
			if err != nil {
				return domain.Dependency("deactivate deal", err)
			}
			if !changed {
				return nil
			}
			live, err := tx.Reservations().ListLiveByDeal(ctx, d.ID)
			if err != nil {
				return domain.Dependency("list live reservations", err)
			}
			for i := range live {
				if err := live[i].Expire(now); err != nil {
					continue
				}
				if err := tx.Reservations().Update(ctx, &live[i]); err != nil {
					return domain.Dependency("update reservation", err)
				}
			}
			return nil
		})
		if err != nil {
			report.Failed++
			logger.Ctx(ctx).Error().Err(err).Str("deal_id", d.ID).Msg("expire deal failed")
			continue
		}
		report.Processed++
		metrics.DealDeactivationsTotal.Inc()
	}

	s.finish(ctx, report)
	return report, nil
}

// SendReservationReminders 给即将到来的预约发送一次提醒
func (s *MaintenanceService) SendReservationReminders(ctx context.Context) (SweepReport, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "job.SendReservationReminders")
	defer span.End()

	report := SweepReport{Job: JobSendReminders}
	now := s.deps.Clock.Now()
	due, err := s.deps.Store.Reservations().ListDueReminders(ctx, now, now.Add(s.deps.Settings.ReminderLead))
	if err != nil {
		return report, fail(span, domain.Dependency("list due reminders", err))
	}

	for i := range due {
		res := &due[i]
		notify(ctx, s.deps.Notifier, port.Notification{
			Kind:          port.NotifyReservationReminder,
			Audience:      port.AudienceCustomer,
			RecipientID:   res.CustomerID,
			DealID:        res.DealID,
			ReservationID: res.ID,
			Data:          map[string]string{"reservationDate": res.ReservationDate.In(s.deps.Settings.Location).Format(time.RFC3339)},
			OccurredAt:    now,
		})
		res.MarkReminderSent(now)
		if err := s.deps.Store.Reservations().Update(ctx, res); err != nil {
			report.Failed++
			logger.Ctx(ctx).Error().Err(err).Str("reservation_id", res.ID).Msg("mark reminder failed")
			continue
		}
		report.Processed++
	}

	s.finish(ctx, report)
	return report, nil
}

// RunAll 依次执行所有清理任务，单个任务失败不影响后续任务
func (s *MaintenanceService) RunAll(ctx context.Context) []SweepReport {
	jobs := []func(context.Context) (SweepReport, error){
		s.ExpireDeals,
		s.CancelExpiredReservations,
		s.SendReservationReminders,
	}
	reports := make([]SweepReport, 0, len(jobs))
	for _, job := range jobs {
		r, err := job(ctx)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("job", r.Job).Msg("sweep failed")
		}
		reports = append(reports, r)
	}
	return reports
}

func (s *MaintenanceService) finish(ctx context.Context, r SweepReport) {
	if r.Processed > 0 {
		metrics.SweepTransitionsTotal.WithLabelValues(r.Job).Add(float64(r.Processed))
	}
	logger.Ctx(ctx).Info().
		Str("job", r.Job).
		Int("processed", r.Processed).
		Int("failed", r.Failed).
		Msg("sweep finished")
}
