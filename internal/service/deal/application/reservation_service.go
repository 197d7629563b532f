package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/metrics"
	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/domain/port"
)

// ReservationService 实现预约状态机：创建、取消、兑现以及兑现前的预览
type ReservationService struct {
	deps     Deps
	capacity *CapacityController
	recorder *RedemptionRecorder
}

func NewReservationService(d Deps, capacity *CapacityController, recorder *RedemptionRecorder) *ReservationService {
	return &ReservationService{deps: d, capacity: capacity, recorder: recorder}
}

// CreateReservation 在一个事务里完成 锁定 Deal → 容量检查 → 占用名额 → 写入预约
func (s *ReservationService) CreateReservation(ctx context.Context, req *CreateReservationRequest) (*ReservationDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.CreateReservation")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("deal.id", req.DealID),
		attribute.Int("reservation.count", req.Count),
	)

	res, err := s.createReservation(ctx, req)
	metrics.ReservationsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			// 事务回滚会丢掉事务内的写回，这里在事务外补做
			s.capacity.Heal(ctx, req.DealID)
		}
		logger.Ctx(ctx).Info().Err(err).
			Str("customer_id", req.CustomerID).
			Str("deal_id", req.DealID).
			Msg("reservation rejected")
		return nil, fail(span, err)
	}

	logger.Ctx(ctx).Info().
		Str("reservation_id", res.ID).
		Str("deal_id", res.DealID).
		Msg("reservation created")
	notify(ctx, s.deps.Notifier, port.Notification{
		Kind:          port.NotifyReservationCreated,
		Audience:      port.AudienceRestaurant,
		RecipientID:   res.RestaurantID,
		DealID:        res.DealID,
		ReservationID: res.ID,
		Data:          map[string]string{"customerId": res.CustomerID},
		OccurredAt:    res.CreatedAt,
	})

	dto := toReservationDTO(res, s.deps.Settings.Location)
	return &dto, nil
}

func (s *ReservationService) createReservation(ctx context.Context, req *CreateReservationRequest) (*domain.Reservation, error) {
	if req.CustomerID == "" {
		return nil, domain.Invalid("customerId", "required")
	}
	if req.DealID == "" {
		return nil, domain.Invalid("dealId", "required")
	}
	now := s.deps.Clock.Now()

	var created *domain.Reservation
	err := s.deps.Store.InTx(ctx, func(tx domain.Store) error {
		deal, err := tx.Deals().FindByIDForUpdate(ctx, req.DealID)
		if err != nil {
			return domain.Dependency("load deal", err)
		}
		if req.RestaurantID != "" && deal.RestaurantID != "" && req.RestaurantID != deal.RestaurantID {
			return domain.Invalid("restaurantId", "does not own this deal")
		}

		if err := s.capacity.Check(ctx, tx.Deals(), deal, now, false); err != nil {
			// 运营下线的 Deal 对预约方来说就是不可用
			if errors.Is(err, domain.ErrDeactivated) {
				return domain.ErrDealInactive
			}
			return err
		}

		if err := s.checkConditions(deal, req); err != nil {
			return err
		}

		latest, err := tx.Reservations().LatestForCustomerDeal(ctx, req.CustomerID, deal.ID)
		switch {
		case err == nil && latest.Live():
			return domain.ErrReservationExists
		case err != nil && !errors.Is(err, domain.ErrNoReservation):
			return domain.Dependency("load latest reservation", err)
		}

		res, err := domain.NewReservation(domain.NewReservationParams{
			ID:              newID(),
			CustomerID:      req.CustomerID,
			DealID:          deal.ID,
			RestaurantID:    deal.RestaurantID,
			Count:           req.Count,
			ReservationDate: req.ReservationDate,
		}, now)
		if err != nil {
			return err
		}

		deal, err = tx.Deals().AdjustUseCount(ctx, deal.ID, 1)
		if err != nil {
			return domain.Dependency("increment use count", err)
		}
		// 刚好占用最后一个名额时下线 Deal，预约本身仍然成功
		s.capacity.DeactivateIfExhausted(ctx, tx.Deals(), deal)

		if err := tx.Reservations().Create(ctx, res); err != nil {
			return domain.Dependency("insert reservation", err)
		}
		created = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *ReservationService) checkConditions(deal *domain.Deal, req *CreateReservationRequest) error {
	if deal.Conditions == "" || s.deps.Conditions == nil {
		return nil
	}
	ok, err := s.deps.Conditions.Evaluate(deal.Conditions, port.ConditionInput{
		Count:           req.Count,
		ReservationDate: req.ReservationDate.In(s.deps.Settings.Location),
	})
	if err != nil {
		return domain.ErrConditionsNotMet.Withf("deal conditions could not be evaluated").Wrap(err)
	}
	if !ok {
		return domain.ErrConditionsNotMet
	}
	return nil
}

// CancelReservation 顾客取消预约并归还名额
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID string) (*ReservationDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.CancelReservation")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	res, err := s.cancel(ctx, reservationID, (*domain.Reservation).CancelByUser)
	if err != nil {
		return nil, fail(span, err)
	}
	notify(ctx, s.deps.Notifier, port.Notification{
		Kind:          port.NotifyReservationCanceled,
		Audience:      port.AudienceRestaurant,
		RecipientID:   res.RestaurantID,
		DealID:        res.DealID,
		ReservationID: res.ID,
		Data:          map[string]string{"by": "customer"},
		OccurredAt:    res.UpdatedAt,
	})
	dto := toReservationDTO(res, s.deps.Settings.Location)
	return &dto, nil
}

// CancelReservationByRestaurant 餐厅取消预约并归还名额
func (s *ReservationService) CancelReservationByRestaurant(ctx context.Context, reservationID string) (*ReservationDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.CancelReservationByRestaurant")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	res, err := s.cancel(ctx, reservationID, (*domain.Reservation).CancelByRestaurant)
	if err != nil {
		return nil, fail(span, err)
	}
	notify(ctx, s.deps.Notifier, port.Notification{
		Kind:          port.NotifyReservationCanceled,
		Audience:      port.AudienceCustomer,
		RecipientID:   res.CustomerID,
		DealID:        res.DealID,
		ReservationID: res.ID,
		Data:          map[string]string{"by": "restaurant"},
		OccurredAt:    res.UpdatedAt,
	})
	dto := toReservationDTO(res, s.deps.Settings.Location)
	return &dto, nil
}

func (s *ReservationService) cancel(ctx context.Context, reservationID string, transition func(*domain.Reservation, time.Time) error) (*domain.Reservation, error) {
	now := s.deps.Clock.Now()
	var out *domain.Reservation
	err := s.deps.Store.InTx(ctx, func(tx domain.Store) error {
		res, err := tx.Reservations().FindByIDForUpdate(ctx, reservationID)
		if err != nil {
			return domain.Dependency("load reservation", err)
		}
		if err := transition(res, now); err != nil {
			return err
		}
		if err := tx.Reservations().Update(ctx, res); err != nil {
			return domain.Dependency("update reservation", err)
		}

		deal, err := tx.Deals().AdjustUseCount(ctx, res.DealID, -1)
		switch {
		case errors.Is(err, domain.ErrDealNotFound):
			logger.Ctx(ctx).Warn().Str("deal_id", res.DealID).Msg("canceled reservation references a missing deal")
		case err != nil:
			return domain.Dependency("release slot", err)
		case s.deps.Settings.ReactivateOnCancel && !deal.Active:
			if deal.Reactivate(now, s.deps.Settings.Tolerance) == nil {
				if _, err := tx.Deals().SetActive(ctx, deal.ID, true); err != nil {
					return domain.Dependency("reactivate deal", err)
				}
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("reservation_id", out.ID).
		Str("status", string(out.Status)).
		Msg("reservation canceled")
	return out, nil
}

// RedeemDeal 顾客到店出示二维码后完成兑现
func (s *ReservationService) RedeemDeal(ctx context.Context, customerID, dealID string) (*RedeemResult, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.RedeemDeal")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("deal.id", dealID),
	)

	result, err := s.redeem(ctx, customerID, dealID)
	metrics.RedemptionsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		logger.Ctx(ctx).Info().Err(err).
			Str("customer_id", customerID).
			Str("deal_id", dealID).
			Msg("redemption rejected")
		return nil, fail(span, err)
	}
	span.AddEvent("deal redeemed")
	return result, nil
}

func (s *ReservationService) redeem(ctx context.Context, customerID, dealID string) (*RedeemResult, error) {
	if customerID == "" {
		return nil, domain.Invalid("customerId", "required")
	}
	if dealID == "" {
		return nil, domain.Invalid("dealId", "required")
	}

	if s.deps.Guard != nil {
		release, err := s.deps.Guard.Acquire(ctx, "redeem:"+customerID+":"+dealID, s.deps.Settings.GuardTTL)
		if errors.Is(err, port.ErrGuardHeld) {
			return nil, domain.ErrRedemptionInProgress
		}
		if err != nil {
			return nil, domain.Dependency("acquire redemption guard", err)
		}
		defer release()
	}

	now := s.deps.Clock.Now()
	deals := s.deps.Store.Deals()

	deal, err := deals.FindByID(ctx, dealID)
	if err != nil {
		return nil, domain.Dependency("load deal", err)
	}
	if deal.RestaurantID == "" {
		return nil, domain.ErrNotLinked
	}

	latest, err := s.deps.Store.Reservations().LatestForCustomerDeal(ctx, customerID, dealID)
	if err != nil && !errors.Is(err, domain.ErrNoReservation) {
		return nil, domain.Dependency("load reservation", err)
	}
	holdsSlot := latest != nil && latest.Live() && latest.Status.HoldsSlot()

	// 写回落在事务外，请求失败时也会保留
	if err := s.capacity.Check(ctx, deals, deal, now, holdsSlot); err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, domain.ErrNoReservation
	}
	if err := latest.CheckRedeemable(); err != nil {
		return nil, err
	}

	var (
		res        *domain.Reservation
		redemption *domain.Redemption
		synced     *domain.Deal
		total      int
	)
	err = s.deps.Store.InTx(ctx, func(tx domain.Store) error {
		var err error
		// 加锁重读，防止并发请求已经把预约关闭
		res, err = tx.Reservations().FindByIDForUpdate(ctx, latest.ID)
		if err != nil {
			return domain.Dependency("lock reservation", err)
		}
		if err := res.Fulfill(now); err != nil {
			return err
		}
		if err := tx.Reservations().Update(ctx, res); err != nil {
			return domain.Dependency("update reservation", err)
		}

		redemption, total, err = s.recorder.Record(ctx, tx, domain.NewRedemptionParams{
			ID:            newID(),
			DealID:        deal.ID,
			RestaurantID:  deal.RestaurantID,
			CustomerID:    customerID,
			ReservationID: res.ID,
		}, now)
		if err != nil {
			return err
		}

		synced, err = s.recorder.Resync(ctx, tx, deal.ID)
		if err != nil {
			return err
		}
		s.capacity.DeactivateIfExhausted(ctx, tx.Deals(), synced)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("reservation_id", res.ID).
		Str("redemption_id", redemption.ID).
		Int("use_count", synced.UseCount).
		Int("redemptions", total).
		Msg("deal redeemed")
	notify(ctx, s.deps.Notifier, port.Notification{
		Kind:          port.NotifyDealRedeemed,
		Audience:      port.AudienceRestaurant,
		RecipientID:   deal.RestaurantID,
		DealID:        deal.ID,
		ReservationID: res.ID,
		Data:          map[string]string{"customerId": customerID},
		OccurredAt:    now,
	})

	return &RedeemResult{
		Reservation: toReservationDTO(res, s.deps.Settings.Location),
		Redemption:  toRedemptionDTO(redemption, s.deps.Settings.Location),
		UseCount:    synced.UseCount,
	}, nil
}

// FindDeal 是扫码后的预览：使用与 RedeemDeal 相同的校验，但不做任何修改
func (s *ReservationService) FindDeal(ctx context.Context, customerID, restaurantID string) (*DealPreview, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.FindDeal")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("restaurant.id", restaurantID),
	)

	preview, err := s.findDeal(ctx, customerID, restaurantID)
	if err != nil {
		return nil, fail(span, err)
	}
	return preview, nil
}

func (s *ReservationService) findDeal(ctx context.Context, customerID, restaurantID string) (*DealPreview, error) {
	if customerID == "" {
		return nil, domain.Invalid("customerId", "required")
	}
	if restaurantID == "" {
		return nil, domain.Invalid("restaurantId", "required")
	}
	now := s.deps.Clock.Now()

	res, err := s.deps.Store.Reservations().LatestForCustomerRestaurant(ctx, customerID, restaurantID)
	if err != nil {
		return nil, domain.Dependency("load reservation", err)
	}
	if err := res.CheckRedeemable(); err != nil {
		return nil, err
	}
	if !res.WithinWindow(now, s.deps.Settings.Tolerance) {
		return nil, domain.ErrReservationExpired
	}

	deals := s.deps.Store.Deals()
	deal, err := deals.FindByID(ctx, res.DealID)
	if err != nil {
		return nil, domain.Dependency("load deal", err)
	}
	if deal.RestaurantID == "" {
		return nil, domain.ErrNotLinked
	}
	if err := s.capacity.Check(ctx, deals, deal, now, res.Status.HoldsSlot()); err != nil {
		return nil, err
	}

	return &DealPreview{
		Deal:        toDealDTO(deal, s.deps.Settings.Location),
		Reservation: toReservationDTO(res, s.deps.Settings.Location),
	}, nil
}
