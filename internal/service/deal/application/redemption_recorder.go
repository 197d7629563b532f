package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal/domain"
)

// RedemptionRecorder 维护只追加的兑现账本，并据此重新同步 Deal 的占用数
type RedemptionRecorder struct {
	deps     Deps
	capacity *CapacityController
}

func NewRedemptionRecorder(d Deps, capacity *CapacityController) *RedemptionRecorder {
	return &RedemptionRecorder{deps: d, capacity: capacity}
}

// Record 在 tx 中追加一条兑现记录，返回该 Deal 的兑现总数
func (r *RedemptionRecorder) Record(ctx context.Context, tx domain.Store, p domain.NewRedemptionParams, now time.Time) (*domain.Redemption, int, error) {
	red, err := domain.NewRedemption(p, r.deps.Settings.Defaults, now)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Redemptions().Create(ctx, red); err != nil {
		return nil, 0, domain.Dependency("insert redemption", err)
	}
	n, err := tx.Redemptions().CountByDeal(ctx, p.DealID)
	if err != nil {
		return nil, 0, domain.Dependency("count redemptions", err)
	}
	return red, n, nil
}

// Resync 用账本重新计算 useCount：仍占用名额的预约数 + 没有预约的兑现数
func (r *RedemptionRecorder) Resync(ctx context.Context, tx domain.Store, dealID string) (*domain.Deal, error) {
	holding, err := tx.Reservations().CountHoldingSlot(ctx, dealID)
	if err != nil {
		return nil, domain.Dependency("count reservations", err)
	}
	walkIns, err := tx.Redemptions().CountUnreservedByDeal(ctx, dealID)
	if err != nil {
		return nil, domain.Dependency("count redemptions", err)
	}
	if err := tx.Deals().SetUseCount(ctx, dealID, holding+walkIns); err != nil {
		return nil, domain.Dependency("resync use count", err)
	}
	deal, err := tx.Deals().FindByID(ctx, dealID)
	if err != nil {
		return nil, domain.Dependency("reload deal", err)
	}
	return deal, nil
}

// RecordRedemption 是补录入口，自带事务，并在写入后同步占用数。
// 没有预约的兑现会新占一个名额，必须先通过容量检查；
// 关联预约的兑现沿用预约的名额，预约必须属于同一个 Deal 和顾客，且只能兑现一次。
func (r *RedemptionRecorder) RecordRedemption(ctx context.Context, req *RecordRedemptionRequest) (*RedemptionDTO, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "service.RecordRedemption")
	defer span.End()
	span.SetAttributes(
		attribute.String("deal.id", req.DealID),
		attribute.String("customer.id", req.CustomerID),
		attribute.String("reservation.id", req.ReservationID),
	)

	now := r.deps.Clock.Now()
	var (
		red    *domain.Redemption
		synced *domain.Deal
		total  int
	)
	err := r.deps.Store.InTx(ctx, func(tx domain.Store) error {
		deal, err := tx.Deals().FindByIDForUpdate(ctx, req.DealID)
		if err != nil {
			return domain.Dependency("load deal", err)
		}
		restaurantID := req.RestaurantID
		if restaurantID == "" {
			restaurantID = deal.RestaurantID
		}
		if restaurantID != deal.RestaurantID {
			return domain.Invalid("restaurantId", "does not own this deal")
		}

		customerID := req.CustomerID
		if req.ReservationID == "" {
			if err := r.capacity.Check(ctx, tx.Deals(), deal, now, false); err != nil {
				return err
			}
		} else {
			res, err := r.claimReservation(ctx, tx, deal, req, now)
			if err != nil {
				return err
			}
			customerID = res.CustomerID
		}

		red, total, err = r.Record(ctx, tx, domain.NewRedemptionParams{
			ID:            newID(),
			DealID:        deal.ID,
			RestaurantID:  restaurantID,
			CustomerID:    customerID,
			ReservationID: req.ReservationID,
			AverageTicket: req.AverageTicket,
			TakeRate:      req.TakeRate,
		}, now)
		if err != nil {
			return err
		}
		synced, err = r.Resync(ctx, tx, deal.ID)
		if err != nil {
			return err
		}
		r.capacity.DeactivateIfExhausted(ctx, tx.Deals(), synced)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			// 事务回滚会丢掉事务内的写回，这里在事务外补做
			r.capacity.Heal(ctx, req.DealID)
		}
		logger.Ctx(ctx).Info().Err(err).
			Str("deal_id", req.DealID).
			Str("reservation_id", req.ReservationID).
			Msg("redemption record rejected")
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Int("deal.redemptions", total))
	logger.Ctx(ctx).Info().
		Str("redemption_id", red.ID).
		Str("deal_id", red.DealID).
		Int("use_count", synced.UseCount).
		Int("redemptions", total).
		Msg("redemption recorded")
	dto := toRedemptionDTO(red, r.deps.Settings.Location)
	return &dto, nil
}

// claimReservation 校验补录关联的预约，并在预约仍有效时顺带把它标记为已兑现
func (r *RedemptionRecorder) claimReservation(ctx context.Context, tx domain.Store, deal *domain.Deal, req *RecordRedemptionRequest, now time.Time) (*domain.Reservation, error) {
	res, err := tx.Reservations().FindByIDForUpdate(ctx, req.ReservationID)
	if err != nil {
		return nil, domain.Dependency("load reservation", err)
	}
	if res.DealID != deal.ID {
		return nil, domain.Invalid("reservationId", "belongs to another deal")
	}
	if req.CustomerID != "" && res.CustomerID != req.CustomerID {
		return nil, domain.Invalid("reservationId", "belongs to another customer")
	}
	// 已归还名额的预约不能再挂兑现，否则这条兑现不会计入占用数
	if !res.Status.HoldsSlot() {
		return nil, domain.ErrAlreadyTerminal
	}
	n, err := tx.Redemptions().CountByReservation(ctx, res.ID)
	if err != nil {
		return nil, domain.Dependency("count redemptions", err)
	}
	if n > 0 {
		return nil, domain.ErrAlreadyRedeemed
	}
	if res.Live() {
		if err := res.Fulfill(now); err != nil {
			return nil, err
		}
		if err := tx.Reservations().Update(ctx, res); err != nil {
			return nil, domain.Dependency("update reservation", err)
		}
	}
	return res, nil
}
