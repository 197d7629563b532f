// internal/service/deal/domain/reservation.go
package domain

import "time"

type ReservationStatus string

const (
	StatusAwaitingCustomer   ReservationStatus = "AWAITING_CUSTOMER"
	StatusToleranceTime      ReservationStatus = "TOLERANCE_TIME"
	StatusUserCanceled       ReservationStatus = "USER_CANCELED"
	StatusExpired            ReservationStatus = "EXPIRED"
	StatusFulfilled          ReservationStatus = "FULFILLED"
	StatusRestaurantCanceled ReservationStatus = "RESTAURANT_CANCELED"
	StatusOther              ReservationStatus = "OTHER"
	StatusDealExpired        ReservationStatus = "DEAL_EXPIRED"
	StatusDealCanceled       ReservationStatus = "DEAL_CANCELED"
)

// AllStatuses 按状态机声明顺序列出全部状态
var AllStatuses = []ReservationStatus{
	StatusAwaitingCustomer,
	StatusToleranceTime,
	StatusUserCanceled,
	StatusExpired,
	StatusFulfilled,
	StatusRestaurantCanceled,
	StatusOther,
	StatusDealExpired,
	StatusDealCanceled,
}

func (s ReservationStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal 报告状态是否不再允许任何迁移
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case StatusAwaitingCustomer, StatusToleranceTime:
		return false
	case StatusUserCanceled, StatusExpired, StatusFulfilled, StatusRestaurantCanceled,
		StatusOther, StatusDealExpired, StatusDealCanceled:
		return true
	default:
		return true
	}
}

// HoldsSlot 报告该状态的预约是否仍计入 Deal 的已用名额。
// 取消类状态会归还名额，兑现或过期的预约保持占用。
func (s ReservationStatus) HoldsSlot() bool {
	switch s {
	case StatusUserCanceled, StatusRestaurantCanceled, StatusDealCanceled:
		return false
	case StatusAwaitingCustomer, StatusToleranceTime, StatusExpired, StatusFulfilled,
		StatusOther, StatusDealExpired:
		return true
	default:
		return false
	}
}

// ReleasingStatuses 是归还名额的状态集合，供存储层做计数查询
func ReleasingStatuses() []ReservationStatus {
	out := make([]ReservationStatus, 0, 3)
	for _, s := range AllStatuses {
		if !s.HoldsSlot() {
			out = append(out, s)
		}
	}
	return out
}

// Reservation 是顾客对某个 Deal 的一次预约
type Reservation struct {
	ID              string
	CustomerID      string
	DealID          string
	RestaurantID    string
	Count           int
	ReservationDate time.Time
	Status          ReservationStatus
	Active          bool
	CheckIn         *time.Time
	CancelledAt     *time.Time
	ReminderSent    bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type NewReservationParams struct {
	ID              string
	CustomerID      string
	DealID          string
	RestaurantID    string
	Count           int
	ReservationDate time.Time
}

func NewReservation(p NewReservationParams, now time.Time) (*Reservation, error) {
	switch {
	case p.ID == "":
		return nil, Invalid("id", "required")
	case p.CustomerID == "":
		return nil, Invalid("customerId", "required")
	case p.DealID == "":
		return nil, Invalid("dealId", "required")
	case p.RestaurantID == "":
		return nil, Invalid("restaurantId", "required")
	case p.Count <= 0:
		return nil, Invalid("count", "must be positive")
	case p.ReservationDate.IsZero():
		return nil, Invalid("reservationDate", "required")
	}
	return &Reservation{
		ID:              p.ID,
		CustomerID:      p.CustomerID,
		DealID:          p.DealID,
		RestaurantID:    p.RestaurantID,
		Count:           p.Count,
		ReservationDate: p.ReservationDate,
		Status:          StatusAwaitingCustomer,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Live 表示预约仍在等待顾客到店
func (r *Reservation) Live() bool {
	return r.Active && !r.Status.IsTerminal()
}

// CheckRedeemable 判断预约能否被兑现
func (r *Reservation) CheckRedeemable() error {
	switch r.Status {
	case StatusExpired, StatusFulfilled, StatusUserCanceled, StatusRestaurantCanceled:
		return ErrAlreadyTerminal
	}
	if !r.Active {
		return ErrReservationInactive
	}
	return nil
}

// WithinWindow 报告当前时间是否仍处于 预约时间+容忍时间 之内
func (r *Reservation) WithinWindow(now time.Time, tolerance time.Duration) bool {
	return !now.After(r.ReservationDate.Add(tolerance))
}

// Fulfill 标记顾客已到店兑现
func (r *Reservation) Fulfill(now time.Time) error {
	if err := r.CheckRedeemable(); err != nil {
		return err
	}
	r.Status = StatusFulfilled
	r.Active = false
	checkIn := now
	r.CheckIn = &checkIn
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) close(status ReservationStatus, now time.Time) error {
	if !r.Live() {
		return ErrAlreadyTerminal
	}
	r.Status = status
	r.Active = false
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) cancel(status ReservationStatus, now time.Time) error {
	if err := r.close(status, now); err != nil {
		return err
	}
	at := now
	r.CancelledAt = &at
	return nil
}

// CancelByUser 顾客主动取消，名额随之归还
func (r *Reservation) CancelByUser(now time.Time) error {
	return r.cancel(StatusUserCanceled, now)
}

// CancelByRestaurant 餐厅取消，名额随之归还
func (r *Reservation) CancelByRestaurant(now time.Time) error {
	return r.cancel(StatusRestaurantCanceled, now)
}

// Expire 把未到店或 Deal 已失效的预约关闭，名额保持占用
func (r *Reservation) Expire(now time.Time) error {
	return r.close(StatusDealExpired, now)
}

func (r *Reservation) MarkReminderSent(now time.Time) {
	r.ReminderSent = true
	r.UpdatedAt = now
}

// In 返回时间字段转换到指定时区后的副本
func (r Reservation) In(loc *time.Location) Reservation {
	r.ReservationDate = r.ReservationDate.In(loc)
	r.CreatedAt = r.CreatedAt.In(loc)
	r.UpdatedAt = r.UpdatedAt.In(loc)
	if r.CheckIn != nil {
		c := r.CheckIn.In(loc)
		r.CheckIn = &c
	}
	if r.CancelledAt != nil {
		c := r.CancelledAt.In(loc)
		r.CancelledAt = &c
	}
	return r
}
