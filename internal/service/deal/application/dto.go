package application

import (
	"time"

	"github.com/shopspring/decimal"

	"dealhub/internal/service/deal/domain"
)

// CreateReservationRequest 是创建预约的请求体
type CreateReservationRequest struct {
	CustomerID      string    `json:"customerId"`
	DealID          string    `json:"dealId"`
	RestaurantID    string    `json:"restaurantId,omitempty"`
	Count           int       `json:"count"`
	ReservationDate time.Time `json:"reservationDate"`
}

// RecordRedemptionRequest 是人工补录兑现的请求体
type RecordRedemptionRequest struct {
	DealID        string              `json:"dealId"`
	RestaurantID  string              `json:"restaurantId"`
	CustomerID    string              `json:"customerId"`
	ReservationID string              `json:"reservationId,omitempty"`
	AverageTicket decimal.NullDecimal `json:"averageTicket"`
	TakeRate      decimal.NullDecimal `json:"takeRate"`
}

type CreateDealRequest struct {
	RestaurantID string              `json:"restaurantId"`
	Type         domain.DealType     `json:"type"`
	Discount     decimal.NullDecimal `json:"discount"`
	Details      string              `json:"details"`
	Conditions   string              `json:"conditions,omitempty"`
	StartsAt     time.Time           `json:"startsAt"`
	ExpiresAt    time.Time           `json:"expiresAt"`
	UseMax       int                 `json:"useMax"`
}

type CreateBillingRequest struct {
	RestaurantID     string          `json:"restaurantId"`
	PeriodStart      time.Time       `json:"periodStart"`
	PeriodEnd        time.Time       `json:"periodEnd"`
	ManualAdjustment decimal.Decimal `json:"manualAdjustment"`
}

// UpdateBillingRequest 中省略的字段保持不变
type UpdateBillingRequest struct {
	ManualAdjustment *decimal.Decimal `json:"manualAdjustment,omitempty"`
	PaidQuantity     *decimal.Decimal `json:"paidQuantity,omitempty"`
	IsPaid           *bool            `json:"isPaid,omitempty"`
}

type ReservationDTO struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customerId"`
	DealID          string     `json:"dealId"`
	RestaurantID    string     `json:"restaurantId"`
	Count           int        `json:"count"`
	ReservationDate time.Time  `json:"reservationDate"`
	Status          string     `json:"status"`
	Active          bool       `json:"active"`
	CheckIn         *time.Time `json:"checkIn,omitempty"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func toReservationDTO(r *domain.Reservation, loc *time.Location) ReservationDTO {
	z := r.In(loc)
	return ReservationDTO{
		ID:              z.ID,
		CustomerID:      z.CustomerID,
		DealID:          z.DealID,
		RestaurantID:    z.RestaurantID,
		Count:           z.Count,
		ReservationDate: z.ReservationDate,
		Status:          string(z.Status),
		Active:          z.Active,
		CheckIn:         z.CheckIn,
		CancelledAt:     z.CancelledAt,
		CreatedAt:       z.CreatedAt,
	}
}

type DealDTO struct {
	ID           string              `json:"id"`
	RestaurantID string              `json:"restaurantId"`
	Type         string              `json:"type"`
	Discount     decimal.NullDecimal `json:"discount"`
	Details      string              `json:"details"`
	Conditions   string              `json:"conditions,omitempty"`
	StartsAt     time.Time           `json:"startsAt"`
	ExpiresAt    time.Time           `json:"expiresAt"`
	UseCount     int                 `json:"useCount"`
	UseMax       int                 `json:"useMax"`
	Remaining    int                 `json:"remaining"`
	Active       bool                `json:"active"`
}

func toDealDTO(d *domain.Deal, loc *time.Location) DealDTO {
	return DealDTO{
		ID:           d.ID,
		RestaurantID: d.RestaurantID,
		Type:         string(d.Type),
		Discount:     d.Discount,
		Details:      d.Details,
		Conditions:   d.Conditions,
		StartsAt:     d.StartsAt.In(loc),
		ExpiresAt:    d.ExpiresAt.In(loc),
		UseCount:     d.UseCount,
		UseMax:       d.UseMax,
		Remaining:    d.Remaining(),
		Active:       d.Active,
	}
}

// DealPreview 是 findDeal 的返回：顾客当前可兑现的 Deal 及其预约
type DealPreview struct {
	Deal        DealDTO        `json:"deal"`
	Reservation ReservationDTO `json:"reservation"`
}

type RedemptionDTO struct {
	ID            string          `json:"id"`
	DealID        string          `json:"dealId"`
	RestaurantID  string          `json:"restaurantId"`
	CustomerID    string          `json:"customerId"`
	ReservationID string          `json:"reservationId,omitempty"`
	AverageTicket decimal.Decimal `json:"averageTicket"`
	TakeRate      decimal.Decimal `json:"takeRate"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func toRedemptionDTO(r *domain.Redemption, loc *time.Location) RedemptionDTO {
	return RedemptionDTO{
		ID:            r.ID,
		DealID:        r.DealID,
		RestaurantID:  r.RestaurantID,
		CustomerID:    r.CustomerID,
		ReservationID: r.ReservationID,
		AverageTicket: r.AverageTicket.Decimal,
		TakeRate:      r.TakeRate.Decimal,
		CreatedAt:     r.CreatedAt.In(loc),
	}
}

// RedeemResult 是 redeemDeal 的返回
type RedeemResult struct {
	Reservation ReservationDTO `json:"reservation"`
	Redemption  RedemptionDTO  `json:"redemption"`
	// UseCount 是重新同步后的占用数
	UseCount int `json:"useCount"`
}

type BillingDTO struct {
	ID                string          `json:"id"`
	RestaurantID      string          `json:"restaurantId"`
	RestaurantName    string          `json:"restaurantName"`
	PeriodStart       time.Time       `json:"periodStart"`
	PeriodEnd         time.Time       `json:"periodEnd"`
	Redemptions       []string        `json:"redemptions"`
	TotalDeals        int             `json:"totalDeals"`
	CalculatedBalance decimal.Decimal `json:"calculatedBalance"`
	ManualAdjustment  decimal.Decimal `json:"manualAdjustment"`
	TotalBalance      decimal.Decimal `json:"totalBalance"`
	PaidQuantity      decimal.Decimal `json:"paidQuantity"`
	DebtQuantity      decimal.Decimal `json:"debtQuantity"`
	IsPaid            bool            `json:"isPaid"`
	PaidAt            *time.Time      `json:"paidAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func toBillingDTO(b *domain.Billing, loc *time.Location) BillingDTO {
	z := b.In(loc)
	reds := z.Redemptions
	if reds == nil {
		reds = []string{}
	}
	return BillingDTO{
		ID:                z.ID,
		RestaurantID:      z.RestaurantID,
		RestaurantName:    z.RestaurantName,
		PeriodStart:       z.PeriodStart,
		PeriodEnd:         z.PeriodEnd,
		Redemptions:       reds,
		TotalDeals:        z.TotalDeals,
		CalculatedBalance: z.CalculatedBalance,
		ManualAdjustment:  z.ManualAdjustment,
		TotalBalance:      z.TotalBalance,
		PaidQuantity:      z.PaidQuantity,
		DebtQuantity:      z.DebtQuantity,
		IsPaid:            z.IsPaid,
		PaidAt:            z.PaidAt,
		CreatedAt:         z.CreatedAt,
		UpdatedAt:         z.UpdatedAt,
	}
}

type StrikeDTO struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customerId"`
	ReservationID string    `json:"reservationId"`
	DealID        string    `json:"dealId"`
	RestaurantID  string    `json:"restaurantId"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ListQuery 是列表接口通用的查询参数
type ListQuery struct {
	Search string
	Limit  int
	Offset int
}

func (q ListQuery) page() domain.Page {
	return domain.Page{Limit: q.Limit, Offset: q.Offset}
}
