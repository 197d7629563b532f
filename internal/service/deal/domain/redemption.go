// internal/service/deal/domain/redemption.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Redemption 是一次已发生的兑现记录，用于对账
type Redemption struct {
	ID            string
	DealID        string
	RestaurantID  string
	CustomerID    string
	ReservationID string // 为空表示无预约直接兑现
	AverageTicket decimal.NullDecimal
	TakeRate      decimal.NullDecimal
	CreatedAt     time.Time
}

type NewRedemptionParams struct {
	ID            string
	DealID        string
	RestaurantID  string
	CustomerID    string
	ReservationID string
	AverageTicket decimal.NullDecimal
	TakeRate      decimal.NullDecimal
}

// RedemptionDefaults 在调用方未提供客单价与抽成比例时使用
type RedemptionDefaults struct {
	AverageTicket decimal.Decimal
	TakeRate      decimal.Decimal
}

func NewRedemption(p NewRedemptionParams, defaults RedemptionDefaults, now time.Time) (*Redemption, error) {
	switch {
	case p.ID == "":
		return nil, Invalid("id", "required")
	case p.DealID == "":
		return nil, Invalid("dealId", "required")
	case p.RestaurantID == "":
		return nil, Invalid("restaurantId", "required")
	case p.CustomerID == "":
		return nil, Invalid("customerId", "required")
	}
	if !p.AverageTicket.Valid {
		p.AverageTicket = decimal.NewNullDecimal(defaults.AverageTicket)
	}
	if !p.TakeRate.Valid {
		p.TakeRate = decimal.NewNullDecimal(defaults.TakeRate)
	}
	if p.AverageTicket.Decimal.IsNegative() {
		return nil, Invalid("averageTicket", "must not be negative")
	}
	if p.TakeRate.Decimal.IsNegative() || p.TakeRate.Decimal.GreaterThan(decimal.NewFromInt(1)) {
		return nil, Invalid("takeRate", "must be between 0 and 1")
	}
	return &Redemption{
		ID:            p.ID,
		DealID:        p.DealID,
		RestaurantID:  p.RestaurantID,
		CustomerID:    p.CustomerID,
		ReservationID: p.ReservationID,
		AverageTicket: p.AverageTicket,
		TakeRate:      p.TakeRate,
		CreatedAt:     now,
	}, nil
}

// Commission 返回平台对这次兑现的抽成。
// 历史数据可能缺失字段：缺少客单价按 0 计，缺少抽成比例使用 defaultRate。
func (r Redemption) Commission(defaultRate decimal.Decimal) decimal.Decimal {
	ticket := decimal.Zero
	if r.AverageTicket.Valid {
		ticket = r.AverageTicket.Decimal
	}
	rate := defaultRate
	if r.TakeRate.Valid {
		rate = r.TakeRate.Decimal
	}
	return ticket.Mul(rate)
}

// CalculateBalance 汇总一组兑现记录的抽成
func CalculateBalance(redemptions []Redemption, defaultRate decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range redemptions {
		sum = sum.Add(r.Commission(defaultRate))
	}
	return sum
}
