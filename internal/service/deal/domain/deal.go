// internal/service/deal/domain/deal.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DealType string

const (
	DealTypeDiscount  DealType = "DISCOUNT"
	DealTypePromotion DealType = "PROMOTION"
)

// Deal 是餐厅发布的一个限量优惠
type Deal struct {
	ID           string
	RestaurantID string
	Type         DealType
	// Discount 是 [0,1] 之间的折扣比例，仅 DISCOUNT 类型使用
	Discount decimal.NullDecimal
	Details  string
	// Conditions 是可选的 CEL 表达式，在创建预约时求值
	Conditions string
	StartsAt   time.Time
	ExpiresAt  time.Time
	UseCount   int
	UseMax     int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type NewDealParams struct {
	ID           string
	RestaurantID string
	Type         DealType
	Discount     decimal.NullDecimal
	Details      string
	Conditions   string
	StartsAt     time.Time
	ExpiresAt    time.Time
	UseMax       int
}

// NewDeal 创建一个处于激活状态、尚未被占用的 Deal
func NewDeal(p NewDealParams, now time.Time) (*Deal, error) {
	if p.ID == "" {
		return nil, Invalid("id", "required")
	}
	switch p.Type {
	case DealTypeDiscount, DealTypePromotion:
	default:
		return nil, Invalid("type", "must be DISCOUNT or PROMOTION")
	}
	if p.UseMax <= 0 {
		return nil, Invalid("useMax", "must be positive")
	}
	if p.ExpiresAt.IsZero() {
		return nil, Invalid("expiresAt", "required")
	}
	if !p.StartsAt.IsZero() && p.ExpiresAt.Before(p.StartsAt) {
		return nil, Invalid("expiresAt", "must not be before startsAt")
	}
	if p.Discount.Valid && (p.Discount.Decimal.IsNegative() || p.Discount.Decimal.GreaterThan(decimal.NewFromInt(1))) {
		return nil, Invalid("discount", "must be between 0 and 1")
	}
	return &Deal{
		ID:           p.ID,
		RestaurantID: p.RestaurantID,
		Type:         p.Type,
		Discount:     p.Discount,
		Details:      p.Details,
		Conditions:   p.Conditions,
		StartsAt:     p.StartsAt,
		ExpiresAt:    p.ExpiresAt,
		UseMax:       p.UseMax,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Exhausted 表示所有名额都已被占用
func (d *Deal) Exhausted() bool {
	return d.UseCount >= d.UseMax
}

// Deadline 是考虑容忍时间后 Deal 的最终失效时刻
func (d *Deal) Deadline(tolerance time.Duration) time.Time {
	return d.ExpiresAt.Add(tolerance)
}

func (d *Deal) ExpiredAt(now time.Time, tolerance time.Duration) bool {
	return now.After(d.Deadline(tolerance))
}

// Remaining 返回剩余名额，永不为负
func (d *Deal) Remaining() int {
	if d.UseCount >= d.UseMax {
		return 0
	}
	return d.UseMax - d.UseCount
}

// CapacityVerdict 是一次容量检查的结果
type CapacityVerdict struct {
	// Err 为 nil 表示可以继续
	Err error
	// Deactivate 为 true 时调用方必须把 active=false 持久化（幂等）
	Deactivate bool
}

// CheckCapacity 按固定顺序判断 Deal 当前能否被使用：
// 关联餐厅、激活状态与名额、过期时间。
// holdsSlot 表示调用者自己已经占有一个名额（已有的有效预约），
// 此时名额耗尽不会拒绝该调用者。
func (d *Deal) CheckCapacity(now time.Time, tolerance time.Duration, holdsSlot bool) CapacityVerdict {
	if d.RestaurantID == "" {
		return CapacityVerdict{Err: ErrNotLinked}
	}

	var v CapacityVerdict
	switch {
	case !d.Active && !d.Exhausted():
		return CapacityVerdict{Err: ErrDeactivated}
	case !d.Active:
		if !holdsSlot {
			return CapacityVerdict{Err: ErrCapacityExceeded}
		}
	case d.Exhausted():
		v.Deactivate = true
		if !holdsSlot {
			v.Err = ErrCapacityExceeded
			return v
		}
	}

	if d.ExpiredAt(now, tolerance) {
		v.Err = ErrExpired
	}
	return v
}

// Reactivate 重新激活一个被运营下线的 Deal
func (d *Deal) Reactivate(now time.Time, tolerance time.Duration) error {
	if d.Exhausted() {
		return ErrCapacityExceeded
	}
	if d.ExpiredAt(now, tolerance) {
		return ErrExpired
	}
	d.Active = true
	d.UpdatedAt = now
	return nil
}
