// internal/service/deal/domain/billing.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnknownRestaurantName 在账单关联的餐厅查不到时用于展示
const UnknownRestaurantName = "Unknown restaurant"

// Billing 是某个餐厅在一个结算周期内的对账单
type Billing struct {
	ID                string
	RestaurantID      string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	Redemptions       []string
	TotalDeals        int
	CalculatedBalance decimal.Decimal
	ManualAdjustment  decimal.Decimal
	TotalBalance      decimal.Decimal
	PaidQuantity      decimal.Decimal
	DebtQuantity      decimal.Decimal
	IsPaid            bool
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// RestaurantName 只在读取时填充，不落库
	RestaurantName string
}

type NewBillingParams struct {
	ID               string
	RestaurantID     string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	ManualAdjustment decimal.Decimal
}

func NewBilling(p NewBillingParams, now time.Time) (*Billing, error) {
	switch {
	case p.ID == "":
		return nil, Invalid("id", "required")
	case p.RestaurantID == "":
		return nil, Invalid("restaurantId", "required")
	case p.PeriodStart.IsZero() || p.PeriodEnd.IsZero():
		return nil, Invalid("period", "start and end are required")
	case p.PeriodEnd.Before(p.PeriodStart):
		return nil, Invalid("period", "end must not be before start")
	}
	return &Billing{
		ID:                p.ID,
		RestaurantID:      p.RestaurantID,
		PeriodStart:       p.PeriodStart,
		PeriodEnd:         p.PeriodEnd,
		ManualAdjustment:  p.ManualAdjustment,
		CalculatedBalance: decimal.Zero,
		TotalBalance:      p.ManualAdjustment,
		PaidQuantity:      decimal.Zero,
		DebtQuantity:      p.ManualAdjustment,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Recalculate 用最新的抽成总额刷新派生字段：
// total = calculated + adjustment，debt = total - paid
func (b *Billing) Recalculate(calculated decimal.Decimal) {
	b.CalculatedBalance = calculated
	b.TotalBalance = calculated.Add(b.ManualAdjustment)
	b.DebtQuantity = b.TotalBalance.Sub(b.PaidQuantity)
}

// BillingUpdate 中为 nil 的字段保持不变
type BillingUpdate struct {
	ManualAdjustment *decimal.Decimal
	PaidQuantity     *decimal.Decimal
	IsPaid           *bool
}

func (u BillingUpdate) Validate() error {
	if u.PaidQuantity != nil && u.PaidQuantity.IsNegative() {
		return Invalid("paidQuantity", "must not be negative")
	}
	return nil
}

// Apply 合并人工修改。isPaid 从 false 变为 true 时记录 paidAt，变回 false 时清空。
func (b *Billing) Apply(u BillingUpdate, now time.Time) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.ManualAdjustment != nil {
		b.ManualAdjustment = *u.ManualAdjustment
	}
	if u.PaidQuantity != nil {
		b.PaidQuantity = *u.PaidQuantity
	}
	if u.IsPaid != nil {
		switch {
		case *u.IsPaid && !b.IsPaid:
			paidAt := now
			b.PaidAt = &paidAt
		case !*u.IsPaid:
			b.PaidAt = nil
		}
		b.IsPaid = *u.IsPaid
	}
	b.UpdatedAt = now
	return nil
}

// In 返回时间字段转换到指定时区后的副本
func (b Billing) In(loc *time.Location) Billing {
	b.PeriodStart = b.PeriodStart.In(loc)
	b.PeriodEnd = b.PeriodEnd.In(loc)
	b.CreatedAt = b.CreatedAt.In(loc)
	b.UpdatedAt = b.UpdatedAt.In(loc)
	if b.PaidAt != nil {
		p := b.PaidAt.In(loc)
		b.PaidAt = &p
	}
	b.Redemptions = append([]string(nil), b.Redemptions...)
	return b
}

// PeriodPrecision 是账单周期边界的最小刻度，与存储列 datetime(3) 一致。
// 周期终点若带有更细的精度，入库时会被进位到下个月的第一刻。
const PeriodPrecision = time.Millisecond

// MonthPeriod 返回 t 所在月份向前 monthsBack 个月的完整自然月区间（含两端），按 loc 计算。
// monthsBack=1 即上个月。
func MonthPeriod(t time.Time, loc *time.Location, monthsBack int) (time.Time, time.Time) {
	local := t.In(loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -monthsBack, 0)
	end := first.AddDate(0, 1, 0).Add(-PeriodPrecision)
	return first, end
}
