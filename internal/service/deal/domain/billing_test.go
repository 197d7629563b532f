package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateBalanceDefaults(t *testing.T) {
	reds := []Redemption{
		{AverageTicket: decimal.NewNullDecimal(dec("100")), TakeRate: decimal.NewNullDecimal(dec("0.1"))},
		{AverageTicket: decimal.NewNullDecimal(dec("200")), TakeRate: decimal.NewNullDecimal(dec("0.1"))},
		{TakeRate: decimal.NewNullDecimal(dec("0.5"))},     // 缺少客单价按 0
		{AverageTicket: decimal.NewNullDecimal(dec("50"))}, // 缺少抽成使用默认值
	}
	got := CalculateBalance(reds, dec("0.2"))
	if !got.Equal(dec("40")) {
		t.Fatalf("want 40, got %s", got)
	}
}

func TestBillingRecalculateAndApply(t *testing.T) {
	b, err := NewBilling(NewBillingParams{
		ID:               "b-1",
		RestaurantID:     "rest-1",
		PeriodStart:      t0,
		PeriodEnd:        t0.Add(24 * time.Hour),
		ManualAdjustment: dec("-5"),
	}, t0)
	if err != nil {
		t.Fatal(err)
	}
	b.Recalculate(dec("30"))
	if !b.TotalBalance.Equal(dec("25")) || !b.DebtQuantity.Equal(dec("25")) {
		t.Fatalf("total=%s debt=%s", b.TotalBalance, b.DebtQuantity)
	}

	paid := dec("25")
	yes := true
	if err := b.Apply(BillingUpdate{PaidQuantity: &paid, IsPaid: &yes}, t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	b.Recalculate(dec("30"))
	if !b.DebtQuantity.IsZero() || !b.IsPaid || b.PaidAt == nil {
		t.Fatalf("debt=%s paid=%v paidAt=%v", b.DebtQuantity, b.IsPaid, b.PaidAt)
	}

	first := *b.PaidAt
	if err := b.Apply(BillingUpdate{IsPaid: &yes}, t0.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if !b.PaidAt.Equal(first) {
		t.Fatal("paidAt must not move while already paid")
	}

	no := false
	_ = b.Apply(BillingUpdate{IsPaid: &no}, t0.Add(3*time.Hour))
	if b.PaidAt != nil {
		t.Fatal("paidAt must clear when unpaid")
	}

	neg := dec("-1")
	if err := b.Apply(BillingUpdate{PaidQuantity: &neg}, t0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative paid: %v", err)
	}
}

func TestNewBillingRejectsInvertedPeriod(t *testing.T) {
	_, err := NewBilling(NewBillingParams{ID: "b", RestaurantID: "r", PeriodStart: t0, PeriodEnd: t0.Add(-time.Second)}, t0)
	if KindOf(err) != KindValidation {
		t.Fatalf("got %v", err)
	}
}

func TestMonthPeriod(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC) // 2025-02-28 21:00 本地时间
	start, end := MonthPeriod(now, loc, 1)
	if start.Month() != time.January || start.Day() != 1 || start.Location() != loc {
		t.Fatalf("start %v", start)
	}
	if end.Month() != time.January || end.Day() != 31 || end.Hour() != 23 {
		t.Fatalf("end %v", end)
	}
	if !end.Equal(end.Truncate(PeriodPrecision)) {
		t.Fatalf("end %v is finer than %v", end, PeriodPrecision)
	}
	if next := end.Add(PeriodPrecision); next.Month() != time.February || next.Day() != 1 || next.Hour() != 0 {
		t.Fatalf("end + precision = %v, want february 1st", next)
	}
}

func TestPublished(t *testing.T) {
	r := &Restaurant{Active: true, IsApproved: true}
	if !r.Published() {
		t.Fatal("want published")
	}
	r.IsApproved = false
	if r.Published() {
		t.Fatal("unapproved restaurant is not published")
	}
	var missing *Restaurant
	if missing.DisplayName() != UnknownRestaurantName {
		t.Fatal("nil restaurant falls back to placeholder")
	}
}
