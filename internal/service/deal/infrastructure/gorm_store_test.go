package infrastructure

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dealhub/internal/service/deal/domain"
)

func TestIsDuplicateKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"mysql 1062", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"wrapped 1062", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), true},
		{"other mysql error", &mysql.MySQLError{Number: 1213}, false},
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"plain", fmt.Errorf("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDuplicateKey(tc.err); got != tc.want {
				t.Errorf("isDuplicateKey() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReservationMapperKeepsOptionalTimes(t *testing.T) {
	now := time.Date(2025, 2, 10, 18, 0, 0, 0, time.UTC)
	checkIn := now.Add(5 * time.Minute)
	r := &domain.Reservation{
		ID: "r1", CustomerID: "c1", DealID: "d1", RestaurantID: "rest-1",
		Count: 2, ReservationDate: now, Status: domain.StatusFulfilled,
		CheckIn: &checkIn, CreatedAt: now, UpdatedAt: now,
	}

	m := toReservationModel(r)
	if !m.CheckIn.Valid || m.CancelledAt.Valid {
		t.Fatalf("unexpected null flags: checkIn=%v cancelledAt=%v", m.CheckIn.Valid, m.CancelledAt.Valid)
	}
	back := toDomainReservation(m)
	if back.CheckIn == nil || !back.CheckIn.Equal(checkIn) {
		t.Errorf("CheckIn = %v, want %v", back.CheckIn, checkIn)
	}
	if back.CancelledAt != nil {
		t.Errorf("CancelledAt = %v, want nil", back.CancelledAt)
	}
}

func TestReservationMapperUnknownStatus(t *testing.T) {
	got := toDomainReservation(&ReservationModel{ID: "r1", Status: "NO_SHOW_LEGACY"})
	if got.Status != domain.StatusOther {
		t.Errorf("Status = %s, want %s", got.Status, domain.StatusOther)
	}
}

func TestRedemptionMapperReservationID(t *testing.T) {
	m := toRedemptionModel(&domain.Redemption{ID: "x", DealID: "d1"})
	if m.ReservationID.Valid {
		t.Errorf("empty reservation id should map to NULL")
	}
	m = toRedemptionModel(&domain.Redemption{ID: "x", DealID: "d1", ReservationID: "r1"})
	if !m.ReservationID.Valid || toDomainRedemption(m).ReservationID != "r1" {
		t.Errorf("reservation id lost: %+v", m.ReservationID)
	}
}

func TestBillingMapperNeverStoresNullRedemptions(t *testing.T) {
	b := &domain.Billing{ID: "b1", RestaurantID: "rest-1", TotalBalance: decimal.NewFromInt(30)}
	m := toBillingModel(b)
	if m.Redemptions == nil {
		t.Fatal("Redemptions should be an empty slice")
	}
	if got := toDomainBilling(m); !got.TotalBalance.Equal(decimal.NewFromInt(30)) || got.PaidAt != nil {
		t.Errorf("unexpected billing %+v", got)
	}
}

func TestLiveStatusesAreNonTerminal(t *testing.T) {
	got := liveStatuses()
	want := map[string]bool{string(domain.StatusAwaitingCustomer): true, string(domain.StatusToleranceTime): true}
	if len(got) != len(want) {
		t.Fatalf("liveStatuses() = %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected live status %s", s)
		}
	}
}

// datetime(3) 会把更细的小数秒四舍五入，Round 模拟的就是入库后的值
func TestBillingPeriodSurvivesMillisecondColumn(t *testing.T) {
	cst := time.FixedZone("CST", -6*3600)
	start, end := domain.MonthPeriod(time.Date(2025, 2, 10, 12, 0, 0, 0, cst), cst, 1)
	legacyEnd := start.AddDate(0, 1, 0).Add(-time.Nanosecond)

	cases := []struct {
		name string
		end  time.Time
	}{
		{"month period", end},
		{"nanosecond end", legacyEnd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := toBillingModel(&domain.Billing{ID: "b1", RestaurantID: "rest-1", PeriodStart: start, PeriodEnd: tc.end})
			stored := toDomainBilling(&BillingModel{
				ID:          m.ID,
				PeriodStart: m.PeriodStart.Round(time.Millisecond),
				PeriodEnd:   m.PeriodEnd.Round(time.Millisecond),
			})
			if !stored.PeriodStart.Equal(start) {
				t.Errorf("PeriodStart = %v, want %v", stored.PeriodStart, start)
			}
			if !stored.PeriodEnd.Equal(end) {
				t.Errorf("PeriodEnd = %v, want %v", stored.PeriodEnd, end)
			}
			// 历史查询用 period_end <= end，等值查询用 period_end = end
			if stored.PeriodEnd.After(dbTime(end)) || !stored.PeriodEnd.Equal(dbTime(tc.end)) {
				t.Errorf("stored end %v no longer matches query bound %v", stored.PeriodEnd, dbTime(tc.end))
			}
		})
	}
}

func TestRedemptionCreatedAtTruncated(t *testing.T) {
	at := time.Date(2025, 1, 31, 23, 59, 59, 999_900_000, time.UTC)
	m := toRedemptionModel(&domain.Redemption{ID: "x", DealID: "d1", CreatedAt: at})
	if got := m.CreatedAt.Round(time.Millisecond); got.Month() != time.January {
		t.Fatalf("CreatedAt rounds into %v", got)
	}
}
