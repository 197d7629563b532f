package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealhub/internal/service/deal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) redeemAt(t *testing.T, at time.Time, restaurantID, dealID string, ticket, rate string) {
	t.Helper()
	f.clock.Set(at)
	_, err := f.svc.Recorder.RecordRedemption(context.Background(), &RecordRedemptionRequest{
		DealID:        dealID,
		RestaurantID:  restaurantID,
		CustomerID:    "walk-in",
		AverageTicket: decimal.NewNullDecimal(dec(ticket)),
		TakeRate:      decimal.NewNullDecimal(dec(rate)),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func january() (time.Time, time.Time) {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, cst), time.Date(2025, 1, 31, 23, 59, 59, 0, cst)
}

func TestCreateBillingSumsCommission(t *testing.T) {
	f := newFixture(t)
	start, end := january()
	f.clock.Set(start.Add(-time.Hour))
	f.seedDeal(t, "deal-1", 10, func(dl *domain.Deal) {
		dl.ExpiresAt = end.Add(24 * time.Hour)
		dl.CreatedAt = start.Add(time.Hour)
	})

	f.redeemAt(t, start.Add(2*time.Hour), "rest-1", "deal-1", "200", "0.1")
	f.redeemAt(t, end, "rest-1", "deal-1", "100", "0.1")
	// 周期之外的不计入
	f.redeemAt(t, end.Add(time.Second), "rest-1", "deal-1", "1000", "0.5")

	b, err := f.svc.Billing.CreateBilling(context.Background(), &CreateBillingRequest{
		RestaurantID:     "rest-1",
		PeriodStart:      start,
		PeriodEnd:        end,
		ManualAdjustment: dec("-5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !b.CalculatedBalance.Equal(dec("30")) || !b.TotalBalance.Equal(dec("25")) || !b.DebtQuantity.Equal(dec("25")) {
		t.Fatalf("calc=%s total=%s debt=%s", b.CalculatedBalance, b.TotalBalance, b.DebtQuantity)
	}
	if len(b.Redemptions) != 2 || b.TotalDeals != 1 || b.RestaurantName != "Taquería El Güero" {
		t.Fatalf("unexpected billing %+v", b)
	}

	// 不带任何修改的更新不会改变金额
	again, err := f.svc.Billing.UpdateBilling(context.Background(), b.ID, &UpdateBillingRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !again.CalculatedBalance.Equal(b.CalculatedBalance) || !again.TotalBalance.Equal(b.TotalBalance) || !again.DebtQuantity.Equal(b.DebtQuantity) {
		t.Fatalf("recomputation drifted: %+v", again)
	}

	_, err = f.svc.Billing.CreateBilling(context.Background(), &CreateBillingRequest{
		RestaurantID: "rest-1", PeriodStart: start, PeriodEnd: end,
	})
	wantCode(t, err, domain.CodeBillingExists)
}

func TestCreateBillingValidation(t *testing.T) {
	f := newFixture(t)
	start, end := january()

	_, err := f.svc.Billing.CreateBilling(context.Background(), &CreateBillingRequest{
		RestaurantID: "ghost", PeriodStart: start, PeriodEnd: end,
	})
	wantCode(t, err, domain.CodeRestaurantNotFound)

	_, err = f.svc.Billing.CreateBilling(context.Background(), &CreateBillingRequest{
		RestaurantID: "rest-1", PeriodStart: end, PeriodEnd: start,
	})
	wantCode(t, err, domain.CodeInvalidInput)
}

func TestUpdateBillingAppliesPayment(t *testing.T) {
	f := newFixture(t)
	start, end := january()
	f.clock.Set(start)
	f.seedDeal(t, "deal-1", 10, func(dl *domain.Deal) { dl.ExpiresAt = end })
	f.redeemAt(t, start.Add(time.Hour), "rest-1", "deal-1", "300", "0.1")

	f.clock.Set(end.Add(time.Hour))
	b, err := f.svc.Billing.CreateBilling(context.Background(), &CreateBillingRequest{
		RestaurantID: "rest-1", PeriodStart: start, PeriodEnd: end,
	})
	if err != nil {
		t.Fatal(err)
	}

	paid := dec("10")
	yes := true
	f.clock.Advance(24 * time.Hour)
	up, err := f.svc.Billing.UpdateBilling(context.Background(), b.ID, &UpdateBillingRequest{PaidQuantity: &paid, IsPaid: &yes})
	if err != nil {
		t.Fatal(err)
	}
	if !up.DebtQuantity.Equal(dec("20")) || !up.IsPaid || up.PaidAt == nil {
		t.Fatalf("unexpected billing %+v", up)
	}
	if !up.TotalBalance.Equal(up.CalculatedBalance.Add(up.ManualAdjustment)) {
		t.Fatal("total must equal calculated + adjustment")
	}

	_, err = f.svc.Billing.UpdateBilling(context.Background(), "missing", &UpdateBillingRequest{})
	wantCode(t, err, domain.CodeNotFound)
}

func TestBillingHistoryFallsBackToPlaceholderName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, month := range []time.Month{time.January, time.March, time.February} {
		start := time.Date(2024, month, 1, 0, 0, 0, 0, cst)
		b, _ := domain.NewBilling(domain.NewBillingParams{
			ID: string(rune('a' + i)), RestaurantID: "closed", PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0).Add(-time.Second),
		}, t0)
		if err := f.store.Billings().Create(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := f.svc.Billing.GetRestaurantBillingHistory(ctx, "closed", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("got %d billings", len(hist))
	}
	if hist[0].PeriodStart.Month() != time.March || hist[2].PeriodStart.Month() != time.January {
		t.Fatal("history must be ordered by periodStart desc")
	}
	for _, b := range hist {
		if b.RestaurantName != domain.UnknownRestaurantName {
			t.Fatalf("want placeholder, got %q", b.RestaurantName)
		}
	}

	from := time.Date(2024, time.February, 1, 0, 0, 0, 0, cst)
	hist, _ = f.svc.Billing.GetRestaurantBillingHistory(ctx, "closed", &from, nil)
	if len(hist) != 2 {
		t.Fatalf("filtered history: got %d", len(hist))
	}
}

// flakyStore 让某个餐厅的兑现查询失败
type flakyStore struct {
	domain.Store
	failFor string
}

func (s flakyStore) Redemptions() domain.RedemptionRepository {
	return flakyRedemptions{RedemptionRepository: s.Store.Redemptions(), failFor: s.failFor}
}

type flakyRedemptions struct {
	domain.RedemptionRepository
	failFor string
}

func (r flakyRedemptions) ListByRestaurantBetween(ctx context.Context, id string, from, to time.Time) ([]domain.Redemption, error) {
	if id == r.failFor {
		return nil, errors.New("connection reset by peer")
	}
	return r.RedemptionRepository.ListByRestaurantBetween(ctx, id, from, to)
}

func TestCreateLastMonthBillingsContinuesOnError(t *testing.T) {
	f := newFixture(t)
	f.seedRestaurant(t, "rest-2", "Pozolería")
	f.seedRestaurant(t, "rest-3", "Cantina")
	svc := NewBillingService(Deps{
		Store:    flakyStore{Store: f.store, failFor: "rest-2"},
		Clock:    f.clock,
		Tracer:   f.deps.Tracer,
		Locker:   f.deps.Locker,
		Settings: f.deps.Settings,
	})

	res, err := svc.CreateLastMonthBillings(context.Background())
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("want *BatchError, got %v", err)
	}
	if _, ok := batch.Errors["rest-2"]; !ok || len(batch.Errors) != 1 {
		t.Fatalf("unexpected failures %v", batch.Errors)
	}
	if domain.KindOf(batch.Errors["rest-2"]) != domain.KindDependency {
		t.Fatal("raw store errors must surface as DEPENDENCY")
	}
	if len(res.Created) != 2 {
		t.Fatalf("other restaurants must still be billed, created=%v", res.Created)
	}
	start, _ := january()
	if !res.PeriodStart.Equal(start) {
		t.Fatalf("period start %v", res.PeriodStart)
	}

	// 再跑一次：已出账的被跳过
	res, _ = svc.CreateLastMonthBillings(context.Background())
	if len(res.Skipped) != 2 || len(res.Created) != 0 {
		t.Fatalf("rerun created=%v skipped=%v", res.Created, res.Skipped)
	}
}

func TestCreatePastBillings(t *testing.T) {
	f := newFixture(t)
	results, err := f.svc.Billing.CreatePastBillings(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d periods", len(results))
	}
	want := []time.Month{time.January, time.December, time.November}
	for i, r := range results {
		if r.PeriodStart.Month() != want[i] || len(r.Created) != 1 {
			t.Fatalf("period %d: %+v", i, r)
		}
	}

	_, err = f.svc.Billing.CreatePastBillings(context.Background(), 0)
	wantCode(t, err, domain.CodeInvalidInput)
}

func TestListBillingsResolvesSearchQuery(t *testing.T) {
	f := newFixture(t)
	f.seedRestaurant(t, "rest-2", "Pozolería")
	if _, err := f.svc.Billing.CreatePastBillings(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	all, err := f.svc.Billing.ListBillings(context.Background(), ListQuery{}, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	hits, _ := f.svc.Billing.ListBillings(context.Background(), ListQuery{Search: "pozo"}, nil)
	if len(hits) != 1 || hits[0].RestaurantID != "rest-2" || hits[0].RestaurantName != "Pozolería" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	none, _ := f.svc.Billing.ListBillings(context.Background(), ListQuery{Search: "sushi"}, nil)
	if len(none) != 0 {
		t.Fatalf("unmatched query must return nothing, got %d", len(none))
	}
	unpaid := false
	open, _ := f.svc.Billing.ListBillings(context.Background(), ListQuery{}, &unpaid)
	if len(open) != 2 {
		t.Fatalf("unpaid filter: %d", len(open))
	}
}
