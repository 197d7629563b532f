package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"dealhub/internal/pkg/clock"
	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/infrastructure/memory"
)

var (
	t0  = time.Date(2025, 2, 10, 18, 0, 0, 0, time.UTC)
	cst = time.FixedZone("CST", -6*3600)
)

type fixture struct {
	store    *memory.Store
	clock    *clock.Manual
	notifier *memory.Notifier
	search   *memory.Search
	guard    *memory.Guard
	deps     Deps
	svc      *Services
}

func testSettings() Settings {
	return Settings{
		Tolerance: 15 * time.Minute,
		Location:  cst,
		Defaults: domain.RedemptionDefaults{
			AverageTicket: decimal.NewFromInt(200),
			TakeRate:      decimal.RequireFromString("0.1"),
		},
		ReminderLead:       30 * time.Minute,
		BillingConcurrency: 2,
		GuardTTL:           30 * time.Second,
	}
}

func newFixture(t *testing.T, tweak ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		clock:    clock.NewManual(t0),
		notifier: memory.NewNotifier(),
		search:   memory.NewSearch(),
		guard:    memory.NewGuard(),
	}
	f.deps = Deps{
		Store:    f.store,
		Clock:    f.clock,
		Tracer:   noop.NewTracerProvider().Tracer("test"),
		Notifier: f.notifier,
		Search:   f.search,
		Guard:    f.guard,
		Locker:   memory.NewLocker(),
		Settings: testSettings(),
	}
	for _, fn := range tweak {
		fn(&f.deps)
	}
	f.svc = New(f.deps)
	f.seedRestaurant(t, "rest-1", "Taquería El Güero")
	return f
}

func (f *fixture) seedRestaurant(t *testing.T, id, name string) {
	t.Helper()
	err := f.store.Restaurants().Create(context.Background(), &domain.Restaurant{
		ID: id, Name: name, Active: true, IsApproved: true, CreatedAt: t0,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.search.IndexRestaurant(id, name)
}

func (f *fixture) seedDeal(t *testing.T, id string, useMax int, mods ...func(*domain.Deal)) *domain.Deal {
	t.Helper()
	d, err := domain.NewDeal(domain.NewDealParams{
		ID:           id,
		RestaurantID: "rest-1",
		Type:         domain.DealTypeDiscount,
		Discount:     decimal.NewNullDecimal(decimal.RequireFromString("0.3")),
		StartsAt:     t0.Add(-time.Hour),
		ExpiresAt:    t0.Add(time.Hour),
		UseMax:       useMax,
	}, f.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range mods {
		m(d)
	}
	if err := f.store.Deals().Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	return d
}

func (f *fixture) deal(t *testing.T, id string) *domain.Deal {
	t.Helper()
	d, err := f.store.Deals().FindByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func (f *fixture) reserve(customerID, dealID string) (*ReservationDTO, error) {
	return f.svc.Reservations.CreateReservation(context.Background(), &CreateReservationRequest{
		CustomerID:      customerID,
		DealID:          dealID,
		Count:           2,
		ReservationDate: f.clock.Now().Add(20 * time.Minute),
	})
}

func wantCode(t *testing.T, err error, want domain.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s, got nil", want)
	}
	if got := domain.CodeOf(err); got != want {
		t.Fatalf("want %s, got %s (%v)", want, got, err)
	}
}
