package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/domain/port"
)

var t0 = time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

func seedDeal(t *testing.T, s *Store, id string, useMax int) {
	t.Helper()
	d, err := domain.NewDeal(domain.NewDealParams{
		ID: id, RestaurantID: "rest-1", Type: domain.DealTypePromotion,
		ExpiresAt: t0.Add(48 * time.Hour), UseMax: useMax,
	}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deals().Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedDeal(t, s, "d1", 3)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx domain.Store) error {
		if _, err := tx.Deals().AdjustUseCount(ctx, "d1", 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	d, _ := s.Deals().FindByID(ctx, "d1")
	if d.UseCount != 0 {
		t.Fatalf("rollback lost: useCount=%d", d.UseCount)
	}

	_ = s.InTx(ctx, func(tx domain.Store) error {
		_, err := tx.Deals().AdjustUseCount(ctx, "d1", 2)
		return err
	})
	d, _ = s.Deals().FindByID(ctx, "d1")
	if d.UseCount != 2 {
		t.Fatalf("commit lost: useCount=%d", d.UseCount)
	}
}

func TestAdjustUseCountFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedDeal(t, s, "d1", 1)
	d, err := s.Deals().AdjustUseCount(ctx, "d1", -1)
	if err != nil || d.UseCount != 0 {
		t.Fatalf("useCount=%v err=%v", d, err)
	}
	if _, err := s.Deals().AdjustUseCount(ctx, "missing", 1); !errors.Is(err, domain.ErrDealNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestSetActiveReportsChange(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedDeal(t, s, "d1", 1)
	changed, _ := s.Deals().SetActive(ctx, "d1", false)
	again, _ := s.Deals().SetActive(ctx, "d1", false)
	if !changed || again {
		t.Fatalf("changed=%v again=%v", changed, again)
	}
}

func TestLatestReservationUsesInsertionOrderOnTies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, id := range []string{"r1", "r2"} {
		r, _ := domain.NewReservation(domain.NewReservationParams{
			ID: id, CustomerID: "c", DealID: "d1", RestaurantID: "rest-1", Count: 1, ReservationDate: t0,
		}, t0)
		if err := s.Reservations().Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Reservations().LatestForCustomerDeal(ctx, "c", "d1")
	if err != nil || got.ID != "r2" {
		t.Fatalf("got %v %v", got, err)
	}
	if _, err := s.Reservations().LatestForCustomerDeal(ctx, "other", "d1"); !errors.Is(err, domain.ErrNoReservation) {
		t.Fatalf("got %v", err)
	}
}

func TestBillingUniquePerPeriod(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	mk := func(id string) *domain.Billing {
		b, _ := domain.NewBilling(domain.NewBillingParams{
			ID: id, RestaurantID: "rest-1", PeriodStart: t0, PeriodEnd: t0.Add(time.Hour),
		}, t0)
		return b
	}
	if err := s.Billings().Create(ctx, mk("b1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Billings().Create(ctx, mk("b2")); !errors.Is(err, domain.ErrBillingExists) {
		t.Fatalf("got %v", err)
	}
}

func TestGuardExcludesConcurrentHolders(t *testing.T) {
	g := NewGuard()
	release, err := g.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(context.Background(), "k", time.Minute); !errors.Is(err, port.ErrGuardHeld) {
		t.Fatalf("got %v", err)
	}
	release()
	release()
	if _, err := g.Acquire(context.Background(), "k", time.Minute); err != nil {
		t.Fatalf("after release: %v", err)
	}
}
