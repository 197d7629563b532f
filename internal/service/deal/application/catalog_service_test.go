package application

import (
	"context"
	"testing"
	"time"

	"dealhub/internal/service/deal/domain"
)

func TestCreateDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dl, err := f.svc.Catalog.CreateDeal(ctx, &CreateDealRequest{
		RestaurantID: "rest-1",
		Type:         domain.DealTypePromotion,
		Details:      "2x1 en tacos al pastor",
		ExpiresAt:    t0.Add(72 * time.Hour),
		UseMax:       20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !dl.Active || dl.Remaining != 20 {
		t.Fatalf("unexpected deal %+v", dl)
	}

	_, err = f.svc.Catalog.CreateDeal(ctx, &CreateDealRequest{RestaurantID: "ghost", Type: domain.DealTypePromotion, ExpiresAt: t0, UseMax: 1})
	wantCode(t, err, domain.CodeRestaurantNotFound)

	_, err = f.svc.Catalog.CreateDeal(ctx, &CreateDealRequest{RestaurantID: "rest-1", Type: domain.DealTypePromotion, ExpiresAt: t0, UseMax: 0})
	wantCode(t, err, domain.CodeInvalidInput)
}

func TestReactivateDeal(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "paused", 3, func(d *domain.Deal) { d.Active = false })
	f.seedDeal(t, "full", 1, func(d *domain.Deal) { d.Active = false; d.UseCount = 1 })
	f.seedDeal(t, "stale", 3, func(d *domain.Deal) { d.Active = false; d.ExpiresAt = t0.Add(-time.Hour) })
	ctx := context.Background()

	out, err := f.svc.Catalog.ReactivateDeal(ctx, "paused")
	if err != nil || !out.Active || !f.deal(t, "paused").Active {
		t.Fatalf("reactivate: %+v %v", out, err)
	}
	_, err = f.svc.Catalog.ReactivateDeal(ctx, "full")
	wantCode(t, err, domain.CodeCapacityExceeded)
	_, err = f.svc.Catalog.ReactivateDeal(ctx, "stale")
	wantCode(t, err, domain.CodeExpired)
	_, err = f.svc.Catalog.ReactivateDeal(ctx, "missing")
	wantCode(t, err, domain.CodeDealNotFound)
}

func TestListDeals(t *testing.T) {
	f := newFixture(t)
	f.seedRestaurant(t, "rest-2", "Pozolería")
	ctx := context.Background()
	_ = f.store.Restaurants().Create(ctx, &domain.Restaurant{ID: "pending", Name: "Pendiente", Active: true})
	f.seedDeal(t, "a", 3)
	f.seedDeal(t, "b", 3, func(d *domain.Deal) { d.RestaurantID = "rest-2" })
	f.seedDeal(t, "c", 3, func(d *domain.Deal) { d.RestaurantID = "pending" })
	f.seedDeal(t, "d", 3, func(d *domain.Deal) { d.Active = false })

	all, err := f.svc.Catalog.ListDeals(ctx, ListQuery{}, false)
	if err != nil || len(all) != 4 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	visible, _ := f.svc.Catalog.ListDeals(ctx, ListQuery{}, true)
	if len(visible) != 2 {
		t.Fatalf("customer view must hide inactive deals and unpublished restaurants, got %d", len(visible))
	}
	hits, _ := f.svc.Catalog.ListDeals(ctx, ListQuery{Search: "pozolería"}, false)
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	page, _ := f.svc.Catalog.ListDeals(ctx, ListQuery{Limit: 1, Offset: 1}, false)
	if len(page) != 1 {
		t.Fatalf("pagination: %d", len(page))
	}
}
