package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/domain/port"
)

func TestCreateReservationClaimsLastSlot(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 1)

	res, err := f.reserve("customer-a", "deal-1")
	if err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if res.Status != string(domain.StatusAwaitingCustomer) || !res.Active {
		t.Fatalf("unexpected reservation %+v", res)
	}
	if res.CreatedAt.Location() != cst {
		t.Fatalf("timestamps must be in platform zone, got %v", res.CreatedAt.Location())
	}

	d := f.deal(t, "deal-1")
	if d.UseCount != 1 || d.Active {
		t.Fatalf("useCount=%d active=%v", d.UseCount, d.Active)
	}

	_, err = f.reserve("customer-b", "deal-1")
	wantCode(t, err, domain.CodeCapacityExceeded)
}

func TestCreateReservationFailures(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "off", 3, func(d *domain.Deal) { d.Active = false })
	f.seedDeal(t, "old", 3, func(d *domain.Deal) { d.ExpiresAt = t0.Add(-time.Hour) })
	f.seedDeal(t, "orphan", 3, func(d *domain.Deal) { d.RestaurantID = "" })

	cases := []struct {
		deal string
		want domain.Code
	}{
		{"missing", domain.CodeDealNotFound},
		{"off", domain.CodeDealInactive},
		{"old", domain.CodeExpired},
		{"orphan", domain.CodeNotLinked},
	}
	for _, tc := range cases {
		t.Run(tc.deal, func(t *testing.T) {
			_, err := f.reserve("customer-a", tc.deal)
			wantCode(t, err, tc.want)
		})
	}
}

func TestCreateReservationRejectsSecondLiveReservation(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 5)
	if _, err := f.reserve("customer-a", "deal-1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.reserve("customer-a", "deal-1")
	wantCode(t, err, domain.CodeReservationExists)
	if d := f.deal(t, "deal-1"); d.UseCount != 1 {
		t.Fatalf("failed attempt must not hold a slot, useCount=%d", d.UseCount)
	}
}

func TestCapacityWriteBackSurvivesFailedRequest(t *testing.T) {
	f := newFixture(t)
	// 占用数已满但 active 仍为 true 的脏数据
	f.seedDeal(t, "deal-1", 2, func(d *domain.Deal) { d.UseCount = 2 })

	_, err := f.reserve("customer-a", "deal-1")
	wantCode(t, err, domain.CodeCapacityExceeded)
	if f.deal(t, "deal-1").Active {
		t.Fatal("write-back must persist even though the reservation failed")
	}

	// 幂等：再来一次状态不变
	_, err = f.reserve("customer-a", "deal-1")
	wantCode(t, err, domain.CodeCapacityExceeded)
	if d := f.deal(t, "deal-1"); d.Active || d.UseCount != 2 {
		t.Fatalf("unexpected deal %+v", d)
	}
}

type stubConditions struct{ ok bool }

func (s stubConditions) Validate(string) error { return nil }
func (s stubConditions) Evaluate(string, port.ConditionInput) (bool, error) {
	return s.ok, nil
}

func TestCreateReservationChecksConditions(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Conditions = stubConditions{ok: false} })
	f.seedDeal(t, "deal-1", 2, func(d *domain.Deal) { d.Conditions = "count <= 4" })

	_, err := f.reserve("customer-a", "deal-1")
	wantCode(t, err, domain.CodeConditionsNotMet)
	if d := f.deal(t, "deal-1"); d.UseCount != 0 {
		t.Fatalf("rejected reservation leaked a slot: %d", d.UseCount)
	}
}

func TestCancelReservationReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 1)
	res, err := f.reserve("customer-a", "deal-1")
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(5 * time.Minute)
	canceled, err := f.svc.Reservations.CancelReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if canceled.Status != string(domain.StatusUserCanceled) || canceled.Active || canceled.CancelledAt == nil {
		t.Fatalf("unexpected reservation %+v", canceled)
	}
	d := f.deal(t, "deal-1")
	if d.UseCount != 0 {
		t.Fatalf("useCount=%d", d.UseCount)
	}
	if d.Active {
		t.Fatal("cancellation must not reactivate by default")
	}

	_, err = f.svc.Reservations.CancelReservation(context.Background(), res.ID)
	wantCode(t, err, domain.CodeAlreadyTerminal)
	if d := f.deal(t, "deal-1"); d.UseCount != 0 {
		t.Fatalf("second cancel must not release again, useCount=%d", d.UseCount)
	}

	_, err = f.svc.Reservations.CancelReservation(context.Background(), "nope")
	wantCode(t, err, domain.CodeNotFound)
}

func TestCancelReservationReactivatesWhenConfigured(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Settings.ReactivateOnCancel = true })
	f.seedDeal(t, "deal-1", 1)
	res, err := f.reserve("customer-a", "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Reservations.CancelReservationByRestaurant(context.Background(), res.ID); err != nil {
		t.Fatal(err)
	}
	if d := f.deal(t, "deal-1"); !d.Active || d.UseCount != 0 {
		t.Fatalf("unexpected deal %+v", d)
	}
	if _, err := f.reserve("customer-b", "deal-1"); err != nil {
		t.Fatalf("freed slot should be reservable: %v", err)
	}
}

func TestRedeemDeal(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 1)
	res, err := f.reserve("customer-a", "deal-1")
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(20 * time.Minute)
	out, err := f.svc.Reservations.RedeemDeal(context.Background(), "customer-a", "deal-1")
	if err != nil {
		t.Fatalf("holder of the last slot must be able to redeem: %v", err)
	}
	if out.Reservation.ID != res.ID || out.Reservation.Status != string(domain.StatusFulfilled) || out.Reservation.CheckIn == nil {
		t.Fatalf("unexpected reservation %+v", out.Reservation)
	}
	if out.UseCount != 1 {
		t.Fatalf("useCount=%d", out.UseCount)
	}
	if !out.Redemption.AverageTicket.Equal(f.deps.Settings.Defaults.AverageTicket) ||
		!out.Redemption.TakeRate.Equal(f.deps.Settings.Defaults.TakeRate) {
		t.Fatalf("defaults not applied: %+v", out.Redemption)
	}
	if d := f.deal(t, "deal-1"); d.Active {
		t.Fatal("exhausted deal must stay inactive")
	}

	var redeemed bool
	for _, n := range f.notifier.Sent() {
		if n.Kind == port.NotifyDealRedeemed && n.RecipientID == "rest-1" {
			redeemed = true
		}
	}
	if !redeemed {
		t.Fatal("restaurant was not notified")
	}
}

func TestRedeemFulfilledReservationIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 5)
	if _, err := f.reserve("customer-a", "deal-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Reservations.RedeemDeal(context.Background(), "customer-a", "deal-1"); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Reservations.RedeemDeal(context.Background(), "customer-a", "deal-1")
	wantCode(t, err, domain.CodeAlreadyTerminal)

	n, _ := f.store.Redemptions().CountByDeal(context.Background(), "deal-1")
	if n != 1 {
		t.Fatalf("want exactly one redemption, got %d", n)
	}
}

func TestRedeemFailures(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 5)
	ctx := context.Background()

	_, err := f.svc.Reservations.RedeemDeal(ctx, "customer-a", "deal-1")
	wantCode(t, err, domain.CodeNoReservation)

	_, err = f.svc.Reservations.RedeemDeal(ctx, "customer-a", "missing")
	wantCode(t, err, domain.CodeDealNotFound)

	res, _ := f.reserve("customer-b", "deal-1")
	if _, err := f.svc.Reservations.CancelReservation(ctx, res.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Reservations.RedeemDeal(ctx, "customer-b", "deal-1")
	wantCode(t, err, domain.CodeAlreadyTerminal)

	release, err := f.guard.Acquire(ctx, "redeem:customer-c:deal-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	_, err = f.svc.Reservations.RedeemDeal(ctx, "customer-c", "deal-1")
	wantCode(t, err, domain.CodeRedemptionInProgress)
}

func TestFindDealMatchesRedeem(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 1)
	ctx := context.Background()

	_, err := f.svc.Reservations.FindDeal(ctx, "customer-a", "rest-1")
	wantCode(t, err, domain.CodeNoReservation)

	res, err := f.reserve("customer-a", "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	preview, err := f.svc.Reservations.FindDeal(ctx, "customer-a", "rest-1")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Deal.ID != "deal-1" || preview.Reservation.ID != res.ID {
		t.Fatalf("unexpected preview %+v", preview)
	}

	// 预约时间 +20 分钟，容忍 15 分钟
	f.clock.Advance(36 * time.Minute)
	_, err = f.svc.Reservations.FindDeal(ctx, "customer-a", "rest-1")
	wantCode(t, err, domain.CodeReservationExpired)
}

// 任意顺序的 预约/取消/兑现 之后，useCount 都等于仍占用名额的记录数
func TestUseCountMatchesClaims(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 3, func(d *domain.Deal) { d.ExpiresAt = t0.Add(24 * time.Hour) })
	ctx := context.Background()
	customers := []string{"c0", "c1", "c2", "c3", "c4"}
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 200; step++ {
		c := customers[rng.Intn(len(customers))]
		switch rng.Intn(4) {
		case 0:
			_, _ = f.reserve(c, "deal-1")
		case 1:
			if r, err := f.store.Reservations().LatestForCustomerDeal(ctx, c, "deal-1"); err == nil {
				_, _ = f.svc.Reservations.CancelReservation(ctx, r.ID)
			}
		case 2:
			_, _ = f.svc.Reservations.RedeemDeal(ctx, c, "deal-1")
		case 3:
			_, _ = f.svc.Recorder.RecordRedemption(ctx, &RecordRedemptionRequest{DealID: "deal-1", CustomerID: c})
		}

		d := f.deal(t, "deal-1")
		holding, _ := f.store.Reservations().CountHoldingSlot(ctx, "deal-1")
		walkIns, _ := f.store.Redemptions().CountUnreservedByDeal(ctx, "deal-1")
		if d.UseCount != holding+walkIns {
			t.Fatalf("step %d: useCount=%d claims=%d", step, d.UseCount, holding+walkIns)
		}
		if d.UseCount > d.UseMax {
			t.Fatalf("step %d: useCount %d exceeds useMax %d", step, d.UseCount, d.UseMax)
		}
		if d.Exhausted() && d.Active {
			t.Fatalf("step %d: exhausted deal still active", step)
		}
	}
}

func TestNotifierFailureDoesNotFailReservation(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 2)
	f.notifier.FailWith(errors.New("broker down"))
	if _, err := f.reserve("customer-a", "deal-1"); err != nil {
		t.Fatalf("notification failure leaked: %v", err)
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 3)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reserve(fmt.Sprintf("customer-%02d", i), "deal-1")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrCapacityExceeded):
				rejected.Add(1)
			default:
				t.Errorf("customer-%02d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if ok.Load() != 3 || rejected.Load() != 17 {
		t.Fatalf("ok=%d rejected=%d, want 3/17", ok.Load(), rejected.Load())
	}
	d := f.deal(t, "deal-1")
	if d.UseCount != 3 || d.Active {
		t.Fatalf("useCount=%d active=%v, want 3/false", d.UseCount, d.Active)
	}
}

func TestRecordWalkInRespectsCapacity(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 1)
	f.seedDeal(t, "deal-2", 2)
	ctx := context.Background()
	walkIn := func(dealID string) error {
		_, err := f.svc.Recorder.RecordRedemption(ctx, &RecordRedemptionRequest{DealID: dealID, CustomerID: "walk-in"})
		return err
	}

	// 最后一个名额已经被预约占用
	if _, err := f.reserve("customer-a", "deal-1"); err != nil {
		t.Fatal(err)
	}
	wantCode(t, walkIn("deal-1"), domain.CodeCapacityExceeded)
	if d := f.deal(t, "deal-1"); d.UseCount != 1 {
		t.Fatalf("useCount=%d, want 1", d.UseCount)
	}

	for i := 0; i < 2; i++ {
		if err := walkIn("deal-2"); err != nil {
			t.Fatalf("walk-in %d: %v", i, err)
		}
	}
	wantCode(t, walkIn("deal-2"), domain.CodeCapacityExceeded)
	if d := f.deal(t, "deal-2"); d.UseCount != 2 || d.Active {
		t.Fatalf("useCount=%d active=%v, want 2/false", d.UseCount, d.Active)
	}

	f.seedDeal(t, "stale", 3, func(d *domain.Deal) { d.ExpiresAt = t0.Add(-time.Hour) })
	wantCode(t, walkIn("stale"), domain.CodeExpired)
	f.seedDeal(t, "paused", 3, func(d *domain.Deal) { d.Active = false })
	wantCode(t, walkIn("paused"), domain.CodeDeactivated)
}

func TestRecordLinkedRedemption(t *testing.T) {
	f := newFixture(t)
	f.seedDeal(t, "deal-1", 3)
	f.seedDeal(t, "deal-2", 3)
	ctx := context.Background()
	record := func(dealID, customerID, reservationID string) error {
		_, err := f.svc.Recorder.RecordRedemption(ctx, &RecordRedemptionRequest{
			DealID: dealID, CustomerID: customerID, ReservationID: reservationID,
		})
		return err
	}

	res, err := f.reserve("customer-a", "deal-1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		dealID        string
		customerID    string
		reservationID string
		want          domain.Code
	}{
		{"other deal", "deal-2", "customer-a", res.ID, domain.CodeInvalidInput},
		{"other customer", "deal-1", "customer-b", res.ID, domain.CodeInvalidInput},
		{"unknown reservation", "deal-1", "customer-a", "missing", domain.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, record(tt.dealID, tt.customerID, tt.reservationID), tt.want)
		})
	}

	if err := record("deal-1", "customer-a", res.ID); err != nil {
		t.Fatal(err)
	}
	got, err := f.store.Reservations().FindByID(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFulfilled {
		t.Fatalf("status=%s, want FULFILLED", got.Status)
	}
	if d := f.deal(t, "deal-1"); d.UseCount != 1 {
		t.Fatalf("linked redemption must reuse the reservation slot, useCount=%d", d.UseCount)
	}
	wantCode(t, record("deal-1", "customer-a", res.ID), domain.CodeAlreadyRedeemed)

	// 扫码兑现过的预约也不能再补录
	redeemed, err := f.reserve("customer-b", "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Reservations.RedeemDeal(ctx, "customer-b", "deal-1"); err != nil {
		t.Fatal(err)
	}
	wantCode(t, record("deal-1", "", redeemed.ID), domain.CodeAlreadyRedeemed)

	canceled, err := f.reserve("customer-c", "deal-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Reservations.CancelReservation(ctx, canceled.ID); err != nil {
		t.Fatal(err)
	}
	wantCode(t, record("deal-1", "customer-c", canceled.ID), domain.CodeAlreadyTerminal)

	n, _ := f.store.Redemptions().CountByDeal(ctx, "deal-1")
	if n != 2 {
		t.Fatalf("redemptions=%d, want 2", n)
	}
}
