package domain

import (
	"errors"
	"testing"
	"time"
)

func newTestReservation(t *testing.T) *Reservation {
	t.Helper()
	r, err := NewReservation(NewReservationParams{
		ID:              "res-1",
		CustomerID:      "cust-1",
		DealID:          "deal-1",
		RestaurantID:    "rest-1",
		Count:           2,
		ReservationDate: t0.Add(time.Hour),
	}, t0)
	if err != nil {
		t.Fatalf("NewReservation: %v", err)
	}
	return r
}

func TestStatusTablesCoverEveryStatus(t *testing.T) {
	live := 0
	for _, s := range AllStatuses {
		if !s.Valid() {
			t.Fatalf("%s not valid", s)
		}
		if !s.IsTerminal() {
			live++
		}
	}
	if live != 2 {
		t.Fatalf("want 2 non-terminal statuses, got %d", live)
	}
	if ReservationStatus("RESERVATION_EXPIRED").Valid() {
		t.Fatal("unknown status must be rejected")
	}
	if got := len(ReleasingStatuses()); got != 3 {
		t.Fatalf("want 3 releasing statuses, got %d", got)
	}
}

func TestFulfill(t *testing.T) {
	r := newTestReservation(t)
	now := t0.Add(time.Hour)
	if err := r.Fulfill(now); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusFulfilled || r.Active || r.CheckIn == nil || !r.CheckIn.Equal(now) {
		t.Fatalf("unexpected state %+v", r)
	}
	if err := r.Fulfill(now); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second fulfill: %v", err)
	}
}

func TestCheckRedeemable(t *testing.T) {
	for _, s := range []ReservationStatus{StatusExpired, StatusFulfilled, StatusUserCanceled, StatusRestaurantCanceled} {
		r := newTestReservation(t)
		r.Status = s
		if err := r.CheckRedeemable(); !errors.Is(err, ErrAlreadyTerminal) {
			t.Fatalf("%s: %v", s, err)
		}
	}
	r := newTestReservation(t)
	r.Status = StatusDealExpired
	r.Active = false
	if err := r.CheckRedeemable(); !errors.Is(err, ErrReservationInactive) {
		t.Fatalf("deal expired: %v", err)
	}
}

func TestCancelOnlyLiveReservations(t *testing.T) {
	r := newTestReservation(t)
	if err := r.CancelByUser(t0); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusUserCanceled || r.Active || r.Status.HoldsSlot() || r.CancelledAt == nil {
		t.Fatalf("unexpected state %+v", r)
	}
	if err := r.CancelByRestaurant(t0); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("cancel twice: %v", err)
	}
}

func TestExpireKeepsSlot(t *testing.T) {
	r := newTestReservation(t)
	if err := r.Expire(t0); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusDealExpired || r.Active || !r.Status.HoldsSlot() {
		t.Fatalf("unexpected state %+v", r)
	}
}

func TestWithinWindow(t *testing.T) {
	r := newTestReservation(t)
	tol := 15 * time.Minute
	if !r.WithinWindow(r.ReservationDate.Add(tol), tol) {
		t.Fatal("boundary is inclusive")
	}
	if r.WithinWindow(r.ReservationDate.Add(tol+time.Second), tol) {
		t.Fatal("past window")
	}
}
