package interfaces

import (
	"context"
	"testing"
	"time"

	"dealhub/internal/pkg/clock"
	"dealhub/internal/service/deal/domain"
)

func TestNextBillingRun(t *testing.T) {
	cst := time.FixedZone("CST", -6*3600)
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"mid month", time.Date(2025, 2, 10, 18, 0, 0, 0, cst), time.Date(2025, 3, 1, 0, 5, 0, 0, cst)},
		{"december rolls year", time.Date(2025, 12, 31, 23, 0, 0, 0, cst), time.Date(2026, 1, 1, 0, 5, 0, 0, cst)},
		{"first minutes of month", time.Date(2025, 3, 1, 0, 1, 0, 0, cst), time.Date(2025, 3, 1, 0, 5, 0, 0, cst)},
		{"exactly at run time", time.Date(2025, 3, 1, 0, 5, 0, 0, cst), time.Date(2025, 4, 1, 0, 5, 0, 0, cst)},
		{"utc instant, local month", time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 0, 5, 0, 0, cst)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextBillingRun(tc.now, cst); !got.Equal(tc.want) {
				t.Errorf("NextBillingRun() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSchedulerRunsSweepsAndBilling(t *testing.T) {
	svc, store := newApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(svc, clock.NewManual(now), time.UTC, 10*time.Millisecond)
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		bills, err := store.Billings().List(context.Background(), domain.BillingFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(bills) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the startup billing run to create one statement, got %d", len(bills))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	s.Wait()
}
