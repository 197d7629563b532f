// internal/service/deal/domain/strike.go
package domain

import "time"

const StrikeReasonNoShow = "NO_SHOW"

// UserStrike 记录一次顾客爽约
type UserStrike struct {
	ID            string
	CustomerID    string
	ReservationID string
	DealID        string
	RestaurantID  string
	Reason        string
	CreatedAt     time.Time
}

func NewNoShowStrike(id string, r *Reservation, now time.Time) *UserStrike {
	return &UserStrike{
		ID:            id,
		CustomerID:    r.CustomerID,
		ReservationID: r.ID,
		DealID:        r.DealID,
		RestaurantID:  r.RestaurantID,
		Reason:        StrikeReasonNoShow,
		CreatedAt:     now,
	}
}
