package infrastructure

import (
	"database/sql"
	"time"

	"dealhub/internal/service/deal/domain"
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// dbTime 把时间截到存储精度，避免 MySQL 对更细的小数秒做四舍五入
func dbTime(t time.Time) time.Time {
	return t.Truncate(domain.PeriodPrecision)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toDealModel(d *domain.Deal) *DealModel {
	return &DealModel{
		ID:           d.ID,
		RestaurantID: d.RestaurantID,
		Type:         string(d.Type),
		Discount:     d.Discount,
		Details:      d.Details,
		Conditions:   d.Conditions,
		StartsAt:     d.StartsAt,
		ExpiresAt:    d.ExpiresAt,
		UseCount:     d.UseCount,
		UseMax:       d.UseMax,
		Active:       d.Active,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func toDomainDeal(m *DealModel) *domain.Deal {
	return &domain.Deal{
		ID:           m.ID,
		RestaurantID: m.RestaurantID,
		Type:         domain.DealType(m.Type),
		Discount:     m.Discount,
		Details:      m.Details,
		Conditions:   m.Conditions,
		StartsAt:     m.StartsAt,
		ExpiresAt:    m.ExpiresAt,
		UseCount:     m.UseCount,
		UseMax:       m.UseMax,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toReservationModel(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		DealID:          r.DealID,
		RestaurantID:    r.RestaurantID,
		Count:           r.Count,
		ReservationDate: r.ReservationDate,
		Status:          string(r.Status),
		Active:          r.Active,
		CheckIn:         nullTime(r.CheckIn),
		CancelledAt:     nullTime(r.CancelledAt),
		ReminderSent:    r.ReminderSent,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// toDomainReservation 遇到未知状态时归为 OTHER
func toDomainReservation(m *ReservationModel) *domain.Reservation {
	status := domain.ReservationStatus(m.Status)
	if !status.Valid() {
		status = domain.StatusOther
	}
	return &domain.Reservation{
		ID:              m.ID,
		CustomerID:      m.CustomerID,
		DealID:          m.DealID,
		RestaurantID:    m.RestaurantID,
		Count:           m.Count,
		ReservationDate: m.ReservationDate,
		Status:          status,
		Active:          m.Active,
		CheckIn:         timePtr(m.CheckIn),
		CancelledAt:     timePtr(m.CancelledAt),
		ReminderSent:    m.ReminderSent,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toRedemptionModel(r *domain.Redemption) *RedemptionModel {
	return &RedemptionModel{
		ID:            r.ID,
		DealID:        r.DealID,
		RestaurantID:  r.RestaurantID,
		CustomerID:    r.CustomerID,
		ReservationID: nullString(r.ReservationID),
		AverageTicket: r.AverageTicket,
		TakeRate:      r.TakeRate,
		CreatedAt:     dbTime(r.CreatedAt),
	}
}

func toDomainRedemption(m *RedemptionModel) *domain.Redemption {
	return &domain.Redemption{
		ID:            m.ID,
		DealID:        m.DealID,
		RestaurantID:  m.RestaurantID,
		CustomerID:    m.CustomerID,
		ReservationID: m.ReservationID.String,
		AverageTicket: m.AverageTicket,
		TakeRate:      m.TakeRate,
		CreatedAt:     m.CreatedAt,
	}
}

func toBillingModel(b *domain.Billing) *BillingModel {
	reds := b.Redemptions
	if reds == nil {
		reds = []string{}
	}
	return &BillingModel{
		ID:                b.ID,
		RestaurantID:      b.RestaurantID,
		PeriodStart:       dbTime(b.PeriodStart),
		PeriodEnd:         dbTime(b.PeriodEnd),
		Redemptions:       reds,
		TotalDeals:        b.TotalDeals,
		CalculatedBalance: b.CalculatedBalance,
		ManualAdjustment:  b.ManualAdjustment,
		TotalBalance:      b.TotalBalance,
		PaidQuantity:      b.PaidQuantity,
		DebtQuantity:      b.DebtQuantity,
		IsPaid:            b.IsPaid,
		PaidAt:            nullTime(b.PaidAt),
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func toDomainBilling(m *BillingModel) *domain.Billing {
	return &domain.Billing{
		ID:                m.ID,
		RestaurantID:      m.RestaurantID,
		PeriodStart:       m.PeriodStart,
		PeriodEnd:         m.PeriodEnd,
		Redemptions:       m.Redemptions,
		TotalDeals:        m.TotalDeals,
		CalculatedBalance: m.CalculatedBalance,
		ManualAdjustment:  m.ManualAdjustment,
		TotalBalance:      m.TotalBalance,
		PaidQuantity:      m.PaidQuantity,
		DebtQuantity:      m.DebtQuantity,
		IsPaid:            m.IsPaid,
		PaidAt:            timePtr(m.PaidAt),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toRestaurantModel(r *domain.Restaurant) *RestaurantModel {
	return &RestaurantModel{
		ID:                     r.ID,
		UserID:                 r.UserID,
		Name:                   r.Name,
		Slug:                   r.Slug,
		Active:                 r.Active,
		IsApproved:             r.IsApproved,
		HasMinimumRequirements: r.HasMinimumRequirements,
		Address:                r.Address,
		Phone:                  r.Phone,
		CreatedAt:              r.CreatedAt,
	}
}

func toDomainRestaurant(m *RestaurantModel) *domain.Restaurant {
	return &domain.Restaurant{
		ID:                     m.ID,
		UserID:                 m.UserID,
		Name:                   m.Name,
		Slug:                   m.Slug,
		Active:                 m.Active,
		IsApproved:             m.IsApproved,
		HasMinimumRequirements: m.HasMinimumRequirements,
		Address:                m.Address,
		Phone:                  m.Phone,
		CreatedAt:              m.CreatedAt,
	}
}

func toStrikeModel(s *domain.UserStrike) *UserStrikeModel {
	return &UserStrikeModel{
		ID:            s.ID,
		CustomerID:    s.CustomerID,
		ReservationID: s.ReservationID,
		DealID:        s.DealID,
		RestaurantID:  s.RestaurantID,
		Reason:        s.Reason,
		CreatedAt:     s.CreatedAt,
	}
}

func toDomainStrike(m *UserStrikeModel) domain.UserStrike {
	return domain.UserStrike{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		ReservationID: m.ReservationID,
		DealID:        m.DealID,
		RestaurantID:  m.RestaurantID,
		Reason:        m.Reason,
		CreatedAt:     m.CreatedAt,
	}
}
