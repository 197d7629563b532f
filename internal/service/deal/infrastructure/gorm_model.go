package infrastructure

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// DealModel 对应数据库中的 deals 表
type DealModel struct {
	ID           string              `gorm:"primaryKey;size:36"`
	RestaurantID string              `gorm:"size:36;index:idx_deal_restaurant_created,priority:1"`
	Type         string              `gorm:"size:16;not null"`
	Discount     decimal.NullDecimal `gorm:"type:decimal(5,4)"`
	Details      string              `gorm:"type:text"`
	Conditions   string              `gorm:"type:text"`
	StartsAt     time.Time
	ExpiresAt    time.Time `gorm:"index:idx_deal_active_expires,priority:2"`
	UseCount     int       `gorm:"not null;default:0"`
	UseMax       int       `gorm:"not null"`
	Active       bool      `gorm:"not null;index:idx_deal_active_expires,priority:1"`
	CreatedAt    time.Time `gorm:"index:idx_deal_restaurant_created,priority:2"`
	UpdatedAt    time.Time
}

func (DealModel) TableName() string {
	return "deals"
}

// ReservationModel 对应数据库中的 reservations 表
type ReservationModel struct {
	ID              string    `gorm:"primaryKey;size:36"`
	CustomerID      string    `gorm:"size:64;not null;index:idx_res_customer_deal,priority:1;index:idx_res_customer_restaurant,priority:1"`
	DealID          string    `gorm:"size:36;not null;index:idx_res_customer_deal,priority:2;index:idx_res_deal_status,priority:1"`
	RestaurantID    string    `gorm:"size:36;not null;index:idx_res_customer_restaurant,priority:2"`
	Count           int       `gorm:"not null"`
	ReservationDate time.Time `gorm:"index:idx_res_active_date,priority:2"`
	Status          string    `gorm:"size:32;not null;index:idx_res_deal_status,priority:2"`
	Active          bool      `gorm:"not null;index:idx_res_active_date,priority:1"`
	CheckIn         sql.NullTime
	CancelledAt     sql.NullTime
	ReminderSent    bool `gorm:"column:reminder_notification_sent;not null;default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ReservationModel) TableName() string {
	return "reservations"
}

// RedemptionModel 对应 deal_redemptions 表，只插入不更新
type RedemptionModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	DealID       string `gorm:"size:36;not null;index"`
	RestaurantID string `gorm:"size:36;not null;index:idx_red_restaurant_created,priority:1"`
	CustomerID   string `gorm:"size:64;not null"`
	// 唯一索引允许多个 NULL，也就是允许多条无预约的兑现
	ReservationID sql.NullString      `gorm:"size:36;uniqueIndex:uk_redemption_reservation"`
	AverageTicket decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	TakeRate      decimal.NullDecimal `gorm:"type:decimal(5,4)"`
	CreatedAt     time.Time           `gorm:"type:datetime(3);index:idx_red_restaurant_created,priority:2"`
}

func (RedemptionModel) TableName() string {
	return "deal_redemptions"
}

// BillingModel 对应 billings 表，同一餐厅同一周期只允许一条
type BillingModel struct {
	ID                string          `gorm:"primaryKey;size:36"`
	RestaurantID      string          `gorm:"size:36;not null;uniqueIndex:uk_billing_period,priority:1"`
	PeriodStart       time.Time       `gorm:"type:datetime(3);not null;uniqueIndex:uk_billing_period,priority:2"`
	PeriodEnd         time.Time       `gorm:"type:datetime(3);not null;uniqueIndex:uk_billing_period,priority:3"`
	Redemptions       []string        `gorm:"serializer:json;type:json"`
	TotalDeals        int             `gorm:"not null;default:0"`
	CalculatedBalance decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	ManualAdjustment  decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	TotalBalance      decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	PaidQuantity      decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	DebtQuantity      decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	IsPaid            bool            `gorm:"not null;default:false;index"`
	PaidAt            sql.NullTime
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (BillingModel) TableName() string {
	return "billings"
}

// RestaurantModel 是餐厅目录在本服务中的只读副本
type RestaurantModel struct {
	ID                     string `gorm:"primaryKey;size:36"`
	UserID                 string `gorm:"size:64"`
	Name                   string `gorm:"size:255"`
	Slug                   string `gorm:"size:255;index"`
	Active                 bool
	IsApproved             bool
	HasMinimumRequirements bool
	Address                string `gorm:"size:512"`
	Phone                  string `gorm:"size:32"`
	CreatedAt              time.Time
}

func (RestaurantModel) TableName() string {
	return "restaurants"
}

type UserStrikeModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	CustomerID    string `gorm:"size:64;not null;index"`
	ReservationID string `gorm:"size:36;not null"`
	DealID        string `gorm:"size:36"`
	RestaurantID  string `gorm:"size:36"`
	Reason        string `gorm:"size:32"`
	CreatedAt     time.Time
}

func (UserStrikeModel) TableName() string {
	return "user_strikes"
}

// AllModels 供 AutoMigrate 使用
func AllModels() []any {
	return []any{
		&DealModel{},
		&ReservationModel{},
		&RedemptionModel{},
		&BillingModel{},
		&RestaurantModel{},
		&UserStrikeModel{},
	}
}
