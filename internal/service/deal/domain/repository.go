// internal/service/deal/domain/repository.go
package domain

import (
	"context"
	"time"
)

// Page 描述分页参数，Limit<=0 表示不限制
type Page struct {
	Limit  int
	Offset int
}

// DealRepository 定义了 Deal 的持久化接口。
// 所有“未找到”都以 ErrDealNotFound 返回。
type DealRepository interface {
	Create(ctx context.Context, d *Deal) error
	FindByID(ctx context.Context, id string) (*Deal, error)
	// FindByIDForUpdate 在事务内读取并锁定该行，事务外调用等同于 FindByID
	FindByIDForUpdate(ctx context.Context, id string) (*Deal, error)
	// AdjustUseCount 原子地加减占用数，结果不会低于 0，返回更新后的 Deal
	AdjustUseCount(ctx context.Context, id string, delta int) (*Deal, error)
	SetUseCount(ctx context.Context, id string, n int) error
	// SetActive 只在值确实变化时写入，返回是否发生了变化
	SetActive(ctx context.Context, id string, active bool) (bool, error)
	CountCreatedBetween(ctx context.Context, restaurantID string, from, to time.Time) (int, error)
	// ListActiveExpiredBefore 返回 active 且 expiresAt 早于 deadline 的 Deal
	ListActiveExpiredBefore(ctx context.Context, deadline time.Time) ([]Deal, error)
	List(ctx context.Context, f DealFilter) ([]Deal, error)
}

// DealFilter 中 RestaurantIDs 为 nil 表示不过滤，非 nil 的空切片不匹配任何记录
type DealFilter struct {
	RestaurantIDs []string
	ActiveOnly    bool
	Page          Page
}

// ReservationRepository 定义了预约的持久化接口
type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	FindByID(ctx context.Context, id string) (*Reservation, error)
	FindByIDForUpdate(ctx context.Context, id string) (*Reservation, error)
	Update(ctx context.Context, r *Reservation) error
	// LatestForCustomerDeal 返回该顾客在该 Deal 上最新创建的预约，没有时返回 ErrNoReservation
	LatestForCustomerDeal(ctx context.Context, customerID, dealID string) (*Reservation, error)
	LatestForCustomerRestaurant(ctx context.Context, customerID, restaurantID string) (*Reservation, error)
	// ListLiveBefore 返回 active 且 reservationDate 早于 deadline 的预约
	ListLiveBefore(ctx context.Context, deadline time.Time) ([]Reservation, error)
	ListLiveByDeal(ctx context.Context, dealID string) ([]Reservation, error)
	// ListDueReminders 返回 active、未提醒且 reservationDate 落在 [from, to] 内的预约
	ListDueReminders(ctx context.Context, from, to time.Time) ([]Reservation, error)
	// CountHoldingSlot 统计该 Deal 上仍占用名额的预约数
	CountHoldingSlot(ctx context.Context, dealID string) (int, error)
}

// RedemptionRepository 定义了兑现记录的持久化接口
type RedemptionRepository interface {
	Create(ctx context.Context, r *Redemption) error
	FindByID(ctx context.Context, id string) (*Redemption, error)
	// FindByIDs 忽略不存在的 ID
	FindByIDs(ctx context.Context, ids []string) ([]Redemption, error)
	CountByDeal(ctx context.Context, dealID string) (int, error)
	// CountUnreservedByDeal 统计没有关联预约的兑现数
	CountUnreservedByDeal(ctx context.Context, dealID string) (int, error)
	CountByReservation(ctx context.Context, reservationID string) (int, error)
	// ListByRestaurantBetween 返回 createdAt 落在 [from, to] 内的兑现
	ListByRestaurantBetween(ctx context.Context, restaurantID string, from, to time.Time) ([]Redemption, error)
}

type BillingFilter struct {
	RestaurantIDs []string
	IsPaid        *bool
	PeriodFrom    *time.Time
	PeriodTo      *time.Time
	Page          Page
}

// BillingRepository 定义了对账单的持久化接口。List 按 periodStart 倒序返回。
type BillingRepository interface {
	// Create 在同一餐厅同一周期已存在账单时返回 ErrBillingExists
	Create(ctx context.Context, b *Billing) error
	FindByID(ctx context.Context, id string) (*Billing, error)
	FindByRestaurantPeriod(ctx context.Context, restaurantID string, start, end time.Time) (*Billing, error)
	Update(ctx context.Context, b *Billing) error
	List(ctx context.Context, f BillingFilter) ([]Billing, error)
}

type RestaurantRepository interface {
	Create(ctx context.Context, r *Restaurant) error
	FindByID(ctx context.Context, id string) (*Restaurant, error)
	ListAll(ctx context.Context) ([]Restaurant, error)
}

type StrikeRepository interface {
	Create(ctx context.Context, s *UserStrike) error
	ListByCustomer(ctx context.Context, customerID string) ([]UserStrike, error)
}

// Store 聚合所有仓储，并提供事务边界
type Store interface {
	Deals() DealRepository
	Reservations() ReservationRepository
	Redemptions() RedemptionRepository
	Billings() BillingRepository
	Restaurants() RestaurantRepository
	Strikes() StrikeRepository

	// InTx 在同一个事务里执行 fn，fn 返回错误时整体回滚
	InTx(ctx context.Context, fn func(tx Store) error) error
}
