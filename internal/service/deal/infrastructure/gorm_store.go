// internal/service/deal/infrastructure/gorm_store.go
package infrastructure

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dealhub/internal/service/deal/domain"
)

const mysqlDuplicateEntry = 1062

// GormStore 是 domain.Store 的 GORM 实现
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Deals() domain.DealRepository               { return &gormDealRepo{s} }
func (s *GormStore) Reservations() domain.ReservationRepository { return &gormReservationRepo{s} }
func (s *GormStore) Redemptions() domain.RedemptionRepository   { return &gormRedemptionRepo{s} }
func (s *GormStore) Billings() domain.BillingRepository         { return &gormBillingRepo{s} }
func (s *GormStore) Restaurants() domain.RestaurantRepository   { return &gormRestaurantRepo{s} }
func (s *GormStore) Strikes() domain.StrikeRepository           { return &gormStrikeRepo{s} }

// InTx 嵌套调用时复用外层事务
func (s *GormStore) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// locking 只在事务内加 FOR UPDATE
func (s *GormStore) locking(ctx context.Context) *gorm.DB {
	q := s.conn(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func paged(q *gorm.DB, p domain.Page) *gorm.DB {
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	return q
}

// ---- deals ----

type gormDealRepo struct{ s *GormStore }

func (r *gormDealRepo) Create(ctx context.Context, d *domain.Deal) error {
	if err := r.s.conn(ctx).Create(toDealModel(d)).Error; err != nil {
		return errors.Wrap(err, "create deal")
	}
	return nil
}

func (r *gormDealRepo) find(q *gorm.DB, id string) (*domain.Deal, error) {
	var m DealModel
	if err := q.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDealNotFound.Withf("deal %s not found", id)
		}
		return nil, errors.Wrapf(err, "find deal %s", id)
	}
	return toDomainDeal(&m), nil
}

func (r *gormDealRepo) FindByID(ctx context.Context, id string) (*domain.Deal, error) {
	return r.find(r.s.conn(ctx), id)
}

func (r *gormDealRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Deal, error) {
	return r.find(r.s.locking(ctx), id)
}

func (r *gormDealRepo) AdjustUseCount(ctx context.Context, id string, delta int) (*domain.Deal, error) {
	res := r.s.conn(ctx).Model(&DealModel{}).Where("id = ?", id).
		Update("use_count", gorm.Expr("GREATEST(use_count + ?, 0)", delta))
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "adjust use count of deal %s", id)
	}
	// 值未变化时 RowsAffected 也可能为 0，以重新读取的结果为准
	return r.find(r.s.conn(ctx), id)
}

func (r *gormDealRepo) SetUseCount(ctx context.Context, id string, n int) error {
	if n < 0 {
		n = 0
	}
	res := r.s.conn(ctx).Model(&DealModel{}).Where("id = ?", id).Update("use_count", n)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "set use count of deal %s", id)
	}
	return nil
}

func (r *gormDealRepo) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	res := r.s.conn(ctx).Model(&DealModel{}).
		Where("id = ? AND active <> ?", id, active).
		Updates(map[string]any{"active": active})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "set active of deal %s", id)
	}
	return res.RowsAffected > 0, nil
}

func (r *gormDealRepo) CountCreatedBetween(ctx context.Context, restaurantID string, from, to time.Time) (int, error) {
	var n int64
	err := r.s.conn(ctx).Model(&DealModel{}).
		Where("restaurant_id = ? AND created_at BETWEEN ? AND ?", restaurantID, from, to).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count deals")
	}
	return int(n), nil
}

func (r *gormDealRepo) ListActiveExpiredBefore(ctx context.Context, deadline time.Time) ([]domain.Deal, error) {
	var ms []DealModel
	err := r.s.conn(ctx).Where("active = ? AND expires_at < ?", true, deadline).
		Order("expires_at").Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "list expired deals")
	}
	return mapDeals(ms), nil
}

func (r *gormDealRepo) List(ctx context.Context, f domain.DealFilter) ([]domain.Deal, error) {
	if f.RestaurantIDs != nil && len(f.RestaurantIDs) == 0 {
		return []domain.Deal{}, nil
	}
	q := r.s.conn(ctx).Model(&DealModel{})
	if f.RestaurantIDs != nil {
		q = q.Where("restaurant_id IN ?", f.RestaurantIDs)
	}
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var ms []DealModel
	if err := paged(q.Order("created_at DESC"), f.Page).Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list deals")
	}
	return mapDeals(ms), nil
}

func mapDeals(ms []DealModel) []domain.Deal {
	out := make([]domain.Deal, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainDeal(&ms[i]))
	}
	return out
}

// ---- reservations ----

type gormReservationRepo struct{ s *GormStore }

func (r *gormReservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	if err := r.s.conn(ctx).Create(toReservationModel(res)).Error; err != nil {
		return errors.Wrap(err, "create reservation")
	}
	return nil
}

func (r *gormReservationRepo) find(q *gorm.DB, id string) (*domain.Reservation, error) {
	var m ReservationModel
	if err := q.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound.Withf("reservation %s not found", id)
		}
		return nil, errors.Wrapf(err, "find reservation %s", id)
	}
	return toDomainReservation(&m), nil
}

func (r *gormReservationRepo) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.find(r.s.conn(ctx), id)
}

func (r *gormReservationRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.find(r.s.locking(ctx), id)
}

func (r *gormReservationRepo) Update(ctx context.Context, res *domain.Reservation) error {
	m := toReservationModel(res)
	tx := r.s.conn(ctx).Model(&ReservationModel{}).Where("id = ?", res.ID).Updates(map[string]any{
		"status":                     m.Status,
		"active":                     m.Active,
		"check_in":                   m.CheckIn,
		"cancelled_at":               m.CancelledAt,
		"reminder_notification_sent": m.ReminderSent,
		"updated_at":                 m.UpdatedAt,
	})
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "update reservation %s", res.ID)
	}
	if tx.RowsAffected == 0 {
		if _, err := r.find(r.s.conn(ctx), res.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *gormReservationRepo) latest(q *gorm.DB) (*domain.Reservation, error) {
	var m ReservationModel
	if err := q.Order("created_at DESC").Order("id DESC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNoReservation
		}
		return nil, errors.Wrap(err, "find latest reservation")
	}
	return toDomainReservation(&m), nil
}

func (r *gormReservationRepo) LatestForCustomerDeal(ctx context.Context, customerID, dealID string) (*domain.Reservation, error) {
	return r.latest(r.s.conn(ctx).Where("customer_id = ? AND deal_id = ?", customerID, dealID))
}

func (r *gormReservationRepo) LatestForCustomerRestaurant(ctx context.Context, customerID, restaurantID string) (*domain.Reservation, error) {
	return r.latest(r.s.conn(ctx).Where("customer_id = ? AND restaurant_id = ?", customerID, restaurantID))
}

func (r *gormReservationRepo) list(q *gorm.DB) ([]domain.Reservation, error) {
	var ms []ReservationModel
	if err := q.Order("reservation_date").Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list reservations")
	}
	out := make([]domain.Reservation, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainReservation(&ms[i]))
	}
	return out, nil
}

func (r *gormReservationRepo) ListLiveBefore(ctx context.Context, deadline time.Time) ([]domain.Reservation, error) {
	return r.list(r.s.conn(ctx).Where("active = ? AND status IN ? AND reservation_date < ?",
		true, liveStatuses(), deadline))
}

func (r *gormReservationRepo) ListLiveByDeal(ctx context.Context, dealID string) ([]domain.Reservation, error) {
	return r.list(r.s.conn(ctx).Where("deal_id = ? AND active = ? AND status IN ?",
		dealID, true, liveStatuses()))
}

func (r *gormReservationRepo) ListDueReminders(ctx context.Context, from, to time.Time) ([]domain.Reservation, error) {
	return r.list(r.s.conn(ctx).Where(
		"active = ? AND status IN ? AND reminder_notification_sent = ? AND reservation_date BETWEEN ? AND ?",
		true, liveStatuses(), false, from, to))
}

func (r *gormReservationRepo) CountHoldingSlot(ctx context.Context, dealID string) (int, error) {
	var n int64
	err := r.s.conn(ctx).Model(&ReservationModel{}).
		Where("deal_id = ? AND status NOT IN ?", dealID, statusStrings(domain.ReleasingStatuses())).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "count slot holding reservations")
	}
	return int(n), nil
}

func liveStatuses() []string {
	var out []string
	for _, s := range domain.AllStatuses {
		if !s.IsTerminal() {
			out = append(out, string(s))
		}
	}
	return out
}

func statusStrings(ss []domain.ReservationStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// ---- redemptions ----

type gormRedemptionRepo struct{ s *GormStore }

func (r *gormRedemptionRepo) Create(ctx context.Context, red *domain.Redemption) error {
	if err := r.s.conn(ctx).Create(toRedemptionModel(red)).Error; err != nil {
		if isDuplicateKey(err) && red.ReservationID != "" {
			return domain.ErrAlreadyRedeemed.Withf("reservation %s already has a redemption", red.ReservationID)
		}
		return errors.Wrap(err, "create redemption")
	}
	return nil
}

func (r *gormRedemptionRepo) FindByID(ctx context.Context, id string) (*domain.Redemption, error) {
	var m RedemptionModel
	if err := r.s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRedemptionNotFound.Withf("redemption %s not found", id)
		}
		return nil, errors.Wrapf(err, "find redemption %s", id)
	}
	return toDomainRedemption(&m), nil
}

func (r *gormRedemptionRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.Redemption, error) {
	if len(ids) == 0 {
		return []domain.Redemption{}, nil
	}
	var ms []RedemptionModel
	if err := r.s.conn(ctx).Where("id IN ?", ids).Order("created_at").Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "find redemptions")
	}
	return mapRedemptions(ms), nil
}

func (r *gormRedemptionRepo) count(q *gorm.DB) (int, error) {
	var n int64
	if err := q.Model(&RedemptionModel{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "count redemptions")
	}
	return int(n), nil
}

func (r *gormRedemptionRepo) CountByDeal(ctx context.Context, dealID string) (int, error) {
	return r.count(r.s.conn(ctx).Where("deal_id = ?", dealID))
}

func (r *gormRedemptionRepo) CountUnreservedByDeal(ctx context.Context, dealID string) (int, error) {
	return r.count(r.s.conn(ctx).Where("deal_id = ? AND (reservation_id IS NULL OR reservation_id = '')", dealID))
}

func (r *gormRedemptionRepo) CountByReservation(ctx context.Context, reservationID string) (int, error) {
	return r.count(r.s.conn(ctx).Where("reservation_id = ?", reservationID))
}

func (r *gormRedemptionRepo) ListByRestaurantBetween(ctx context.Context, restaurantID string, from, to time.Time) ([]domain.Redemption, error) {
	var ms []RedemptionModel
	err := r.s.conn(ctx).
		Where("restaurant_id = ? AND created_at BETWEEN ? AND ?", restaurantID, dbTime(from), dbTime(to)).
		Order("created_at").Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "list redemptions")
	}
	return mapRedemptions(ms), nil
}

func mapRedemptions(ms []RedemptionModel) []domain.Redemption {
	out := make([]domain.Redemption, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainRedemption(&ms[i]))
	}
	return out
}

// ---- billings ----

type gormBillingRepo struct{ s *GormStore }

func (r *gormBillingRepo) Create(ctx context.Context, b *domain.Billing) error {
	if err := r.s.conn(ctx).Create(toBillingModel(b)).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrBillingExists.Withf("billing for restaurant %s already exists for %s",
				b.RestaurantID, b.PeriodStart.Format("2006-01"))
		}
		return errors.Wrap(err, "create billing")
	}
	return nil
}

func (r *gormBillingRepo) first(q *gorm.DB, notFound error) (*domain.Billing, error) {
	var m BillingModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound
		}
		return nil, errors.Wrap(err, "find billing")
	}
	return toDomainBilling(&m), nil
}

func (r *gormBillingRepo) FindByID(ctx context.Context, id string) (*domain.Billing, error) {
	return r.first(r.s.locking(ctx).Where("id = ?", id),
		domain.ErrBillingNotFound.Withf("billing %s not found", id))
}

func (r *gormBillingRepo) FindByRestaurantPeriod(ctx context.Context, restaurantID string, start, end time.Time) (*domain.Billing, error) {
	return r.first(r.s.conn(ctx).Where("restaurant_id = ? AND period_start = ? AND period_end = ?", restaurantID, dbTime(start), dbTime(end)),
		domain.ErrBillingNotFound)
}

func (r *gormBillingRepo) Update(ctx context.Context, b *domain.Billing) error {
	m := toBillingModel(b)
	tx := r.s.conn(ctx).Model(&BillingModel{}).Where("id = ?", b.ID).Updates(map[string]any{
		"calculated_balance": m.CalculatedBalance,
		"manual_adjustment":  m.ManualAdjustment,
		"total_balance":      m.TotalBalance,
		"paid_quantity":      m.PaidQuantity,
		"debt_quantity":      m.DebtQuantity,
		"is_paid":            m.IsPaid,
		"paid_at":            m.PaidAt,
		"updated_at":         m.UpdatedAt,
	})
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "update billing %s", b.ID)
	}
	return nil
}

func (r *gormBillingRepo) List(ctx context.Context, f domain.BillingFilter) ([]domain.Billing, error) {
	if f.RestaurantIDs != nil && len(f.RestaurantIDs) == 0 {
		return []domain.Billing{}, nil
	}
	q := r.s.conn(ctx).Model(&BillingModel{})
	if f.RestaurantIDs != nil {
		q = q.Where("restaurant_id IN ?", f.RestaurantIDs)
	}
	if f.IsPaid != nil {
		q = q.Where("is_paid = ?", *f.IsPaid)
	}
	if f.PeriodFrom != nil {
		q = q.Where("period_start >= ?", dbTime(*f.PeriodFrom))
	}
	if f.PeriodTo != nil {
		q = q.Where("period_end <= ?", dbTime(*f.PeriodTo))
	}
	var ms []BillingModel
	if err := paged(q.Order("period_start DESC"), f.Page).Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list billings")
	}
	out := make([]domain.Billing, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainBilling(&ms[i]))
	}
	return out, nil
}

// ---- restaurants ----

type gormRestaurantRepo struct{ s *GormStore }

func (r *gormRestaurantRepo) Create(ctx context.Context, rest *domain.Restaurant) error {
	if err := r.s.conn(ctx).Create(toRestaurantModel(rest)).Error; err != nil {
		return errors.Wrap(err, "create restaurant")
	}
	return nil
}

func (r *gormRestaurantRepo) FindByID(ctx context.Context, id string) (*domain.Restaurant, error) {
	var m RestaurantModel
	if err := r.s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRestaurantNotFound.Withf("restaurant %s not found", id)
		}
		return nil, errors.Wrapf(err, "find restaurant %s", id)
	}
	return toDomainRestaurant(&m), nil
}

func (r *gormRestaurantRepo) ListAll(ctx context.Context) ([]domain.Restaurant, error) {
	var ms []RestaurantModel
	if err := r.s.conn(ctx).Order("id").Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list restaurants")
	}
	out := make([]domain.Restaurant, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainRestaurant(&ms[i]))
	}
	return out, nil
}

// ---- strikes ----

type gormStrikeRepo struct{ s *GormStore }

func (r *gormStrikeRepo) Create(ctx context.Context, st *domain.UserStrike) error {
	if err := r.s.conn(ctx).Create(toStrikeModel(st)).Error; err != nil {
		return errors.Wrap(err, "create strike")
	}
	return nil
}

func (r *gormStrikeRepo) ListByCustomer(ctx context.Context, customerID string) ([]domain.UserStrike, error) {
	var ms []UserStrikeModel
	if err := r.s.conn(ctx).Where("customer_id = ?", customerID).Order("created_at").Find(&ms).Error; err != nil {
		return nil, errors.Wrap(err, "list strikes")
	}
	out := make([]domain.UserStrike, 0, len(ms))
	for i := range ms {
		out = append(out, toDomainStrike(&ms[i]))
	}
	return out, nil
}
