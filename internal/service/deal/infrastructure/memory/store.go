// Package memory 提供进程内的 Store 实现，用于单机运行和测试
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dealhub/internal/service/deal/domain"
)

type tables struct {
	seq          int64
	deals        map[string]domain.Deal
	reservations map[string]domain.Reservation
	redemptions  map[string]domain.Redemption
	billings     map[string]domain.Billing
	restaurants  map[string]domain.Restaurant
	strikes      []domain.UserStrike
	order        map[string]int64 // 插入顺序，用于 createdAt 相同时的排序
}

func newTables() *tables {
	return &tables{
		deals:        map[string]domain.Deal{},
		reservations: map[string]domain.Reservation{},
		redemptions:  map[string]domain.Redemption{},
		billings:     map[string]domain.Billing{},
		restaurants:  map[string]domain.Restaurant{},
		order:        map[string]int64{},
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		seq:          t.seq,
		deals:        make(map[string]domain.Deal, len(t.deals)),
		reservations: make(map[string]domain.Reservation, len(t.reservations)),
		redemptions:  make(map[string]domain.Redemption, len(t.redemptions)),
		billings:     make(map[string]domain.Billing, len(t.billings)),
		restaurants:  make(map[string]domain.Restaurant, len(t.restaurants)),
		strikes:      append([]domain.UserStrike(nil), t.strikes...),
		order:        make(map[string]int64, len(t.order)),
	}
	for k, v := range t.deals {
		c.deals[k] = v
	}
	for k, v := range t.reservations {
		c.reservations[k] = v
	}
	for k, v := range t.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range t.billings {
		c.billings[k] = v
	}
	for k, v := range t.restaurants {
		c.restaurants[k] = v
	}
	for k, v := range t.order {
		c.order[k] = v
	}
	return c
}

func (t *tables) stamp(key string) {
	t.seq++
	t.order[key] = t.seq
}

// Store 是 domain.Store 的内存实现。事务通过整体加锁加快照实现，
// fn 出错时丢弃快照即回滚。
type Store struct {
	mu   *sync.Mutex
	t    *tables
	inTx bool
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, t: newTables()}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.t.clone()
	tx := &Store{mu: s.mu, t: snapshot, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.t = snapshot
	return nil
}

func (s *Store) Deals() domain.DealRepository               { return dealRepo{s} }
func (s *Store) Reservations() domain.ReservationRepository { return reservationRepo{s} }
func (s *Store) Redemptions() domain.RedemptionRepository   { return redemptionRepo{s} }
func (s *Store) Billings() domain.BillingRepository         { return billingRepo{s} }
func (s *Store) Restaurants() domain.RestaurantRepository   { return restaurantRepo{s} }
func (s *Store) Strikes() domain.StrikeRepository           { return strikeRepo{s} }

func paginate[T any](items []T, p domain.Page) []T {
	if p.Offset > 0 {
		if p.Offset >= len(items) {
			return nil
		}
		items = items[p.Offset:]
	}
	if p.Limit > 0 && len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// ---- deals ----

type dealRepo struct{ s *Store }

func (r dealRepo) Create(_ context.Context, d *domain.Deal) error {
	defer r.s.lock()()
	if _, ok := r.s.t.deals[d.ID]; ok {
		return domain.Invalid("id", "deal already exists")
	}
	r.s.t.deals[d.ID] = *d
	r.s.t.stamp("deal:" + d.ID)
	return nil
}

func (r dealRepo) FindByID(_ context.Context, id string) (*domain.Deal, error) {
	defer r.s.lock()()
	d, ok := r.s.t.deals[id]
	if !ok {
		return nil, domain.ErrDealNotFound
	}
	return &d, nil
}

func (r dealRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Deal, error) {
	return r.FindByID(ctx, id)
}

func (r dealRepo) AdjustUseCount(_ context.Context, id string, delta int) (*domain.Deal, error) {
	defer r.s.lock()()
	d, ok := r.s.t.deals[id]
	if !ok {
		return nil, domain.ErrDealNotFound
	}
	d.UseCount += delta
	if d.UseCount < 0 {
		d.UseCount = 0
	}
	r.s.t.deals[id] = d
	return &d, nil
}

func (r dealRepo) SetUseCount(_ context.Context, id string, n int) error {
	defer r.s.lock()()
	d, ok := r.s.t.deals[id]
	if !ok {
		return domain.ErrDealNotFound
	}
	if n < 0 {
		n = 0
	}
	d.UseCount = n
	r.s.t.deals[id] = d
	return nil
}

func (r dealRepo) SetActive(_ context.Context, id string, active bool) (bool, error) {
	defer r.s.lock()()
	d, ok := r.s.t.deals[id]
	if !ok {
		return false, domain.ErrDealNotFound
	}
	if d.Active == active {
		return false, nil
	}
	d.Active = active
	r.s.t.deals[id] = d
	return true, nil
}

func (r dealRepo) CountCreatedBetween(_ context.Context, restaurantID string, from, to time.Time) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, d := range r.s.t.deals {
		if d.RestaurantID == restaurantID && inRange(d.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (r dealRepo) ListActiveExpiredBefore(_ context.Context, deadline time.Time) ([]domain.Deal, error) {
	defer r.s.lock()()
	var out []domain.Deal
	for _, d := range r.s.t.deals {
		if d.Active && d.ExpiresAt.Before(deadline) {
			out = append(out, d)
		}
	}
	r.sort(out)
	return out, nil
}

func (r dealRepo) List(_ context.Context, f domain.DealFilter) ([]domain.Deal, error) {
	defer r.s.lock()()
	var out []domain.Deal
	for _, d := range r.s.t.deals {
		if f.RestaurantIDs != nil && !contains(f.RestaurantIDs, d.RestaurantID) {
			continue
		}
		if f.ActiveOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	r.sort(out)
	return paginate(out, f.Page), nil
}

// sort 按创建时间倒序
func (r dealRepo) sort(ds []domain.Deal) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].CreatedAt.After(ds[j].CreatedAt)
		}
		return r.s.t.order["deal:"+ds[i].ID] > r.s.t.order["deal:"+ds[j].ID]
	})
}

// ---- reservations ----

type reservationRepo struct{ s *Store }

func copyReservation(r domain.Reservation) *domain.Reservation {
	if r.CheckIn != nil {
		c := *r.CheckIn
		r.CheckIn = &c
	}
	if r.CancelledAt != nil {
		c := *r.CancelledAt
		r.CancelledAt = &c
	}
	return &r
}

func (r reservationRepo) Create(_ context.Context, res *domain.Reservation) error {
	defer r.s.lock()()
	if _, ok := r.s.t.reservations[res.ID]; ok {
		return domain.Invalid("id", "reservation already exists")
	}
	r.s.t.reservations[res.ID] = *copyReservation(*res)
	r.s.t.stamp("res:" + res.ID)
	return nil
}

func (r reservationRepo) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	defer r.s.lock()()
	res, ok := r.s.t.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return copyReservation(res), nil
}

func (r reservationRepo) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r reservationRepo) Update(_ context.Context, res *domain.Reservation) error {
	defer r.s.lock()()
	if _, ok := r.s.t.reservations[res.ID]; !ok {
		return domain.ErrReservationNotFound
	}
	r.s.t.reservations[res.ID] = *copyReservation(*res)
	return nil
}

func (r reservationRepo) latest(match func(domain.Reservation) bool) (*domain.Reservation, error) {
	var (
		best    *domain.Reservation
		bestSeq int64
	)
	for _, res := range r.s.t.reservations {
		if !match(res) {
			continue
		}
		seq := r.s.t.order["res:"+res.ID]
		if best == nil || res.CreatedAt.After(best.CreatedAt) ||
			(res.CreatedAt.Equal(best.CreatedAt) && seq > bestSeq) {
			best = copyReservation(res)
			bestSeq = seq
		}
	}
	if best == nil {
		return nil, domain.ErrNoReservation
	}
	return best, nil
}

func (r reservationRepo) LatestForCustomerDeal(_ context.Context, customerID, dealID string) (*domain.Reservation, error) {
	defer r.s.lock()()
	return r.latest(func(res domain.Reservation) bool {
		return res.CustomerID == customerID && res.DealID == dealID
	})
}

func (r reservationRepo) LatestForCustomerRestaurant(_ context.Context, customerID, restaurantID string) (*domain.Reservation, error) {
	defer r.s.lock()()
	return r.latest(func(res domain.Reservation) bool {
		return res.CustomerID == customerID && res.RestaurantID == restaurantID
	})
}

func (r reservationRepo) filter(match func(domain.Reservation) bool) []domain.Reservation {
	var out []domain.Reservation
	for _, res := range r.s.t.reservations {
		if match(res) {
			out = append(out, *copyReservation(res))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservationDate.Equal(out[j].ReservationDate) {
			return out[i].ReservationDate.Before(out[j].ReservationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r reservationRepo) ListLiveBefore(_ context.Context, deadline time.Time) ([]domain.Reservation, error) {
	defer r.s.lock()()
	return r.filter(func(res domain.Reservation) bool {
		return res.Active && res.ReservationDate.Before(deadline)
	}), nil
}

func (r reservationRepo) ListLiveByDeal(_ context.Context, dealID string) ([]domain.Reservation, error) {
	defer r.s.lock()()
	return r.filter(func(res domain.Reservation) bool {
		return res.Active && res.DealID == dealID
	}), nil
}

func (r reservationRepo) ListDueReminders(_ context.Context, from, to time.Time) ([]domain.Reservation, error) {
	defer r.s.lock()()
	return r.filter(func(res domain.Reservation) bool {
		return res.Active && !res.ReminderSent && inRange(res.ReservationDate, from, to)
	}), nil
}

func (r reservationRepo) CountHoldingSlot(_ context.Context, dealID string) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, res := range r.s.t.reservations {
		if res.DealID == dealID && res.Status.HoldsSlot() {
			n++
		}
	}
	return n, nil
}

// ---- redemptions ----

type redemptionRepo struct{ s *Store }

func (r redemptionRepo) Create(_ context.Context, red *domain.Redemption) error {
	defer r.s.lock()()
	if _, ok := r.s.t.redemptions[red.ID]; ok {
		return domain.Invalid("id", "redemption already exists")
	}
	if red.ReservationID != "" {
		for _, other := range r.s.t.redemptions {
			if other.ReservationID == red.ReservationID {
				return domain.ErrAlreadyRedeemed
			}
		}
	}
	r.s.t.redemptions[red.ID] = *red
	r.s.t.stamp("red:" + red.ID)
	return nil
}

func (r redemptionRepo) FindByID(_ context.Context, id string) (*domain.Redemption, error) {
	defer r.s.lock()()
	red, ok := r.s.t.redemptions[id]
	if !ok {
		return nil, domain.ErrRedemptionNotFound
	}
	return &red, nil
}

func (r redemptionRepo) FindByIDs(_ context.Context, ids []string) ([]domain.Redemption, error) {
	defer r.s.lock()()
	out := make([]domain.Redemption, 0, len(ids))
	for _, id := range ids {
		if red, ok := r.s.t.redemptions[id]; ok {
			out = append(out, red)
		}
	}
	return out, nil
}

func (r redemptionRepo) CountByDeal(_ context.Context, dealID string) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, red := range r.s.t.redemptions {
		if red.DealID == dealID {
			n++
		}
	}
	return n, nil
}

func (r redemptionRepo) CountUnreservedByDeal(_ context.Context, dealID string) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, red := range r.s.t.redemptions {
		if red.DealID == dealID && red.ReservationID == "" {
			n++
		}
	}
	return n, nil
}

func (r redemptionRepo) CountByReservation(_ context.Context, reservationID string) (int, error) {
	defer r.s.lock()()
	n := 0
	for _, red := range r.s.t.redemptions {
		if reservationID != "" && red.ReservationID == reservationID {
			n++
		}
	}
	return n, nil
}

func (r redemptionRepo) ListByRestaurantBetween(_ context.Context, restaurantID string, from, to time.Time) ([]domain.Redemption, error) {
	defer r.s.lock()()
	var out []domain.Redemption
	for _, red := range r.s.t.redemptions {
		if red.RestaurantID == restaurantID && inRange(red.CreatedAt, from, to) {
			out = append(out, red)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.s.t.order["red:"+out[i].ID] < r.s.t.order["red:"+out[j].ID]
	})
	return out, nil
}

// ---- billings ----

type billingRepo struct{ s *Store }

func copyBilling(b domain.Billing) *domain.Billing {
	b.Redemptions = append([]string(nil), b.Redemptions...)
	if b.PaidAt != nil {
		p := *b.PaidAt
		b.PaidAt = &p
	}
	b.RestaurantName = ""
	return &b
}

func (r billingRepo) Create(_ context.Context, b *domain.Billing) error {
	defer r.s.lock()()
	for _, existing := range r.s.t.billings {
		if existing.RestaurantID == b.RestaurantID &&
			existing.PeriodStart.Equal(b.PeriodStart) && existing.PeriodEnd.Equal(b.PeriodEnd) {
			return domain.ErrBillingExists
		}
	}
	r.s.t.billings[b.ID] = *copyBilling(*b)
	r.s.t.stamp("bill:" + b.ID)
	return nil
}

func (r billingRepo) FindByID(_ context.Context, id string) (*domain.Billing, error) {
	defer r.s.lock()()
	b, ok := r.s.t.billings[id]
	if !ok {
		return nil, domain.ErrBillingNotFound
	}
	return copyBilling(b), nil
}

func (r billingRepo) FindByRestaurantPeriod(_ context.Context, restaurantID string, start, end time.Time) (*domain.Billing, error) {
	defer r.s.lock()()
	for _, b := range r.s.t.billings {
		if b.RestaurantID == restaurantID && b.PeriodStart.Equal(start) && b.PeriodEnd.Equal(end) {
			return copyBilling(b), nil
		}
	}
	return nil, domain.ErrBillingNotFound
}

func (r billingRepo) Update(_ context.Context, b *domain.Billing) error {
	defer r.s.lock()()
	if _, ok := r.s.t.billings[b.ID]; !ok {
		return domain.ErrBillingNotFound
	}
	r.s.t.billings[b.ID] = *copyBilling(*b)
	return nil
}

func (r billingRepo) List(_ context.Context, f domain.BillingFilter) ([]domain.Billing, error) {
	defer r.s.lock()()
	var out []domain.Billing
	for _, b := range r.s.t.billings {
		if f.RestaurantIDs != nil && !contains(f.RestaurantIDs, b.RestaurantID) {
			continue
		}
		if f.IsPaid != nil && b.IsPaid != *f.IsPaid {
			continue
		}
		if f.PeriodFrom != nil && b.PeriodStart.Before(*f.PeriodFrom) {
			continue
		}
		if f.PeriodTo != nil && b.PeriodEnd.After(*f.PeriodTo) {
			continue
		}
		out = append(out, *copyBilling(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return strings.Compare(out[i].RestaurantID, out[j].RestaurantID) < 0
	})
	return paginate(out, f.Page), nil
}

// ---- restaurants ----

type restaurantRepo struct{ s *Store }

func (r restaurantRepo) Create(_ context.Context, rest *domain.Restaurant) error {
	defer r.s.lock()()
	r.s.t.restaurants[rest.ID] = *rest
	r.s.t.stamp("rest:" + rest.ID)
	return nil
}

func (r restaurantRepo) FindByID(_ context.Context, id string) (*domain.Restaurant, error) {
	defer r.s.lock()()
	rest, ok := r.s.t.restaurants[id]
	if !ok {
		return nil, domain.ErrRestaurantNotFound
	}
	return &rest, nil
}

func (r restaurantRepo) ListAll(_ context.Context) ([]domain.Restaurant, error) {
	defer r.s.lock()()
	out := make([]domain.Restaurant, 0, len(r.s.t.restaurants))
	for _, rest := range r.s.t.restaurants {
		out = append(out, rest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- strikes ----

type strikeRepo struct{ s *Store }

func (r strikeRepo) Create(_ context.Context, st *domain.UserStrike) error {
	defer r.s.lock()()
	r.s.t.strikes = append(r.s.t.strikes, *st)
	return nil
}

func (r strikeRepo) ListByCustomer(_ context.Context, customerID string) ([]domain.UserStrike, error) {
	defer r.s.lock()()
	var out []domain.UserStrike
	for _, st := range r.s.t.strikes {
		if st.CustomerID == customerID {
			out = append(out, st)
		}
	}
	return out, nil
}
