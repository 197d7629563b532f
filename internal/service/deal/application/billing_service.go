package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/pkg/metrics"
	"dealhub/internal/service/deal/domain"
	"dealhub/internal/service/deal/domain/port"
)

// MonthlyBillingJob 是月度账单任务在分布式锁中的名字
const MonthlyBillingJob = "monthly-billing"

// BillingService 负责对账单的生成、人工调整与查询
type BillingService struct {
	deps Deps
}

func NewBillingService(d Deps) *BillingService {
	return &BillingService{deps: d}
}

// CreateBilling 汇总餐厅在 [start, end] 内的兑现并生成对账单
func (s *BillingService) CreateBilling(ctx context.Context, req *CreateBillingRequest) (*BillingDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.CreateBilling")
	defer span.End()
	span.SetAttributes(
		attribute.String("restaurant.id", req.RestaurantID),
		attribute.String("period.start", req.PeriodStart.Format(time.RFC3339)),
		attribute.String("period.end", req.PeriodEnd.Format(time.RFC3339)),
	)

	b, err := s.createBilling(ctx, req)
	metrics.BillingRunsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, fail(span, err)
	}

	logger.Ctx(ctx).Info().
		Str("billing_id", b.ID).
		Str("restaurant_id", b.RestaurantID).
		Str("total_balance", b.TotalBalance.String()).
		Int("redemptions", len(b.Redemptions)).
		Msg("billing created")
	notify(ctx, s.deps.Notifier, port.Notification{
		Kind:        port.NotifyBillingCreated,
		Audience:    port.AudienceRestaurant,
		RecipientID: b.RestaurantID,
		Data:        map[string]string{"billingId": b.ID, "totalBalance": b.TotalBalance.StringFixed(2)},
		OccurredAt:  b.CreatedAt,
	})
	dto := toBillingDTO(b, s.deps.Settings.Location)
	return &dto, nil
}

func (s *BillingService) createBilling(ctx context.Context, req *CreateBillingRequest) (*domain.Billing, error) {
	if req.RestaurantID == "" {
		return nil, domain.Invalid("restaurantId", "required")
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		return nil, domain.Invalid("period", "start and end are required")
	}
	if req.PeriodEnd.Before(req.PeriodStart) {
		return nil, domain.Invalid("period", "end must not be before start")
	}
	store := s.deps.Store

	rest, err := store.Restaurants().FindByID(ctx, req.RestaurantID)
	if err != nil {
		return nil, domain.Dependency("load restaurant", err)
	}

	// 存储层的唯一索引兜住并发创建
	_, err = store.Billings().FindByRestaurantPeriod(ctx, rest.ID, req.PeriodStart, req.PeriodEnd)
	switch {
	case err == nil:
		return nil, domain.ErrBillingExists
	case !errors.Is(err, domain.ErrBillingNotFound):
		return nil, domain.Dependency("check existing billing", err)
	}

	reds, err := store.Redemptions().ListByRestaurantBetween(ctx, rest.ID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, domain.Dependency("list redemptions", err)
	}
	totalDeals, err := store.Deals().CountCreatedBetween(ctx, rest.ID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, domain.Dependency("count deals", err)
	}

	b, err := domain.NewBilling(domain.NewBillingParams{
		ID:               newID(),
		RestaurantID:     rest.ID,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		ManualAdjustment: req.ManualAdjustment,
	}, s.deps.Clock.Now())
	if err != nil {
		return nil, err
	}
	b.Redemptions = make([]string, 0, len(reds))
	for _, r := range reds {
		b.Redemptions = append(b.Redemptions, r.ID)
	}
	b.TotalDeals = totalDeals
	b.Recalculate(domain.CalculateBalance(reds, s.deps.Settings.Defaults.TakeRate))

	if err := store.Billings().Create(ctx, b); err != nil {
		return nil, domain.Dependency("insert billing", err)
	}
	b.RestaurantName = rest.DisplayName()
	return b, nil
}

// UpdateBilling 重新读取账单引用的兑现并全量重算，再应用人工修改
func (s *BillingService) UpdateBilling(ctx context.Context, billingID string, req *UpdateBillingRequest) (*BillingDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.UpdateBilling")
	defer span.End()
	span.SetAttributes(attribute.String("billing.id", billingID))

	update := domain.BillingUpdate{
		ManualAdjustment: req.ManualAdjustment,
		PaidQuantity:     req.PaidQuantity,
		IsPaid:           req.IsPaid,
	}
	if err := update.Validate(); err != nil {
		return nil, fail(span, err)
	}

	var b *domain.Billing
	err := s.deps.Store.InTx(ctx, func(tx domain.Store) error {
		var err error
		b, err = tx.Billings().FindByID(ctx, billingID)
		if err != nil {
			return domain.Dependency("load billing", err)
		}
		reds, err := tx.Redemptions().FindByIDs(ctx, b.Redemptions)
		if err != nil {
			return domain.Dependency("load redemptions", err)
		}
		if err := b.Apply(update, s.deps.Clock.Now()); err != nil {
			return err
		}
		b.Recalculate(domain.CalculateBalance(reds, s.deps.Settings.Defaults.TakeRate))
		if err := tx.Billings().Update(ctx, b); err != nil {
			return domain.Dependency("update billing", err)
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	b.RestaurantName = s.restaurantName(ctx, b.RestaurantID)
	logger.Ctx(ctx).Info().
		Str("billing_id", b.ID).
		Str("debt", b.DebtQuantity.String()).
		Bool("is_paid", b.IsPaid).
		Msg("billing updated")
	dto := toBillingDTO(b, s.deps.Settings.Location)
	return &dto, nil
}

// GetRestaurantBillingHistory 返回餐厅的账单，按 periodStart 倒序
func (s *BillingService) GetRestaurantBillingHistory(ctx context.Context, restaurantID string, from, to *time.Time) ([]BillingDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.GetRestaurantBillingHistory")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", restaurantID))

	if restaurantID == "" {
		return nil, fail(span, domain.Invalid("restaurantId", "required"))
	}
	bills, err := s.deps.Store.Billings().List(ctx, domain.BillingFilter{
		RestaurantIDs: []string{restaurantID},
		PeriodFrom:    from,
		PeriodTo:      to,
	})
	if err != nil {
		return nil, fail(span, domain.Dependency("list billings", err))
	}

	name := s.restaurantName(ctx, restaurantID)
	out := make([]BillingDTO, 0, len(bills))
	for i := range bills {
		bills[i].RestaurantName = name
		out = append(out, toBillingDTO(&bills[i], s.deps.Settings.Location))
	}
	return out, nil
}

// ListBillings 是运营后台的账单列表，query 通过检索服务解析成餐厅 ID
func (s *BillingService) ListBillings(ctx context.Context, q ListQuery, isPaid *bool) ([]BillingDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.ListBillings")
	defer span.End()

	ids, err := resolveRestaurants(ctx, s.deps.Search, q.Search)
	if err != nil {
		return nil, fail(span, err)
	}
	bills, err := s.deps.Store.Billings().List(ctx, domain.BillingFilter{
		RestaurantIDs: ids,
		IsPaid:        isPaid,
		Page:          q.page(),
	})
	if err != nil {
		return nil, fail(span, domain.Dependency("list billings", err))
	}

	names := s.restaurantNames(ctx, bills)
	out := make([]BillingDTO, 0, len(bills))
	for i := range bills {
		bills[i].RestaurantName = names[bills[i].RestaurantID]
		out = append(out, toBillingDTO(&bills[i], s.deps.Settings.Location))
	}
	return out, nil
}

// restaurantName 查询失败时回退到占位名，不影响账单本身的返回
func (s *BillingService) restaurantName(ctx context.Context, restaurantID string) string {
	rest, err := s.deps.Store.Restaurants().FindByID(ctx, restaurantID)
	if err != nil {
		if !isNotFound(err) {
			logger.Ctx(ctx).Warn().Err(err).Str("restaurant_id", restaurantID).Msg("restaurant lookup failed")
		}
		return domain.UnknownRestaurantName
	}
	return rest.DisplayName()
}

func (s *BillingService) restaurantNames(ctx context.Context, bills []domain.Billing) map[string]string {
	names := make(map[string]string)
	for _, b := range bills {
		names[b.RestaurantID] = ""
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.Settings.BillingConcurrency)
	for id := range names {
		g.Go(func() error {
			name := s.restaurantName(gctx, id)
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return names
}

// BatchResult 汇总一次批量出账的结果
type BatchResult struct {
	PeriodStart time.Time         `json:"periodStart"`
	PeriodEnd   time.Time         `json:"periodEnd"`
	Created     []string          `json:"created"`
	Skipped     []string          `json:"skipped"`
	Failed      map[string]string `json:"failed"`
}

// BatchError 表示批量任务中有部分餐厅失败，其余餐厅已正常处理
type BatchError struct {
	Errors map[string]error
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		for id, err := range e.Errors {
			return fmt.Sprintf("billing failed for restaurant %s: %v", id, err)
		}
	}
	return fmt.Sprintf("billing failed for %d restaurants", len(e.Errors))
}

func (e *BatchError) add(id string, err error) {
	if e.Errors == nil {
		e.Errors = make(map[string]error)
	}
	e.Errors[id] = err
}

// CreateLastMonthBillings 为所有餐厅生成上个自然月的账单。
// 单个餐厅失败不会中断循环，但最终会返回 *BatchError。
func (s *BillingService) CreateLastMonthBillings(ctx context.Context) (*BatchResult, error) {
	results, err := s.CreatePastBillings(ctx, 1)
	if len(results) == 0 {
		return nil, err
	}
	return &results[0], err
}

// CreatePastBillings 依次为过去 months 个自然月出账，已存在的周期会被跳过
func (s *BillingService) CreatePastBillings(ctx context.Context, months int) ([]BatchResult, error) {
	if months <= 0 {
		return nil, domain.Invalid("months", "must be positive")
	}

	var (
		results []BatchResult
		runErr  error
	)
	run := func(ctx context.Context) error {
		ctx, span := s.deps.Tracer.Start(ctx, "job.CreatePastBillings")
		defer span.End()
		span.SetAttributes(attribute.Int("months", months))

		rests, err := s.deps.Store.Restaurants().ListAll(ctx)
		if err != nil {
			return fail(span, domain.Dependency("list restaurants", err))
		}

		now := s.deps.Clock.Now()
		failures := &BatchError{}
		for back := 1; back <= months; back++ {
			start, end := domain.MonthPeriod(now, s.deps.Settings.Location, back)
			res := s.runPeriod(ctx, rests, start, end, failures)
			results = append(results, res)
		}
		if len(failures.Errors) > 0 {
			runErr = failures
			span.RecordError(failures)
		}
		return nil
	}

	var err error
	if s.deps.Locker != nil {
		err = s.deps.Locker.WithLock(ctx, MonthlyBillingJob, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return results, err
	}
	return results, runErr
}

func (s *BillingService) runPeriod(ctx context.Context, rests []domain.Restaurant, start, end time.Time, failures *BatchError) BatchResult {
	res := BatchResult{
		PeriodStart: start,
		PeriodEnd:   end,
		Created:     []string{},
		Skipped:     []string{},
		Failed:      map[string]string{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.Settings.BillingConcurrency)
	for _, rest := range rests {
		g.Go(func() error {
			b, err := s.CreateBilling(gctx, &CreateBillingRequest{
				RestaurantID: rest.ID,
				PeriodStart:  start,
				PeriodEnd:    end,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Created = append(res.Created, b.ID)
			case errors.Is(err, domain.ErrBillingExists):
				res.Skipped = append(res.Skipped, rest.ID)
			default:
				res.Failed[rest.ID] = err.Error()
				failures.add(rest.ID, err)
				logger.Ctx(gctx).Error().Err(err).
					Str("restaurant_id", rest.ID).
					Time("period_start", start).
					Msg("billing failed, continuing with next restaurant")
			}
			// 单个失败不能取消其他餐厅
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Created)
	sort.Strings(res.Skipped)
	logger.Ctx(ctx).Info().
		Time("period_start", start).
		Int("created", len(res.Created)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Msg("billing period processed")
	return res
}

// resolveRestaurants 把文本查询解析成餐厅 ID，空查询返回 nil 表示不过滤
func resolveRestaurants(ctx context.Context, search port.SearchIndex, query string) ([]string, error) {
	if query == "" || search == nil {
		return nil, nil
	}
	ids, err := search.SearchRestaurants(ctx, query)
	if err != nil {
		return nil, domain.Dependency("search restaurants", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
