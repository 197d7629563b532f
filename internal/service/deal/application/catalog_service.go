package application

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal/domain"
)

// CatalogService 提供运营侧对 Deal 与顾客记录的管理操作
type CatalogService struct {
	deps Deps
}

func NewCatalogService(d Deps) *CatalogService {
	return &CatalogService{deps: d}
}

// CreateDeal 发布一个新的 Deal，条件表达式在写入前先编译校验
func (s *CatalogService) CreateDeal(ctx context.Context, req *CreateDealRequest) (*DealDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.CreateDeal")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", req.RestaurantID))

	if req.RestaurantID == "" {
		return nil, fail(span, domain.Invalid("restaurantId", "required"))
	}
	if _, err := s.deps.Store.Restaurants().FindByID(ctx, req.RestaurantID); err != nil {
		return nil, fail(span, domain.Dependency("load restaurant", err))
	}
	cond := strings.TrimSpace(req.Conditions)
	if cond != "" && s.deps.Conditions != nil {
		if err := s.deps.Conditions.Validate(cond); err != nil {
			return nil, fail(span, domain.Invalid("conditions", err.Error()))
		}
	}

	d, err := domain.NewDeal(domain.NewDealParams{
		ID:           newID(),
		RestaurantID: req.RestaurantID,
		Type:         req.Type,
		Discount:     req.Discount,
		Details:      req.Details,
		Conditions:   cond,
		StartsAt:     req.StartsAt,
		ExpiresAt:    req.ExpiresAt,
		UseMax:       req.UseMax,
	}, s.deps.Clock.Now())
	if err != nil {
		return nil, fail(span, err)
	}
	if err := s.deps.Store.Deals().Create(ctx, d); err != nil {
		return nil, fail(span, domain.Dependency("insert deal", err))
	}

	logger.Ctx(ctx).Info().Str("deal_id", d.ID).Int("use_max", d.UseMax).Msg("deal created")
	dto := toDealDTO(d, s.deps.Settings.Location)
	return &dto, nil
}

// GetDeal 返回单个 Deal
func (s *CatalogService) GetDeal(ctx context.Context, dealID string) (*DealDTO, error) {
	d, err := s.deps.Store.Deals().FindByID(ctx, dealID)
	if err != nil {
		return nil, domain.Dependency("load deal", err)
	}
	dto := toDealDTO(d, s.deps.Settings.Location)
	return &dto, nil
}

// ReactivateDeal 是运营显式重新上架的操作
func (s *CatalogService) ReactivateDeal(ctx context.Context, dealID string) (*DealDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.ReactivateDeal")
	defer span.End()
	span.SetAttributes(attribute.String("deal.id", dealID))

	now := s.deps.Clock.Now()
	var out *domain.Deal
	err := s.deps.Store.InTx(ctx, func(tx domain.Store) error {
		d, err := tx.Deals().FindByIDForUpdate(ctx, dealID)
		if err != nil {
			return domain.Dependency("load deal", err)
		}
		if d.RestaurantID == "" {
			return domain.ErrNotLinked
		}
		if err := d.Reactivate(now, s.deps.Settings.Tolerance); err != nil {
			return err
		}
		if _, err := tx.Deals().SetActive(ctx, d.ID, true); err != nil {
			return domain.Dependency("reactivate deal", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	logger.Ctx(ctx).Info().Str("deal_id", out.ID).Msg("deal reactivated")
	dto := toDealDTO(out, s.deps.Settings.Location)
	return &dto, nil
}

// ListDeals 返回 Deal 列表，query 通过检索服务解析成餐厅 ID。
// activeOnly 用于顾客侧，只返回已发布餐厅的激活 Deal。
func (s *CatalogService) ListDeals(ctx context.Context, q ListQuery, activeOnly bool) ([]DealDTO, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "service.ListDeals")
	defer span.End()

	ids, err := resolveRestaurants(ctx, s.deps.Search, q.Search)
	if err != nil {
		return nil, fail(span, err)
	}
	deals, err := s.deps.Store.Deals().List(ctx, domain.DealFilter{
		RestaurantIDs: ids,
		ActiveOnly:    activeOnly,
		Page:          q.page(),
	})
	if err != nil {
		return nil, fail(span, domain.Dependency("list deals", err))
	}
	published := map[string]bool{}
	out := make([]DealDTO, 0, len(deals))
	for i := range deals {
		if activeOnly && !s.published(ctx, deals[i].RestaurantID, published) {
			continue
		}
		out = append(out, toDealDTO(&deals[i], s.deps.Settings.Location))
	}
	return out, nil
}

func (s *CatalogService) published(ctx context.Context, restaurantID string, cache map[string]bool) bool {
	if v, ok := cache[restaurantID]; ok {
		return v
	}
	rest, err := s.deps.Store.Restaurants().FindByID(ctx, restaurantID)
	cache[restaurantID] = err == nil && rest.Published()
	return cache[restaurantID]
}

// ListStrikes 返回顾客的爽约记录
func (s *CatalogService) ListStrikes(ctx context.Context, customerID string) ([]StrikeDTO, error) {
	if customerID == "" {
		return nil, domain.Invalid("customerId", "required")
	}
	strikes, err := s.deps.Store.Strikes().ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, domain.Dependency("list strikes", err)
	}
	out := make([]StrikeDTO, 0, len(strikes))
	for _, st := range strikes {
		out = append(out, StrikeDTO{
			ID:            st.ID,
			CustomerID:    st.CustomerID,
			ReservationID: st.ReservationID,
			DealID:        st.DealID,
			RestaurantID:  st.RestaurantID,
			Reason:        st.Reason,
			CreatedAt:     st.CreatedAt.In(s.deps.Settings.Location),
		})
	}
	return out, nil
}
