// internal/service/deal/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"dealhub/internal/service/deal/application"
	"dealhub/internal/service/deal/domain"
)

// DealHandler 封装了 deal 服务的 HTTP 处理器
type DealHandler struct {
	svc *application.Services
}

func NewDealHandler(svc *application.Services) *DealHandler {
	return &DealHandler{svc: svc}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *DealHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /deals", h.traced(h.handleCreateDeal))
	mux.HandleFunc("GET /deals", h.traced(h.handleListDeals))
	mux.HandleFunc("GET /deals/{id}", h.traced(h.handleGetDeal))
	mux.HandleFunc("POST /deals/{id}/reactivate", h.traced(h.handleReactivateDeal))
	mux.HandleFunc("POST /deals/{id}/redeem", h.traced(h.handleRedeemDeal))

	mux.HandleFunc("POST /reservations", h.traced(h.handleCreateReservation))
	mux.HandleFunc("POST /reservations/{id}/cancel", h.traced(h.handleCancelReservation))
	mux.HandleFunc("POST /reservations/{id}/restaurant-cancel", h.traced(h.handleRestaurantCancel))

	mux.HandleFunc("GET /restaurants/{id}/deal", h.traced(h.handleFindDeal))
	mux.HandleFunc("GET /restaurants/{id}/billings", h.traced(h.handleBillingHistory))
	mux.HandleFunc("POST /redemptions", h.traced(h.handleRecordRedemption))

	mux.HandleFunc("POST /billings", h.traced(h.handleCreateBilling))
	mux.HandleFunc("GET /billings", h.traced(h.handleListBillings))
	mux.HandleFunc("PATCH /billings/{id}", h.traced(h.handleUpdateBilling))
	mux.HandleFunc("POST /billings/runs", h.traced(h.handleRunBillings))

	mux.HandleFunc("POST /maintenance/run", h.traced(h.handleRunMaintenance))
	mux.HandleFunc("GET /customers/{id}/strikes", h.traced(h.handleListStrikes))
}

// traced 先提取上游的追踪上下文，再交给具体处理器
func (h *DealHandler) traced(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next(w, r.WithContext(ctx))
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("body", err.Error())
	}
	return nil
}

func listQuery(r *http.Request) (application.ListQuery, error) {
	q := application.ListQuery{Search: r.URL.Query().Get("search")}
	var err error
	if q.Limit, err = intParam(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(r, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, domain.Invalid(name, "must be true or false")
	}
	return &b, nil
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.Invalid(name, "must be an RFC3339 timestamp")
	}
	return &t, nil
}

// ---- deals ----

func (h *DealHandler) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req application.CreateDealRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := h.svc.Catalog.CreateDeal(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *DealHandler) handleListDeals(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	activeOnly := true
	if v, err := boolParam(r, "activeOnly"); err != nil {
		writeError(w, r, err)
		return
	} else if v != nil {
		activeOnly = *v
	}
	deals, err := h.svc.Catalog.ListDeals(r.Context(), q, activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deals)
}

func (h *DealHandler) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	dto, err := h.svc.Catalog.GetDeal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *DealHandler) handleReactivateDeal(w http.ResponseWriter, r *http.Request) {
	dto, err := h.svc.Catalog.ReactivateDeal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

type redeemRequest struct {
	CustomerID string `json:"customerId"`
}

func (h *DealHandler) handleRedeemDeal(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Reservations.RedeemDeal(r.Context(), req.CustomerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- reservations ----

func (h *DealHandler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req application.CreateReservationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := h.svc.Reservations.CreateReservation(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *DealHandler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	dto, err := h.svc.Reservations.CancelReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *DealHandler) handleRestaurantCancel(w http.ResponseWriter, r *http.Request) {
	dto, err := h.svc.Reservations.CancelReservationByRestaurant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *DealHandler) handleFindDeal(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		writeError(w, r, domain.Invalid("customerId", "required"))
		return
	}
	preview, err := h.svc.Reservations.FindDeal(r.Context(), customerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *DealHandler) handleRecordRedemption(w http.ResponseWriter, r *http.Request) {
	var req application.RecordRedemptionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := h.svc.Recorder.RecordRedemption(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ---- billings ----

func (h *DealHandler) handleCreateBilling(w http.ResponseWriter, r *http.Request) {
	var req application.CreateBillingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := h.svc.Billing.CreateBilling(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (h *DealHandler) handleUpdateBilling(w http.ResponseWriter, r *http.Request) {
	var req application.UpdateBillingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := h.svc.Billing.UpdateBilling(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *DealHandler) handleListBillings(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	isPaid, err := boolParam(r, "isPaid")
	if err != nil {
		writeError(w, r, err)
		return
	}
	bills, err := h.svc.Billing.ListBillings(r.Context(), q, isPaid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

func (h *DealHandler) handleBillingHistory(w http.ResponseWriter, r *http.Request) {
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	bills, err := h.svc.Billing.GetRestaurantBillingHistory(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

type billingRunResponse struct {
	Results []application.BatchResult `json:"results"`
	Error   string                    `json:"error,omitempty"`
}

// handleRunBillings 手动触发月度对账，months 缺省为 1（上个月）
func (h *DealHandler) handleRunBillings(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r, "months")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if months == 0 {
		months = 1
	}
	results, err := h.svc.Billing.CreatePastBillings(r.Context(), months)
	var batchErr *application.BatchError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, billingRunResponse{Results: results})
	case errors.As(err, &batchErr):
		// 部分餐厅失败，其余结果照常返回
		writeJSON(w, http.StatusOK, billingRunResponse{Results: results, Error: batchErr.Error()})
	default:
		writeError(w, r, err)
	}
}

// ---- maintenance & strikes ----

func (h *DealHandler) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Maintenance.RunAll(r.Context()))
}

func (h *DealHandler) handleListStrikes(w http.ResponseWriter, r *http.Request) {
	strikes, err := h.svc.Catalog.ListStrikes(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, strikes)
}
