package interfaces

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"dealhub/internal/pkg/logger"
	"dealhub/internal/service/deal/domain"
)

// errorBody 是所有失败响应的统一结构
type errorBody struct {
	Code    domain.Code `json:"code"`
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
}

// 西语文案，客户端主要面向墨西哥用户
var spanishMessages = map[domain.Code]string{
	domain.CodeNotLinked:            "La promoción no está vinculada a un restaurante.",
	domain.CodeDeactivated:          "La promoción fue desactivada.",
	domain.CodeCapacityExceeded:     "La promoción ya no tiene lugares disponibles.",
	domain.CodeExpired:              "La promoción ha expirado.",
	domain.CodeDealNotFound:         "No encontramos la promoción.",
	domain.CodeDealInactive:         "La promoción no está activa.",
	domain.CodeNotFound:             "No encontramos el recurso solicitado.",
	domain.CodeNoReservation:        "No tienes una reservación para esta promoción.",
	domain.CodeAlreadyTerminal:      "La reservación ya fue cerrada.",
	domain.CodeAlreadyRedeemed:      "Esta reservación ya fue canjeada.",
	domain.CodeReservationInactive:  "La reservación no está activa.",
	domain.CodeReservationExpired:   "El horario de tu reservación ya pasó.",
	domain.CodeReservationExists:    "Ya tienes una reservación activa para esta promoción.",
	domain.CodeRedemptionInProgress: "Ya estamos procesando el canje de esta promoción.",
	domain.CodeConditionsNotMet:     "Tu reservación no cumple las condiciones de la promoción.",
	domain.CodeRestaurantNotFound:   "No encontramos el restaurante.",
	domain.CodeBillingExists:        "Ya existe un corte para este restaurante y periodo.",
	domain.CodeInvalidInput:         "Los datos enviados no son válidos.",
	domain.CodeDependency:           "Ocurrió un error, intenta de nuevo más tarde.",
}

// statusFor 把错误大类映射为 HTTP 状态码
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func wantsSpanish(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Accept-Language")), "es")
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := domain.CodeOf(err), domain.KindOf(err)
	body := errorBody{Code: code, Kind: kind, Message: err.Error()}

	var de *domain.Error
	if errors.As(err, &de) {
		body.Message = de.Message
	}
	if wantsSpanish(r) {
		if msg, ok := spanishMessages[code]; ok {
			body.Detail = body.Message
			body.Message = msg
		}
	}
	if kind == domain.KindDependency {
		// 不把底层错误暴露给客户端
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed on a backing service")
		body.Detail = ""
		if !wantsSpanish(r) {
			body.Message = "a backing service failed"
		}
	}
	writeJSON(w, statusFor(kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L().Warn().Err(err).Msg("failed to encode response")
	}
}
