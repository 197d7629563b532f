// internal/service/deal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// Kind 是对外暴露的错误大类，调用方（例如 HTTP 层）据此映射状态码
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindValidation    Kind = "VALIDATION"
	KindStateConflict Kind = "STATE_CONFLICT"
	KindDependency    Kind = "DEPENDENCY"
)

// Code 是稳定的业务错误码，客户端可以据此做多语言展示
type Code string

const (
	CodeNotLinked            Code = "NOT_LINKED"
	CodeDeactivated          Code = "DEACTIVATED"
	CodeCapacityExceeded     Code = "CAPACITY_EXCEEDED"
	CodeExpired              Code = "EXPIRED"
	CodeDealNotFound         Code = "DEAL_NOT_FOUND"
	CodeDealInactive         Code = "DEAL_INACTIVE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeNoReservation        Code = "NO_RESERVATION"
	CodeAlreadyTerminal      Code = "ALREADY_TERMINAL"
	CodeAlreadyRedeemed      Code = "ALREADY_REDEEMED"
	CodeReservationInactive  Code = "RESERVATION_INACTIVE"
	CodeReservationExpired   Code = "RESERVATION_EXPIRED"
	CodeReservationExists    Code = "RESERVATION_EXISTS"
	CodeRedemptionInProgress Code = "REDEMPTION_IN_PROGRESS"
	CodeConditionsNotMet     Code = "CONDITIONS_NOT_MET"
	CodeRestaurantNotFound   Code = "RESTAURANT_NOT_FOUND"
	CodeBillingExists        Code = "BILLING_EXISTS"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeDependency           Code = "DEPENDENCY"
)

// Error 是领域层唯一的失败类型。两个 Error 只要 Code 相同，errors.Is 即认为相等。
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf 返回一个带有更具体描述的副本，哨兵错误本身不会被修改
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap 返回一个记录了底层原因的副本
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrNotLinked            = newError(KindStateConflict, CodeNotLinked, "deal is not linked to a restaurant")
	ErrDeactivated          = newError(KindStateConflict, CodeDeactivated, "deal was deactivated by an operator")
	ErrCapacityExceeded     = newError(KindStateConflict, CodeCapacityExceeded, "deal has no remaining capacity")
	ErrExpired              = newError(KindStateConflict, CodeExpired, "deal has expired")
	ErrDealInactive         = newError(KindStateConflict, CodeDealInactive, "deal is not active")
	ErrAlreadyTerminal      = newError(KindStateConflict, CodeAlreadyTerminal, "reservation is already closed")
	ErrAlreadyRedeemed      = newError(KindStateConflict, CodeAlreadyRedeemed, "reservation already has a redemption")
	ErrReservationInactive  = newError(KindStateConflict, CodeReservationInactive, "reservation is not active")
	ErrReservationExpired   = newError(KindStateConflict, CodeReservationExpired, "reservation window has passed")
	ErrReservationExists    = newError(KindStateConflict, CodeReservationExists, "customer already holds a live reservation for this deal")
	ErrRedemptionInProgress = newError(KindStateConflict, CodeRedemptionInProgress, "a redemption for this deal is already being processed")
	ErrConditionsNotMet     = newError(KindStateConflict, CodeConditionsNotMet, "reservation does not satisfy the deal conditions")
	ErrBillingExists        = newError(KindStateConflict, CodeBillingExists, "a billing statement already exists for this restaurant and period")

	ErrDealNotFound        = newError(KindNotFound, CodeDealNotFound, "deal not found")
	ErrReservationNotFound = newError(KindNotFound, CodeNotFound, "reservation not found")
	ErrBillingNotFound     = newError(KindNotFound, CodeNotFound, "billing not found")
	ErrRedemptionNotFound  = newError(KindNotFound, CodeNotFound, "redemption not found")
	ErrNoReservation       = newError(KindNotFound, CodeNoReservation, "customer has no reservation for this deal")
	ErrRestaurantNotFound  = newError(KindNotFound, CodeRestaurantNotFound, "restaurant not found")

	ErrInvalidInput = newError(KindValidation, CodeInvalidInput, "invalid input")
	ErrDependency   = newError(KindDependency, CodeDependency, "a backing service failed")
)

// Invalid 构造一个字段级的校验错误
func Invalid(field, reason string) *Error {
	return ErrInvalidInput.Withf("%s: %s", field, reason)
}

// Dependency 把存储或外部服务的原始错误转换为 DEPENDENCY，已经是领域错误的原样返回
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return ErrDependency.Withf("%s failed", op).Wrap(err)
}

// KindOf 返回错误的大类，非领域错误一律视为依赖故障
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindDependency
}

// CodeOf 返回错误码
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeDependency
}
