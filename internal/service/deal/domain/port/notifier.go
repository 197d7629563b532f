package port

import (
	"context"
	"time"
)

type NotificationKind string

const (
	NotifyReservationCreated  NotificationKind = "RESERVATION_CREATED"
	NotifyReservationCanceled NotificationKind = "RESERVATION_CANCELED"
	NotifyReservationReminder NotificationKind = "RESERVATION_REMINDER"
	NotifyReservationExpired  NotificationKind = "RESERVATION_EXPIRED"
	NotifyDealRedeemed        NotificationKind = "DEAL_REDEEMED"
	NotifyDealDeactivated     NotificationKind = "DEAL_DEACTIVATED"
	NotifyBillingCreated      NotificationKind = "BILLING_CREATED"
)

// Recipient 的类型
const (
	AudienceCustomer   = "customer"
	AudienceRestaurant = "restaurant"
)

// Notification 是发往顾客或餐厅的一条消息
type Notification struct {
	Kind          NotificationKind  `json:"kind"`
	Audience      string            `json:"audience"`
	RecipientID   string            `json:"recipientId"`
	DealID        string            `json:"dealId,omitempty"`
	ReservationID string            `json:"reservationId,omitempty"`
	Data          map[string]string `json:"data,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// Notifier 是通知的出站端口。投递是尽力而为的，调用方不会因失败而回滚业务。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
