package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order reserves stock
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// OrderStatusChangedEvent published when an order moves through the state machine
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64       `json:"order_id"`
	UserID     int64       `json:"user_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	OperatorID string      `json:"operator_id"`
}

// OrderPaidEvent published when a callback settles an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID           int64           `json:"order_id"`
	UserID            int64           `json:"user_id"`
	PaymentID         int64           `json:"payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalPaymentID string          `json:"external_payment_id,omitempty"`
}

// PaymentFailedEvent published when a callback reports a failed payment
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}
