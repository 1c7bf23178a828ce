package models

// OrderStatus is the fulfilment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every order status
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// allowedTransitions is the complete edge set of the order state machine.
// delivered and cancelled have no outbound edges.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:   {OrderStatusConfirmed: true, OrderStatusCancelled: true},
	OrderStatusConfirmed: {OrderStatusShipped: true, OrderStatusCancelled: true},
	OrderStatusShipped:   {OrderStatusDelivered: true},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

// ValidateTransition checks a requested order status change against the transition table
func ValidateTransition(current, requested OrderStatus) error {
	if !current.Valid() || !requested.Valid() || !allowedTransitions[current][requested] {
		return &InvalidTransitionError{From: current, To: requested}
	}
	return nil
}

// OrderPaymentStatus is the payment state recorded on an order
type OrderPaymentStatus string

// Order payment statuses
const (
	OrderUnpaid OrderPaymentStatus = "unpaid"
	OrderPaid   OrderPaymentStatus = "paid"
	OrderFailed OrderPaymentStatus = "failed"
)

// Valid reports whether s is a known order payment status
func (s OrderPaymentStatus) Valid() bool {
	switch s {
	case OrderUnpaid, OrderPaid, OrderFailed:
		return true
	}
	return false
}

// PaymentStatus is the lifecycle state of a payment record
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// Terminal reports whether the payment has settled one way or another
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Open reports whether the payment may still settle
func (s PaymentStatus) Open() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// CanAdvance reports whether a payment may move from s to next.
// Payments only move toward a terminal status. completed is final; failed and
// cancelled yield only to a gateway-confirmed completion.
func (s PaymentStatus) CanAdvance(next PaymentStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusProcessing || next.Terminal()
	case PaymentStatusProcessing:
		return next.Terminal()
	case PaymentStatusFailed, PaymentStatusCancelled:
		return next == PaymentStatusCompleted
	}
	return false
}
