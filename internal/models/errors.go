package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPaymentMismatch   = errors.New("payment does not match order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidField      = errors.New("invalid field value")
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrPaymentClosed     = errors.New("payment already closed")
	ErrOrderClosed       = errors.New("order is closed")
	ErrForbidden         = errors.New("order does not belong to user")
)

// InsufficientStockError reports a reservation that exceeds available stock
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available=%d, requested=%d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidTransitionError reports a disallowed order status change
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PaymentMismatchError reports a callback whose amount or currency disagrees with the order
type PaymentMismatchError struct {
	OrderID          int64
	ExpectedAmount   decimal.Decimal
	ReportedAmount   decimal.Decimal
	ExpectedCurrency string
	ReportedCurrency string
	// RecordedAmount is set when the stored payment disagrees with the order total
	RecordedAmount *decimal.Decimal
}

func (e *PaymentMismatchError) Error() string {
	msg := fmt.Sprintf("payment mismatch for order %d: expected %s %s, got %s %s",
		e.OrderID,
		e.ExpectedAmount.StringFixed(2), e.ExpectedCurrency,
		e.ReportedAmount.StringFixed(2), e.ReportedCurrency)
	if e.RecordedAmount != nil {
		msg += fmt.Sprintf(", payment record holds %s", e.RecordedAmount.StringFixed(2))
	}
	return msg
}

func (e *PaymentMismatchError) Is(target error) bool { return target == ErrPaymentMismatch }
