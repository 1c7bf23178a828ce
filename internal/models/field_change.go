package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Editable order fields
const (
	FieldStatus        = "status"
	FieldPhone         = "phone"
	FieldEmail         = "email"
	FieldQuantity      = "quantity"
	FieldTotalPrice    = "total_price"
	FieldPaymentStatus = "payment_status"
)

// OrderFieldChange is an operator edit of one allow-listed order field.
// The set of implementations is closed: PhoneChange, EmailChange,
// QuantityChange, PriceOverride and PaymentStatusChange.
type OrderFieldChange interface {
	// Field is the column name recorded in the edit log
	Field() string
	// Current renders the field's present value on o
	Current(o *Order) string
	// Value renders the requested value
	Value() string
	// Apply writes the requested value onto o
	Apply(o *Order)
	// Validate rejects values the field cannot hold
	Validate() error

	sealed()
}

// PhoneChange sets the order's contact phone
type PhoneChange struct{ Phone string }

func (PhoneChange) Field() string { return FieldPhone }
func (PhoneChange) Current(o *Order) string { return derefString(o.Phone) }
func (c PhoneChange) Value() string { return c.Phone }
func (c PhoneChange) Apply(o *Order) { o.Phone = StringPtr(c.Phone) }
func (PhoneChange) sealed() {}
func (c PhoneChange) Validate() error {
	if c.Phone == "" {
		return fmt.Errorf("%w: phone is empty", ErrInvalidField)
	}
	return nil
}

// EmailChange sets the order's contact email
type EmailChange struct{ Email string }

func (EmailChange) Field() string { return FieldEmail }
func (EmailChange) Current(o *Order) string { return derefString(o.Email) }
func (c EmailChange) Value() string { return c.Email }
func (c EmailChange) Apply(o *Order) { o.Email = StringPtr(c.Email) }
func (EmailChange) sealed() {}
func (c EmailChange) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("%w: email is empty", ErrInvalidField)
	}
	return nil
}

// QuantityChange corrects the ordered quantity. Stock is not adjusted.
type QuantityChange struct{ Quantity int }

func (QuantityChange) Field() string { return FieldQuantity }
func (QuantityChange) Current(o *Order) string { return strconv.Itoa(o.Quantity) }
func (c QuantityChange) Value() string { return strconv.Itoa(c.Quantity) }
func (c QuantityChange) Apply(o *Order) { o.Quantity = c.Quantity }
func (QuantityChange) sealed() {}
func (c QuantityChange) Validate() error {
	if c.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// PriceOverride replaces the order total
type PriceOverride struct{ TotalPrice decimal.Decimal }

func (PriceOverride) Field() string { return FieldTotalPrice }
func (PriceOverride) Current(o *Order) string { return o.TotalPrice.StringFixed(2) }
func (c PriceOverride) Value() string { return c.TotalPrice.StringFixed(2) }
func (c PriceOverride) Apply(o *Order) { o.TotalPrice = c.TotalPrice.Round(2) }
func (PriceOverride) sealed() {}
func (c PriceOverride) Validate() error {
	if c.TotalPrice.IsNegative() {
		return fmt.Errorf("%w: total price is negative", ErrInvalidField)
	}
	return nil
}

// PaymentStatusChange sets the order's payment status by hand
type PaymentStatusChange struct{ Status OrderPaymentStatus }

func (PaymentStatusChange) Field() string { return FieldPaymentStatus }
func (PaymentStatusChange) Current(o *Order) string { return string(o.PaymentStatus) }
func (c PaymentStatusChange) Value() string { return string(c.Status) }
func (c PaymentStatusChange) Apply(o *Order) { o.PaymentStatus = c.Status }
func (PaymentStatusChange) sealed() {}
func (c PaymentStatusChange) Validate() error {
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidField, c.Status)
	}
	return nil
}

// ParseOrderFieldChange builds a field change from its wire form
func ParseOrderFieldChange(field, value string) (OrderFieldChange, error) {
	var change OrderFieldChange
	switch field {
	case FieldPhone:
		change = PhoneChange{Phone: value}
	case FieldEmail:
		change = EmailChange{Email: value}
	case FieldQuantity:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q", ErrInvalidField, value)
		}
		change = QuantityChange{Quantity: n}
	case FieldTotalPrice:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: total price %q", ErrInvalidField, value)
		}
		change = PriceOverride{TotalPrice: d}
	case FieldPaymentStatus:
		change = PaymentStatusChange{Status: OrderPaymentStatus(value)}
	default:
		return nil, fmt.Errorf("%w: field %q is not editable", ErrInvalidField, field)
	}
	if err := change.Validate(); err != nil {
		return nil, err
	}
	return change, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
