package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item with finite stock
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order represents a buyer's order for a quantity of one product
type Order struct {
	ID            int64              `db:"id" json:"id"`
	UserID        int64              `db:"user_id" json:"user_id"`
	ProductID     int64              `db:"product_id" json:"product_id"`
	Quantity      int                `db:"quantity" json:"quantity"`
	TotalPrice    decimal.Decimal    `db:"total_price" json:"total_price"`
	Phone         *string            `db:"phone" json:"phone,omitempty"`
	Email         *string            `db:"email" json:"email,omitempty"`
	Status        OrderStatus        `db:"status" json:"status"`
	PaymentStatus OrderPaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod *string            `db:"payment_method" json:"payment_method,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}

// Contact holds optional buyer contact details
type Contact struct {
	Phone *string `json:"phone,omitempty"`
	Email *string `json:"email,omitempty"`
}

// Payment represents one settlement attempt for an order
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	UserID            *int64          `db:"user_id" json:"user_id,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method"`
	Status            PaymentStatus   `db:"status" json:"status"`
	ExternalPaymentID *string         `db:"external_payment_id" json:"external_payment_id,omitempty"`
	ErrorMessage      *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// SubjectKind identifies what an edit log entry refers to
type SubjectKind string

const (
	SubjectOrder   SubjectKind = "order"
	SubjectProduct SubjectKind = "product"
)

// EditLogEntry is an append-only record of one operator field edit
type EditLogEntry struct {
	ID          int64       `db:"id" json:"id"`
	SubjectID   int64       `db:"subject_id" json:"subject_id"`
	SubjectKind SubjectKind `db:"subject_kind" json:"subject_kind"`
	OperatorID  string      `db:"operator_id" json:"operator_id"`
	FieldName   string      `db:"field_name" json:"field_name"`
	OldValue    string      `db:"old_value" json:"old_value"`
	NewValue    string      `db:"new_value" json:"new_value"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// PaymentMethodLiqPay is the only gateway the service settles through
const PaymentMethodLiqPay = "liqpay"

// StringPtr returns a pointer to s
func StringPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 { return &v }
