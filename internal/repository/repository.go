// Package repository defines the storage contract shared by the Postgres store
// and the in-memory store.
package repository

import (
	"context"

	"shop-service/internal/models"
)

// Repository is the storage handle injected into every service
type Repository interface {
	Reader

	// InTx runs fn inside one transaction. If fn returns an error nothing written
	// through tx becomes visible; otherwise every write commits together.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Reader holds the non-locking read queries
type Reader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error)
	ListEditLog(ctx context.Context, kind models.SubjectKind, subjectID int64, limit int) ([]models.EditLogEntry, error)
}

// Tx is the set of row operations available inside a transaction.
// Lock* methods hold the row until the transaction ends.
type Tx interface {
	// LockProduct returns models.ErrProductNotFound when the row is absent
	LockProduct(ctx context.Context, id int64) (*models.Product, error)
	// DecrementStock returns models.ErrInsufficientStock rather than going negative
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	InsertOrder(ctx context.Context, order *models.Order) error

	// LockOrder returns models.ErrOrderNotFound when the row is absent
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	// UpdateOrder persists the mutable order fields
	UpdateOrder(ctx context.Context, order *models.Order) error

	// LockPaymentByOrder returns models.ErrPaymentNotFound when no payment exists
	LockPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error)
	InsertPayment(ctx context.Context, payment *models.Payment) error
	// UpdatePayment persists status, amount, external id and error message
	UpdatePayment(ctx context.Context, payment *models.Payment) error

	InsertEditLog(ctx context.Context, entry *models.EditLogEntry) error
}
