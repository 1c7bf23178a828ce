package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Tx implements repository.Tx on a database transaction
type Tx struct {
	tx *sqlx.Tx
}

// LockProduct reads a product row and holds its lock until the transaction ends
func (t *Tx) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := t.tx.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return &product, nil
}

// DecrementStock removes quantity from a product's stock
func (t *Tx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n != 1 {
		return &models.InsufficientStockError{ProductID: productID, Requested: quantity}
	}
	return nil
}

// InsertOrder creates a new order row
func (t *Tx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, product_id, quantity, total_price, phone, email, status, payment_status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		order.UserID, order.ProductID, order.Quantity, order.TotalPrice,
		order.Phone, order.Email, order.Status, order.PaymentStatus, order.PaymentMethod,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// LockOrder reads an order row and holds its lock until the transaction ends
func (t *Tx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

// UpdateOrder writes the mutable order fields
func (t *Tx) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET quantity = $1, total_price = $2, phone = $3, email = $4,
		    status = $5, payment_status = $6, payment_method = $7
		WHERE id = $8`

	_, err := t.tx.ExecContext(ctx, query,
		order.Quantity, order.TotalPrice, order.Phone, order.Email,
		order.Status, order.PaymentStatus, order.PaymentMethod, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

// LockPaymentByOrder reads the payment for an order and holds its lock
func (t *Tx) LockPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := t.tx.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", models.ErrPaymentNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return &payment, nil
}

// InsertPayment creates a new payment record
func (t *Tx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, user_id, amount, currency, payment_method, status, external_payment_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		payment.OrderID, payment.UserID, payment.Amount, payment.Currency, payment.PaymentMethod,
		payment.Status, payment.ExternalPaymentID, payment.ErrorMessage,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment writes payment status, amount, external id and error message
func (t *Tx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		UPDATE payments
		SET status = $1, amount = $2, external_payment_id = $3, error_message = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		payment.Status, payment.Amount, payment.ExternalPaymentID, payment.ErrorMessage, payment.ID,
	).Scan(&payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

// InsertEditLog appends one audit entry
func (t *Tx) InsertEditLog(ctx context.Context, entry *models.EditLogEntry) error {
	query := `
		INSERT INTO edit_log (subject_id, subject_kind, operator_id, field_name, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		entry.SubjectID, entry.SubjectKind, entry.OperatorID, entry.FieldName, entry.OldValue, entry.NewValue,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert edit log: %w", err)
	}
	return nil
}
