// Package memstore is an in-process repository for local development and tests.
// Transactions are fully serialized by one mutex and roll back by restoring a
// snapshot taken when the transaction began.
//
// Every transaction copies all tables, edit log included, so a write costs
// time proportional to the total number of rows and nothing survives a restart.
// STORE_DRIVER=memory is meant for demos and tests; run real traffic on Postgres.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/repository"
)

var _ repository.Repository = (*Store)(nil)

type state struct {
	products map[int64]models.Product
	orders   map[int64]models.Order
	payments map[int64]models.Payment // keyed by order ID
	editLog  []models.EditLogEntry

	nextOrderID   int64
	nextPaymentID int64
	nextEditID    int64
	nextProductID int64
}

func (s *state) clone() *state {
	c := *s
	c.products = make(map[int64]models.Product, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.orders = make(map[int64]models.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.payments = make(map[int64]models.Payment, len(s.payments))
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.editLog = append([]models.EditLogEntry(nil), s.editLog...)
	return &c
}

// Store keeps all rows in memory
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		st: &state{
			products: make(map[int64]models.Product),
			orders:   make(map[int64]models.Order),
			payments: make(map[int64]models.Payment),
		},
		now: time.Now,
	}
}

// AddProduct inserts a product and returns it with its assigned ID
func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.st.nextProductID++
		p.ID = s.st.nextProductID
	} else if p.ID > s.st.nextProductID {
		s.st.nextProductID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.st.products[p.ID] = p
	return p
}

// InTx runs fn with exclusive access to the store
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&tx{st: s.st, now: s.now}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (s *Store) Close() error { return nil }

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	return &p, nil
}

// ListProducts retrieves all products ordered by ID
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	return &o, nil
}

// ListOrdersByUser retrieves a user's orders, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.st.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// GetPaymentByOrder retrieves the payment for an order
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.st.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrPaymentNotFound, orderID)
	}
	return &p, nil
}

// ListEditLog retrieves edit log entries for a subject, newest first
func (s *Store) ListEditLog(ctx context.Context, kind models.SubjectKind, subjectID int64, limit int) ([]models.EditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.EditLogEntry
	for i := len(s.st.editLog) - 1; i >= 0; i-- {
		e := s.st.editLog[i]
		if e.SubjectKind != kind || e.SubjectID != subjectID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	if p.Stock < quantity {
		return &models.InsufficientStockError{ProductID: productID, Requested: quantity, Available: p.Stock}
	}
	p.Stock -= quantity
	t.st.products[productID] = p
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, order *models.Order) error {
	if _, ok := t.st.products[order.ProductID]; !ok {
		return fmt.Errorf("failed to insert order: %w: %d", models.ErrProductNotFound, order.ProductID)
	}
	t.st.nextOrderID++
	order.ID = t.st.nextOrderID
	order.CreatedAt = t.now()
	t.st.orders[order.ID] = *order
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	return &o, nil
}

func (t *tx) UpdateOrder(ctx context.Context, order *models.Order) error {
	current, ok := t.st.orders[order.ID]
	if !ok {
		return fmt.Errorf("failed to update order: %w: %d", models.ErrOrderNotFound, order.ID)
	}
	current.Quantity = order.Quantity
	current.TotalPrice = order.TotalPrice
	current.Phone = order.Phone
	current.Email = order.Email
	current.Status = order.Status
	current.PaymentStatus = order.PaymentStatus
	current.PaymentMethod = order.PaymentMethod
	t.st.orders[order.ID] = current
	return nil
}

func (t *tx) LockPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	p, ok := t.st.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrPaymentNotFound, orderID)
	}
	return &p, nil
}

func (t *tx) InsertPayment(ctx context.Context, payment *models.Payment) error {
	if _, ok := t.st.orders[payment.OrderID]; !ok {
		return fmt.Errorf("failed to insert payment: %w: %d", models.ErrOrderNotFound, payment.OrderID)
	}
	if _, exists := t.st.payments[payment.OrderID]; exists {
		return fmt.Errorf("failed to insert payment: duplicate payment for order %d", payment.OrderID)
	}
	t.st.nextPaymentID++
	payment.ID = t.st.nextPaymentID
	payment.CreatedAt = t.now()
	payment.UpdatedAt = payment.CreatedAt
	t.st.payments[payment.OrderID] = *payment
	return nil
}

func (t *tx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	current, ok := t.st.payments[payment.OrderID]
	if !ok || current.ID != payment.ID {
		return fmt.Errorf("failed to update payment: %w: %d", models.ErrPaymentNotFound, payment.ID)
	}
	current.Status = payment.Status
	current.Amount = payment.Amount
	current.ExternalPaymentID = payment.ExternalPaymentID
	current.ErrorMessage = payment.ErrorMessage
	current.UpdatedAt = t.now()
	payment.UpdatedAt = current.UpdatedAt
	t.st.payments[payment.OrderID] = current
	return nil
}

func (t *tx) InsertEditLog(ctx context.Context, entry *models.EditLogEntry) error {
	t.st.nextEditID++
	entry.ID = t.st.nextEditID
	entry.CreatedAt = t.now()
	t.st.editLog = append(t.st.editLog, *entry)
	return nil
}
