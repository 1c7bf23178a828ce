package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-service/internal/contact"
	"shop-service/internal/models"
	"shop-service/internal/repository"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService handles order creation, status transitions and operator edits
type OrderService struct {
	repo           repository.Repository
	audit          *AuditLog
	inventory      *InventoryService
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo repository.Repository,
	audit *AuditLog,
	inventory *InventoryService,
	eventPublisher EventPublisher,
) *OrderService {
	return &OrderService{
		repo:           repo,
		audit:          audit,
		inventory:      inventory,
		eventPublisher: publisherOrNoop(eventPublisher),
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID    int64   `json:"user_id" binding:"required,gt=0"`
	ProductID int64   `json:"product_id" binding:"required,gt=0"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	Phone     *string `json:"phone,omitempty" binding:"omitempty,ua_phone"`
	Email     *string `json:"email,omitempty" binding:"omitempty,email"`
}

// CreateOrder reserves stock and inserts the order in one transaction.
// Either both the stock decrement and the order row commit, or neither does.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.Quantity <= 0 {
		util.OrdersRejectedTotal.WithLabelValues("invalid_quantity").Inc()
		return nil, models.ErrInvalidQuantity
	}

	contactInfo, err := normalizeContact(req.Phone, req.Email)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_contact").Inc()
		return nil, err
	}

	start := time.Now()
	var order *models.Order
	err = s.repo.InTx(ctx, func(tx repository.Tx) error {
		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}

		if product.Stock < req.Quantity {
			return &models.InsufficientStockError{
				ProductID: product.ID,
				Requested: req.Quantity,
				Available: product.Stock,
			}
		}

		if err := tx.DecrementStock(ctx, product.ID, req.Quantity); err != nil {
			return err
		}

		order = &models.Order{
			UserID:        req.UserID,
			ProductID:     product.ID,
			Quantity:      req.Quantity,
			TotalPrice:    product.Price.Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2),
			Phone:         contactInfo.Phone,
			Email:         contactInfo.Email,
			Status:        models.OrderStatusPending,
			PaymentStatus: models.OrderUnpaid,
		}
		return tx.InsertOrder(ctx, order)
	})
	util.OrderCreateLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		switch {
		case errors.Is(err, models.ErrInsufficientStock):
			util.OrdersRejectedTotal.WithLabelValues("insufficient_stock").Inc()
			s.logger.Info("Order rejected: insufficient stock",
				zap.Int64("user_id", req.UserID),
				zap.Int64("product_id", req.ProductID),
				zap.Int("quantity", req.Quantity))
			return nil, err
		case errors.Is(err, models.ErrProductNotFound):
			util.OrdersRejectedTotal.WithLabelValues("product_not_found").Inc()
			return nil, err
		}
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("product_id", order.ProductID),
		zap.Int("quantity", order.Quantity),
		zap.String("total_price", order.TotalPrice.StringFixed(2)))

	if s.inventory != nil {
		s.inventory.Refresh(ctx, order.ProductID)
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		ProductID:  order.ProductID,
		Quantity:   order.Quantity,
		TotalPrice: order.TotalPrice,
	}

	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return order, nil
}

// UpdateOrderStatus moves an order through the status state machine.
// The status change and its audit entry commit together.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus models.OrderStatus, operatorID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	var order *models.Order
	var from models.OrderStatus
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		if err := models.ValidateTransition(order.Status, newStatus); err != nil {
			return err
		}

		from = order.Status
		order.Status = newStatus
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		return s.audit.Append(ctx, tx, models.SubjectOrder, order.ID, operatorID,
			models.FieldStatus, string(from), string(newStatus))
	})
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, models.ErrInvalidTransition) {
			s.logger.Warn("Rejected status transition",
				zap.Int64("order_id", orderID),
				zap.String("operator_id", operatorID),
				zap.Error(err))
		}
		return err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(newStatus)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(newStatus)),
		zap.String("operator_id", operatorID))

	publishStatusChanged(ctx, s.eventPublisher, s.logger, order, from, operatorID)
	return nil
}

// UpdateOrderField applies one allow-listed operator edit. An unchanged value
// is a no-op; otherwise the edit and its audit entry commit together.
func (s *OrderService) UpdateOrderField(ctx context.Context, orderID int64, operatorID string, change models.OrderFieldChange) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderField")
	defer span.End()

	if change == nil {
		return fmt.Errorf("%w: no change given", models.ErrInvalidField)
	}
	change, err := normalizeFieldChange(change)
	if err != nil {
		return err
	}

	var oldValue, newValue string
	var repriced *models.Payment
	changed := false
	err = s.repo.InTx(ctx, func(tx repository.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		oldValue, newValue = change.Current(order), change.Value()
		if oldValue == newValue {
			return nil
		}

		change.Apply(order)
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		changed = true

		if _, ok := change.(models.PriceOverride); ok {
			if repriced, err = syncPaymentAmount(ctx, tx, order); err != nil {
				return err
			}
		}

		return s.audit.Append(ctx, tx, models.SubjectOrder, order.ID, operatorID,
			change.Field(), oldValue, newValue)
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	if changed {
		util.OrderFieldEditsTotal.WithLabelValues(change.Field()).Inc()
		s.logger.Info("Order field updated",
			zap.Int64("order_id", orderID),
			zap.String("field", change.Field()),
			zap.String("old_value", oldValue),
			zap.String("new_value", newValue),
			zap.String("operator_id", operatorID))
	}
	if repriced != nil {
		s.logger.Info("Payment amount follows order total",
			zap.Int64("order_id", orderID),
			zap.Int64("payment_id", repriced.ID),
			zap.String("amount", repriced.Amount.StringFixed(2)))
	}
	return nil
}

// syncPaymentAmount keeps the order's unsettled payment charging the order
// total. A completed payment pins the total, so repricing is refused.
func syncPaymentAmount(ctx context.Context, tx repository.Tx, order *models.Order) (*models.Payment, error) {
	pay, err := tx.LockPaymentByOrder(ctx, order.ID)
	if errors.Is(err, models.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pay.Status == models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: total is fixed by payment %d", models.ErrAlreadyPaid, pay.ID)
	}
	if pay.Amount.Equal(order.TotalPrice) {
		return nil, nil
	}

	pay.Amount = order.TotalPrice
	if err := tx.UpdatePayment(ctx, pay); err != nil {
		return nil, err
	}
	return pay, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.repo.GetOrder(ctx, orderID)
}

// GetOrdersByUser retrieves a user's orders, newest first
func (s *OrderService) GetOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrdersByUser")
	defer span.End()

	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func publishStatusChanged(ctx context.Context, publisher EventPublisher, logger *zap.Logger, order *models.Order, from models.OrderStatus, operatorID string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		From:       from,
		To:         order.Status,
		OperatorID: operatorID,
	}

	if err := publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

func normalizeContact(phone, email *string) (models.Contact, error) {
	var c models.Contact
	if phone != nil && *phone != "" {
		normalized, err := contact.NormalizePhone(*phone)
		if err != nil {
			return c, fmt.Errorf("%w: %v", models.ErrInvalidField, err)
		}
		c.Phone = &normalized
	}
	if email != nil && *email != "" {
		normalized, err := contact.NormalizeEmail(*email)
		if err != nil {
			return c, fmt.Errorf("%w: %v", models.ErrInvalidField, err)
		}
		c.Email = &normalized
	}
	return c, nil
}

func normalizeFieldChange(change models.OrderFieldChange) (models.OrderFieldChange, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}

	switch c := change.(type) {
	case models.PhoneChange:
		phone, err := contact.NormalizePhone(c.Phone)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidField, err)
		}
		return models.PhoneChange{Phone: phone}, nil
	case models.EmailChange:
		email, err := contact.NormalizeEmail(c.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidField, err)
		}
		return models.EmailChange{Email: email}, nil
	}
	return change, nil
}
