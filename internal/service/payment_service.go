package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/repository"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService keeps the one-payment-per-order ledger on the buyer side:
// opening a checkout and cancelling an unpaid order.
type PaymentService struct {
	repo           repository.Repository
	gateway        Gateway
	audit          *AuditLog
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo repository.Repository,
	gateway Gateway,
	audit *AuditLog,
	eventPublisher EventPublisher,
) *PaymentService {
	return &PaymentService{
		repo:           repo,
		gateway:        gateway,
		audit:          audit,
		eventPublisher: publisherOrNoop(eventPublisher),
		logger:         util.GetLogger(),
	}
}

// Checkout is an open payment together with the signed gateway request
type Checkout struct {
	Payment *models.Payment          `json:"payment"`
	Request *payment.CheckoutRequest `json:"checkout"`
}

// StartPayment opens (or reuses) the order's payment and signs a checkout
// request for it.
func (ps *PaymentService) StartPayment(ctx context.Context, orderID, userID int64) (*Checkout, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.StartPayment")
	defer span.End()

	if !ps.gateway.Configured() {
		return nil, payment.ErrNotConfigured
	}

	var order *models.Order
	var pay *models.Payment
	created := false
	err := ps.repo.InTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return models.ErrForbidden
		}
		if order.PaymentStatus == models.OrderPaid {
			return models.ErrAlreadyPaid
		}
		if order.Status == models.OrderStatusCancelled {
			return models.ErrOrderClosed
		}

		pay, err = tx.LockPaymentByOrder(ctx, orderID)
		switch {
		case errors.Is(err, models.ErrPaymentNotFound):
			pay = &models.Payment{
				OrderID:       order.ID,
				UserID:        models.Int64Ptr(order.UserID),
				Amount:        order.TotalPrice,
				Currency:      ps.gateway.Currency(),
				PaymentMethod: models.PaymentMethodLiqPay,
				Status:        models.PaymentStatusPending,
			}
			if err := tx.InsertPayment(ctx, pay); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		case pay.Status == models.PaymentStatusCompleted:
			return models.ErrAlreadyPaid
		case !pay.Status.Open():
			return models.ErrPaymentClosed
		case !pay.Amount.Equal(order.TotalPrice):
			pay.Amount = order.TotalPrice
			if err := tx.UpdatePayment(ctx, pay); err != nil {
				return err
			}
		}

		if order.PaymentMethod == nil || *order.PaymentMethod != models.PaymentMethodLiqPay {
			order.PaymentMethod = models.StringPtr(models.PaymentMethodLiqPay)
			return tx.UpdateOrder(ctx, order)
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	req, err := ps.gateway.Checkout(order.ID, order.TotalPrice, fmt.Sprintf("Order #%d", order.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout: %w", err)
	}

	util.PaymentAttemptsTotal.Inc()
	ps.logger.Info("Payment started",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", pay.ID),
		zap.Bool("new_payment", created),
		zap.String("amount", order.TotalPrice.StringFixed(2)))

	return &Checkout{Payment: pay, Request: req}, nil
}

// CancelOrder lets a buyer cancel an unpaid order. The order status, the open
// payment and the audit entry change together.
func (ps *PaymentService) CancelOrder(ctx context.Context, orderID, userID int64) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.CancelOrder")
	defer span.End()

	operatorID := "user:" + strconv.FormatInt(userID, 10)

	var order *models.Order
	var from models.OrderStatus
	err := ps.repo.InTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return models.ErrForbidden
		}
		if order.PaymentStatus == models.OrderPaid {
			return models.ErrAlreadyPaid
		}
		if err := models.ValidateTransition(order.Status, models.OrderStatusCancelled); err != nil {
			return err
		}

		from = order.Status
		order.Status = models.OrderStatusCancelled
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := ps.audit.Append(ctx, tx, models.SubjectOrder, order.ID, operatorID,
			models.FieldStatus, string(from), string(order.Status)); err != nil {
			return err
		}

		pay, err := tx.LockPaymentByOrder(ctx, orderID)
		if errors.Is(err, models.ErrPaymentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !pay.Status.Open() {
			return nil
		}
		pay.Status = models.PaymentStatusCancelled
		return tx.UpdatePayment(ctx, pay)
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	util.OrdersCancelledTotal.Inc()
	util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(models.OrderStatusCancelled)).Inc()
	ps.logger.Info("Order cancelled by buyer",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID))

	publishStatusChanged(ctx, ps.eventPublisher, ps.logger, order, from, operatorID)
	return nil
}

// GetPaymentByOrder retrieves the payment for an order
func (ps *PaymentService) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetPaymentByOrder")
	defer span.End()

	return ps.repo.GetPaymentByOrder(ctx, orderID)
}

// GatewayStatus asks the gateway what it knows about an order's payment
func (ps *PaymentService) GatewayStatus(ctx context.Context, orderID int64) (*payment.StatusResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GatewayStatus")
	defer span.End()

	if _, err := ps.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return ps.gateway.QueryStatus(ctx, orderID)
}
