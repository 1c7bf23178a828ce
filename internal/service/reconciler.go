package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/repository"
	"shop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome describes what a callback delivery did
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMismatch  Outcome = "mismatch"
)

// ReconcileResult summarizes one callback delivery
type ReconcileResult struct {
	OrderID       int64                `json:"order_id"`
	GatewayStatus string               `json:"gateway_status"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	Outcome       Outcome              `json:"outcome"`
}

// Reconciler applies verified gateway callbacks to the payment ledger and the order.
// Every delivery is treated as a fresh instruction: replays converge on the same
// state and stock is never touched.
type Reconciler struct {
	repo           repository.Repository
	gateway        Gateway
	deduper        DeliveryDeduper
	eventPublisher EventPublisher
	statusProbe    bool
	logger         *zap.Logger
}

// NewReconciler creates a new reconciler. deduper may be nil.
func NewReconciler(
	repo repository.Repository,
	gateway Gateway,
	deduper DeliveryDeduper,
	eventPublisher EventPublisher,
) *Reconciler {
	return &Reconciler{
		repo:           repo,
		gateway:        gateway,
		deduper:        deduper,
		eventPublisher: publisherOrNoop(eventPublisher),
		logger:         util.GetLogger(),
	}
}

// EnableStatusProbe makes processing-family callbacks trigger a background
// status query against the gateway. Probe results are only logged.
func (r *Reconciler) EnableStatusProbe() {
	r.statusProbe = true
}

// Fingerprint identifies one exact callback delivery
func Fingerprint(data, signature string) string {
	sum := sha256.Sum256([]byte(data + "." + signature))
	return hex.EncodeToString(sum[:])
}

// HandleCallback verifies and applies one callback delivery.
//
// Errors: payment.ErrInvalidSignature and payment.ErrMalformedPayload before any
// state is read; models.ErrOrderNotFound for unknown orders; a
// *models.PaymentMismatchError when amount or currency disagree with the order
// (the anomaly is recorded on the payment, nothing else changes); anything else
// is a storage failure with the transaction rolled back.
func (r *Reconciler) HandleCallback(ctx context.Context, data, signature string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleCallback")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	payload, err := r.gateway.VerifyCallback(data, signature)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	orderID, err := payload.OrderNumber()
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{OrderID: orderID, GatewayStatus: payload.Status}
	fingerprint := Fingerprint(data, signature)

	if r.deduper != nil {
		seen, err := r.deduper.SeenDelivery(ctx, fingerprint)
		if err != nil {
			r.logger.Warn("Delivery dedup check failed, processing anyway",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		} else if seen {
			r.logger.Info("Duplicate callback delivery skipped",
				zap.Int64("order_id", orderID),
				zap.String("status", payload.Status))
			result.Outcome = OutcomeDuplicate
			return result, nil
		}
	}

	next, ok := r.gateway.MapStatus(payload.Status)
	if !ok {
		r.logger.Info("Callback status does not move the payment",
			zap.Int64("order_id", orderID),
			zap.String("status", payload.Status))
		result.Outcome = OutcomeIgnored
		r.markDelivered(ctx, fingerprint, orderID)
		return result, nil
	}

	externalID := string(payload.PaymentID)
	var (
		order       *models.Order
		pay         *models.Payment
		mismatch    *models.PaymentMismatchError
		changed     bool
		paidNow     bool
		failedNow   bool
		failsafeNew bool
	)

	err = r.repo.InTx(ctx, func(tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}

		pay, err = tx.LockPaymentByOrder(ctx, orderID)
		if errors.Is(err, models.ErrPaymentNotFound) {
			pay = nil
		} else if err != nil {
			return err
		}

		expectedCurrency := r.gateway.Currency()
		if pay != nil {
			expectedCurrency = pay.Currency
		}
		amountOK := payload.Amount.Equal(order.TotalPrice) && (pay == nil || pay.Amount.Equal(order.TotalPrice))
		if !amountOK || !strings.EqualFold(payload.Currency, expectedCurrency) {
			mismatch = &models.PaymentMismatchError{
				OrderID:          order.ID,
				ExpectedAmount:   order.TotalPrice,
				ReportedAmount:   payload.Amount,
				ExpectedCurrency: expectedCurrency,
				ReportedCurrency: payload.Currency,
			}
			if pay != nil && !pay.Amount.Equal(order.TotalPrice) {
				recorded := pay.Amount
				mismatch.RecordedAmount = &recorded
			}
			return r.recordMismatch(ctx, tx, order, pay, mismatch, externalID)
		}

		if pay == nil {
			pay = &models.Payment{
				OrderID:       order.ID,
				UserID:        models.Int64Ptr(order.UserID),
				Amount:        order.TotalPrice,
				Currency:      expectedCurrency,
				PaymentMethod: models.PaymentMethodLiqPay,
				Status:        next,
			}
			if externalID != "" {
				pay.ExternalPaymentID = models.StringPtr(externalID)
			}
			if next == models.PaymentStatusFailed {
				pay.ErrorMessage = failureReason(payload)
			}
			if err := tx.InsertPayment(ctx, pay); err != nil {
				return err
			}
			changed, failsafeNew = true, true
		} else if pay.Status.CanAdvance(next) {
			pay.Status = next
			if externalID != "" {
				pay.ExternalPaymentID = models.StringPtr(externalID)
			}
			switch next {
			case models.PaymentStatusFailed:
				pay.ErrorMessage = failureReason(payload)
			case models.PaymentStatusCompleted:
				pay.ErrorMessage = nil
			}
			if err := tx.UpdatePayment(ctx, pay); err != nil {
				return err
			}
			changed = true
		}

		switch pay.Status {
		case models.PaymentStatusCompleted:
			if order.PaymentStatus == models.OrderPaid && isLiqPay(order.PaymentMethod) {
				return nil
			}
			paidNow = order.PaymentStatus != models.OrderPaid
			order.PaymentStatus = models.OrderPaid
			order.PaymentMethod = models.StringPtr(models.PaymentMethodLiqPay)
			changed = true
			return tx.UpdateOrder(ctx, order)

		case models.PaymentStatusFailed:
			if order.PaymentStatus != models.OrderUnpaid {
				return nil
			}
			failedNow = true
			order.PaymentStatus = models.OrderFailed
			order.PaymentMethod = models.StringPtr(models.PaymentMethodLiqPay)
			changed = true
			return tx.UpdateOrder(ctx, order)
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, models.ErrOrderNotFound) {
			r.logger.Warn("Callback for unknown order",
				zap.Int64("order_id", orderID),
				zap.String("status", payload.Status))
		}
		return nil, err
	}

	if mismatch != nil {
		util.PaymentMismatchTotal.Inc()
		r.logger.Error("Payment mismatch, callback not applied",
			zap.Int64("order_id", orderID),
			zap.String("expected_amount", mismatch.ExpectedAmount.StringFixed(2)),
			zap.String("reported_amount", mismatch.ReportedAmount.StringFixed(2)),
			zap.String("expected_currency", mismatch.ExpectedCurrency),
			zap.String("reported_currency", mismatch.ReportedCurrency),
			zap.String("status", payload.Status))
		result.Outcome = OutcomeMismatch
		r.markDelivered(ctx, fingerprint, orderID)
		return result, mismatch
	}

	result.PaymentStatus = pay.Status
	result.Outcome = OutcomeUnchanged
	if changed {
		result.Outcome = OutcomeApplied
	}

	if failsafeNew {
		r.logger.Warn("No payment on record, created one from callback",
			zap.Int64("order_id", orderID),
			zap.Int64("payment_id", pay.ID),
			zap.String("status", string(pay.Status)))
	}
	if order.Status == models.OrderStatusCancelled && paidNow {
		r.logger.Warn("Payment captured for a cancelled order, needs manual refund",
			zap.Int64("order_id", orderID),
			zap.Int64("payment_id", pay.ID))
	}

	r.logger.Info("Callback reconciled",
		zap.Int64("order_id", orderID),
		zap.String("gateway_status", payload.Status),
		zap.String("payment_status", string(pay.Status)),
		zap.String("order_payment_status", string(order.PaymentStatus)),
		zap.String("outcome", string(result.Outcome)))

	r.markDelivered(ctx, fingerprint, orderID)

	if paidNow {
		util.PaymentSuccessTotal.Inc()
		r.publishPaid(ctx, order, pay)
	}
	if failedNow {
		util.PaymentFailedTotal.Inc()
		r.publishFailed(ctx, order, pay, payload)
	}

	if r.statusProbe && changed && pay.Status == models.PaymentStatusProcessing {
		go r.probeStatus(orderID)
	}

	return result, nil
}

// recordMismatch writes the anomaly onto the payment without changing any status.
// A completed payment is left untouched.
func (r *Reconciler) recordMismatch(ctx context.Context, tx repository.Tx, order *models.Order, pay *models.Payment, mismatch *models.PaymentMismatchError, externalID string) error {
	msg := mismatch.Error()

	if pay == nil {
		pay = &models.Payment{
			OrderID:       order.ID,
			UserID:        models.Int64Ptr(order.UserID),
			Amount:        order.TotalPrice,
			Currency:      mismatch.ExpectedCurrency,
			PaymentMethod: models.PaymentMethodLiqPay,
			Status:        models.PaymentStatusPending,
			ErrorMessage:  models.StringPtr(msg),
		}
		if externalID != "" {
			pay.ExternalPaymentID = models.StringPtr(externalID)
		}
		return tx.InsertPayment(ctx, pay)
	}

	if pay.Status == models.PaymentStatusCompleted {
		return nil
	}
	if pay.ErrorMessage != nil && *pay.ErrorMessage == msg {
		return nil
	}
	pay.ErrorMessage = models.StringPtr(msg)
	return tx.UpdatePayment(ctx, pay)
}

func (r *Reconciler) markDelivered(ctx context.Context, fingerprint string, orderID int64) {
	if r.deduper == nil {
		return
	}
	if err := r.deduper.MarkDelivery(ctx, fingerprint); err != nil {
		r.logger.Warn("Failed to remember callback delivery",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func (r *Reconciler) publishPaid(ctx context.Context, order *models.Order, pay *models.Payment) {
	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		UserID:    order.UserID,
		PaymentID: pay.ID,
		Amount:    pay.Amount,
	}
	if pay.ExternalPaymentID != nil {
		event.ExternalPaymentID = *pay.ExternalPaymentID
	}

	if err := r.eventPublisher.PublishOrderPaid(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

func (r *Reconciler) publishFailed(ctx context.Context, order *models.Order, pay *models.Payment, payload *payment.CallbackPayload) {
	reason := payload.Status
	if payload.ErrDescription != "" {
		reason = payload.ErrDescription
	}

	event := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		UserID:    order.UserID,
		PaymentID: pay.ID,
		Reason:    reason,
	}

	if err := r.eventPublisher.PublishPaymentFailed(ctx, event); err != nil {
		r.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

// probeStatus runs detached from the callback request. Its outcome is never
// applied; the callback channel stays authoritative.
func (r *Reconciler) probeStatus(orderID int64) {
	status, err := r.gateway.QueryStatus(context.Background(), orderID)
	if err != nil {
		r.logger.Warn("Gateway status probe failed",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return
	}

	r.logger.Info("Gateway status probe",
		zap.Int64("order_id", orderID),
		zap.String("status", status.Status),
		zap.String("result", status.Result))
}

func failureReason(payload *payment.CallbackPayload) *string {
	switch {
	case payload.ErrDescription != "":
		return models.StringPtr(payload.ErrDescription)
	case payload.ErrCode != "":
		return models.StringPtr(payload.ErrCode)
	}
	return models.StringPtr("gateway status: " + payload.Status)
}

func isLiqPay(method *string) bool {
	return method != nil && *method == models.PaymentMethodLiqPay
}
