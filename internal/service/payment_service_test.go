package service

import (
	"context"
	"testing"

	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPayment_OpensAndReusesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)

	first, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, first.Payment.Status)
	assert.Equal(t, "250.00", first.Payment.Amount.StringFixed(2))
	assert.Equal(t, "UAH", first.Payment.Currency)

	payload, err := f.gateway.VerifyCallback(first.Request.Data, first.Request.Signature)
	require.NoError(t, err)
	assert.Equal(t, "pay", payload.Action)
	assert.Equal(t, "250.00", payload.Amount.StringFixed(2))
	id, err := payload.OrderNumber()
	require.NoError(t, err)
	assert.Equal(t, order.ID, id)

	second, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	got, _ := f.state(t, order.ID)
	require.NotNil(t, got.PaymentMethod)
	assert.Equal(t, models.PaymentMethodLiqPay, *got.PaymentMethod)
	assert.Equal(t, models.OrderUnpaid, got.PaymentStatus)
}

func TestStartPayment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("wrong user", func(t *testing.T) {
		order := f.createOrder(t, 7, 1)
		_, err := f.payments.StartPayment(ctx, order.ID, 8)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.payments.StartPayment(ctx, 404, 7)
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
	})

	t.Run("already paid", func(t *testing.T) {
		order := f.createOrder(t, 7, 1)
		data, sig := f.callback(t, order.ID, "success", "125.00")
		_, err := f.reconciler.HandleCallback(ctx, data, sig)
		require.NoError(t, err)

		_, err = f.payments.StartPayment(ctx, order.ID, 7)
		assert.ErrorIs(t, err, models.ErrAlreadyPaid)
	})

	t.Run("cancelled order", func(t *testing.T) {
		order := f.createOrder(t, 7, 1)
		require.NoError(t, f.payments.CancelOrder(ctx, order.ID, 7))

		_, err := f.payments.StartPayment(ctx, order.ID, 7)
		assert.ErrorIs(t, err, models.ErrOrderClosed)
	})

	t.Run("failed payment", func(t *testing.T) {
		order := f.createOrder(t, 7, 1)
		data, sig := f.callback(t, order.ID, "failure", "125.00")
		_, err := f.reconciler.HandleCallback(ctx, data, sig)
		require.NoError(t, err)

		_, err = f.payments.StartPayment(ctx, order.ID, 7)
		assert.ErrorIs(t, err, models.ErrPaymentClosed)
	})
}

func TestStartPayment_NotConfigured(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 7, 1)
	payments := NewPaymentService(f.db, payment.NewLiqPay(payment.Config{}), f.audit, nil)

	_, err := payments.StartPayment(context.Background(), order.ID, 7)
	assert.ErrorIs(t, err, payment.ErrNotConfigured)

	_, pay := f.state(t, order.ID)
	assert.Nil(t, pay)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)

	require.NoError(t, f.payments.CancelOrder(ctx, order.ID, 7))

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, models.PaymentStatusCancelled, pay.Status)
	assert.Equal(t, 3, f.stock(t), "cancellation does not restock")

	history, err := f.audit.History(ctx, models.SubjectOrder, order.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "user:7", history[0].OperatorID)
	assert.Equal(t, "pending", history[0].OldValue)
	assert.Equal(t, "cancelled", history[0].NewValue)

	require.Len(t, f.events.statusChanged, 1)
	assert.Equal(t, models.OrderStatusCancelled, f.events.statusChanged[0].To)

	assert.ErrorIs(t, f.payments.CancelOrder(ctx, order.ID, 7), models.ErrInvalidTransition)
}

func TestCancelOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := f.createOrder(t, 7, 1)
	data, sig := f.callback(t, paid.ID, "success", "125.00")
	_, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.ErrorIs(t, f.payments.CancelOrder(ctx, paid.ID, 7), models.ErrAlreadyPaid)

	other := f.createOrder(t, 7, 1)
	assert.ErrorIs(t, f.payments.CancelOrder(ctx, other.ID, 8), models.ErrForbidden)

	shipped := f.createOrder(t, 7, 1)
	require.NoError(t, f.orders.UpdateOrderStatus(ctx, shipped.ID, models.OrderStatusConfirmed, "admin:1"))
	require.NoError(t, f.orders.UpdateOrderStatus(ctx, shipped.ID, models.OrderStatusShipped, "admin:1"))
	assert.ErrorIs(t, f.payments.CancelOrder(ctx, shipped.ID, 7), models.ErrInvalidTransition)
}

func TestCancelOrder_AuditFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 1)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)
	f.db.failInsertEditLog = errInjected

	assert.ErrorIs(t, f.payments.CancelOrder(ctx, order.ID, 7), errInjected)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, models.PaymentStatusPending, pay.Status)
}

func TestGatewayStatus_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.payments.GatewayStatus(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestPriceOverride_RepricesOpenPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)

	first, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, "250.00", first.Payment.Amount.StringFixed(2))

	require.NoError(t, f.orders.UpdateOrderField(ctx, order.ID, "admin:1",
		models.PriceOverride{TotalPrice: decimal.RequireFromString("200")}))

	_, pay := f.state(t, order.ID)
	assert.Equal(t, "200.00", pay.Amount.StringFixed(2))

	second, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, "200.00", second.Payment.Amount.StringFixed(2))
	payload, err := f.gateway.VerifyCallback(second.Request.Data, second.Request.Signature)
	require.NoError(t, err)
	assert.Equal(t, "200.00", payload.Amount.StringFixed(2))

	data, sig := f.callback(t, order.ID, "success", "250.00")
	_, err = f.reconciler.HandleCallback(ctx, data, sig)
	assert.ErrorIs(t, err, models.ErrPaymentMismatch, "the old total is no longer chargeable")

	data, sig = f.callback(t, order.ID, "success", "200.00")
	result, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderPaid, got.PaymentStatus)
	assert.Equal(t, "200.00", got.TotalPrice.StringFixed(2))
	assert.Equal(t, models.PaymentStatusCompleted, pay.Status)
	assert.Equal(t, "200.00", pay.Amount.StringFixed(2))
	assert.Nil(t, pay.ErrorMessage)
}

func TestPriceOverride_RefusedOncePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)

	data, sig := f.callback(t, order.ID, "success", "250.00")
	_, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)

	err = f.orders.UpdateOrderField(ctx, order.ID, "admin:1",
		models.PriceOverride{TotalPrice: decimal.RequireFromString("200")})
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, "250.00", got.TotalPrice.StringFixed(2))
	assert.Equal(t, "250.00", pay.Amount.StringFixed(2))

	history, err := f.audit.History(ctx, models.SubjectOrder, order.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPriceOverride_AuditFailureKeepsPaymentAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)

	f.db.failInsertEditLog = errInjected
	err = f.orders.UpdateOrderField(ctx, order.ID, "admin:1",
		models.PriceOverride{TotalPrice: decimal.RequireFromString("200")})
	assert.ErrorIs(t, err, errInjected)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, "250.00", got.TotalPrice.StringFixed(2))
	assert.Equal(t, "250.00", pay.Amount.StringFixed(2))
}

func TestHandleCallback_StalePaymentAmountIsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)

	require.NoError(t, f.db.Store.InTx(ctx, func(tx repository.Tx) error {
		pay, err := tx.LockPaymentByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		pay.Amount = decimal.RequireFromString("999.00")
		return tx.UpdatePayment(ctx, pay)
	}))

	data, sig := f.callback(t, order.ID, "success", "250.00")
	_, err = f.reconciler.HandleCallback(ctx, data, sig)
	var mismatch *models.PaymentMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.NotNil(t, mismatch.RecordedAmount)
	assert.Equal(t, "999.00", mismatch.RecordedAmount.StringFixed(2))

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderUnpaid, got.PaymentStatus)
	assert.Equal(t, models.PaymentStatusPending, pay.Status)
}
