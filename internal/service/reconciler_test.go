package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCallback_SuccessSettlesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)

	data, sig := f.callback(t, order.ID, "success", "250.00")
	result, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.Equal(t, models.PaymentStatusCompleted, result.PaymentStatus)

	got, pay := f.state(t, order.ID)
	require.NotNil(t, pay)
	assert.Equal(t, models.PaymentStatusCompleted, pay.Status)
	require.NotNil(t, pay.ExternalPaymentID)
	assert.Equal(t, "2395857381", *pay.ExternalPaymentID)
	assert.Equal(t, models.OrderPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentMethod)
	assert.Equal(t, models.PaymentMethodLiqPay, *got.PaymentMethod)
	assert.Equal(t, models.OrderStatusPending, got.Status, "fulfilment status is operator driven")
	assert.Equal(t, 3, f.stock(t))

	require.Len(t, f.events.paid, 1)
	assert.Equal(t, order.ID, f.events.paid[0].OrderID)
	assert.Equal(t, "2395857381", f.events.paid[0].ExternalPaymentID)
}

func TestHandleCallback_TamperedSignatureRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)

	data, sig := f.callback(t, order.ID, "success", "250.00")
	tampered := []byte(sig)
	tampered[0] ^= 0x01

	result, err := f.reconciler.HandleCallback(ctx, data, string(tampered))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderUnpaid, got.PaymentStatus)
	assert.Equal(t, models.PaymentStatusPending, pay.Status)
	assert.Empty(t, f.events.paid)
}

func TestHandleCallback_MalformedPayload(t *testing.T) {
	f := newFixture(t)

	data := "not-base64!"
	_, err := f.reconciler.HandleCallback(context.Background(), data, f.gateway.Sign(data))
	assert.ErrorIs(t, err, payment.ErrMalformedPayload)
}

func TestHandleCallback_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)

	data, sig := f.callback(t, order.ID, "success", "250.00")
	first, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)
	orderAfter, payAfter := f.state(t, order.ID)

	for i := 0; i < 3; i++ {
		again, err := f.reconciler.HandleCallback(ctx, data, sig)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, again.Outcome)
	}

	orderNow, payNow := f.state(t, order.ID)
	assert.Equal(t, orderAfter, orderNow)
	assert.Equal(t, payAfter.Status, payNow.Status)
	assert.Equal(t, payAfter.UpdatedAt, payNow.UpdatedAt)
	assert.Len(t, f.events.paid, 1)

	history, err := f.audit.History(ctx, models.SubjectOrder, order.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 3, f.stock(t))
}

func TestHandleCallback_DeduperShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deduper := newMemoryDeduper()
	reconciler := NewReconciler(f.db, f.gateway, deduper, f.events)
	order := f.createOrder(t, 7, 1)

	data, sig := f.callback(t, order.ID, "success", "125.00")
	first, err := reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.True(t, deduper.seen[Fingerprint(data, sig)])

	second, err := reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Len(t, f.events.paid, 1)
}

func TestHandleCallback_AmountMismatchRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 2)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)

	data, sig := f.callback(t, order.ID, "success", "1.00")
	result, err := f.reconciler.HandleCallback(ctx, data, sig)

	assert.ErrorIs(t, err, models.ErrPaymentMismatch)
	var mismatch *models.PaymentMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "250.00", mismatch.ExpectedAmount.StringFixed(2))
	assert.Equal(t, "1.00", mismatch.ReportedAmount.StringFixed(2))
	require.NotNil(t, result)
	assert.Equal(t, OutcomeMismatch, result.Outcome)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderUnpaid, got.PaymentStatus)
	assert.Equal(t, models.PaymentStatusPending, pay.Status)
	require.NotNil(t, pay.ErrorMessage)
	assert.Contains(t, *pay.ErrorMessage, "mismatch")
	assert.Empty(t, f.events.paid)
}

func TestHandleCallback_CurrencyMismatchWithoutPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 1)

	data, sig, err := f.gateway.Encode(map[string]any{
		"status":   "success",
		"order_id": order.ID,
		"amount":   125,
		"currency": "USD",
	})
	require.NoError(t, err)

	_, err = f.reconciler.HandleCallback(ctx, data, sig)
	assert.ErrorIs(t, err, models.ErrPaymentMismatch)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderUnpaid, got.PaymentStatus)
	require.NotNil(t, pay, "the anomaly is kept on a pending payment")
	assert.Equal(t, models.PaymentStatusPending, pay.Status)
	assert.Equal(t, "UAH", pay.Currency)
	require.NotNil(t, pay.ErrorMessage)
}

func TestHandleCallback_MismatchNeverTouchesCompletedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 1)

	data, sig := f.callback(t, order.ID, "success", "125.00")
	_, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	_, before := f.state(t, order.ID)

	data, sig = f.callback(t, order.ID, "success", "99.00")
	_, err = f.reconciler.HandleCallback(ctx, data, sig)
	assert.ErrorIs(t, err, models.ErrPaymentMismatch)

	got, after := f.state(t, order.ID)
	assert.Equal(t, models.OrderPaid, got.PaymentStatus)
	assert.Equal(t, *before, *after)
}

func TestHandleCallback_FailsafePaymentFromOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 42, 2)

	data, sig := f.callback(t, order.ID, "success", "250.00")
	result, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	got, pay := f.state(t, order.ID)
	require.NotNil(t, pay)
	require.NotNil(t, pay.UserID)
	assert.Equal(t, int64(42), *pay.UserID)
	assert.Equal(t, "250.00", pay.Amount.StringFixed(2))
	assert.Equal(t, "UAH", pay.Currency)
	assert.Equal(t, models.PaymentMethodLiqPay, pay.PaymentMethod)
	assert.Equal(t, models.PaymentStatusCompleted, pay.Status)
	assert.Equal(t, models.OrderPaid, got.PaymentStatus)
}

func TestHandleCallback_StatusSequences(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []string
		wantPayment models.PaymentStatus
		wantOrder   models.OrderPaymentStatus
		wantPaid    int
		wantFailed  int
	}{
		{"failure then success", []string{"failure", "success"}, models.PaymentStatusCompleted, models.OrderPaid, 1, 1},
		{"success then failure", []string{"success", "failure"}, models.PaymentStatusCompleted, models.OrderPaid, 1, 0},
		{"processing then success", []string{"processing", "wait_secure", "success"}, models.PaymentStatusCompleted, models.OrderPaid, 1, 0},
		{"success then processing", []string{"success", "processing"}, models.PaymentStatusCompleted, models.OrderPaid, 1, 0},
		{"error only", []string{"error"}, models.PaymentStatusFailed, models.OrderFailed, 0, 1},
		{"processing only", []string{"processing"}, models.PaymentStatusProcessing, models.OrderUnpaid, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			order := f.createOrder(t, 7, 1)
			_, err := f.payments.StartPayment(ctx, order.ID, 7)
			require.NoError(t, err)

			for _, status := range tt.statuses {
				data, sig := f.callback(t, order.ID, status, "125.00")
				_, err := f.reconciler.HandleCallback(ctx, data, sig)
				require.NoError(t, err)
			}

			got, pay := f.state(t, order.ID)
			assert.Equal(t, tt.wantPayment, pay.Status)
			assert.Equal(t, tt.wantOrder, got.PaymentStatus)
			assert.Len(t, f.events.paid, tt.wantPaid)
			assert.Len(t, f.events.failed, tt.wantFailed)
			assert.Equal(t, 4, f.stock(t))
		})
	}
}

func TestHandleCallback_FailureKeepsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 1)

	data, sig, err := f.gateway.Encode(map[string]any{
		"status":          "failure",
		"order_id":        order.ID,
		"amount":          "125.00",
		"currency":        "UAH",
		"err_code":        "limit",
		"err_description": "Card limit exceeded",
	})
	require.NoError(t, err)

	_, err = f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)

	_, pay := f.state(t, order.ID)
	require.NotNil(t, pay.ErrorMessage)
	assert.Equal(t, "Card limit exceeded", *pay.ErrorMessage)
	require.Len(t, f.events.failed, 1)
	assert.Equal(t, "Card limit exceeded", f.events.failed[0].Reason)
}

func TestHandleCallback_SuccessAfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 1)
	_, err := f.payments.StartPayment(ctx, order.ID, 7)
	require.NoError(t, err)
	require.NoError(t, f.payments.CancelOrder(ctx, order.ID, 7))

	data, sig := f.callback(t, order.ID, "success", "125.00")
	result, err := f.reconciler.HandleCallback(ctx, data, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, result.Outcome)

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.PaymentStatusCompleted, pay.Status)
	assert.Equal(t, models.OrderPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
}

func TestHandleCallback_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	data, sig := f.callback(t, 9999, "success", "125.00")
	_, err := f.reconciler.HandleCallback(context.Background(), data, sig)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestHandleCallback_IgnoredStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, 7, 1)

	for _, status := range []string{"reversed", "sandbox"} {
		data, sig := f.callback(t, order.ID, status, "125.00")
		result, err := f.reconciler.HandleCallback(ctx, data, sig)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, result.Outcome, status)
	}

	got, pay := f.state(t, order.ID)
	assert.Equal(t, models.OrderUnpaid, got.PaymentStatus)
	assert.Nil(t, pay)
}

func TestHandleCallback_ProcessingTriggersStatusProbe(t *testing.T) {
	probed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/request", r.URL.Path)
		probed <- r.FormValue("data")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"ok","status":"processing","order_id":"1"}`))
	}))
	defer srv.Close()

	f := newFixture(t)
	gw := payment.NewLiqPay(payment.Config{
		PublicKey:  "test_public",
		PrivateKey: "test_private",
		APIURL:     srv.URL + "/api/",
	})
	reconciler := NewReconciler(f.db, gw, nil, f.events)
	reconciler.EnableStatusProbe()
	order := f.createOrder(t, 7, 1)

	data, sig := f.callback(t, order.ID, "processing", "125.00")
	result, err := reconciler.HandleCallback(context.Background(), data, sig)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, result.PaymentStatus)

	select {
	case form := <-probed:
		assert.NotEmpty(t, form)
	case <-time.After(5 * time.Second):
		t.Fatal("status probe was not sent")
	}
}
