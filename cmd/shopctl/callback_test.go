package main

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"shop-service/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway() *payment.LiqPay {
	return payment.NewLiqPay(payment.Config{PublicKey: "pub", PrivateKey: "priv"})
}

func TestSignThenVerify(t *testing.T) {
	gw := testGateway()
	var out bytes.Buffer

	require.NoError(t, signCallback(&out, gw, callbackOptions{
		orderID: 12, status: "success", amount: "250", paymentID: 77, asForm: true,
	}))

	form, err := url.ParseQuery(strings.TrimSpace(out.String()))
	require.NoError(t, err)

	payload, err := gw.VerifyCallback(form.Get("data"), form.Get("signature"))
	require.NoError(t, err)
	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "250.00", payload.Amount.StringFixed(2))
	assert.Equal(t, "UAH", payload.Currency)
	assert.Equal(t, payment.FlexString("77"), payload.PaymentID)

	var report bytes.Buffer
	require.NoError(t, verifyCallback(&report, gw, form.Get("data"), form.Get("signature")))
	assert.Contains(t, report.String(), `"payment_status": "completed"`)
}

func TestSignCallback_Rejections(t *testing.T) {
	var out bytes.Buffer

	err := signCallback(&out, payment.NewLiqPay(payment.Config{}), callbackOptions{orderID: 1, amount: "1"})
	assert.ErrorIs(t, err, payment.ErrNotConfigured)

	err = signCallback(&out, testGateway(), callbackOptions{orderID: 1, amount: "abc"})
	assert.Error(t, err)

	err = signCallback(&out, testGateway(), callbackOptions{orderID: 0, amount: "1"})
	assert.Error(t, err)
}

func TestVerifyCallback_BadSignature(t *testing.T) {
	gw := testGateway()
	data, _, err := gw.Encode(map[string]string{"order_id": "1", "status": "success"})
	require.NoError(t, err)

	var out bytes.Buffer
	err = verifyCallback(&out, gw, data, "forged")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Empty(t, out.String())
}

func TestParseSeeds(t *testing.T) {
	got, err := parseSeeds([]string{"Mug:125.00:20", "Cable 3:1m:9.5:3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Mug", got[0].name)
	assert.Equal(t, 20, got[0].stock)
	assert.Equal(t, "Cable 3:1m", got[1].name)
	assert.Equal(t, "9.50", got[1].price.StringFixed(2))

	for _, bad := range []string{"Mug", "Mug:x:1", "Mug:1:-1", ":1:1"} {
		_, err := parseSeeds([]string{bad})
		assert.Error(t, err, bad)
	}
}
