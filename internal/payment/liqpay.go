// Package payment implements the LiqPay checkout and callback signature protocol.
//
// Every request and callback travels as two form fields: data, the base64 of a
// JSON document, and signature, base64(sha1(private_key + data + private_key)).
package payment

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const apiVersion = "3"

var (
	ErrNotConfigured    = errors.New("liqpay credentials not configured")
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrMalformedPayload = errors.New("malformed callback payload")
)

// Config holds merchant credentials and endpoints
type Config struct {
	PublicKey     string
	PrivateKey    string
	APIURL        string
	Currency      string
	ServerURL     string
	ResultURL     string
	Language      string
	Sandbox       bool
	StatusTimeout time.Duration
}

// LiqPay signs checkout requests and verifies callbacks
type LiqPay struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewLiqPay creates a gateway client
func NewLiqPay(cfg Config) *LiqPay {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://www.liqpay.ua/api/3/"
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	if cfg.Currency == "" {
		cfg.Currency = "UAH"
	}
	if cfg.Language == "" {
		cfg.Language = "uk"
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 10 * time.Second
	}

	return &LiqPay{
		cfg:    cfg,
		client: &http.Client{},
		logger: util.GetLogger(),
	}
}

// Currency returns the settlement currency
func (l *LiqPay) Currency() string { return l.cfg.Currency }

// Configured reports whether both keys are present
func (l *LiqPay) Configured() bool {
	return l.cfg.PublicKey != "" && l.cfg.PrivateKey != ""
}

// Sign computes the signature of an encoded data field
func (l *LiqPay) Sign(data string) string {
	sum := sha1.Sum([]byte(l.cfg.PrivateKey + data + l.cfg.PrivateKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Encode serializes v into a data field and signs it
func (l *LiqPay) Encode(v any) (data, signature string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	data = base64.StdEncoding.EncodeToString(raw)
	return data, l.Sign(data), nil
}

type checkoutPayload struct {
	PublicKey   string `json:"public_key"`
	Version     string `json:"version"`
	Action      string `json:"action"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	OrderID     string `json:"order_id"`
	ServerURL   string `json:"server_url,omitempty"`
	ResultURL   string `json:"result_url,omitempty"`
	Language    string `json:"language"`
	PayTypes    string `json:"paytypes"`
}

// CheckoutRequest is what the buyer's browser POSTs to the gateway
type CheckoutRequest struct {
	URL       string `json:"url"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// Checkout builds a signed pay request for an order
func (l *LiqPay) Checkout(orderID int64, amount decimal.Decimal, description string) (*CheckoutRequest, error) {
	if !l.Configured() {
		return nil, ErrNotConfigured
	}

	data, signature, err := l.Encode(checkoutPayload{
		PublicKey:   l.cfg.PublicKey,
		Version:     apiVersion,
		Action:      "pay",
		Amount:      amount.StringFixed(2),
		Currency:    l.cfg.Currency,
		Description: description,
		OrderID:     strconv.FormatInt(orderID, 10),
		ServerURL:   l.cfg.ServerURL,
		ResultURL:   l.cfg.ResultURL,
		Language:    l.cfg.Language,
		PayTypes:    "card,liqpay",
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Checkout request built",
		zap.Int64("order_id", orderID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", l.cfg.Currency))

	return &CheckoutRequest{
		URL:       l.cfg.APIURL + "checkout",
		Data:      data,
		Signature: signature,
	}, nil
}

// FlexString decodes a JSON string or number into its textual form
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// CallbackPayload is the decoded data field of a server callback
type CallbackPayload struct {
	Action         string          `json:"action"`
	Status         string          `json:"status"`
	OrderID        FlexString      `json:"order_id"`
	PaymentID      FlexString      `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description,omitempty"`
	ErrCode        string          `json:"err_code,omitempty"`
	ErrDescription string          `json:"err_description,omitempty"`
}

// OrderNumber parses the merchant order id
func (p *CallbackPayload) OrderNumber() (int64, error) {
	id, err := strconv.ParseInt(string(p.OrderID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: order_id %q", ErrMalformedPayload, p.OrderID)
	}
	return id, nil
}

// VerifyCallback checks the signature and decodes the data field.
// No payload is returned unless the signature matches.
func (l *LiqPay) VerifyCallback(data, signature string) (*CallbackPayload, error) {
	if data == "" || signature == "" {
		return nil, fmt.Errorf("%w: missing data or signature", ErrMalformedPayload)
	}
	if l.cfg.PrivateKey == "" {
		return nil, ErrNotConfigured
	}

	expected := l.Sign(data)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return nil, ErrInvalidSignature
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var payload CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.OrderID == "" || payload.Status == "" {
		return nil, fmt.Errorf("%w: missing order_id or status", ErrMalformedPayload)
	}

	return &payload, nil
}

// MapStatus translates a gateway status into a payment status.
// ok is false for statuses that do not move the payment.
func (l *LiqPay) MapStatus(status string) (models.PaymentStatus, bool) {
	switch status {
	case "success":
		return models.PaymentStatusCompleted, true
	case "sandbox":
		if l.cfg.Sandbox {
			return models.PaymentStatusCompleted, true
		}
		return "", false
	case "failure", "error":
		return models.PaymentStatusFailed, true
	case "processing", "prepared", "wait_accept", "wait_secure", "wait_lc", "wait_card",
		"wait_compensation", "wait_reserve", "3ds_verify", "otp_verify", "cvv_verify",
		"captcha_verify", "password_verify", "phone_verify", "pin_verify", "sender_verify",
		"receiver_verify", "senderapp_verify", "ivr_verify", "invoice_wait", "cash_wait",
		"hold_wait", "init":
		return models.PaymentStatusProcessing, true
	}
	return "", false
}

type statusRequest struct {
	PublicKey string `json:"public_key"`
	Version   string `json:"version"`
	Action    string `json:"action"`
	OrderID   string `json:"order_id"`
}

// StatusResponse is the gateway's answer to a status query
type StatusResponse struct {
	Result         string          `json:"result"`
	Status         string          `json:"status"`
	OrderID        FlexString      `json:"order_id"`
	PaymentID      FlexString      `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ErrCode        string          `json:"err_code,omitempty"`
	ErrDescription string          `json:"err_description,omitempty"`
}

// QueryStatus asks the gateway for the current state of an order's payment.
// The call is bounded by the configured status timeout.
func (l *LiqPay) QueryStatus(ctx context.Context, orderID int64) (*StatusResponse, error) {
	ctx, span := util.StartSpan(ctx, "LiqPay.QueryStatus")
	defer span.End()

	if !l.Configured() {
		return nil, ErrNotConfigured
	}

	data, signature, err := l.Encode(statusRequest{
		PublicKey: l.cfg.PublicKey,
		Version:   apiVersion,
		Action:    "status",
		OrderID:   strconv.FormatInt(orderID, 10),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.StatusTimeout)
	defer cancel()

	form := url.Values{"data": {data}, "signature": {signature}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.APIURL+"request",
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.client.Do(req)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status request returned HTTP %d", resp.StatusCode)
		util.RecordError(span, err)
		return nil, err
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	l.logger.Info("Payment status checked",
		zap.Int64("order_id", orderID),
		zap.String("status", status.Status))

	return &status, nil
}
