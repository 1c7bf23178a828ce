package service

import (
	"context"

	"shop-service/internal/models"
	"shop-service/internal/payment"

	"github.com/shopspring/decimal"
)

// EventPublisher publishes domain events after a transaction commits
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// StockCache is a read-through cache of product stock
type StockCache interface {
	GetStock(ctx context.Context, productID int64) (int, bool, error)
	SetStock(ctx context.Context, productID int64, stock int) error
	SetStocks(ctx context.Context, stocks map[int64]int) error
}

// DeliveryDeduper remembers callback deliveries that were fully processed
type DeliveryDeduper interface {
	SeenDelivery(ctx context.Context, fingerprint string) (bool, error)
	MarkDelivery(ctx context.Context, fingerprint string) error
}

// Gateway is the payment provider protocol
type Gateway interface {
	Configured() bool
	Currency() string
	Checkout(orderID int64, amount decimal.Decimal, description string) (*payment.CheckoutRequest, error)
	VerifyCallback(data, signature string) (*payment.CallbackPayload, error)
	MapStatus(status string) (models.PaymentStatus, bool)
	QueryStatus(ctx context.Context, orderID int64) (*payment.StatusResponse, error)
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error {
	return nil
}

func (noopPublisher) PublishPaymentFailed(context.Context, *models.PaymentFailedEvent) error {
	return nil
}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
