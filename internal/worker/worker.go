package worker

import (
	"context"

	"shop-service/internal/broker"
	"shop-service/internal/models"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// Consumer is the message source the worker drains
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Notifier tells a buyer what happened to their payment
type Notifier interface {
	NotifyPaid(ctx context.Context, event *models.OrderPaidEvent) error
	NotifyPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// NotificationWorker turns payment events into buyer notifications
type NotificationWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer Consumer, notifier Notifier) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderPaid(notifier.NotifyPaid)
	eventHandler.OnPaymentFailed(notifier.NotifyPaymentFailed)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// LogNotifier records notifications in the service log. It stands in for a
// buyer-facing channel until one is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) NotifyPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	n.logger.Info("Notify buyer: payment received",
		zap.Int64("user_id", event.UserID),
		zap.Int64("order_id", event.OrderID),
		zap.String("amount", event.Amount.StringFixed(2)),
		zap.String("event_id", event.EventID))
	return nil
}

func (n *LogNotifier) NotifyPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	n.logger.Info("Notify buyer: payment failed",
		zap.Int64("user_id", event.UserID),
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason),
		zap.String("event_id", event.EventID))
	return nil
}
