package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-service/config"
	"shop-service/internal/api"
	"shop-service/internal/broker"
	"shop-service/internal/memstore"
	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/redisclient"
	"shop-service/internal/repository"
	"shop-service/internal/service"
	"shop-service/internal/store"
	"shop-service/internal/util"
	"shop-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shop service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	var (
		stockCache service.StockCache
		deduper    service.DeliveryDeduper
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		stockCache, deduper = redisClient, redisClient
		logger.Info("Redis connected")
	}

	var eventPublisher service.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		eventPublisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized")
	}

	gateway := payment.NewLiqPay(payment.Config{
		PublicKey:     cfg.Gateway.PublicKey,
		PrivateKey:    cfg.Gateway.PrivateKey,
		APIURL:        cfg.Gateway.APIURL,
		Currency:      cfg.Gateway.Currency,
		ServerURL:     cfg.Gateway.CallbackURL,
		ResultURL:     cfg.Gateway.ResultURL,
		Sandbox:       cfg.Gateway.Sandbox,
		StatusTimeout: cfg.Gateway.StatusTimeout,
	})
	if !gateway.Configured() {
		logger.Warn("LiqPay keys missing, payments are disabled")
	}

	auditLog := service.NewAuditLog(repo)
	inventoryService := service.NewInventoryService(repo, stockCache)
	orderService := service.NewOrderService(repo, auditLog, inventoryService, eventPublisher)
	paymentService := service.NewPaymentService(repo, gateway, auditLog, eventPublisher)
	reconciler := service.NewReconciler(repo, gateway, deduper, eventPublisher)
	if cfg.Gateway.StatusProbe {
		reconciler.EnableStatusProbe()
	}

	if err := inventoryService.SyncStockToCache(ctx); err != nil {
		logger.Warn("Failed to sync stock to cache", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notificationWorker *worker.NotificationWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, worker.NewLogNotifier())
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, inventoryService, auditLog, reconciler, repo, cfg.Admin)
	handler.SetWebhookTimeout(cfg.Server.WebhookTimeout)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if notificationWorker != nil {
		if err := notificationWorker.Stop(); err != nil {
			logger.Error("Failed to stop notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openRepository connects the configured store. The memory driver starts with
// a small demo catalog so the API is usable without Postgres.
func openRepository(ctx context.Context, cfg config.DatabaseConfig) (repository.Repository, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		util.GetLogger().Warn("Using the in-memory store: data is lost on restart and writes slow down as it grows")
		mem := memstore.New()
		mem.AddProduct(models.Product{Name: "Demo mug", Price: decimal.RequireFromString("125.00"), Stock: 20})
		mem.AddProduct(models.Product{Name: "Demo notebook", Price: decimal.RequireFromString("80.00"), Stock: 50})
		return mem, nil

	case config.DriverPostgres:
		db, err := store.NewStore(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
