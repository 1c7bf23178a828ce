package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"shop-service/config"
	"shop-service/internal/contact"
	"shop-service/internal/models"
	"shop-service/internal/payment"
	"shop-service/internal/service"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const operatorHeader = "X-Operator-ID"

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService     *service.OrderService
	paymentService   *service.PaymentService
	inventoryService *service.InventoryService
	auditLog         *service.AuditLog
	reconciler       *service.Reconciler
	store            Pinger
	admins           config.AdminConfig
	webhookTimeout   time.Duration
	logger           *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	inventoryService *service.InventoryService,
	auditLog *service.AuditLog,
	reconciler *service.Reconciler,
	store Pinger,
	admins config.AdminConfig,
) *Handler {
	registerValidators()

	return &Handler{
		orderService:     orderService,
		paymentService:   paymentService,
		inventoryService: inventoryService,
		auditLog:         auditLog,
		reconciler:       reconciler,
		store:            store,
		admins:           admins,
		webhookTimeout:   5 * time.Second,
		logger:           util.GetLogger(),
	}
}

// SetWebhookTimeout bounds how long one callback delivery may take
func (h *Handler) SetWebhookTimeout(d time.Duration) {
	if d > 0 {
		h.webhookTimeout = d
	}
}

var validatorsOnce sync.Once

func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := contact.RegisterValidators(v); err != nil {
			util.GetLogger().Error("Failed to register validators", zap.Error(err))
		}
	})
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook/:gateway", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/users/:user_id/orders", h.listUserOrders)
		v1.POST("/orders/:id/payment", h.startPayment)
		v1.GET("/orders/:id/payment", h.getPayment)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.GET("/products/:id/stock", h.getStock)
	}

	admin := v1.Group("/admin", h.requireAdmin())
	{
		admin.PATCH("/orders/:id/status", h.updateOrderStatus)
		admin.PATCH("/orders/:id/fields", h.updateOrderField)
		admin.GET("/orders/:id/history", h.orderHistory)
		admin.GET("/orders/:id/gateway-status", h.gatewayStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) listUserOrders(c *gin.Context) {
	userID, ok := idParam(c, "user_id")
	if !ok {
		return
	}

	orders, err := h.orderService.GetOrdersByUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, "Failed to list orders", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type buyerRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// startPayment opens a checkout for the buyer's order
func (h *Handler) startPayment(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req buyerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	checkout, err := h.paymentService.StartPayment(c.Request.Context(), orderID, req.UserID)
	if err != nil {
		h.writeError(c, "Failed to start payment", err)
		return
	}

	c.JSON(http.StatusOK, checkout)
}

func (h *Handler) getPayment(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	pay, err := h.paymentService.GetPaymentByOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get payment", err)
		return
	}

	c.JSON(http.StatusOK, pay)
}

// cancelOrder lets the buyer cancel an unpaid order
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req buyerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.paymentService.CancelOrder(c.Request.Context(), orderID, req.UserID); err != nil {
		h.writeError(c, "Failed to cancel order", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": models.OrderStatusCancelled})
}

func (h *Handler) getStock(c *gin.Context) {
	productID, ok := idParam(c, "id")
	if !ok {
		return
	}

	stock, err := h.inventoryService.Available(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, "Failed to get stock", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"product_id": productID, "stock": stock})
}

// requireAdmin rejects requests whose operator is not listed in ADMIN_IDS
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator := c.GetHeader(operatorHeader)
		if !h.admins.IsAdmin(operator) {
			h.logger.Warn("Admin access denied",
				zap.String("operator_id", operator),
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Set("operator_id", "admin:"+operator)
		c.Next()
	}
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orderService.UpdateOrderStatus(c.Request.Context(), orderID, req.Status, c.GetString("operator_id")); err != nil {
		h.writeError(c, "Failed to update order status", err)
		return
	}

	h.respondOrder(c, orderID)
}

type fieldRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

func (h *Handler) updateOrderField(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	change, err := models.ParseOrderFieldChange(req.Field, req.Value)
	if err != nil {
		h.writeError(c, "Invalid field change", err)
		return
	}

	if err := h.orderService.UpdateOrderField(c.Request.Context(), orderID, c.GetString("operator_id"), change); err != nil {
		h.writeError(c, "Failed to update order", err)
		return
	}

	h.respondOrder(c, orderID)
}

func (h *Handler) orderHistory(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.auditLog.History(c.Request.Context(), models.SubjectOrder, orderID, limit)
	if err != nil {
		h.writeError(c, "Failed to read history", err)
		return
	}
	if entries == nil {
		entries = []models.EditLogEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "entries": entries})
}

func (h *Handler) gatewayStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	status, err := h.paymentService.GatewayStatus(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to query gateway", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) respondOrder(c *gin.Context, orderID int64) {
	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyPaid),
		errors.Is(err, models.ErrPaymentClosed),
		errors.Is(err, models.ErrOrderClosed):
		return http.StatusConflict
	case errors.Is(err, payment.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
