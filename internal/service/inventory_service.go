package service

import (
	"context"
	"fmt"

	"shop-service/internal/repository"
	"shop-service/internal/util"

	"go.uber.org/zap"
)

// InventoryService serves product stock reads through a cache.
// The database stays authoritative; the cache only absorbs read traffic.
type InventoryService struct {
	repo   repository.Reader
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service. cache may be nil.
func NewInventoryService(repo repository.Reader, cache StockCache) *InventoryService {
	return &InventoryService{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Available returns the current stock of a product
func (s *InventoryService) Available(ctx context.Context, productID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Available")
	defer span.End()

	if s.cache != nil {
		stock, ok, err := s.cache.GetStock(ctx, productID)
		if err != nil {
			s.logger.Warn("Stock cache read failed, falling back to DB",
				zap.Int64("product_id", productID),
				zap.Error(err))
		} else if ok {
			return stock, nil
		}
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}

	s.store(ctx, productID, product.Stock)
	return product.Stock, nil
}

// Refresh reloads one product's stock into the cache
func (s *InventoryService) Refresh(ctx context.Context, productID int64) {
	if s.cache == nil {
		return
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		s.logger.Warn("Failed to reload stock", zap.Int64("product_id", productID), zap.Error(err))
		return
	}
	s.store(ctx, productID, product.Stock)
}

// SyncStockToCache loads every product's stock into the cache
func (s *InventoryService) SyncStockToCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	s.logger.Info("Starting stock sync to cache")

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	stocks := make(map[int64]int, len(products))
	for _, product := range products {
		stocks[product.ID] = product.Stock
	}
	if len(stocks) > 0 {
		if err := s.cache.SetStocks(ctx, stocks); err != nil {
			return fmt.Errorf("failed to cache stock: %w", err)
		}
	}

	s.logger.Info("Stock sync completed", zap.Int("count", len(products)))
	return nil
}

func (s *InventoryService) store(ctx context.Context, productID int64, stock int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStock(ctx, productID, stock); err != nil {
		s.logger.Warn("Failed to cache stock",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}
