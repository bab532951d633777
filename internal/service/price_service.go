package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/signal-tracker/internal/pricefeed"
)

const priceFreshness = 5 * time.Second

// PriceService caches prices from the configured source for dashboard
// display. Prices are held in memory, mirrored to Redis with a short TTL
// and published on the price_updates channel.
type PriceService struct {
	redis  *redis.Client
	source pricefeed.Source

	prices    map[string]pricefeed.PriceUpdate
	pricesMux sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPriceService creates a new PriceService
func NewPriceService(redisClient *redis.Client, source pricefeed.Source) *PriceService {
	return &PriceService{
		redis:  redisClient,
		source: source,
		prices: make(map[string]pricefeed.PriceUpdate),
	}
}

// Start connects the price source and subscribes to the given symbols
func (s *PriceService) Start(ctx context.Context, symbols []string) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.source.SetSubscriber(s)

	if err := s.source.Connect(s.ctx); err != nil {
		return err
	}

	if err := s.source.Subscribe(symbols); err != nil {
		log.Printf("[PriceService] Failed to subscribe: %v", err)
	}

	log.Printf("[PriceService] Started with %s source, %d symbols", s.source.Name(), len(symbols))
	return nil
}

// OnPriceUpdate implements pricefeed.Subscriber
func (s *PriceService) OnPriceUpdate(update pricefeed.PriceUpdate) {
	s.pricesMux.Lock()
	s.prices[update.Symbol] = update
	s.pricesMux.Unlock()

	if s.redis == nil {
		return
	}

	key := fmt.Sprintf("price:%s", update.Symbol)

	s.redis.HSet(s.ctx, key, map[string]interface{}{
		"price":     update.Price,
		"timestamp": update.Timestamp,
	})
	s.redis.Expire(s.ctx, key, priceFreshness)

	s.redis.Publish(s.ctx, "price_updates", fmt.Sprintf("%s:%.8f", update.Symbol, update.Price))
}

// GetPrice returns the current price for a symbol, trying the in-memory
// cache, then Redis, then the source itself
func (s *PriceService) GetPrice(symbol string) (float64, error) {
	s.pricesMux.RLock()
	update, ok := s.prices[symbol]
	s.pricesMux.RUnlock()

	if ok && time.Now().UnixMilli()-update.Timestamp < priceFreshness.Milliseconds() {
		return update.Price, nil
	}

	if s.redis != nil {
		key := fmt.Sprintf("price:%s", symbol)
		if price, err := s.redis.HGet(s.ctx, key, "price").Float64(); err == nil {
			return price, nil
		}
	}

	return s.source.GetCurrentPrice(symbol)
}

// GetAllPrices returns all currently cached prices
func (s *PriceService) GetAllPrices() map[string]float64 {
	s.pricesMux.RLock()
	defer s.pricesMux.RUnlock()

	result := make(map[string]float64, len(s.prices))
	for symbol, update := range s.prices {
		result[symbol] = update.Price
	}

	return result
}

// Status reports the source name and its connectivity
func (s *PriceService) Status() map[string]interface{} {
	return map[string]interface{}{
		"source":    s.source.Name(),
		"connected": s.source.IsConnected(),
	}
}

// Stop stops the price service
func (s *PriceService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	if err := s.source.Close(); err != nil {
		log.Printf("[PriceService] Error closing source: %v", err)
	}

	log.Printf("[PriceService] Stopped")
}
