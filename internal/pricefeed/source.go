package pricefeed

import (
	"context"
)

// PriceUpdate is a single price observation for an instrument
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // epoch millis
}

// Subscriber receives price updates pushed by a source
type Subscriber interface {
	OnPriceUpdate(update PriceUpdate)
}

// Source is a price data capability. Two implementations exist: a live
// exchange feed and a deterministic synthetic generator; configuration
// selects one, they are never mixed.
type Source interface {
	// Connect starts the feed
	Connect(ctx context.Context) error

	// Subscribe subscribes to price updates for given symbols
	Subscribe(symbols []string) error

	// SetSubscriber sets the price update subscriber
	SetSubscriber(subscriber Subscriber)

	// GetCurrentPrice returns the current price for a symbol
	GetCurrentPrice(symbol string) (float64, error)

	// IsConnected reports whether the feed is running
	IsConnected() bool

	// Close stops the feed
	Close() error

	// Name identifies the source
	Name() string
}
