package pricefeed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSubscriber struct {
	mu      sync.Mutex
	updates []PriceUpdate
}

func (c *captureSubscriber) OnPriceUpdate(update PriceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, update)
}

func (c *captureSubscriber) all() []PriceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PriceUpdate, len(c.updates))
	copy(out, c.updates)
	return out
}

func walk(seed int64, symbols []string, steps int) map[string]float64 {
	src := NewSyntheticSource(seed, 0)
	_ = src.Subscribe(symbols)
	for i := 0; i < steps; i++ {
		src.Step()
	}

	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		price, _ := src.GetCurrentPrice(symbol)
		out[symbol] = price
	}
	return out
}

func TestSameSeedSameWalk(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "YGGUSDT"}

	first := walk(42, symbols, 25)
	second := walk(42, symbols, 25)
	assert.Equal(t, first, second)
}

func TestDifferentSeedsDiverge(t *testing.T) {
	symbols := []string{"BTCUSDT"}

	first := walk(1, symbols, 10)
	second := walk(2, symbols, 10)
	assert.NotEqual(t, first["BTCUSDT"], second["BTCUSDT"])
}

func TestWalkStaysNearBase(t *testing.T) {
	prices := walk(7, []string{"YGGUSDT"}, 50)

	// 50 ticks of +-0.2% cannot move the price more than ~10%
	assert.InDelta(t, 0.63, prices["YGGUSDT"], 0.63*0.15)
}

func TestSubscribeNormalizesAndDefaults(t *testing.T) {
	src := NewSyntheticSource(1, 0)
	require.NoError(t, src.Subscribe([]string{"btcusdt", "NEWCOIN"}))

	price, err := src.GetCurrentPrice("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 115000.0, price)

	price, err = src.GetCurrentPrice("NEWCOIN")
	require.NoError(t, err)
	assert.Equal(t, syntheticDefaultBase, price)

	_, err = src.GetCurrentPrice("UNKNOWN")
	assert.Error(t, err)
}

func TestStepNotifiesSubscriber(t *testing.T) {
	src := NewSyntheticSource(9, 0)
	require.NoError(t, src.Subscribe([]string{"BTCUSDT", "ETHUSDT"}))

	sub := &captureSubscriber{}
	src.SetSubscriber(sub)

	src.Step()
	src.Step()

	updates := sub.all()
	require.Len(t, updates, 4)
	// Symbols are emitted in sorted order on every tick
	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.Equal(t, "ETHUSDT", updates[1].Symbol)
	for _, u := range updates {
		assert.Greater(t, u.Price, 0.0)
		assert.NotZero(t, u.Timestamp)
	}
}
