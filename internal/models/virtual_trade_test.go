package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TradeStatus
		allowed  bool
	}{
		{TradeStatusOpen, TradeStatusOpen, true},
		{TradeStatusOpen, TradeStatusClosed, true},
		{TradeStatusOpen, TradeStatusSkipped, true},
		{TradeStatusClosed, TradeStatusClosed, true},
		{TradeStatusClosed, TradeStatusOpen, false},
		{TradeStatusClosed, TradeStatusSkipped, false},
		{TradeStatusSkipped, TradeStatusSkipped, true},
		{TradeStatusSkipped, TradeStatusOpen, false},
		{TradeStatusSkipped, TradeStatusClosed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, TradeStatusOpen.Valid())
	assert.True(t, TradeStatusClosed.Valid())
	assert.True(t, TradeStatusSkipped.Valid())
	assert.False(t, TradeStatus("open").Valid())
	assert.False(t, TradeStatus("").Valid())
}

func TestSideValid(t *testing.T) {
	assert.True(t, TradeSideLong.Valid())
	assert.True(t, TradeSideShort.Valid())
	assert.False(t, TradeSide("BUY").Valid())
}

func TestNotionalUSD(t *testing.T) {
	trade := VirtualTrade{MarginUSD: 100, Leverage: 15}
	assert.Equal(t, 1500.0, trade.NotionalUSD())
}

func TestEntryTimedOut(t *testing.T) {
	now := time.Now()
	entry := 0.627

	trade := VirtualTrade{
		Status:          TradeStatusOpen,
		EntryTimeoutSec: 172800,
		CreatedAt:       now.Add(-49 * time.Hour),
	}
	assert.True(t, trade.EntryTimedOut(now))

	// Still inside the window
	trade.CreatedAt = now.Add(-47 * time.Hour)
	assert.False(t, trade.EntryTimedOut(now))

	// Filled trades never time out
	trade.CreatedAt = now.Add(-49 * time.Hour)
	trade.EntryPrice = &entry
	assert.False(t, trade.EntryTimedOut(now))

	// Closed trades are out of scope for the sweeper
	trade.EntryPrice = nil
	trade.Status = TradeStatusClosed
	assert.False(t, trade.EntryTimedOut(now))
}

func TestRecountTakeProfits(t *testing.T) {
	trade := VirtualTrade{}
	trade.RecountTakeProfits()
	assert.Equal(t, 0, trade.TpCountHit)

	trade.Tp1Hit = true
	trade.RecountTakeProfits()
	assert.Equal(t, 1, trade.TpCountHit)

	trade.Tp2Hit = true
	trade.RecountTakeProfits()
	assert.Equal(t, 2, trade.TpCountHit)

	// Recount corrects a stale counter
	trade.Tp1Hit = false
	trade.Tp2Hit = false
	trade.RecountTakeProfits()
	assert.Equal(t, 0, trade.TpCountHit)
}
