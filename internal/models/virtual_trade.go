package models

import (
	"time"
)

// TradeStatus represents the lifecycle state of a virtual trade
type TradeStatus string

const (
	TradeStatusOpen    TradeStatus = "sim_open"
	TradeStatusClosed  TradeStatus = "sim_closed"
	TradeStatusSkipped TradeStatus = "sim_skipped"
)

// Valid reports whether the status is a known lifecycle state
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusOpen, TradeStatusClosed, TradeStatusSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition to next is allowed.
// Transitions are monotonic: sim_open -> sim_closed, sim_open -> sim_skipped.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	if s == next {
		return true
	}
	return s == TradeStatusOpen && (next == TradeStatusClosed || next == TradeStatusSkipped)
}

// TradeSide represents the trade direction
type TradeSide string

const (
	TradeSideLong  TradeSide = "LONG"
	TradeSideShort TradeSide = "SHORT"
)

// Valid reports whether the side is known
func (s TradeSide) Valid() bool {
	return s == TradeSideLong || s == TradeSideShort
}

// EntryType represents how the entry price is expressed
type EntryType string

const (
	EntryTypeZone  EntryType = "zone"
	EntryTypeExact EntryType = "exact"
)

// StopType represents the stop-loss handling mode
type StopType string

const (
	StopTypeHard StopType = "hard"
)

// Defaults applied at ingestion when the signal omits simulation parameters
const (
	DefaultStrategyID      = "S_A_TP1_BE_TP2"
	DefaultStrategyVersion = "1"
	DefaultFeeRate         = 0.00055
	DefaultLeverage        = 15
	DefaultMarginUSD       = 100
	DefaultEntryTimeoutSec = 172800 // 48h
)

// VirtualTrade is a paper position derived from a trading signal,
// tracked for later evaluation without real capital.
type VirtualTrade struct {
	ID string `gorm:"primaryKey;size:64" json:"id"`

	// Provenance
	SignalID     string `gorm:"column:signal_id;size:64;index" json:"signal_id"`
	Source       string `gorm:"size:100" json:"source"`
	SourceType   string `gorm:"column:source_type;size:20" json:"source_type"` // telegram|manual|api
	SourceName   string `gorm:"column:source_name;size:100" json:"source_name"`
	SourceRef    string `gorm:"column:source_ref;size:200" json:"source_ref"`
	OriginalText string `gorm:"column:original_text;type:text" json:"original_text"`
	SignalReason string `gorm:"column:signal_reason;type:text" json:"signal_reason"`
	PostedTs     int64  `gorm:"column:posted_ts" json:"posted_ts"` // epoch millis

	// Trade passport
	Symbol         string    `gorm:"size:20;not null;index" json:"symbol"`
	Side           TradeSide `gorm:"size:10;not null" json:"side"`
	EntryType      EntryType `gorm:"column:entry_type;size:10" json:"entry_type"`
	EntryMin       *float64  `gorm:"column:entry_min;type:decimal(20,8)" json:"entry_min"`
	EntryMax       *float64  `gorm:"column:entry_max;type:decimal(20,8)" json:"entry_max"`
	Tp1            *float64  `gorm:"column:tp1;type:decimal(20,8)" json:"tp1"`
	Tp2            *float64  `gorm:"column:tp2;type:decimal(20,8)" json:"tp2"`
	Tp3            *float64  `gorm:"column:tp3;type:decimal(20,8)" json:"tp3"`
	TargetsJSON    string    `gorm:"column:targets_json;type:text" json:"targets_json"`
	Sl             *float64  `gorm:"column:sl;type:decimal(20,8)" json:"sl"`
	SlType         StopType  `gorm:"column:sl_type;size:10" json:"sl_type"`
	SourceLeverage string    `gorm:"column:source_leverage;size:20" json:"source_leverage"`

	// Simulation parameters
	StrategyID      string  `gorm:"column:strategy_id;size:50;index" json:"strategy_id"`
	StrategyVersion string  `gorm:"column:strategy_version;size:10" json:"strategy_version"`
	FeeRate         float64 `gorm:"column:fee_rate;type:decimal(10,8)" json:"fee_rate"`
	Leverage        int     `gorm:"not null" json:"leverage"`
	MarginUSD       float64 `gorm:"column:margin_usd;type:decimal(20,8)" json:"margin_usd"`
	EntryTimeoutSec int64   `gorm:"column:entry_timeout_sec" json:"entry_timeout_sec"`

	// Lifecycle, written by the evaluation process via the update endpoint
	Status      TradeStatus `gorm:"size:20;not null;index" json:"status"`
	WasFillable *bool       `gorm:"column:was_fillable" json:"was_fillable"`
	EntryPrice  *float64    `gorm:"column:entry_price;type:decimal(20,8)" json:"entry_price"`
	PositionQty *float64    `gorm:"column:position_qty;type:decimal(20,8)" json:"position_qty"`
	MarginUsed  *float64    `gorm:"column:margin_used;type:decimal(20,8)" json:"margin_used"`
	Tp1Hit      bool        `gorm:"column:tp1_hit;default:false" json:"tp1_hit"`
	Tp2Hit      bool        `gorm:"column:tp2_hit;default:false" json:"tp2_hit"`
	SlHit       bool        `gorm:"column:sl_hit;default:false" json:"sl_hit"`
	TpCountHit  int         `gorm:"column:tp_count_hit;default:0" json:"tp_count_hit"`
	PnlNet      *float64    `gorm:"column:pnl_net;type:decimal(20,8)" json:"pnl_net"`
	RoiPercent  *float64    `gorm:"column:roi_percent;type:decimal(10,4)" json:"roi_percent"`

	// Concurrency token, bumped on every update
	Version int `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for VirtualTrade model
func (VirtualTrade) TableName() string {
	return "virtual_trades"
}

// NotionalUSD returns the position notional the simulation would open
func (t *VirtualTrade) NotionalUSD() float64 {
	return t.MarginUSD * float64(t.Leverage)
}

// EntryTimedOut reports whether the entry zone expired without a fill
func (t *VirtualTrade) EntryTimedOut(now time.Time) bool {
	if t.Status != TradeStatusOpen || t.EntryPrice != nil {
		return false
	}
	deadline := t.CreatedAt.Add(time.Duration(t.EntryTimeoutSec) * time.Second)
	return !now.Before(deadline)
}

// RecountTakeProfits keeps tp_count_hit consistent with the tp hit flags
func (t *VirtualTrade) RecountTakeProfits() {
	count := 0
	if t.Tp1Hit {
		count++
	}
	if t.Tp2Hit {
		count++
	}
	t.TpCountHit = count
}
