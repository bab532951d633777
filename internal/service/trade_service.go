package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/signal-tracker/internal/models"
	"github.com/signal-tracker/internal/repository"
)

const (
	// MsgMissingRequired is the exact error body the ingestion contract promises
	MsgMissingRequired = "Missing required fields: symbol, side"

	defaultListLimit = 50
	maxListLimit     = 500
	sweepBatchSize   = 200
)

// ValidationError marks a client-caused input error (HTTP 400, never retried)
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// TradeStore is the persistence surface the trade service needs
type TradeStore interface {
	Create(trade *models.VirtualTrade) error
	GetByID(id string) (*models.VirtualTrade, error)
	List(filter repository.TradeFilter) ([]models.VirtualTrade, error)
	Count() (int64, error)
	UpdateWithLock(id string, expectedVersion *int, mutate func(*models.VirtualTrade) error) (*models.VirtualTrade, error)
	ListExpiredOpen(now time.Time, limit int) ([]models.VirtualTrade, error)
}

// TradeService turns raw trading signals into tracked virtual trades and
// guards their lifecycle rules
type TradeService struct {
	store TradeStore
}

// NewTradeService creates a new TradeService
func NewTradeService(store TradeStore) *TradeService {
	return &TradeService{store: store}
}

// CreateTradeRequest is the ingestion payload for a trading signal
type CreateTradeRequest struct {
	ID           string `json:"id"`
	SignalID     string `json:"signalId"`
	Source       string `json:"source"`
	SourceType   string `json:"sourceType"`
	SourceName   string `json:"sourceName"`
	SourceRef    string `json:"sourceRef"`
	OriginalText string `json:"originalText"`
	SignalReason string `json:"signalReason"`
	PostedTs     int64  `json:"postedTs"`

	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	EntryType      string    `json:"entryType"`
	EntryMin       *float64  `json:"entryMin"`
	EntryMax       *float64  `json:"entryMax"`
	Tp1            *float64  `json:"tp1"`
	Tp2            *float64  `json:"tp2"`
	Tp3            *float64  `json:"tp3"`
	Targets        []float64 `json:"targets"`
	Sl             *float64  `json:"sl"`
	SlType         string    `json:"slType"`
	SourceLeverage string    `json:"sourceLeverage"`

	StrategyID      string   `json:"strategyId"`
	StrategyVersion string   `json:"strategyVersion"`
	FeeRate         *float64 `json:"feeRate"`
	Leverage        *int     `json:"leverage"`
	MarginUSD       *float64 `json:"marginUsd"`
	EntryTimeoutSec *int64   `json:"entryTimeoutSec"`
}

// Create validates a signal, applies defaults and persists it as a
// sim_open virtual trade
func (s *TradeService) Create(req *CreateTradeRequest) (*models.VirtualTrade, error) {
	trade, err := buildTrade(req)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(trade); err != nil {
		return nil, err
	}

	return trade, nil
}

// buildTrade normalizes and validates an ingestion request into a row
func buildTrade(req *CreateTradeRequest) (*models.VirtualTrade, error) {
	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.Side) == "" {
		return nil, &ValidationError{msg: MsgMissingRequired}
	}

	side := models.TradeSide(strings.ToUpper(strings.TrimSpace(req.Side)))
	if !side.Valid() {
		return nil, validationErrorf("invalid side: %s", req.Side)
	}

	entryType := models.EntryTypeZone
	switch strings.ToLower(req.EntryType) {
	case "", "zone":
	case "exact":
		entryType = models.EntryTypeExact
	default:
		return nil, validationErrorf("invalid entry type: %s", req.EntryType)
	}

	entryMin, entryMax := req.EntryMin, req.EntryMax
	if entryType == models.EntryTypeExact {
		// Exact entries collapse the zone to a single price
		if entryMin == nil {
			entryMin = entryMax
		}
		if entryMax == nil {
			entryMax = entryMin
		}
		if entryMin != nil && entryMax != nil && *entryMin != *entryMax {
			return nil, validationErrorf("exact entry requires entry_min == entry_max")
		}
	}
	if entryMin != nil && entryMax != nil && *entryMin > *entryMax {
		return nil, validationErrorf("entry_min must not exceed entry_max")
	}

	if err := validateDirection(side, entryMin, entryMax, req.Sl, req.Tp1, req.Tp2, req.Tp3); err != nil {
		return nil, err
	}

	slType := models.StopTypeHard
	if req.SlType != "" && strings.ToLower(req.SlType) != string(models.StopTypeHard) {
		return nil, validationErrorf("invalid sl type: %s", req.SlType)
	}

	var targetsJSON string
	if len(req.Targets) > 0 {
		raw, err := json.Marshal(req.Targets)
		if err != nil {
			return nil, validationErrorf("invalid targets: %v", err)
		}
		targetsJSON = string(raw)
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	trade := &models.VirtualTrade{
		ID:           id,
		SignalID:     req.SignalID,
		Source:       req.Source,
		SourceType:   req.SourceType,
		SourceName:   req.SourceName,
		SourceRef:    req.SourceRef,
		OriginalText: req.OriginalText,
		SignalReason: req.SignalReason,
		PostedTs:     req.PostedTs,

		Symbol:         strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:           side,
		EntryType:      entryType,
		EntryMin:       entryMin,
		EntryMax:       entryMax,
		Tp1:            req.Tp1,
		Tp2:            req.Tp2,
		Tp3:            req.Tp3,
		TargetsJSON:    targetsJSON,
		Sl:             req.Sl,
		SlType:         slType,
		SourceLeverage: req.SourceLeverage,

		StrategyID:      models.DefaultStrategyID,
		StrategyVersion: models.DefaultStrategyVersion,
		FeeRate:         models.DefaultFeeRate,
		Leverage:        models.DefaultLeverage,
		MarginUSD:       models.DefaultMarginUSD,
		EntryTimeoutSec: models.DefaultEntryTimeoutSec,

		Status:     models.TradeStatusOpen,
		TpCountHit: 0,
		Version:    1,
	}

	if req.StrategyID != "" {
		trade.StrategyID = req.StrategyID
	}
	if req.StrategyVersion != "" {
		trade.StrategyVersion = req.StrategyVersion
	}
	if req.FeeRate != nil {
		trade.FeeRate = *req.FeeRate
	}
	if req.Leverage != nil {
		if *req.Leverage < 1 {
			return nil, validationErrorf("leverage must be at least 1")
		}
		trade.Leverage = *req.Leverage
	}
	if req.MarginUSD != nil {
		if *req.MarginUSD <= 0 {
			return nil, validationErrorf("margin_usd must be positive")
		}
		trade.MarginUSD = *req.MarginUSD
	}
	if req.EntryTimeoutSec != nil {
		if *req.EntryTimeoutSec <= 0 {
			return nil, validationErrorf("entry_timeout_sec must be positive")
		}
		trade.EntryTimeoutSec = *req.EntryTimeoutSec
	}

	return trade, nil
}

// validateDirection checks targets and stop against the trade side.
// LONG: targets above the entry zone, stop below. SHORT: inverse.
func validateDirection(side models.TradeSide, entryMin, entryMax, sl *float64, tps ...*float64) error {
	if entryMin == nil || entryMax == nil {
		return nil
	}

	for i, tp := range tps {
		if tp == nil {
			continue
		}
		if side == models.TradeSideLong && *tp <= *entryMax {
			return validationErrorf("tp%d must be above the entry zone for LONG", i+1)
		}
		if side == models.TradeSideShort && *tp >= *entryMin {
			return validationErrorf("tp%d must be below the entry zone for SHORT", i+1)
		}
	}

	if sl != nil {
		if side == models.TradeSideLong && *sl >= *entryMin {
			return validationErrorf("sl must be below the entry zone for LONG")
		}
		if side == models.TradeSideShort && *sl <= *entryMax {
			return validationErrorf("sl must be above the entry zone for SHORT")
		}
	}

	return nil
}

// ListTradesRequest carries the query endpoint filters
type ListTradesRequest struct {
	Status     string
	Symbol     string
	StrategyID string
	Limit      int
}

// List retrieves virtual trades for the dashboard, newest first.
// Status defaults to sim_open; "all" disables the filter.
func (s *TradeService) List(req ListTradesRequest) ([]models.VirtualTrade, error) {
	status := req.Status
	switch status {
	case "":
		status = string(models.TradeStatusOpen)
	case "all":
		status = ""
	default:
		if !models.TradeStatus(status).Valid() {
			return nil, validationErrorf("invalid status: %s", status)
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	trades, err := s.store.List(repository.TradeFilter{
		Status:     status,
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		StrategyID: req.StrategyID,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []models.VirtualTrade{}
	}

	return trades, nil
}

// GetByID retrieves a single virtual trade
func (s *TradeService) GetByID(id string) (*models.VirtualTrade, error) {
	return s.store.GetByID(id)
}

// Count returns the total number of tracked trades
func (s *TradeService) Count() (int64, error) {
	return s.store.Count()
}

// UpdateTradeRequest is the allow-listed mutation payload for the
// evaluation process. Fields outside this set are rejected at the
// handler boundary.
type UpdateTradeRequest struct {
	ID      string `json:"id"`
	Version *int   `json:"version"`

	Status      *string  `json:"status"`
	WasFillable *bool    `json:"was_fillable"`
	EntryPrice  *float64 `json:"entry_price"`
	PositionQty *float64 `json:"position_qty"`
	MarginUsed  *float64 `json:"margin_used"`
	Tp1Hit      *bool    `json:"tp1_hit"`
	Tp2Hit      *bool    `json:"tp2_hit"`
	SlHit       *bool    `json:"sl_hit"`
	PnlNet      *float64 `json:"pnl_net"`
	RoiPercent  *float64 `json:"roi_percent"`
}

// Update applies a partial mutation under a row lock, enforcing status
// monotonicity and the tp_count_hit invariant
func (s *TradeService) Update(req *UpdateTradeRequest) (*models.VirtualTrade, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, validationErrorf("Missing required field: id")
	}

	var nextStatus models.TradeStatus
	if req.Status != nil {
		nextStatus = models.TradeStatus(*req.Status)
		if !nextStatus.Valid() {
			return nil, validationErrorf("invalid status: %s", *req.Status)
		}
	}

	return s.store.UpdateWithLock(req.ID, req.Version, func(trade *models.VirtualTrade) error {
		if req.Status != nil {
			if !trade.Status.CanTransitionTo(nextStatus) {
				return validationErrorf("illegal status transition: %s -> %s", trade.Status, nextStatus)
			}
			trade.Status = nextStatus
		}
		if req.WasFillable != nil {
			trade.WasFillable = req.WasFillable
		}
		if req.EntryPrice != nil {
			trade.EntryPrice = req.EntryPrice
		}
		if req.PositionQty != nil {
			trade.PositionQty = req.PositionQty
		}
		if req.MarginUsed != nil {
			trade.MarginUsed = req.MarginUsed
		}
		if req.Tp1Hit != nil {
			trade.Tp1Hit = *req.Tp1Hit
		}
		if req.Tp2Hit != nil {
			trade.Tp2Hit = *req.Tp2Hit
		}
		if req.SlHit != nil {
			trade.SlHit = *req.SlHit
		}
		if req.Tp1Hit != nil || req.Tp2Hit != nil {
			trade.RecountTakeProfits()
		}
		if req.PnlNet != nil {
			trade.PnlNet = req.PnlNet
		}
		if req.RoiPercent != nil {
			trade.RoiPercent = req.RoiPercent
		}
		return nil
	})
}

// SweepExpired marks unfilled sim_open trades whose entry timeout has
// passed as sim_skipped. Returns the number of trades swept.
func (s *TradeService) SweepExpired(now time.Time) (int, error) {
	expired, err := s.store.ListExpiredOpen(now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, trade := range expired {
		skipped := false
		_, err := s.store.UpdateWithLock(trade.ID, nil, func(t *models.VirtualTrade) error {
			// Re-check under the lock: the evaluation process may have
			// filled or closed the trade since the scan
			if t.EntryTimedOut(now) {
				notFillable := false
				t.Status = models.TradeStatusSkipped
				t.WasFillable = &notFillable
				skipped = true
			}
			return nil
		})
		if err != nil {
			return swept, err
		}
		if skipped {
			swept++
		}
	}

	return swept, nil
}
