package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signal-tracker/internal/models"
	"github.com/signal-tracker/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory TradeStore used to test the service rules
// without a live Postgres.
type memStore struct {
	mu         sync.Mutex
	rows       map[string]*models.VirtualTrade
	order      []string // insertion order, newest last
	lastFilter repository.TradeFilter
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.VirtualTrade)}
}

func (m *memStore) Create(trade *models.VirtualTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[trade.ID]; ok {
		return fmt.Errorf("duplicate key: %s", trade.ID)
	}

	now := time.Now()
	trade.CreatedAt = now.Add(time.Duration(len(m.order)) * time.Millisecond)
	trade.UpdatedAt = trade.CreatedAt

	copied := *trade
	m.rows[trade.ID] = &copied
	m.order = append(m.order, trade.ID)
	return nil
}

func (m *memStore) GetByID(id string) (*models.VirtualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memStore) List(filter repository.TradeFilter) ([]models.VirtualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastFilter = filter

	var out []models.VirtualTrade
	for i := len(m.order) - 1; i >= 0; i-- {
		row := m.rows[m.order[i]]
		if filter.Status != "" && string(row.Status) != filter.Status {
			continue
		}
		if filter.Symbol != "" && row.Symbol != filter.Symbol {
			continue
		}
		if filter.StrategyID != "" && row.StrategyID != filter.StrategyID {
			continue
		}
		out = append(out, *row)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Count() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memStore) UpdateWithLock(id string, expectedVersion *int, mutate func(*models.VirtualTrade) error) (*models.VirtualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	if expectedVersion != nil && row.Version != *expectedVersion {
		return nil, repository.ErrVersionConflict
	}

	copied := *row
	if err := mutate(&copied); err != nil {
		return nil, err
	}
	copied.Version++
	copied.UpdatedAt = time.Now()
	m.rows[id] = &copied

	result := copied
	return &result, nil
}

func (m *memStore) ListExpiredOpen(now time.Time, limit int) ([]models.VirtualTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.VirtualTrade
	for _, id := range m.order {
		row := m.rows[id]
		if row.EntryTimedOut(now) {
			out = append(out, *row)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// age rewinds a trade's creation time, as if it were ingested in the past
func (m *memStore) age(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].CreatedAt = m.rows[id].CreatedAt.Add(-d)
}

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }
func i(v int) *int         { return &v }
func str(v string) *string { return &v }

func yggRequest() *CreateTradeRequest {
	return &CreateTradeRequest{
		Symbol:   "YGGUSDT",
		Side:     "LONG",
		EntryMin: f(0.62),
		EntryMax: f(0.635),
		Tp1:      f(0.685),
		Tp2:      f(0.72),
		Sl:       f(0.595),
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(yggRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, trade.ID)
	assert.Equal(t, models.TradeStatusOpen, trade.Status)
	assert.Equal(t, "S_A_TP1_BE_TP2", trade.StrategyID)
	assert.Equal(t, "1", trade.StrategyVersion)
	assert.Equal(t, 0.00055, trade.FeeRate)
	assert.Equal(t, 15, trade.Leverage)
	assert.Equal(t, 100.0, trade.MarginUSD)
	assert.Equal(t, int64(172800), trade.EntryTimeoutSec)
	assert.Equal(t, models.EntryTypeZone, trade.EntryType)
	assert.Equal(t, models.StopTypeHard, trade.SlType)
	assert.Equal(t, 0, trade.TpCountHit)
	assert.Equal(t, 1, trade.Version)
}

func TestCreateMissingRequiredFields(t *testing.T) {
	store := newMemStore()
	svc := NewTradeService(store)

	cases := []*CreateTradeRequest{
		{Side: "LONG"},
		{Symbol: "BTCUSDT"},
		{},
		{Symbol: "  ", Side: "LONG"},
	}

	for _, req := range cases {
		_, err := svc.Create(req)
		require.Error(t, err)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "Missing required fields: symbol, side", err.Error())
	}

	// No row may be created by a rejected request
	count, err := svc.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCreateNormalizesSymbolAndSide(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(&CreateTradeRequest{Symbol: "ethusdt", Side: "long"})
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", trade.Symbol)
	assert.Equal(t, models.TradeSideLong, trade.Side)
}

func TestCreateRejectsInvalidSide(t *testing.T) {
	svc := NewTradeService(newMemStore())

	_, err := svc.Create(&CreateTradeRequest{Symbol: "BTCUSDT", Side: "SIDEWAYS"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateExactEntryCollapsesZone(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(&CreateTradeRequest{
		Symbol:    "BTCUSDT",
		Side:      "SHORT",
		EntryType: "exact",
		EntryMin:  f(115500),
		Tp1:       f(114200),
		Sl:        f(116800),
	})
	require.NoError(t, err)

	require.NotNil(t, trade.EntryMin)
	require.NotNil(t, trade.EntryMax)
	assert.Equal(t, 115500.0, *trade.EntryMin)
	assert.Equal(t, 115500.0, *trade.EntryMax)
	assert.Equal(t, models.EntryTypeExact, trade.EntryType)
}

func TestCreateExactEntryMismatchRejected(t *testing.T) {
	svc := NewTradeService(newMemStore())

	_, err := svc.Create(&CreateTradeRequest{
		Symbol:    "BTCUSDT",
		Side:      "SHORT",
		EntryType: "exact",
		EntryMin:  f(115500),
		EntryMax:  f(115600),
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateInvertedZoneRejected(t *testing.T) {
	svc := NewTradeService(newMemStore())

	_, err := svc.Create(&CreateTradeRequest{
		Symbol:   "YGGUSDT",
		Side:     "LONG",
		EntryMin: f(0.7),
		EntryMax: f(0.62),
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "entry_min")
}

func TestCreateDirectionInvariants(t *testing.T) {
	svc := NewTradeService(newMemStore())

	cases := []struct {
		name string
		req  *CreateTradeRequest
	}{
		{"long tp below entry", &CreateTradeRequest{
			Symbol: "YGGUSDT", Side: "LONG",
			EntryMin: f(0.62), EntryMax: f(0.635), Tp1: f(0.60),
		}},
		{"long sl above entry", &CreateTradeRequest{
			Symbol: "YGGUSDT", Side: "LONG",
			EntryMin: f(0.62), EntryMax: f(0.635), Sl: f(0.64),
		}},
		{"short tp above entry", &CreateTradeRequest{
			Symbol: "BTCUSDT", Side: "SHORT",
			EntryMin: f(115500), EntryMax: f(115500), Tp1: f(116000),
		}},
		{"short sl below entry", &CreateTradeRequest{
			Symbol: "BTCUSDT", Side: "SHORT",
			EntryMin: f(115500), EntryMax: f(115500), Sl: f(115000),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(tc.req)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestCreateSerializesTargets(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(&CreateTradeRequest{
		Symbol:   "SOLUSDT",
		Side:     "LONG",
		EntryMin: f(170),
		EntryMax: f(175),
		Targets:  []float64{180, 190, 200},
	})
	require.NoError(t, err)

	assert.JSONEq(t, "[180,190,200]", trade.TargetsJSON)
}

func TestCreateHonorsOverrides(t *testing.T) {
	svc := NewTradeService(newMemStore())

	req := yggRequest()
	req.ID = "vt-test-1"
	req.StrategyID = "S_B_ALL_TP"
	req.StrategyVersion = "2"
	req.Leverage = i(10)
	req.MarginUSD = f(250)
	req.FeeRate = f(0.0004)
	timeout := int64(3600)
	req.EntryTimeoutSec = &timeout

	trade, err := svc.Create(req)
	require.NoError(t, err)

	assert.Equal(t, "vt-test-1", trade.ID)
	assert.Equal(t, "S_B_ALL_TP", trade.StrategyID)
	assert.Equal(t, "2", trade.StrategyVersion)
	assert.Equal(t, 10, trade.Leverage)
	assert.Equal(t, 250.0, trade.MarginUSD)
	assert.Equal(t, 0.0004, trade.FeeRate)
	assert.Equal(t, int64(3600), trade.EntryTimeoutSec)
}

func TestListStatusFilter(t *testing.T) {
	store := newMemStore()
	svc := NewTradeService(store)

	_, err := svc.Create(yggRequest())
	require.NoError(t, err)

	// Default filter is sim_open
	trades, err := svc.List(ListTradesRequest{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "sim_open", store.lastFilter.Status)
	assert.Equal(t, 50, store.lastFilter.Limit)

	// "all" disables the status filter
	_, err = svc.List(ListTradesRequest{Status: "all"})
	require.NoError(t, err)
	assert.Equal(t, "", store.lastFilter.Status)

	// Unknown status is rejected
	_, err = svc.List(ListTradesRequest{Status: "open"})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestListSymbolUppercasedAndLimitCapped(t *testing.T) {
	store := newMemStore()
	svc := NewTradeService(store)

	trades, err := svc.List(ListTradesRequest{Symbol: "yggusdt", Limit: 10000})
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, "YGGUSDT", store.lastFilter.Symbol)
	assert.Equal(t, 500, store.lastFilter.Limit)
}

func TestUpdateRequiresID(t *testing.T) {
	svc := NewTradeService(newMemStore())

	_, err := svc.Update(&UpdateTradeRequest{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "id")
}

func TestUpdateStatusMonotonic(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(yggRequest())
	require.NoError(t, err)

	closed, err := svc.Update(&UpdateTradeRequest{ID: trade.ID, Status: str("sim_closed")})
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, closed.Status)

	// No way back to sim_open
	_, err = svc.Update(&UpdateTradeRequest{ID: trade.ID, Status: str("sim_open")})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)

	// And no sideways move either
	_, err = svc.Update(&UpdateTradeRequest{ID: trade.ID, Status: str("sim_skipped")})
	require.ErrorAs(t, err, &validationErr)
}

func TestUpdateRecountsTakeProfits(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(yggRequest())
	require.NoError(t, err)

	updated, err := svc.Update(&UpdateTradeRequest{ID: trade.ID, Tp1Hit: b(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TpCountHit)

	updated, err = svc.Update(&UpdateTradeRequest{ID: trade.ID, Tp2Hit: b(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.TpCountHit)
	assert.True(t, updated.Tp1Hit)
	assert.True(t, updated.Tp2Hit)
}

func TestUpdateVersionConflict(t *testing.T) {
	svc := NewTradeService(newMemStore())

	trade, err := svc.Create(yggRequest())
	require.NoError(t, err)

	// First conditional writer wins
	updated, err := svc.Update(&UpdateTradeRequest{ID: trade.ID, Version: i(trade.Version), EntryPrice: f(0.627)})
	require.NoError(t, err)
	assert.Equal(t, trade.Version+1, updated.Version)

	// Second writer with the stale version loses
	_, err = svc.Update(&UpdateTradeRequest{ID: trade.ID, Version: i(trade.Version), SlHit: b(true)})
	require.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestUpdateUnknownTradeNotFound(t *testing.T) {
	svc := NewTradeService(newMemStore())

	_, err := svc.Update(&UpdateTradeRequest{ID: "missing", SlHit: b(true)})
	require.ErrorIs(t, err, repository.ErrTradeNotFound)
}

func TestSweepExpired(t *testing.T) {
	store := newMemStore()
	svc := NewTradeService(store)

	stale, err := svc.Create(yggRequest())
	require.NoError(t, err)
	fresh, err := svc.Create(&CreateTradeRequest{Symbol: "ETHUSDT", Side: "LONG"})
	require.NoError(t, err)
	filled, err := svc.Create(&CreateTradeRequest{Symbol: "SOLUSDT", Side: "LONG"})
	require.NoError(t, err)

	// Age two trades beyond the 48h default timeout, fill one of them
	store.age(stale.ID, 49*time.Hour)
	store.age(filled.ID, 49*time.Hour)
	_, err = svc.Update(&UpdateTradeRequest{ID: filled.ID, EntryPrice: f(100)})
	require.NoError(t, err)

	swept, err := svc.SweepExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	staleRow, err := svc.GetByID(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusSkipped, staleRow.Status)
	require.NotNil(t, staleRow.WasFillable)
	assert.False(t, *staleRow.WasFillable)

	freshRow, err := svc.GetByID(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, freshRow.Status)

	filledRow, err := svc.GetByID(filled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusOpen, filledRow.Status)
}
