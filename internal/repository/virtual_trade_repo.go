package repository

import (
	"errors"
	"time"

	"github.com/signal-tracker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTradeNotFound   = errors.New("virtual trade not found")
	ErrVersionConflict = errors.New("version conflict")
)

// TradeFilter narrows a virtual trade listing
type TradeFilter struct {
	Status     string // empty disables the status filter
	Symbol     string
	StrategyID string
	Limit      int
}

// VirtualTradeRepository handles virtual trade data access
type VirtualTradeRepository struct {
	db *gorm.DB
}

// NewVirtualTradeRepository creates a new VirtualTradeRepository
func NewVirtualTradeRepository(db *gorm.DB) *VirtualTradeRepository {
	return &VirtualTradeRepository{db: db}
}

// Create inserts a new virtual trade
func (r *VirtualTradeRepository) Create(trade *models.VirtualTrade) error {
	return r.db.Create(trade).Error
}

// GetByID retrieves a virtual trade by ID
func (r *VirtualTradeRepository) GetByID(id string) (*models.VirtualTrade, error) {
	var trade models.VirtualTrade
	result := r.db.Where("id = ?", id).First(&trade)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

// List retrieves virtual trades matching the filter, newest first
func (r *VirtualTradeRepository) List(filter TradeFilter) ([]models.VirtualTrade, error) {
	query := r.db.Model(&models.VirtualTrade{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.StrategyID != "" {
		query = query.Where("strategy_id = ?", filter.StrategyID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var trades []models.VirtualTrade
	// Secondary id ordering keeps repeated reads stable when rows share a timestamp
	result := query.Order("created_at DESC, id DESC").Find(&trades)
	return trades, result.Error
}

// Count returns the total number of virtual trades
func (r *VirtualTradeRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.VirtualTrade{}).Count(&count).Error
	return count, err
}

// CountByStatus counts virtual trades in the given status
func (r *VirtualTradeRepository) CountByStatus(status models.TradeStatus) (int64, error) {
	var count int64
	err := r.db.Model(&models.VirtualTrade{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// UpdateWithLock mutates a trade under a row lock and bumps its version.
// When expectedVersion is non-nil the update is conditional and fails with
// ErrVersionConflict if another writer got there first.
func (r *VirtualTradeRepository) UpdateWithLock(id string, expectedVersion *int, mutate func(*models.VirtualTrade) error) (*models.VirtualTrade, error) {
	var trade models.VirtualTrade

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&trade).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTradeNotFound
			}
			return err
		}

		if expectedVersion != nil && trade.Version != *expectedVersion {
			return ErrVersionConflict
		}

		if err := mutate(&trade); err != nil {
			return err
		}

		trade.Version++
		return tx.Save(&trade).Error
	})
	if err != nil {
		return nil, err
	}

	return &trade, nil
}

// ListExpiredOpen retrieves unfilled sim_open trades whose entry timeout
// has passed as of now.
func (r *VirtualTradeRepository) ListExpiredOpen(now time.Time, limit int) ([]models.VirtualTrade, error) {
	var trades []models.VirtualTrade
	result := r.db.
		Where("status = ?", models.TradeStatusOpen).
		Where("entry_price IS NULL").
		Where("created_at + make_interval(secs => entry_timeout_sec) <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&trades)
	return trades, result.Error
}
