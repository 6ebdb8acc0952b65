package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulufoxtrot/renault-renew/models"
	"github.com/zulufoxtrot/renault-renew/utils"
)

// Store is the catalog contract consumed by the reconciler and the API
// handlers. All writes are idempotent by URL except AppendPricePoint, which
// is append-only.
type Store interface {
	// GetByURL returns the entity for url, or (nil, nil) when absent.
	GetByURL(url string) (*models.Vehicle, error)
	// Upsert inserts or fully overwrites the entity keyed by its URL.
	Upsert(v *models.Vehicle) error
	// AppendPricePoint adds one row to the price log.
	AppendPricePoint(url string, price *int, observedAt time.Time) error
	// MarkUnavailableBefore flips is_available to false for every vehicle
	// whose last_seen predates cutoff. Returns the number of rows touched.
	MarkUnavailableBefore(cutoff time.Time) (int64, error)
	// QueryAll returns the whole catalog ordered by last_seen descending then
	// price ascending, with price history embedded in observed_at order.
	QueryAll() ([]*models.Vehicle, error)
	// Stats computes the derived catalog counters.
	Stats() (*models.CatalogStats, error)
	// Transact runs fn against a transactional view of the store. A non-nil
	// error from fn rolls everything back.
	Transact(fn func(Store) error) error
}

// SQLiteStore implements Store on an embedded SQLite database via gorm.
type SQLiteStore struct {
	db     *gorm.DB
	logger *utils.Logger
}

// Open creates the database file (and its parent directory) if needed,
// migrates the schema and returns a ready-to-use store.
func Open(path string, logger *utils.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	s := NewWithDB(db, logger)
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger.Info("[store] Database ready at %s", path)
	return s, nil
}

// NewWithDB wraps an already-open gorm handle. The caller owns migration;
// Open and the test helpers use this.
func NewWithDB(db *gorm.DB, logger *utils.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) migrate() error {
	return s.db.AutoMigrate(&models.Vehicle{}, &models.PricePoint{})
}

// Migrate exposes schema migration for stores built with NewWithDB.
func (s *SQLiteStore) Migrate() error {
	return s.migrate()
}

func (s *SQLiteStore) GetByURL(url string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.First(&v, "url = ?", url).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", url, err)
	}
	return &v, nil
}

func (s *SQLiteStore) Upsert(v *models.Vehicle) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		UpdateAll: true,
	}).Create(v).Error
	if err != nil {
		return fmt.Errorf("store: upsert %q: %w", v.URL, err)
	}
	return nil
}

func (s *SQLiteStore) AppendPricePoint(url string, price *int, observedAt time.Time) error {
	point := &models.PricePoint{
		VehicleURL: url,
		Price:      price,
		ObservedAt: observedAt,
	}
	if err := s.db.Create(point).Error; err != nil {
		return fmt.Errorf("store: append price point for %q: %w", url, err)
	}
	return nil
}

func (s *SQLiteStore) MarkUnavailableBefore(cutoff time.Time) (int64, error) {
	res := s.db.Model(&models.Vehicle{}).
		Where("last_seen < ? AND is_available = ?", cutoff, true).
		Update("is_available", false)
	if res.Error != nil {
		return 0, fmt.Errorf("store: mark unavailable: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQLiteStore) QueryAll() ([]*models.Vehicle, error) {
	var vehicles []*models.Vehicle
	err := s.db.
		Preload("PriceHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("observed_at ASC")
		}).
		Order("last_seen DESC, price ASC").
		Find(&vehicles).Error
	if err != nil {
		return nil, fmt.Errorf("store: query all: %w", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	for _, v := range vehicles {
		v.IsNew = v.IsAvailable && v.FirstSeen.After(cutoff)
	}
	return vehicles, nil
}

func (s *SQLiteStore) Stats() (*models.CatalogStats, error) {
	stats := &models.CatalogStats{}
	cutoff := time.Now().Add(-24 * time.Hour)

	if err := s.db.Model(&models.Vehicle{}).Count(&stats.TotalVehicles).Error; err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.Model(&models.Vehicle{}).
		Where("is_available = ?", true).
		Count(&stats.AvailableVehicles).Error; err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.Model(&models.Vehicle{}).
		Where("is_available = ? AND first_seen > ?", true, cutoff).
		Count(&stats.NewVehicles24h).Error; err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.Model(&models.PricePoint{}).
		Distinct("vehicle_url").
		Count(&stats.VehiclesWithPriceHistory).Error; err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}

	return stats, nil
}

func (s *SQLiteStore) Transact(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&SQLiteStore{db: tx, logger: s.logger})
	})
}
