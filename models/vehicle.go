package models

import "time"

// VehicleRecord holds the raw fields extracted for one listing during a run.
// It lives only within one extraction pass; nothing here is persisted directly.
// Price is nil when the listing showed no parseable price.
type VehicleRecord struct {
	URL           string
	Title         string
	Price         *int
	Trim          string
	ChargeType    string
	ExteriorColor string
	SeatType      string
	Packs         string
	Location      string
	PhotoURL      string
	Latitude      *float64
	Longitude     *float64
	ScrapedAt     time.Time
}

// Vehicle is the canonical persisted entity, keyed by listing URL.
// OriginalPrice is the first observed price and never changes afterwards.
// Vehicles are never deleted; when a listing disappears from a completed run
// IsAvailable flips to false and the row stays queryable.
type Vehicle struct {
	URL           string   `gorm:"primaryKey" json:"url"`
	Title         string   `json:"title"`
	Price         *int     `json:"price"`
	OriginalPrice *int     `json:"original_price"`
	Trim          string   `json:"trim"`
	ChargeType    string   `json:"charge_type"`
	ExteriorColor string   `json:"exterior_color"`
	SeatType      string   `json:"seat_type"`
	Packs         string   `json:"packs"`
	Location      string   `json:"location"`
	PhotoURL      string   `json:"photo_url"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`

	FirstSeen   time.Time `gorm:"not null" json:"first_seen"`
	LastSeen    time.Time `gorm:"not null;index" json:"last_seen"`
	IsAvailable bool      `json:"is_available"`

	// IsNew is derived at query time: first seen within the last 24h and
	// still available. It is never stored.
	IsNew bool `gorm:"-" json:"is_new"`

	PriceHistory []PricePoint `gorm:"foreignKey:VehicleURL;references:URL" json:"price_history"`
}

// PricePoint is one row of the append-only price log. A row is written only
// when the observed price differs from the stored one; the first observation
// is the baseline and writes nothing. Price is nil when a previously priced
// listing stopped showing a parseable price.
type PricePoint struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	VehicleURL string    `gorm:"index;not null" json:"-"`
	Price      *int      `json:"price"`
	ObservedAt time.Time `gorm:"not null" json:"observed_at"`
}

// TableName keeps the historical table name for existing databases.
func (PricePoint) TableName() string {
	return "price_history"
}

// CatalogStats are the derived counters served by the stats endpoint.
type CatalogStats struct {
	TotalVehicles            int64 `json:"total_vehicles"`
	AvailableVehicles        int64 `json:"available_vehicles"`
	NewVehicles24h           int64 `json:"new_vehicles_24h"`
	VehiclesWithPriceHistory int64 `json:"vehicles_with_price_history"`
}
