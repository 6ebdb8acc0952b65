package services

import (
	"strconv"
	"time"

	"github.com/zulufoxtrot/renault-renew/models"
	"github.com/zulufoxtrot/renault-renew/storage"
	"github.com/zulufoxtrot/renault-renew/utils"
)

// Outcome describes what one reconciliation did to the catalog.
type Outcome struct {
	IsNew        bool
	PriceChanged bool
	OldPrice     *int
}

// Reconciler merges extracted records into the catalog, one record per
// transaction. Store failures are retried a bounded number of times; a
// failure that survives the retries aborts the run while keeping every
// record committed before it.
type Reconciler struct {
	store  storage.Store
	logger *utils.Logger
	retry  *utils.RetryConfig
}

func NewReconciler(store storage.Store, logger *utils.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			Logger:      logger,
		},
	}
}

// Reconcile merges one record. A URL never seen before is inserted with
// first_seen = last_seen = now and its price as the immutable original price;
// the first observation writes no history row. A known URL gets its
// descriptive fields overwritten, last_seen bumped and availability restored;
// a history row is appended only when the price actually changed, including
// transitions to and from an unparseable price.
func (r *Reconciler) Reconcile(rec *models.VehicleRecord, now time.Time) (Outcome, error) {
	var out Outcome

	err := r.retry.Do("reconcile "+rec.URL, func() error {
		out = Outcome{}
		return r.store.Transact(func(tx storage.Store) error {
			existing, err := tx.GetByURL(rec.URL)
			if err != nil {
				return err
			}

			if existing == nil {
				out.IsNew = true
				return tx.Upsert(&models.Vehicle{
					URL:           rec.URL,
					Title:         rec.Title,
					Price:         rec.Price,
					OriginalPrice: rec.Price,
					Trim:          rec.Trim,
					ChargeType:    rec.ChargeType,
					ExteriorColor: rec.ExteriorColor,
					SeatType:      rec.SeatType,
					Packs:         rec.Packs,
					Location:      rec.Location,
					PhotoURL:      rec.PhotoURL,
					Latitude:      rec.Latitude,
					Longitude:     rec.Longitude,
					FirstSeen:     now,
					LastSeen:      now,
					IsAvailable:   true,
				})
			}

			if !samePrice(existing.Price, rec.Price) {
				out.PriceChanged = true
				out.OldPrice = existing.Price
				if err := tx.AppendPricePoint(rec.URL, rec.Price, now); err != nil {
					return err
				}
			}

			existing.Title = rec.Title
			existing.Price = rec.Price
			existing.Trim = rec.Trim
			existing.ChargeType = rec.ChargeType
			existing.ExteriorColor = rec.ExteriorColor
			existing.SeatType = rec.SeatType
			existing.Packs = rec.Packs
			existing.Location = rec.Location
			existing.PhotoURL = rec.PhotoURL
			existing.Latitude = rec.Latitude
			existing.Longitude = rec.Longitude
			existing.LastSeen = now
			existing.IsAvailable = true
			existing.PriceHistory = nil

			return tx.Upsert(existing)
		})
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.PriceChanged {
		r.logger.Info("[reconcile] Price changed for %s: %s -> %s",
			rec.URL, priceLabel(out.OldPrice), priceLabel(rec.Price))
	}
	return out, nil
}

// FinishRun is the full-catalog availability pass. It marks every vehicle not
// seen since runStart as unavailable and must only run after a run whose
// extraction completed normally; a partial run would wrongly retire live
// listings.
func (r *Reconciler) FinishRun(runStart time.Time) (int64, error) {
	n, err := r.store.MarkUnavailableBefore(runStart)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("[reconcile] Marked %d vehicles unavailable", n)
	}
	return n, nil
}

func samePrice(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func priceLabel(p *int) string {
	if p == nil {
		return "none"
	}
	return strconv.Itoa(*p) + "€"
}
