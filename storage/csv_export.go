package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/zulufoxtrot/renault-renew/models"
)

// WriteVehiclesCSV renders the catalog in the legacy export layout. Price
// history is flattened to a count; nil prices become empty cells.
func WriteVehiclesCSV(w io.Writer, vehicles []*models.Vehicle) error {
	cw := csv.NewWriter(w)

	header := []string{
		"url", "title", "price", "original_price", "trim", "charge_type",
		"exterior_color", "seat_type", "packs", "location",
		"first_seen", "last_seen", "is_available", "price_changes",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, v := range vehicles {
		row := []string{
			v.URL,
			v.Title,
			formatPrice(v.Price),
			formatPrice(v.OriginalPrice),
			v.Trim,
			v.ChargeType,
			v.ExteriorColor,
			v.SeatType,
			v.Packs,
			v.Location,
			v.FirstSeen.Format(time.RFC3339),
			v.LastSeen.Format(time.RFC3339),
			strconv.FormatBool(v.IsAvailable),
			strconv.Itoa(len(v.PriceHistory)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatPrice(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
