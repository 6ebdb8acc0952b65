package renew

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/zulufoxtrot/renault-renew/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// fetchDetailHTML downloads one detail page over plain HTTP. Detail pages are
// server-rendered, so no browser is needed here.
func (s *Scraper) fetchDetailHTML(pageURL string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Referer", s.cfg.BaseURL+"/")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}
	return string(body), nil
}

// parseDetail builds a VehicleRecord from a detail page. It returns nil when
// the listing fails an acceptance rule; missing optional fields yield zero
// values or nil pointers, never an error.
func parseDetail(doc *goquery.Document, pageURL string, base *url.URL, priceMin, priceMax int) *models.VehicleRecord {
	fullText := strings.ToLower(normalizeText(doc.Text()))

	if !hasOptimumCharge(fullText) {
		return nil
	}
	if !keepBladeTrim(fullText) {
		return nil
	}

	color := extractColor(doc)
	if !colorAllowed(color) {
		return nil
	}

	price := extractPrice(doc.Text())
	if !priceInRange(price, priceMin, priceMax) {
		return nil
	}

	lat, lon := extractCoordinates(doc)

	return &models.VehicleRecord{
		URL:           pageURL,
		Title:         extractTitle(doc),
		Price:         price,
		Trim:          trimLabel,
		ChargeType:    chargeLabel,
		ExteriorColor: titleCase(color),
		SeatType:      extractSeatType(fullText),
		Packs:         extractPacks(doc),
		Location:      extractLocation(doc, normalizeText(doc.Text())),
		PhotoURL:      extractPhotoURL(doc, base),
		Latitude:      lat,
		Longitude:     lon,
		ScrapedAt:     time.Now(),
	}
}
