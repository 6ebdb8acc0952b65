package renew

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/zulufoxtrot/renault-renew/config"
	"github.com/zulufoxtrot/renault-renew/models"
	"github.com/zulufoxtrot/renault-renew/utils"
)

const (
	trimLabel   = "Iconic"
	chargeLabel = "Optimum Charge"
)

// Scraper extracts vehicle records from the Renew search page. One call to
// Extract is one run: the search page is scrolled until the listing set
// settles, then detail pages are fetched through the worker pool and each
// accepted record is handed to the caller as it becomes available.
type Scraper struct {
	cfg     *config.Config
	logger  *utils.Logger
	pool    *utils.WorkerPool
	retry   *utils.RetryConfig
	client  *http.Client
	baseURL *url.URL
}

// New creates a ready-to-use Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		logger.Warn("[renew] Invalid base URL %q: %v", cfg.BaseURL, err)
		base = nil
	}

	return &Scraper{
		cfg:    cfg,
		logger: logger,
		pool:   utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		},
		baseURL: base,
	}
}

// Extract drives one full extraction pass. Accepted records are delivered to
// onRecord in arrival order; onRecord is never called concurrently. The
// returned count is the number of growth steps performed on the search page.
// A *StructuralError means the source markup changed and a page snapshot was
// written for diagnosis.
func (s *Scraper) Extract(ctx context.Context, onRecord func(*models.VehicleRecord) error) (int, error) {
	s.logger.Info("[renew] Starting extraction, settle threshold: %d, max steps: %d",
		s.cfg.SettleThreshold, s.cfg.MaxScrollSteps)

	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[renew] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	err := s.retry.Do("load-search-page", func() error {
		navCtx, cancel := context.WithTimeout(tabCtx, 60*time.Second)
		defer cancel()
		return chromedp.Run(navCtx,
			chromedp.Navigate(s.cfg.SearchURL),
			chromedp.Sleep(3*time.Second),
		)
	})
	if err != nil {
		return 0, fmt.Errorf("search page: %w", err)
	}

	page := &chromePage{
		ctx:        tabCtx,
		scrollWait: time.Duration(s.cfg.ScrollWaitMs) * time.Millisecond,
	}

	links, steps, err := collectListingLinks(ctx, page, s.cfg.SettleThreshold, s.cfg.MaxScrollSteps, s.logger)
	if err != nil {
		return steps, err
	}

	if len(links) == 0 {
		html, herr := page.HTML()
		if herr == nil && pageDeclaresEmpty(html) {
			s.logger.Info("[renew] Page reports 0 results, nothing to extract")
			return steps, nil
		}
		return steps, s.structuralFailure(html, "no listing links found and page does not report 0 results")
	}

	candidates := dedupeCandidates(links, s.logger)

	s.logger.Info("[renew] Page settled after %d steps, %d links, %d candidates",
		steps, len(links), len(candidates))

	var mu sync.Mutex
	var firstErr error

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		pageURL := candidate
		s.pool.Submit(func() {
			rec, err := s.scrapeDetail(pageURL)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if rec == nil {
				s.logger.Debug("[renew] Filtered out: %s", pageURL)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if firstErr != nil {
				return
			}
			s.logger.Info("[renew] Match: %s | %s | %s",
				formatRecordPrice(rec.Price), rec.ExteriorColor, rec.Location)
			if err := onRecord(rec); err != nil {
				firstErr = err
			}
		})
	}
	s.pool.Wait()

	if firstErr != nil {
		return steps, firstErr
	}
	if err := ctx.Err(); err != nil {
		return steps, err
	}
	return steps, nil
}

// dedupeCandidates filters the settled link set down to the detail pages
// worth fetching. The dedup set is scoped to one call: a listing that stays
// on the site must be re-observed by every run, or the availability pass
// would retire it.
func dedupeCandidates(links []pageLink, logger *utils.Logger) []string {
	seen := utils.NewURLSet()
	candidates := make([]string, 0, len(links))
	for _, link := range links {
		if skipLinkText(link.Text) {
			logger.Debug("[renew] Skipping by link text: %s", link.Href)
			continue
		}
		if !seen.Add(link.Href) {
			continue
		}
		candidates = append(candidates, link.Href)
	}
	return candidates
}

// scrapeDetail fetches and parses one detail page. A nil record with nil
// error means the listing was filtered out.
func (s *Scraper) scrapeDetail(pageURL string) (*models.VehicleRecord, error) {
	var html string
	err := s.retry.Do("detail-page", func() error {
		var ferr error
		html, ferr = s.fetchDetailHTML(pageURL)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	return parseDetail(doc, pageURL, s.baseURL, s.cfg.PriceMin, s.cfg.PriceMax), nil
}

// pageDeclaresEmpty reports whether the search page itself says the result
// set is empty, which makes a link-less page a normal end of search rather
// than a structural failure.
func pageDeclaresEmpty(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "aucun r") || strings.Contains(lower, "0 r")
}

func (s *Scraper) structuralFailure(html, reason string) error {
	serr := &StructuralError{Reason: reason}
	if html != "" {
		if err := os.WriteFile(s.cfg.DebugSnapshotPath, []byte(html), 0644); err != nil {
			s.logger.Warn("[renew] Could not write debug snapshot: %v", err)
		} else {
			serr.SnapshotPath = s.cfg.DebugSnapshotPath
			s.logger.Warn("[renew] Debug snapshot written to %s", s.cfg.DebugSnapshotPath)
		}
	}
	return serr
}

func formatRecordPrice(p *int) string {
	if p == nil {
		return "no price"
	}
	return fmt.Sprintf("%d€", *p)
}

// findChromeBinary locates the Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
