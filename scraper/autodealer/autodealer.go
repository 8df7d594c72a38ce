package autodealer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/arturpaehn/carlynx-sub002/config"
	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/scraper"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

const source = "autodealer"

// Scraper drives a headless browser through a JavaScript-rendered car
// inventory and fills missing specs from detail pages.
type Scraper struct {
	cfg        *config.Config
	logger     *utils.Logger
	pool       *utils.WorkerPool
	visitedURL *utils.URLSet
	retry      *utils.RetryConfig
	navSleep   time.Duration

	mu       sync.Mutex
	listings []*models.RawListing
}

// New creates a ready-to-use autodealer Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:        cfg,
		logger:     logger,
		pool:       utils.NewWorkerPool(cfg.MaxConcurrency, time.Duration(cfg.RateLimitMs)*time.Millisecond),
		visitedURL: utils.NewURLSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		navSleep: time.Duration(cfg.NavSleepMs) * time.Millisecond,
	}
}

func (s *Scraper) Source() string { return source }

// Scrape is the entry point that drives pagination and detail-page scraping.
func (s *Scraper) Scrape(ctx context.Context) ([]*models.RawListing, error) {
	s.logger.Info("[autodealer] Starting scrape at %s, target: %d pages", s.cfg.AutoDealerURL, s.cfg.PagesToScrape)

	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[autodealer] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	s.mu.Lock()
	s.listings = nil
	s.visitedURL = utils.NewURLSet()
	s.mu.Unlock()

	currentURL := s.cfg.AutoDealerURL
	morePages := false
	for page := 1; page <= s.cfg.PagesToScrape; page++ {
		s.logger.Info("[autodealer] Scraping page %d: %s", page, currentURL)

		pageListings, nextURL, err := s.scrapePage(browserCtx, currentURL, page)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("autodealer: first page: %w", err)
			}
			s.logger.Error("[autodealer] Page %d failed: %v", page, err)
			return s.listings, fmt.Errorf("autodealer: page %d: %w: %v", page, scraper.ErrIncomplete, err)
		}

		if len(pageListings) == 0 {
			s.logger.Warn("[autodealer] Page %d returned 0 listings, stopping", page)
			break
		}

		s.enrichListings(browserCtx, pageListings)

		s.mu.Lock()
		s.listings = append(s.listings, pageListings...)
		total := len(s.listings)
		s.mu.Unlock()

		s.logger.Info("[autodealer] Page %d done, collected %d listings so far", page, total)

		if nextURL == "" || nextURL == currentURL {
			morePages = false
			break
		}
		currentURL = nextURL
		morePages = true

		select {
		case <-time.After(s.navSleep):
		case <-ctx.Done():
			s.logger.Warn("[autodealer] Cancelled after page %d", page)
			return s.listings, fmt.Errorf("autodealer: cancelled after page %d: %w: %v", page, scraper.ErrIncomplete, ctx.Err())
		}
	}

	if morePages {
		s.logger.Warn("[autodealer] Page limit %d reached with more pages left", s.cfg.PagesToScrape)
		return s.listings, fmt.Errorf("autodealer: page limit %d reached: %w", s.cfg.PagesToScrape, scraper.ErrIncomplete)
	}

	s.logger.Info("[autodealer] Scrape complete, total raw listings: %d", len(s.listings))
	return s.listings, nil
}

// card is the shape returned by the in-page extraction script.
type card struct {
	StockID      string   `json:"stockId"`
	Title        string   `json:"title"`
	Make         string   `json:"make"`
	Model        string   `json:"model"`
	Year         string   `json:"year"`
	Price        string   `json:"price"`
	Mileage      string   `json:"mileage"`
	Engine       string   `json:"engine"`
	Transmission string   `json:"transmission"`
	Fuel         string   `json:"fuel"`
	Location     string   `json:"location"`
	URL          string   `json:"url"`
	Images       []string `json:"images"`
}

const cardsScript = `
(function() {
	var results = [];
	var cards = document.querySelectorAll('[data-testid="vehicle-card"], .vehicle-card, article.srp-listing');
	var pick = function(root, sels) {
		for (var i = 0; i < sels.length; i++) {
			var el = root.querySelector(sels[i]);
			if (el && el.innerText && el.innerText.trim()) return el.innerText.trim();
		}
		return '';
	};
	var spec = function(root, name) {
		var el = root.querySelector('[data-spec="' + name + '"]');
		return el ? el.innerText.trim() : '';
	};
	for (var i = 0; i < cards.length; i++) {
		var c = cards[i];
		var link = c.querySelector('a[href*="/vehicle/"], a.vehicle-link, a[href]');
		var imgs = [];
		c.querySelectorAll('img').forEach(function(img) {
			var src = img.getAttribute('data-src') || img.currentSrc || img.src;
			if (src && src.indexOf('data:') !== 0) imgs.push(src);
		});
		results.push({
			stockId:      c.getAttribute('data-stock-id') || c.getAttribute('data-vin') || '',
			title:        pick(c, ['[data-testid="vehicle-title"]', '.vehicle-title', 'h2', 'h3']),
			make:         c.getAttribute('data-make') || '',
			model:        c.getAttribute('data-model') || '',
			year:         c.getAttribute('data-year') || spec(c, 'year'),
			price:        pick(c, ['[data-testid="vehicle-price"]', '.primary-price', '.price']),
			mileage:      spec(c, 'mileage') || pick(c, ['.mileage']),
			engine:       spec(c, 'engine'),
			transmission: spec(c, 'transmission'),
			fuel:         spec(c, 'fuel'),
			location:     pick(c, ['[data-testid="dealer-location"]', '.dealer-location', '.location']),
			url:          link ? link.href : '',
			images:       imgs
		});
	}
	return results;
})()
`

const nextPageScript = `
(function() {
	var candidates = [
		document.querySelector('a[rel="next"]'),
		document.querySelector('[data-testid="pagination-next"]'),
		document.querySelector('a[aria-label="Next page"]'),
		document.querySelector('a[aria-label="Next"]')
	];
	for (var i = 0; i < candidates.length; i++) {
		if (candidates[i] && candidates[i].href) return candidates[i].href;
	}
	return '';
})()
`

const detailScript = `
(function() {
	var result = {engine: '', transmission: '', fuel: '', mileage: ''};
	var rows = document.querySelectorAll('dl dt, .specs-table th, [data-testid="spec-label"]');
	for (var i = 0; i < rows.length; i++) {
		var label = (rows[i].innerText || '').toLowerCase();
		var valueEl = rows[i].nextElementSibling;
		var value = valueEl ? valueEl.innerText.trim() : '';
		if (!value) continue;
		if (label.indexOf('engine') >= 0 || label.indexOf('displacement') >= 0) result.engine = result.engine || value;
		else if (label.indexOf('transmission') >= 0) result.transmission = result.transmission || value;
		else if (label.indexOf('fuel') >= 0) result.fuel = result.fuel || value;
		else if (label.indexOf('mileage') >= 0 || label.indexOf('odometer') >= 0) result.mileage = result.mileage || value;
	}
	return result;
})()
`

// scrapePage loads an inventory page and extracts listings.
func (s *Scraper) scrapePage(browserCtx context.Context, pageURL string, pageNum int) ([]*models.RawListing, string, error) {
	var rawListings []*models.RawListing
	var nextURL string

	err := s.retry.Do(browserCtx, fmt.Sprintf("autodealer-page-%d", pageNum), func() error {
		ctx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 90*time.Second)
		defer cancelTimeout()

		var cards []card
		var nextPageURL string

		err := chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(s.navSleep),

			// Scroll so lazy cards and images load
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(2*time.Second),

			chromedp.Evaluate(cardsScript, &cards),
			chromedp.Evaluate(nextPageScript, &nextPageURL),
		)
		if err != nil {
			return fmt.Errorf("chromedp page scrape: %w", err)
		}

		s.logger.Debug("[autodealer] Page %d, found %d cards", pageNum, len(cards))

		now := time.Now()
		for _, c := range cards {
			raw := toRawListing(c, now)
			if raw == nil {
				continue
			}
			if !s.visitedURL.Add(raw.ExternalID) {
				s.logger.Debug("[autodealer] Skipping duplicate: %s", raw.ExternalID)
				continue
			}
			rawListings = append(rawListings, raw)
		}

		nextURL = nextPageURL
		return nil
	})

	return rawListings, nextURL, err
}

// toRawListing maps an extracted card onto a RawListing. Cards with neither
// a stock id nor a link cannot be keyed and are dropped.
func toRawListing(c card, scrapedAt time.Time) *models.RawListing {
	id := strings.TrimSpace(c.StockID)
	if id == "" {
		id = idFromURL(c.URL)
	}
	if id == "" {
		return nil
	}

	city, state := splitLocation(c.Location)
	return &models.RawListing{
		Source:       source,
		ExternalID:   id,
		Category:     models.CategoryCar,
		Title:        strings.Join(strings.Fields(c.Title), " "),
		Brand:        strings.TrimSpace(c.Make),
		Model:        strings.TrimSpace(c.Model),
		RawYear:      c.Year,
		RawPrice:     c.Price,
		RawMileage:   c.Mileage,
		RawEngine:    c.Engine,
		Transmission: c.Transmission,
		FuelType:     c.Fuel,
		City:         city,
		State:        state,
		URL:          c.URL,
		ImageURLs:    c.Images,
		ScrapedAt:    scrapedAt,
	}
}

// idFromURL takes the last non-empty path segment, ignoring any query.
func idFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		u = u[i+1:]
	}
	if strings.Contains(u, ".") || strings.Contains(u, ":") {
		return ""
	}
	return u
}

func splitLocation(loc string) (city, state string) {
	parts := strings.SplitN(loc, ",", 2)
	city = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		state = strings.TrimSpace(parts[1])
	}
	return city, state
}

func needsEnrichment(l *models.RawListing) bool {
	return l.URL != "" && (l.RawEngine == "" || l.Transmission == "" || l.FuelType == "")
}

// enrichListings visits detail pages for listings with missing specs.
func (s *Scraper) enrichListings(browserCtx context.Context, listings []*models.RawListing) {
	for _, listing := range listings {
		l := listing
		if !needsEnrichment(l) {
			continue
		}

		s.pool.Submit(browserCtx, func(ctx context.Context) {
			d, err := s.scrapeDetailPage(ctx, l.URL)
			if err != nil {
				s.logger.Warn("[autodealer] Detail page failed for %s: %v", l.URL, err)
				return
			}
			applyDetail(l, d)
			s.logger.Debug("[autodealer] Enriched: %s", l.Title)
		})
	}
	s.pool.Wait()
}

type detail struct {
	Engine       string `json:"engine"`
	Transmission string `json:"transmission"`
	Fuel         string `json:"fuel"`
	Mileage      string `json:"mileage"`
}

// applyDetail fills only the fields the inventory card left empty.
func applyDetail(l *models.RawListing, d detail) {
	if l.RawEngine == "" {
		l.RawEngine = d.Engine
	}
	if l.Transmission == "" {
		l.Transmission = d.Transmission
	}
	if l.FuelType == "" {
		l.FuelType = d.Fuel
	}
	if l.RawMileage == "" {
		l.RawMileage = d.Mileage
	}
}

// scrapeDetailPage visits a vehicle detail page and extracts its spec table.
func (s *Scraper) scrapeDetailPage(browserCtx context.Context, url string) (detail, error) {
	var d detail

	err := s.retry.Do(browserCtx, "autodealer-detail", func() error {
		ctx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		err := chromedp.Run(ctx,
			chromedp.Navigate(url),
			chromedp.Sleep(s.navSleep),
			chromedp.Evaluate(detailScript, &d),
		)
		if err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}
		return nil
	})

	return d, err
}

// findChromeBinary locates a Chrome/Chromium binary. An empty result lets
// chromedp fall back to its own lookup.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
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
