package motodealer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/arturpaehn/carlynx-sub002/config"
	"github.com/arturpaehn/carlynx-sub002/httpclient"
	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/scraper"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

const source = "motodealer"

// Scraper walks the used-motorcycle inventory of a server-rendered dealer
// site page by page, following rel="next" links.
type Scraper struct {
	client   *httpclient.Client
	logger   *utils.Logger
	startURL string
	maxPages int
	visited  *utils.URLSet
	now      func() time.Time
}

func New(cfg *config.Config, client *httpclient.Client, logger *utils.Logger) *Scraper {
	return &Scraper{
		client:   client,
		logger:   logger,
		startURL: cfg.MotoDealerURL,
		maxPages: cfg.PagesToScrape,
		visited:  utils.NewURLSet(),
		now:      time.Now,
	}
}

func (s *Scraper) Source() string { return source }

func (s *Scraper) Scrape(ctx context.Context) ([]*models.RawListing, error) {
	s.logger.Info("[motodealer] Starting scrape at %s (max %d pages)", s.startURL, s.maxPages)
	s.visited = utils.NewURLSet()

	var all []*models.RawListing
	pageURL := s.startURL
	page := 1
	for ; page <= s.maxPages && pageURL != ""; page++ {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("motodealer: stopped before page %d: %w: %v", page, scraper.ErrIncomplete, err)
		}
		if !s.visited.Add(pageURL) {
			s.logger.Warn("[motodealer] Pagination loops back to %s, stopping", pageURL)
			break
		}

		listings, next, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			if len(all) == 0 {
				return nil, err
			}
			s.logger.Error("[motodealer] Page %d failed: %v", page, err)
			return all, fmt.Errorf("motodealer: page %d: %w: %v", page, scraper.ErrIncomplete, err)
		}
		if len(listings) == 0 {
			s.logger.Warn("[motodealer] Page %d returned 0 listings, stopping", page)
			break
		}

		all = append(all, listings...)
		s.logger.Info("[motodealer] Page %d done, %d listings so far", page, len(all))
		pageURL = next
	}

	if page > s.maxPages && pageURL != "" && !s.visited.Contains(pageURL) {
		s.logger.Warn("[motodealer] Page limit %d reached with more pages left", s.maxPages)
		return all, fmt.Errorf("motodealer: page limit %d reached: %w", s.maxPages, scraper.ErrIncomplete)
	}

	s.logger.Info("[motodealer] Scrape complete, total raw listings: %d", len(all))
	return all, nil
}

func (s *Scraper) fetchPage(ctx context.Context, pageURL string) ([]*models.RawListing, string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("motodealer: invalid page URL: %w", err)
	}

	resp, err := s.client.Get(ctx, pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("motodealer: executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("motodealer: unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	listings, next, err := parseInventory(resp.Body, base)
	if err != nil {
		return nil, "", err
	}
	scrapedAt := s.now()
	for _, l := range listings {
		l.ScrapedAt = scrapedAt
	}
	return listings, next, nil
}

// parseInventory extracts listing cards and the next page link from one
// inventory page. Relative links are resolved against base.
func parseInventory(r io.Reader, base *url.URL) ([]*models.RawListing, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, "", fmt.Errorf("motodealer: parsing HTML: %w", err)
	}

	var listings []*models.RawListing
	doc.Find(".inventory-item").Each(func(_ int, card *goquery.Selection) {
		link := resolve(base, attr(card.Find("a.item-link").First(), "href"))

		id := strings.TrimSpace(attr(card, "data-stock-id"))
		if id == "" && link != "" {
			if u, err := url.Parse(link); err == nil {
				id = path.Base(strings.TrimSuffix(u.Path, "/"))
			}
		}

		title := text(card.Find(".item-title"))
		if title == "" {
			return
		}

		city, state := splitLocation(text(card.Find(".item-location")))

		var images []string
		card.Find("img").Each(func(_ int, img *goquery.Selection) {
			src := attr(img, "data-src")
			if src == "" {
				src = attr(img, "src")
			}
			if src != "" {
				images = append(images, resolve(base, src))
			}
		})

		listings = append(listings, &models.RawListing{
			Source:       source,
			ExternalID:   id,
			Category:     models.CategoryMotorcycle,
			Title:        title,
			Brand:        text(card.Find(".item-make")),
			Model:        text(card.Find(".item-model")),
			RawYear:      spec(card, "year"),
			RawPrice:     text(card.Find(".item-price")),
			RawMileage:   spec(card, "mileage"),
			RawEngine:    spec(card, "engine"),
			Transmission: spec(card, "transmission"),
			FuelType:     spec(card, "fuel"),
			City:         city,
			State:        state,
			URL:          link,
			ImageURLs:    images,
		})
	})

	next := resolve(base, attr(doc.Find(`a[rel="next"], link[rel="next"]`).First(), "href"))
	return listings, next, nil
}

func spec(card *goquery.Selection, name string) string {
	return text(card.Find(fmt.Sprintf(`[data-spec=%q]`, name)))
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.First().Text()), " ")
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// splitLocation turns "Dallas, TX" into its city and state parts.
func splitLocation(loc string) (city, state string) {
	parts := strings.SplitN(loc, ",", 2)
	city = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		state = strings.TrimSpace(parts[1])
	}
	return city, state
}
