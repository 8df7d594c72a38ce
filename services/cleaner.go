package services

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

// Cleaner transforms RawListings into canonical Listings.
type Cleaner struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger, now: time.Now}
}

// Clean normalizes raw listings. A record that fails normalization is
// logged and skipped; the rest of the batch carries on. The second return
// value is the number of dropped records.
func (c *Cleaner) Clean(raw []*models.RawListing) ([]*models.Listing, int) {
	seen := make(map[models.ListingKey]struct{})
	result := make([]*models.Listing, 0, len(raw))

	for _, r := range raw {
		key := models.ListingKey{Source: normaliseSource(r.Source), ExternalID: strings.TrimSpace(r.ExternalID)}
		if key.ExternalID == "" {
			c.logger.Warn("[cleaner] Dropping %s listing with empty external id: %s", r.Source, r.Title)
			continue
		}

		if _, dup := seen[key]; dup {
			c.logger.Debug("[cleaner] Duplicate key skipped: %s", key)
			continue
		}
		seen[key] = struct{}{}

		listing, err := c.Normalize(r)
		if err != nil {
			c.logger.Warn("[cleaner] Skipping %s: %v", key, err)
			continue
		}
		result = append(result, listing)
	}

	dropped := len(raw) - len(result)
	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)", len(raw), len(result), dropped)
	return result, dropped
}

// Normalize converts a single raw record into the canonical schema.
func (c *Cleaner) Normalize(r *models.RawListing) (*models.Listing, error) {
	if r.Category != models.CategoryCar && r.Category != models.CategoryMotorcycle {
		return nil, fmt.Errorf("unknown category %q", r.Category)
	}

	title := normaliseText(r.Title)
	if title == "" {
		return nil, fmt.Errorf("empty title")
	}

	price, err := ParsePrice(r.RawPrice)
	if err != nil {
		return nil, err
	}

	year, err := ParseYear(firstNonEmpty(r.RawYear, title), c.now())
	if err != nil {
		return nil, err
	}

	mileage, err := ParseMileage(r.RawMileage)
	if err != nil {
		return nil, err
	}

	var engine string
	if strings.TrimSpace(r.RawEngine) != "" {
		engine, err = NormalizeEngineSize(r.RawEngine, r.Category)
		if err != nil {
			return nil, err
		}
	}

	transmission, err := NormalizeTransmission(r.Transmission)
	if err != nil {
		return nil, err
	}

	fuel, err := NormalizeFuelType(r.FuelType)
	if err != nil {
		return nil, err
	}

	brand, model := DeriveBrandModel(title, r.Brand, r.Model)

	return &models.Listing{
		Source:       normaliseSource(r.Source),
		ExternalID:   strings.TrimSpace(r.ExternalID),
		Title:        title,
		Brand:        brand,
		Model:        model,
		Year:         year,
		Price:        price,
		Category:     r.Category,
		Transmission: transmission,
		FuelType:     fuel,
		Mileage:      mileage,
		EngineSize:   engine,
		State:        normaliseText(r.State),
		City:         normaliseText(r.City),
		URL:          strings.TrimSpace(r.URL),
		Images:       cleanImages(r.ImageURLs),
	}, nil
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func normaliseSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cleanImages(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
