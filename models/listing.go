package models

import (
	"fmt"
	"strings"
	"time"
)

// Category is the vehicle category a listing belongs to.
type Category string

const (
	CategoryCar        Category = "car"
	CategoryMotorcycle Category = "motorcycle"
)

// ParseCategory case-folds raw into a known Category.
func ParseCategory(raw string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "car", "cars", "auto":
		return CategoryCar, nil
	case "motorcycle", "motorcycles", "moto", "motorbike", "bike":
		return CategoryMotorcycle, nil
	}
	return "", fmt.Errorf("unknown vehicle category %q", raw)
}

// RawListing holds unprocessed scraped data straight from a dealer page.
// This is written to CSV before any cleaning or normalization.
type RawListing struct {
	Source       string
	ExternalID   string
	Category     Category
	Title        string
	Brand        string
	Model        string
	RawYear      string
	RawPrice     string
	RawMileage   string
	RawEngine    string
	Transmission string
	FuelType     string
	State        string
	City         string
	URL          string
	ImageURLs    []string
	ScrapedAt    time.Time
}

// Key returns the import key of the raw record.
func (r *RawListing) Key() ListingKey {
	return ListingKey{Source: r.Source, ExternalID: strings.TrimSpace(r.ExternalID)}
}

// ListingKey uniquely identifies an externally imported listing.
type ListingKey struct {
	Source     string
	ExternalID string
}

func (k ListingKey) String() string {
	return k.Source + ":" + k.ExternalID
}

// Listing is the canonical, normalized vehicle record.
// An empty Source marks a first-party listing submitted by a user.
type Listing struct {
	ID           int64     `json:"id"`
	Source       string    `json:"source,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	Title        string    `json:"title"`
	Brand        string    `json:"brand"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	Price        int       `json:"price"`
	Category     Category  `json:"category"`
	Transmission string    `json:"transmission,omitempty"`
	FuelType     string    `json:"fuel_type,omitempty"`
	Mileage      int       `json:"mileage"`
	EngineSize   string    `json:"engine_size,omitempty"`
	State        string    `json:"state,omitempty"`
	City         string    `json:"city,omitempty"`
	URL          string    `json:"url,omitempty"`
	Images       []string  `json:"images"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the import key of the listing.
func (l *Listing) Key() ListingKey {
	return ListingKey{Source: l.Source, ExternalID: l.ExternalID}
}

// External reports whether the listing came from a scraped source.
func (l *Listing) External() bool {
	return l.Source != ""
}

// ImportReport summarizes one importer run.
type ImportReport struct {
	RunID       string
	Source      string
	Inserted    int
	Updated     int
	Failed      int
	Deactivated int64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// InsightReport holds summary statistics over the active inventory.
type InsightReport struct {
	TotalListings int
	BySource      map[string]int
	ByCategory    map[Category]int
	ByBrand       map[string]int
	AveragePrice  float64
	MinPrice      int
	MaxPrice      int
	MostExpensive *Listing
	LowestMileage []*Listing
}
