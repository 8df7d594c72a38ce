package storage

import (
	"context"
	"errors"

	"github.com/arturpaehn/carlynx-sub002/models"
)

// ErrNotFound is returned when no listing matches a lookup.
var ErrNotFound = errors.New("listing not found")

// ListFilter narrows a listing query. Zero values mean "no filter".
type ListFilter struct {
	Category   models.Category
	Brand      string
	Source     string
	State      string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ListingStore is the interface any listing storage backend must satisfy.
type ListingStore interface {
	FindByKey(ctx context.Context, key models.ListingKey) (*models.Listing, error)
	Insert(ctx context.Context, l *models.Listing) (int64, error)
	UpdateImported(ctx context.Context, l *models.Listing) error
	Get(ctx context.Context, id int64) (*models.Listing, error)
	List(ctx context.Context, f ListFilter) ([]*models.Listing, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeactivateMissing(ctx context.Context, source string, seen []string) (int64, error)
	Close() error
}

// RawListingWriter is the interface for persisting unprocessed scraped data.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}
