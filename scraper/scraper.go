package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/arturpaehn/carlynx-sub002/models"
)

// ErrIncomplete marks a scrape that stopped before reaching the end of the
// inventory. The listings returned alongside it are valid but partial.
var ErrIncomplete = errors.New("scrape incomplete")

// Scraper collects raw listings from one external dealer site.
type Scraper interface {
	// Source is the stable identifier stored with every imported listing.
	Source() string
	Scrape(ctx context.Context) ([]*models.RawListing, error)
}

// Registry maps source names to scrapers.
type Registry struct {
	scrapers map[string]Scraper
}

func NewRegistry(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper, len(scrapers))}
	for _, s := range scrapers {
		r.scrapers[s.Source()] = s
	}
	return r
}

// Select returns the scrapers for name, or all of them for "all" or "".
func (r *Registry) Select(name string) ([]Scraper, error) {
	if name == "" || name == "all" {
		out := make([]Scraper, 0, len(r.scrapers))
		for _, n := range r.Names() {
			out = append(out, r.scrapers[n])
		}
		return out, nil
	}
	s, ok := r.scrapers[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q (have %v)", name, r.Names())
	}
	return []Scraper{s}, nil
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scrapers))
	for n := range r.scrapers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
