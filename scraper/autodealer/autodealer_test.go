package autodealer

import (
	"testing"
	"time"

	"github.com/arturpaehn/carlynx-sub002/models"
)

func TestToRawListing(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := card{
		StockID:      " A7731 ",
		Title:        "2020  Mazda\n CX-5 Touring",
		Make:         "Mazda",
		Model:        "CX-5",
		Year:         "2020",
		Price:        "$21,450",
		Mileage:      "31,200 mi",
		Engine:       "2.5L",
		Transmission: "Automatic",
		Fuel:         "Gasoline",
		Location:     "Austin, TX",
		URL:          "https://www.autodealer.example/vehicle/A7731",
		Images:       []string{"https://img.example/1.jpg"},
	}

	got := toRawListing(c, now)
	if got == nil {
		t.Fatal("expected a listing")
	}
	if got.ExternalID != "A7731" {
		t.Errorf("ExternalID: got %q", got.ExternalID)
	}
	if got.Source != source || got.Category != models.CategoryCar {
		t.Errorf("Source/Category: got %q/%q", got.Source, got.Category)
	}
	if got.Title != "2020 Mazda CX-5 Touring" {
		t.Errorf("Title: got %q", got.Title)
	}
	if got.City != "Austin" || got.State != "TX" {
		t.Errorf("Location: got %q, %q", got.City, got.State)
	}
	if got.RawEngine != "2.5L" || got.RawPrice != "$21,450" {
		t.Errorf("raw fields not carried: %+v", got)
	}
	if !got.ScrapedAt.Equal(now) {
		t.Errorf("ScrapedAt: got %v", got.ScrapedAt)
	}
}

func TestToRawListingIDFallback(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.autodealer.example/vehicle/B12/?ref=srp", "B12"},
		{"https://www.autodealer.example/vehicle/C9#photos", "C9"},
		{"https://www.autodealer.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := toRawListing(card{URL: tt.url, Title: "x"}, time.Now())
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("url %q: expected card to be dropped, got id %q", tt.url, got.ExternalID)
		case tt.want != "" && (got == nil || got.ExternalID != tt.want):
			t.Errorf("url %q: expected id %q, got %+v", tt.url, tt.want, got)
		}
	}
}

func TestApplyDetailFillsOnlyMissing(t *testing.T) {
	l := &models.RawListing{URL: "https://x/vehicle/1", RawEngine: "3.5L", RawMileage: "10,000"}
	if !needsEnrichment(l) {
		t.Fatal("listing without transmission/fuel should need enrichment")
	}

	applyDetail(l, detail{Engine: "2.0L", Transmission: "CVT", Fuel: "Hybrid", Mileage: "99"})

	if l.RawEngine != "3.5L" {
		t.Errorf("engine overwritten: %q", l.RawEngine)
	}
	if l.RawMileage != "10,000" {
		t.Errorf("mileage overwritten: %q", l.RawMileage)
	}
	if l.Transmission != "CVT" || l.FuelType != "Hybrid" {
		t.Errorf("missing fields not filled: %q %q", l.Transmission, l.FuelType)
	}
	if needsEnrichment(l) {
		t.Error("complete listing should not need enrichment")
	}
}

func TestNeedsEnrichmentWithoutURL(t *testing.T) {
	if needsEnrichment(&models.RawListing{}) {
		t.Error("listing without URL cannot be enriched")
	}
}

func TestFindChromeBinaryPrefersConfigured(t *testing.T) {
	t.Setenv("CHROME_BIN", "/env/chrome")
	if got := findChromeBinary("/opt/custom/chrome"); got != "/opt/custom/chrome" {
		t.Errorf("got %q", got)
	}
	if got := findChromeBinary(""); got != "/env/chrome" {
		t.Errorf("got %q, want env value", got)
	}
}
