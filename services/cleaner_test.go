package services

import (
	"testing"
	"time"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

func newTestCleaner() *Cleaner {
	c := NewCleaner(utils.Discard())
	c.now = func() time.Time { return time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC) }
	return c
}

func sampleRaw() *models.RawListing {
	return &models.RawListing{
		Source:       "AutoDealer",
		ExternalID:   " 4471 ",
		Category:     models.CategoryCar,
		Title:        "  2018   Toyota Camry SE ",
		RawPrice:     "$18,500",
		RawMileage:   "45,120 mi",
		RawEngine:    "2,5L",
		Transmission: "8-Speed Automatic",
		FuelType:     "Gasoline",
		State:        "TX",
		City:         " Austin ",
		URL:          "https://dealer.example/vehicle/4471",
		ImageURLs:    []string{"https://img/1.jpg", "", "https://img/1.jpg", "https://img/2.jpg"},
		ScrapedAt:    time.Now(),
	}
}

func TestCleanerNormalize(t *testing.T) {
	c := newTestCleaner()

	got, err := c.Normalize(sampleRaw())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if got.Source != "autodealer" || got.ExternalID != "4471" {
		t.Errorf("key: got %s", got.Key())
	}
	if got.Title != "2018 Toyota Camry SE" {
		t.Errorf("Title: got %q", got.Title)
	}
	if got.Brand != "Toyota" || got.Model != "Camry SE" {
		t.Errorf("Brand/Model: got %q/%q", got.Brand, got.Model)
	}
	if got.Year != 2018 {
		t.Errorf("Year: got %d, want 2018", got.Year)
	}
	if got.Price != 18500 {
		t.Errorf("Price: got %d, want 18500", got.Price)
	}
	if got.Mileage != 45120 {
		t.Errorf("Mileage: got %d, want 45120", got.Mileage)
	}
	if got.EngineSize != "2.5" {
		t.Errorf("EngineSize: got %q, want 2.5", got.EngineSize)
	}
	if got.Transmission != "automatic" || got.FuelType != "gasoline" {
		t.Errorf("Transmission/Fuel: got %q/%q", got.Transmission, got.FuelType)
	}
	if got.City != "Austin" {
		t.Errorf("City: got %q", got.City)
	}
	if len(got.Images) != 2 {
		t.Errorf("Images: got %v, want 2 unique", got.Images)
	}
}

func TestCleanerSkipsBadEngineSize(t *testing.T) {
	c := newTestCleaner()

	bad := sampleRaw()
	bad.ExternalID = "bad"
	bad.RawEngine = "0.3L"
	good := sampleRaw()

	cleaned, dropped := c.Clean([]*models.RawListing{bad, good})
	if len(cleaned) != 1 || dropped != 1 {
		t.Fatalf("expected 1 kept and 1 dropped, got %d kept, %d dropped", len(cleaned), dropped)
	}
	if cleaned[0].ExternalID != "4471" {
		t.Errorf("kept the wrong record: %s", cleaned[0].Key())
	}
}

func TestCleanerDropsEmptyExternalID(t *testing.T) {
	c := newTestCleaner()
	raw := sampleRaw()
	raw.ExternalID = "  "

	cleaned, dropped := c.Clean([]*models.RawListing{raw})
	if len(cleaned) != 0 || dropped != 1 {
		t.Errorf("expected record without external id to be dropped")
	}
}

func TestCleanerDeduplicatesKey(t *testing.T) {
	c := newTestCleaner()
	a := sampleRaw()
	b := sampleRaw()
	b.RawPrice = "$17,000"

	cleaned, _ := c.Clean([]*models.RawListing{a, b})
	if len(cleaned) != 1 {
		t.Fatalf("expected 1 listing after deduplication, got %d", len(cleaned))
	}
	if cleaned[0].Price != 18500 {
		t.Errorf("expected first occurrence to win, got price %d", cleaned[0].Price)
	}
}

func TestCleanerDeduplicatesAcrossSourceSpelling(t *testing.T) {
	c := newTestCleaner()
	a := sampleRaw()
	a.Source = " AutoDealer"
	b := sampleRaw()
	b.Source = "autodealer"
	b.ExternalID = "4471"
	b.RawPrice = "$17,000"

	cleaned, dropped := c.Clean([]*models.RawListing{a, b})
	if len(cleaned) != 1 || dropped != 1 {
		t.Fatalf("expected 1 listing and 1 dropped, got %d and %d", len(cleaned), dropped)
	}
	if cleaned[0].Source != "autodealer" || cleaned[0].Price != 18500 {
		t.Errorf("unexpected survivor: source %q price %d", cleaned[0].Source, cleaned[0].Price)
	}
}

func TestCleanerMotorcycleWithoutYearField(t *testing.T) {
	c := newTestCleaner()
	raw := &models.RawListing{
		Source:     "motodealer",
		ExternalID: "m-9",
		Category:   models.CategoryMotorcycle,
		Title:      "2021 Kawasaki Ninja 650",
		RawPrice:   "$6,999",
		RawEngine:  "0.65L",
	}

	got, err := c.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Year != 2021 || got.EngineSize != "650" || got.Brand != "Kawasaki" {
		t.Errorf("got year %d engine %q brand %q", got.Year, got.EngineSize, got.Brand)
	}
	if got.Mileage != 0 || got.Transmission != "" || got.FuelType != "" {
		t.Errorf("optional fields should stay empty, got %+v", got)
	}
}

func TestCleanerRejectsUnknownCategory(t *testing.T) {
	c := newTestCleaner()
	raw := sampleRaw()
	raw.Category = "boat"
	if _, err := c.Normalize(raw); err == nil {
		t.Error("expected error for unknown category")
	}
}
