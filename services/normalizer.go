package services

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arturpaehn/carlynx-sub002/models"
)

// Engine size bounds. Cars are stored in liters, motorcycles in whole cc.
const (
	carMinLiters   = 0.5
	carMaxLiters   = 12.0
	motoMinCC      = 50
	motoMaxCC      = 2500
	unitThreshold  = 10.0 // below: liters, at or above: cc
	litersPerCC    = 1000.0
	minListingYear = 1900
)

var (
	// ErrUnparsable marks input that is not a number after cleanup.
	ErrUnparsable = errors.New("unparsable value")
	// ErrOutOfRange marks a number outside the plausible bounds for its field.
	ErrOutOfRange = errors.New("value out of range")
)

var (
	// engineUnitRegexp strips a trailing unit, longest spellings first
	engineUnitRegexp = regexp.MustCompile(`(litres|liters|litre|liter|cc|l)$`)
	// yearRegexp captures the first plausible four-digit model year
	yearRegexp = regexp.MustCompile(`\b(1[89]\d{2}|2\d{3})\b`)
	// priceRegexp captures the numeric part of a price once separators are gone
	priceRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// mileageRegexp captures digits with an optional "k" thousands suffix
	mileageRegexp = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(k\b)?`)
)

// EngineSizeError reports an engine size that could not be normalized.
type EngineSizeError struct {
	Input    string
	Category models.Category
	Err      error // ErrUnparsable or ErrOutOfRange
}

func (e *EngineSizeError) Error() string {
	if errors.Is(e.Err, ErrUnparsable) {
		return fmt.Sprintf("cannot parse engine size %q: not a number", e.Input)
	}
	switch e.Category {
	case models.CategoryCar:
		return fmt.Sprintf("invalid car engine size %q: must be between %.1f and %.1f liters",
			e.Input, carMinLiters, carMaxLiters)
	case models.CategoryMotorcycle:
		return fmt.Sprintf("invalid motorcycle engine size %q: must be between %d and %d cc",
			e.Input, motoMinCC, motoMaxCC)
	}
	return fmt.Sprintf("invalid engine size %q for category %q", e.Input, e.Category)
}

func (e *EngineSizeError) Unwrap() error { return e.Err }

// NormalizeEngineSize converts a free-text engine size into the canonical
// unit of its category: liters with one decimal for cars ("2.0"), whole
// cubic centimeters for motorcycles ("600"). Neither carries a unit suffix.
//
// Values of 10 and above are read as cc for cars; values strictly between 0
// and 10 are read as liters for motorcycles.
func NormalizeEngineSize(raw string, category models.Category) (string, error) {
	v, err := parseEngineNumber(raw)
	if err != nil {
		return "", &EngineSizeError{Input: raw, Category: category, Err: ErrUnparsable}
	}

	switch category {
	case models.CategoryCar:
		liters := v
		if v >= unitThreshold {
			liters = v / litersPerCC
		}
		if !(liters >= carMinLiters && liters <= carMaxLiters) {
			return "", &EngineSizeError{Input: raw, Category: category, Err: ErrOutOfRange}
		}
		return strconv.FormatFloat(liters, 'f', 1, 64), nil

	case models.CategoryMotorcycle:
		cc := v
		if v > 0 && v < unitThreshold {
			cc = v * litersPerCC
		}
		cc = math.Round(cc)
		if !(cc >= motoMinCC && cc <= motoMaxCC) {
			return "", &EngineSizeError{Input: raw, Category: category, Err: ErrOutOfRange}
		}
		return strconv.Itoa(int(cc)), nil
	}

	return "", &EngineSizeError{Input: raw, Category: category, Err: ErrOutOfRange}
}

func parseEngineNumber(raw string) (float64, error) {
	s := strings.ToLower(raw)
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.Join(strings.Fields(s), "")
	s = engineUnitRegexp.ReplaceAllString(s, "")
	if s == "" {
		return 0, ErrUnparsable
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrUnparsable
	}
	return v, nil
}

// SplitEngineSize splits a normalized car liter value into its whole and
// first decimal digit, e.g. "3.7" into ("3", "7"). Motorcycles and
// non-numeric input yield two empty strings.
func SplitEngineSize(normalized string, category models.Category) (whole, decimal string) {
	if category != models.CategoryCar {
		return "", ""
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(normalized), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", ""
	}

	w := math.Floor(v)
	d := math.Round((v - w) * 10)
	if d >= 10 {
		w++
		d = 0
	}
	return strconv.Itoa(int(w)), strconv.Itoa(int(d))
}

// NormalizeTransmission case-folds a transmission label to "manual" or
// "automatic". Empty input means unknown and returns "".
func NormalizeTransmission(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", nil
	}
	for _, w := range strings.FieldsFunc(s, splitWords) {
		switch w {
		case "manual", "stick", "mt", "m/t", "standard", "stickshift":
			return "manual", nil
		case "automatic", "auto", "at", "a/t", "cvt", "dct", "dsg", "tiptronic", "steptronic", "semi-automatic":
			return "automatic", nil
		}
	}
	if strings.Contains(s, "manual") {
		return "manual", nil
	}
	if strings.Contains(s, "auto") {
		return "automatic", nil
	}
	return "", fmt.Errorf("unknown transmission %q: %w", raw, ErrUnparsable)
}

// NormalizeFuelType case-folds a fuel label to one of "gasoline", "diesel",
// "hybrid" or "electric". Empty input means unknown and returns "".
func NormalizeFuelType(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", nil
	}
	words := strings.FieldsFunc(s, splitWords)
	has := func(candidates ...string) bool {
		for _, w := range words {
			for _, c := range candidates {
				if w == c {
					return true
				}
			}
		}
		return false
	}

	switch {
	case strings.Contains(s, "hybrid") || strings.Contains(s, "/electric") || has("phev", "hev", "plug-in"):
		return "hybrid", nil
	case strings.Contains(s, "diesel") || has("tdi", "crdi"):
		return "diesel", nil
	case strings.Contains(s, "electric") || has("ev", "bev"):
		return "electric", nil
	case has("gas", "gasoline", "petrol", "unleaded", "benzin", "benzine", "flex", "e85"):
		return "gasoline", nil
	}
	return "", fmt.Errorf("unknown fuel type %q: %w", raw, ErrUnparsable)
}

func splitWords(r rune) bool {
	return r == ' ' || r == ',' || r == '(' || r == ')' || r == ';' || r == '|'
}

// ParsePrice extracts a whole-dollar price from text like "$12,500" or
// "USD 9 999". The result must be positive.
func ParsePrice(raw string) (int, error) {
	s := strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(raw)
	loc := priceRegexp.FindStringIndex(s)
	if loc == nil {
		return 0, fmt.Errorf("cannot parse price %q: %w", raw, ErrUnparsable)
	}
	if strings.ContainsAny(s[:loc[0]], "-\u2212") {
		return 0, fmt.Errorf("invalid price %q: must be positive: %w", raw, ErrOutOfRange)
	}
	match := s[loc[0]:loc[1]]
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse price %q: %w", raw, ErrUnparsable)
	}
	price := int(math.Round(f))
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %q: must be positive: %w", raw, ErrOutOfRange)
	}
	return price, nil
}

// ParseYear finds the first four-digit year in raw and checks it lies
// between 1900 and the year after now.
func ParseYear(raw string, now time.Time) (int, error) {
	match := yearRegexp.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("cannot parse year %q: %w", raw, ErrUnparsable)
	}
	year, _ := strconv.Atoi(match)
	maxYear := now.Year() + 1
	if year < minListingYear || year > maxYear {
		return 0, fmt.Errorf("invalid year %q: must be between %d and %d: %w",
			raw, minListingYear, maxYear, ErrOutOfRange)
	}
	return year, nil
}

// ParseMileage reads an odometer value such as "45,120 mi" or "12k".
// Empty input is treated as zero.
func ParseMileage(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}
	s = strings.NewReplacer(",", "", "\u00a0", " ").Replace(s)
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid mileage %q: must not be negative: %w", raw, ErrOutOfRange)
	}
	m := mileageRegexp.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("cannot parse mileage %q: %w", raw, ErrUnparsable)
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse mileage %q: %w", raw, ErrUnparsable)
	}
	if m[2] != "" {
		f *= 1000
	}
	return int(math.Round(f)), nil
}

// knownBrands lists makes whose names span more than one word or carry
// punctuation, so the first-word fallback would cut them.
var knownBrands = []string{
	"Alfa Romeo", "Aston Martin", "Land Rover", "Mercedes-Benz", "Mercedes Benz",
	"Rolls-Royce", "Harley-Davidson", "Harley Davidson", "Royal Enfield", "Moto Guzzi",
	"MV Agusta", "Can-Am",
}

// DeriveBrandModel fills brand and model from the title when they are
// missing. A leading model year in the title is skipped.
func DeriveBrandModel(title, brand, model string) (string, string) {
	brand = strings.TrimSpace(brand)
	model = strings.TrimSpace(model)
	if brand != "" && model != "" {
		return brand, model
	}

	rest := normaliseText(title)
	if fields := strings.Fields(rest); len(fields) > 0 && yearRegexp.MatchString(fields[0]) && len(fields[0]) == 4 {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))
	}

	if brand == "" {
		for _, b := range knownBrands {
			if len(rest) >= len(b) && strings.EqualFold(rest[:len(b)], b) {
				brand = rest[:len(b)]
				break
			}
		}
		if brand == "" {
			if fields := strings.Fields(rest); len(fields) > 0 {
				brand = fields[0]
			}
		}
	}

	if model == "" && brand != "" && len(rest) >= len(brand) && strings.EqualFold(rest[:len(brand)], brand) {
		model = strings.TrimSpace(rest[len(brand):])
	}
	return brand, model
}
