package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

const firstPartySource = "first-party"

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		BySource:   make(map[string]int),
		ByCategory: make(map[models.Category]int),
		ByBrand:    make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var total int
	var mileageListings []*models.Listing
	for _, l := range listings {
		source := l.Source
		if source == "" {
			source = firstPartySource
		}
		report.BySource[source]++
		report.ByCategory[l.Category]++
		if l.Brand != "" {
			report.ByBrand[l.Brand]++
		}
		if l.Mileage > 0 {
			mileageListings = append(mileageListings, l)
		}

		total += l.Price
		if report.MinPrice == 0 || l.Price < report.MinPrice {
			report.MinPrice = l.Price
		}
		if report.MostExpensive == nil || l.Price > report.MaxPrice {
			report.MaxPrice = l.Price
			report.MostExpensive = l
		}
	}
	report.AveragePrice = round2(float64(total) / float64(len(listings)))

	// Top 5 by lowest mileage; zero means unknown and is left out
	sort.SliceStable(mileageListings, func(i, j int) bool {
		return mileageListings[i].Mileage < mileageListings[j].Mileage
	})
	if len(mileageListings) > 5 {
		mileageListings = mileageListings[:5]
	}
	report.LowestMileage = mileageListings

	return report
}

func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🚗 ACTIVE INVENTORY INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Active listings : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Cars            : \033[1m%d\033[0m\n", r.ByCategory[models.CategoryCar])
	fmt.Fprintf(w, "  Motorcycles     : \033[1m%d\033[0m\n", r.ByCategory[models.CategoryMotorcycle])
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.TotalListings > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%d\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%d\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  Location : %s\n", location(r.MostExpensive))
		fmt.Fprintf(w, "  Price    : \033[1;31m$%d\033[0m\n", r.MostExpensive.Price)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Lowest Mileage\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.LowestMileage) == 0 {
		fmt.Fprintf(w, "  No mileage data\n")
	} else {
		for i, l := range r.LowestMileage {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%d mi\033[0m\n",
				i+1, truncate(l.Title, 38), l.Mileage)
		}
	}
	fmt.Fprintln(w)

	printCounts(w, "Listings by Source", r.BySource)
	printCounts(w, "Listings by Brand", r.ByBrand)

	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	fmt.Fprintf(w, "\033[1;33m  %s\033[0m\n", title)
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 54))
	if len(counts) == 0 {
		fmt.Fprintf(w, "  No data\n\n")
		return
	}

	type kv struct {
		key   string
		count int
	}
	var rows []kv
	for k, c := range counts {
		rows = append(rows, kv{k, c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, r := range rows {
		bar := strings.Repeat("█", min(r.count, 40))
		fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(r.key, 28), bar, r.count)
	}
	fmt.Fprintln(w)
}

func location(l *models.Listing) string {
	switch {
	case l.City != "" && l.State != "":
		return l.City + ", " + l.State
	case l.City != "":
		return l.City
	}
	return l.State
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
