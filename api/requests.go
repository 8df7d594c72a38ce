package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/services"
)

// CreateListingRequest is the body of POST /api/listings. Engine size may be
// sent either as free text or as the whole/decimal pair of the car form.
type CreateListingRequest struct {
	Title         string   `json:"title" binding:"required,max=200"`
	Brand         string   `json:"brand" binding:"max=80"`
	Model         string   `json:"model" binding:"max=120"`
	Year          int      `json:"year" binding:"required"`
	Price         int      `json:"price" binding:"required,gt=0"`
	Category      string   `json:"category" binding:"required"`
	Transmission  string   `json:"transmission"`
	FuelType      string   `json:"fuel_type"`
	Mileage       int      `json:"mileage" binding:"gte=0"`
	EngineSize    string   `json:"engine_size"`
	EngineWhole   string   `json:"engine_whole" binding:"omitempty,numeric"`
	EngineDecimal string   `json:"engine_decimal" binding:"omitempty,numeric,len=1"`
	State         string   `json:"state" binding:"max=40"`
	City          string   `json:"city" binding:"max=80"`
	Images        []string `json:"images" binding:"max=20,dive,url"`
}

// toListing validates the request fields that need domain rules and builds
// an inactive first-party listing.
func (r *CreateListingRequest) toListing(now time.Time) (*models.Listing, error) {
	category, err := models.ParseCategory(r.Category)
	if err != nil {
		return nil, err
	}

	year, err := services.ParseYear(strconv.Itoa(r.Year), now)
	if err != nil {
		return nil, err
	}

	transmission, err := services.NormalizeTransmission(r.Transmission)
	if err != nil {
		return nil, err
	}
	fuel, err := services.NormalizeFuelType(r.FuelType)
	if err != nil {
		return nil, err
	}

	rawEngine := strings.TrimSpace(r.EngineSize)
	if rawEngine == "" && r.EngineWhole != "" {
		rawEngine = r.EngineWhole
		if r.EngineDecimal != "" {
			rawEngine += "." + r.EngineDecimal
		}
	}
	var engine string
	if rawEngine != "" {
		if engine, err = services.NormalizeEngineSize(rawEngine, category); err != nil {
			return nil, err
		}
	}

	title := strings.Join(strings.Fields(r.Title), " ")
	if title == "" {
		return nil, fmt.Errorf("title must not be blank")
	}
	brand, model := services.DeriveBrandModel(title, r.Brand, r.Model)

	return &models.Listing{
		Title:        title,
		Brand:        brand,
		Model:        model,
		Year:         year,
		Price:        r.Price,
		Category:     category,
		Transmission: transmission,
		FuelType:     fuel,
		Mileage:      r.Mileage,
		EngineSize:   engine,
		State:        strings.TrimSpace(r.State),
		City:         strings.TrimSpace(r.City),
		Images:       r.Images,
		IsActive:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
