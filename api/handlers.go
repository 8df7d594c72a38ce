package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/services"
	"github.com/arturpaehn/carlynx-sub002/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Health handles GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListListings handles GET /api/listings. Only active listings are public.
func (h *Handler) ListListings(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	filter := storage.ListFilter{
		Brand:      strings.TrimSpace(c.Query("brand")),
		Source:     strings.ToLower(strings.TrimSpace(c.Query("source"))),
		State:      strings.TrimSpace(c.Query("state")),
		ActiveOnly: true,
		Limit:      limit,
		Offset:     offset,
	}
	if raw := c.Query("category"); raw != "" {
		cat, err := models.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Category = cat
	}

	ctx := c.Request.Context()
	key := listCacheKey(filter)

	var listings []*models.Listing
	if h.cache != nil && h.cache.Get(ctx, key, &listings) {
		c.Header("X-Cache", "HIT")
	} else {
		listings, err = h.store.List(ctx, filter)
		if err != nil {
			_ = c.Error(err)
			h.logger.Error("[api] list listings: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list listings"})
			return
		}
		if listings == nil {
			listings = []*models.Listing{}
		}
		if h.cache != nil {
			if err := h.cache.Set(ctx, key, listings); err != nil {
				h.logger.Warn("[api] cache set failed: %v", err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   listings,
		"limit":  limit,
		"offset": offset,
	})
}

func listCacheKey(f storage.ListFilter) string {
	return fmt.Sprintf("listings|%s|%s|%s|%s|%d|%d",
		f.Category, f.Brand, f.Source, f.State, f.Limit, f.Offset)
}

// GetListing handles GET /api/listings/:id. Inactive listings are reported
// as not found.
func (h *Handler) GetListing(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	l, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !l.IsActive) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		h.logger.Error("[api] get listing %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		return
	}

	c.JSON(http.StatusOK, l)
}

// CreateListing handles POST /api/listings. First-party listings are stored
// inactive until they are paid for or approved.
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	l, err := req.toListing(h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.store.Insert(c.Request.Context(), l)
	if err != nil {
		_ = c.Error(err)
		h.logger.Error("[api] create listing: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create listing"})
		return
	}
	l.ID = id

	h.logger.Info("[api] Created first-party listing %d (%s)", id, l.Title)
	c.JSON(http.StatusCreated, l)
}

// EngineSize handles GET /api/engine-size?raw=&category=. It returns the
// canonical value plus the whole and decimal parts a listing form shows.
func (h *Handler) EngineSize(c *gin.Context) {
	category, err := models.ParseCategory(c.Query("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, err := services.NormalizeEngineSize(c.Query("raw"), category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"engine_size": value, "category": category}
	if whole, decimal := services.SplitEngineSize(value, category); whole != "" {
		resp["whole"] = whole
		resp["decimal"] = decimal
	}
	c.JSON(http.StatusOK, resp)
}
