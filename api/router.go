package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/storage"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

// ListingStore is the slice of storage the HTTP layer needs.
type ListingStore interface {
	Get(ctx context.Context, id int64) (*models.Listing, error)
	List(ctx context.Context, f storage.ListFilter) ([]*models.Listing, error)
	Insert(ctx context.Context, l *models.Listing) (int64, error)
}

// Cache is an optional read-through cache for listing queries.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, v any) error
}

// Handler serves the listings API.
type Handler struct {
	store  ListingStore
	cache  Cache
	logger *utils.Logger
	now    func() time.Time
}

// NewHandler creates a Handler. cache may be nil.
func NewHandler(store ListingStore, cache Cache, logger *utils.Logger) *Handler {
	return &Handler{store: store, cache: cache, logger: logger, now: time.Now}
}

// NewRouter wires the handler into a gin engine with request logging routed
// through logger.
func NewRouter(h *Handler, logger *utils.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery())

	r.GET("/healthz", h.Health)

	v := r.Group("/api")
	v.GET("/listings", h.ListListings)
	v.GET("/listings/:id", h.GetListing)
	v.POST("/listings", h.CreateListing)
	v.GET("/engine-size", h.EngineSize)

	return r
}
