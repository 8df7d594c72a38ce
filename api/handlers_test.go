package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/storage"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

// --- Mocks ---

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, id int64) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockStore) List(ctx context.Context, f storage.ListFilter) ([]*models.Listing, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Listing), args.Error(1)
}

func (m *MockStore) Insert(ctx context.Context, l *models.Listing) (int64, error) {
	args := m.Called(ctx, l)
	return args.Get(0).(int64), args.Error(1)
}

// memCache is a map-backed Cache that round-trips through JSON like Redis.
type memCache struct {
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string, dst any) bool {
	b, ok := c.data[key]
	return ok && json.Unmarshal(b, dst) == nil
}

func (c *memCache) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sets++
	c.data[key] = b
	return nil
}

// hashedCache keys entries the way RedisCache does.
type hashedCache struct{ *memCache }

func (c hashedCache) Get(ctx context.Context, key string, dst any) bool {
	return c.memCache.Get(ctx, storage.CacheKey("carlynx", key), dst)
}

func (c hashedCache) Set(ctx context.Context, key string, v any) error {
	return c.memCache.Set(ctx, storage.CacheKey("carlynx", key), v)
}

// --- Helpers ---

var testNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func setupRouter(store ListingStore, cache Cache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := utils.Discard()
	h := NewHandler(store, cache, logger)
	h.now = func() time.Time { return testNow }
	return NewRouter(h, logger)
}

func doRequest(r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	msg, _ := resp["error"].(string)
	return msg
}

// --- Tests ---

func TestHealth(t *testing.T) {
	w := doRequest(setupRouter(new(MockStore), nil), "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListListings_ActiveOnlyWithFilters(t *testing.T) {
	store := new(MockStore)
	want := storage.ListFilter{
		Category:   models.CategoryMotorcycle,
		Brand:      "Honda",
		Source:     "motodealer",
		ActiveOnly: true,
		Limit:      10,
		Offset:     20,
	}
	store.On("List", mock.Anything, want).Return([]*models.Listing{
		{ID: 7, Title: "2020 Honda Rebel", IsActive: true},
	}, nil)

	w := doRequest(setupRouter(store, nil), "GET",
		"/api/listings?category=Motorcycle&brand=Honda&source=MotoDealer&limit=10&offset=20", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data   []models.Listing `json:"data"`
		Limit  int              `json:"limit"`
		Offset int              `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(7), resp.Data[0].ID)
	assert.Equal(t, 10, resp.Limit)
	assert.Equal(t, 20, resp.Offset)
	store.AssertExpectations(t)
}

func TestListListings_ClampsBadPaging(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, storage.ListFilter{ActiveOnly: true, Limit: defaultPageSize}).
		Return(nil, nil)

	w := doRequest(setupRouter(store, nil), "GET", "/api/listings?limit=5000&offset=-3", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
	store.AssertExpectations(t)
}

func TestListListings_InvalidCategory(t *testing.T) {
	w := doRequest(setupRouter(new(MockStore), nil), "GET", "/api/listings?category=boat", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w), "unknown vehicle category")
}

func TestListListings_StoreError(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	w := doRequest(setupRouter(store, nil), "GET", "/api/listings", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to list listings", decodeError(t, w))
}

func TestListListings_ServedFromCacheOnSecondRequest(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, mock.Anything).
		Return([]*models.Listing{{ID: 1, Title: "2019 Toyota Camry", IsActive: true}}, nil).Once()
	cache := newMemCache()
	r := setupRouter(store, cache)

	first := doRequest(r, "GET", "/api/listings?brand=Toyota", nil)
	second := doRequest(r, "GET", "/api/listings?brand=Toyota", nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Empty(t, first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, cache.sets)
	store.AssertNumberOfCalls(t, "List", 1)
}

func TestListListings_StateCaseIsNotSharedInCache(t *testing.T) {
	store := new(MockStore)
	store.On("List", mock.Anything, storage.ListFilter{State: "tx", ActiveOnly: true, Limit: defaultPageSize}).
		Return([]*models.Listing{}, nil).Once()
	store.On("List", mock.Anything, storage.ListFilter{State: "TX", ActiveOnly: true, Limit: defaultPageSize}).
		Return([]*models.Listing{{ID: 3, Title: "2021 Ford F-150", State: "TX", IsActive: true}}, nil).Once()
	r := setupRouter(store, hashedCache{newMemCache()})

	lower := doRequest(r, "GET", "/api/listings?state=tx", nil)
	upper := doRequest(r, "GET", "/api/listings?state=TX", nil)

	assert.Equal(t, http.StatusOK, lower.Code)
	assert.Equal(t, http.StatusOK, upper.Code)
	assert.Empty(t, upper.Header().Get("X-Cache"))
	var resp struct {
		Data []models.Listing `json:"data"`
	}
	require.NoError(t, json.Unmarshal(upper.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(3), resp.Data[0].ID)
	store.AssertExpectations(t)
}

func TestGetListing(t *testing.T) {
	store := new(MockStore)
	store.On("Get", mock.Anything, int64(42)).Return(&models.Listing{ID: 42, Title: "2018 BMW 330i", IsActive: true}, nil)
	store.On("Get", mock.Anything, int64(43)).Return(&models.Listing{ID: 43, IsActive: false}, nil)
	store.On("Get", mock.Anything, int64(44)).Return(nil, storage.ErrNotFound)
	store.On("Get", mock.Anything, int64(45)).Return(nil, errors.New("db down"))
	r := setupRouter(store, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"active", "/api/listings/42", http.StatusOK},
		{"inactive is hidden", "/api/listings/43", http.StatusNotFound},
		{"missing", "/api/listings/44", http.StatusNotFound},
		{"store error", "/api/listings/45", http.StatusInternalServerError},
		{"bad id", "/api/listings/abc", http.StatusBadRequest},
		{"zero id", "/api/listings/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, "GET", tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestCreateListing_StoresInactiveNormalizedListing(t *testing.T) {
	store := new(MockStore)
	var stored *models.Listing
	store.On("Insert", mock.Anything, mock.AnythingOfType("*models.Listing")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.Listing) }).
		Return(int64(101), nil)

	body := map[string]any{
		"title":          "2017  Ford F-150 XLT",
		"year":           2017,
		"price":          24500,
		"category":       "car",
		"transmission":   "10-Speed Automatic",
		"fuel_type":      "Gas",
		"mileage":        88000,
		"engine_whole":   "3",
		"engine_decimal": "5",
		"state":          "TX",
		"city":           "Austin",
		"images":         []string{"https://img.example/a.jpg"},
	}
	w := doRequest(setupRouter(store, nil), "POST", "/api/listings", body)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, stored)
	assert.False(t, stored.IsActive)
	assert.Empty(t, stored.Source)
	assert.Empty(t, stored.ExternalID)
	assert.Equal(t, "2017 Ford F-150 XLT", stored.Title)
	assert.Equal(t, "Ford", stored.Brand)
	assert.Equal(t, "F-150 XLT", stored.Model)
	assert.Equal(t, "3.5", stored.EngineSize)
	assert.Equal(t, "automatic", stored.Transmission)
	assert.Equal(t, "gasoline", stored.FuelType)
	assert.True(t, stored.CreatedAt.Equal(testNow))

	var resp models.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(101), resp.ID)
	store.AssertExpectations(t)
}

func TestCreateListing_Rejections(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{
			"title":    "2021 Yamaha MT-07",
			"year":     2021,
			"price":    7200,
			"category": "motorcycle",
		}
	}

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr string
	}{
		{"missing title", func(b map[string]any) { delete(b, "title") }, "Invalid request body"},
		{"zero price", func(b map[string]any) { b["price"] = 0 }, "Invalid request body"},
		{"negative mileage", func(b map[string]any) { b["mileage"] = -1 }, "Invalid request body"},
		{"bad image url", func(b map[string]any) { b["images"] = []string{"not a url"} }, "Invalid request body"},
		{"unknown category", func(b map[string]any) { b["category"] = "truck" }, "unknown vehicle category"},
		{"future year", func(b map[string]any) { b["year"] = 2031 }, "invalid year"},
		{"bad engine", func(b map[string]any) { b["engine_size"] = "3000cc" }, "must be between 50 and 2500 cc"},
		{"unknown transmission", func(b map[string]any) { b["transmission"] = "warp" }, "transmission"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			body := valid()
			tt.mutate(body)

			w := doRequest(setupRouter(store, nil), "POST", "/api/listings", body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeError(t, w), tt.wantErr)
			store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestEngineSize(t *testing.T) {
	r := setupRouter(new(MockStore), nil)

	tests := []struct {
		name   string
		query  string
		status int
		want   string
	}{
		{"car liters", "raw=3.7L&category=car", http.StatusOK, `{"engine_size":"3.7","category":"car","whole":"3","decimal":"7"}`},
		{"car cc", "raw=2000&category=car", http.StatusOK, `{"engine_size":"2.0","category":"car","whole":"2","decimal":"0"}`},
		{"moto liters", "raw=0.6&category=motorcycle", http.StatusOK, `{"engine_size":"600","category":"motorcycle"}`},
		{"car out of range", "raw=0.3&category=car", http.StatusBadRequest, ""},
		{"unknown category", "raw=2.0&category=boat", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, "GET", "/api/engine-size?"+tt.query, nil)
			assert.Equal(t, tt.status, w.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, w.Body.String())
			}
		})
	}
}
