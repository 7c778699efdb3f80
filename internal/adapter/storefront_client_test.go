package adapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/retry"
)

func fastPolicy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Retryable:    apperrors.IsRetryable,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*StorefrontClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := &models.Store{ID: "store-1", BaseURL: srv.URL, APIKey: "secret-key"}
	c := NewStorefrontClient(store, 100, 10, 5*time.Second)
	c.policy = fastPolicy()
	return c, srv
}

func TestFetchOrders_PageRequestShape(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"after":          r.URL.Query().Get("after"),
			"limit":          r.URL.Query().Get("limit"),
			"order":          r.URL.Query().Get("order"),
			"modified_since": r.URL.Query().Get("modified_since"),
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{
					"id":     42,
					"number": "1001",
					"status": "completed",
					"total":  "19.90",
					"line_items": []map[string]interface{}{
						{"sku": "ABC", "name": "Widget", "quantity": 2, "price": "9.95"},
					},
				},
			},
			"has_more": true,
		})
	}))

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	page, err := c.FetchOrders(t.Context(), 41, since)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "41", gotQuery["after"])
	assert.Equal(t, "100", gotQuery["limit"])
	assert.Equal(t, "id_asc", gotQuery["order"])
	assert.Equal(t, "2026-03-01T12:00:00Z", gotQuery["modified_since"])

	require.Len(t, page.Orders, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(42), page.Orders[0].RemoteID)
	assert.Equal(t, "store-1", page.Orders[0].StoreID)
	require.Len(t, page.Orders[0].Items, 1)
	assert.Equal(t, 2, page.Orders[0].Items[0].Quantity)
}

func TestFetchProducts_EmptyPage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/products", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}, "has_more": false})
	}))

	page, err := c.FetchProducts(t.Context(), 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, page.Products)
	assert.False(t, page.HasMore)
}

func TestGet_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}, "has_more": false})
	}))

	_, err := c.FetchOrders(t.Context(), 0, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGet_UnauthorizedAbortsImmediately(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.FetchOrders(t.Context(), 0, time.Time{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
	assert.True(t, apperrors.IsPermanentRemote(err))
}

func TestGet_RateLimitShrinksPageSize(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}, "has_more": false})
	}))

	require.Equal(t, 100, c.PageSize())

	_, err := c.FetchOrders(t.Context(), 0, time.Time{})
	require.NoError(t, err)

	// Halved on 429, partially recovered after the success.
	assert.Equal(t, 60, c.PageSize())
}

func TestBackOff_DelayGrowsAdditively(t *testing.T) {
	store := &models.Store{ID: "store-1", BaseURL: "http://example.invalid", APIKey: "secret-key"}
	c := NewStorefrontClient(store, 100, 10, 5*time.Second)

	c.backOff("")
	assert.Equal(t, 500*time.Millisecond, c.currentDelay())
	c.backOff("")
	assert.Equal(t, time.Second, c.currentDelay())
	c.backOff("")
	assert.Equal(t, 1500*time.Millisecond, c.currentDelay())

	// Retry-After longer than the accumulated delay takes precedence.
	c.backOff("5")
	assert.Equal(t, 5*time.Second, c.currentDelay())
}

func TestGet_PageSizeNeverDropsBelowFloor(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.FetchOrders(t.Context(), 0, time.Time{})
	require.Error(t, err)
	assert.GreaterOrEqual(t, c.PageSize(), 10)
}

func TestGet_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	// First pull burns its retry budget against the failing store.
	_, err := c.FetchOrders(t.Context(), 0, time.Time{})
	require.Error(t, err)
	require.Equal(t, 3, calls)

	// Second pull trips the breaker partway through; the remaining attempt
	// is blocked without touching the network.
	_, err = c.FetchOrders(t.Context(), 0, time.Time{})
	require.Error(t, err)
	require.Equal(t, 5, calls)

	// With the breaker open every attempt fails fast.
	_, err = c.FetchOrders(t.Context(), 0, time.Time{})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.ErrorContains(t, err, "circuit breaker is open")
}
