// Package adapter talks to the remote storefront APIs. One client per
// store, built from the store row's base URL and credentials.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/storemirror/internal/circuitbreaker"
	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/retry"
	"github.com/storemirror/internal/types"
)

// remoteOrder mirrors the storefront order payload.
type remoteOrder struct {
	ID         int64             `json:"id"`
	Number     string            `json:"number"`
	Status     string            `json:"status"`
	Total      string            `json:"total"`
	Currency   string            `json:"currency"`
	Items      []remoteLineItem  `json:"line_items"`
	PlacedAt   time.Time         `json:"date_created"`
	ModifiedAt time.Time         `json:"date_modified"`
}

type remoteLineItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"price"`
}

// remoteProduct mirrors the storefront product payload.
type remoteProduct struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Price      string    `json:"price"`
	Stock      int       `json:"stock_quantity"`
	ModifiedAt time.Time `json:"date_modified"`
}

type pageEnvelope struct {
	Items   json.RawMessage `json:"items"`
	HasMore bool            `json:"has_more"`
}

// OrderPage is one page of orders in ascending remote-id order.
type OrderPage struct {
	Orders  []*models.Order
	HasMore bool
}

// ProductPage is one page of products in ascending remote-id order.
type ProductPage struct {
	Products []*models.Product
	HasMore  bool
}

// StorefrontClient pulls entity pages from one remote store. It shrinks its
// page size and adds delay between requests when the store rate-limits, and
// recovers both once requests succeed again.
type StorefrontClient struct {
	store   *models.Store
	client  *http.Client
	limiter *rate.Limiter
	policy  *retry.Policy
	breaker *circuitbreaker.CircuitBreaker

	mu         sync.Mutex
	pageSize   int
	minPage    int
	maxPage    int
	extraDelay time.Duration
}

// NewStorefrontClient builds a client for one store. pageSize bounds how
// many items a single request may return; minPageSize is the floor the
// adaptive throttle may shrink it to.
func NewStorefrontClient(store *models.Store, pageSize, minPageSize int, requestTimeout time.Duration) *StorefrontClient {
	policy := retry.DefaultPolicy()
	policy.Retryable = apperrors.IsRetryable

	return &StorefrontClient{
		store:    store,
		client:   &http.Client{Timeout: requestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(3), 3),
		policy:   policy,
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("store:" + store.ID)),
		pageSize: pageSize,
		minPage:  minPageSize,
		maxPage:  pageSize,
	}
}

// PageSize returns the current adaptive page size.
func (c *StorefrontClient) PageSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageSize
}

// FetchOrders returns the page of orders with remote id greater than after,
// modified at or after since, in ascending remote-id order.
func (c *StorefrontClient) FetchOrders(ctx context.Context, after int64, since time.Time) (*OrderPage, error) {
	body, err := c.getPage(ctx, types.KindOrders, after, since)
	if err != nil {
		return nil, err
	}

	var raw []remoteOrder
	if len(body.Items) > 0 {
		if err := json.Unmarshal(body.Items, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse orders page from %s: %w", c.store.ID, err)
		}
	}

	page := &OrderPage{HasMore: body.HasMore, Orders: make([]*models.Order, 0, len(raw))}
	for _, o := range raw {
		items := make([]models.OrderLineItem, 0, len(o.Items))
		for _, li := range o.Items {
			items = append(items, models.OrderLineItem{
				SKU:       li.SKU,
				Name:      li.Name,
				Quantity:  li.Quantity,
				UnitPrice: li.UnitPrice,
			})
		}
		page.Orders = append(page.Orders, &models.Order{
			StoreID:    c.store.ID,
			RemoteID:   o.ID,
			Number:     o.Number,
			Status:     o.Status,
			Total:      o.Total,
			Currency:   o.Currency,
			Items:      items,
			PlacedAt:   o.PlacedAt,
			ModifiedAt: o.ModifiedAt,
		})
	}
	return page, nil
}

// FetchProducts returns the page of products with remote id greater than
// after, modified at or after since, in ascending remote-id order.
func (c *StorefrontClient) FetchProducts(ctx context.Context, after int64, since time.Time) (*ProductPage, error) {
	body, err := c.getPage(ctx, types.KindProducts, after, since)
	if err != nil {
		return nil, err
	}

	var raw []remoteProduct
	if len(body.Items) > 0 {
		if err := json.Unmarshal(body.Items, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse products page from %s: %w", c.store.ID, err)
		}
	}

	page := &ProductPage{HasMore: body.HasMore, Products: make([]*models.Product, 0, len(raw))}
	for _, p := range raw {
		page.Products = append(page.Products, &models.Product{
			StoreID:    c.store.ID,
			RemoteID:   p.ID,
			SKU:        p.SKU,
			Name:       p.Name,
			Price:      p.Price,
			Stock:      p.Stock,
			ModifiedAt: p.ModifiedAt,
		})
	}
	return page, nil
}

func (c *StorefrontClient) getPage(ctx context.Context, kind types.EntityKind, after int64, since time.Time) (*pageEnvelope, error) {
	endpoint := fmt.Sprintf("%s/api/v1/%s", c.store.BaseURL, string(kind))

	params := url.Values{}
	params.Set("after", strconv.FormatInt(after, 10))
	params.Set("limit", strconv.Itoa(c.PageSize()))
	params.Set("order", "id_asc")
	if !since.IsZero() {
		params.Set("modified_since", since.UTC().Format(time.RFC3339))
	}

	body, err := c.get(ctx, endpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse page envelope from %s: %w", c.store.ID, err)
	}
	return &envelope, nil
}

// get performs one GET under the retry policy. HTTP status codes are
// classified so the policy stops immediately on auth and not-found
// responses instead of burning attempts. A per-store circuit breaker sits
// inside the retry loop: once the store has failed enough times in a row,
// attempts fail fast without touching the network until the cooldown probe.
func (c *StorefrontClient) get(ctx context.Context, requestURL string) ([]byte, error) {
	var body []byte

	result := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewRemoteTransientError(c.store.ID, 0, err)
		}
		if d := c.currentDelay(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return apperrors.NewRemoteTransientError(c.store.ID, 0, ctx.Err())
			}
		}

		err := c.breaker.Execute(ctx, func() error {
			data, reqErr := c.doRequest(ctx, requestURL)
			if reqErr != nil {
				return reqErr
			}
			body = data
			return nil
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return apperrors.NewRemoteTransientError(c.store.ID, 0, err)
		}
		return err
	})

	if !result.Success {
		return nil, result.LastError
	}
	return body, nil
}

// doRequest performs a single HTTP round trip and classifies the response.
func (c *StorefrontClient) doRequest(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, apperrors.NewRemotePermanentError(c.store.ID, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.store.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewRemoteTransientError(c.store.ID, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewRemoteTransientError(c.store.ID, resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.backOff(resp.Header.Get("Retry-After"))
		return nil, apperrors.NewRemoteRateLimitError(c.store.ID)
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewRemotePermanentError(c.store.ID, resp.StatusCode,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data, 200)))
	case resp.StatusCode >= 500:
		return nil, apperrors.NewRemoteTransientError(c.store.ID, resp.StatusCode,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data, 200)))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewRemotePermanentError(c.store.ID, resp.StatusCode,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(data, 200)))
	}

	c.recovered()
	return data, nil
}

func (c *StorefrontClient) currentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extraDelay
}

// backOff reacts to a 429: each one adds a fixed increment to the delay
// between requests and shrinks the page size so the next request asks for
// less. The increase is additive; recovery halves it back down.
func (c *StorefrontClient) backOff(retryAfter string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.extraDelay += 500 * time.Millisecond
	if c.extraDelay > 10*time.Second {
		c.extraDelay = 10 * time.Second
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		if d := time.Duration(seconds) * time.Second; d > c.extraDelay {
			c.extraDelay = d
		}
	}

	c.pageSize /= 2
	if c.pageSize < c.minPage {
		c.pageSize = c.minPage
	}
}

// recovered walks back the throttle after a successful request.
func (c *StorefrontClient) recovered() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.extraDelay /= 2
	if c.extraDelay < 50*time.Millisecond {
		c.extraDelay = 0
	}
	c.pageSize += c.minPage
	if c.pageSize > c.maxPage {
		c.pageSize = c.maxPage
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
