// Package worker holds the pull and delivery loops: short-lived invocations
// that run to completion or a bounded timeout and exit.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/storemirror/internal/adapter"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
)

// PageFetcher is the slice of the storefront client the puller needs.
type PageFetcher interface {
	FetchOrders(ctx context.Context, after int64, since time.Time) (*adapter.OrderPage, error)
	FetchProducts(ctx context.Context, after int64, since time.Time) (*adapter.ProductPage, error)
}

// CheckpointStore persists per-(store, kind) pull cursors.
type CheckpointStore interface {
	Get(ctx context.Context, storeID string, kind types.EntityKind) (*models.Checkpoint, error)
	Upsert(ctx context.Context, cp *models.Checkpoint) error
	Reset(ctx context.Context, storeID string, kind types.EntityKind) error
	MarkRunOutcome(ctx context.Context, storeID string, kind types.EntityKind, status string, runErr *string) error
}

// OrderSink persists mirrored order pages.
type OrderSink interface {
	UpsertPage(ctx context.Context, orders []*models.Order) error
}

// ProductSink persists mirrored product pages.
type ProductSink interface {
	UpsertPage(ctx context.Context, products []*models.Product) error
}

// LineItemSink receives flattened order line items for analytics.
type LineItemSink interface {
	BatchInsert(ctx context.Context, items []*storage.LineItemRow) error
}

// PullResult summarizes one (store, kind) pull.
type PullResult struct {
	Kind         types.EntityKind `json:"kind"`
	Synced       int              `json:"synced"`
	Pages        int              `json:"pages"`
	LastRemoteID int64            `json:"lastRemoteId"`
}

// Puller mirrors one store's entities page by page, advancing the
// checkpoint only after each page's rows are durably written. A pull
// killed mid-run resumes from the last advanced page instead of
// restarting.
type Puller struct {
	checkpoints CheckpointStore
	orders      OrderSink
	products    ProductSink
	lineItems   LineItemSink
	maxDuration time.Duration
}

func NewPuller(checkpoints CheckpointStore, orders OrderSink, products ProductSink, lineItems LineItemSink, maxDuration time.Duration) *Puller {
	return &Puller{
		checkpoints: checkpoints,
		orders:      orders,
		products:    products,
		lineItems:   lineItems,
		maxDuration: maxDuration,
	}
}

// Pull mirrors one entity kind for one store. Full mode resets the
// checkpoint and rebuilds from the beginning; incremental mode resumes
// from the stored cursor. The run outcome is recorded on the checkpoint
// either way.
func (p *Puller) Pull(ctx context.Context, store *models.Store, fetcher PageFetcher, kind types.EntityKind, mode types.SyncMode) (*PullResult, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"store": store.ID,
		"kind":  string(kind),
		"mode":  string(mode),
	})

	ctx, cancel := context.WithTimeout(ctx, p.maxDuration)
	defer cancel()

	if mode == types.ModeFull {
		if err := p.checkpoints.Reset(ctx, store.ID, kind); err != nil {
			return nil, err
		}
	}

	cp, err := p.checkpoints.Get(ctx, store.ID, kind)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &models.Checkpoint{StoreID: store.ID, Kind: kind}
	}

	result, pullErr := p.pullPages(ctx, store, fetcher, kind, cp)

	if pullErr != nil {
		reason := pullErr.Error()
		if markErr := p.checkpoints.MarkRunOutcome(ctx, store.ID, kind, models.CheckpointRunFailed, &reason); markErr != nil {
			logger.WithError(markErr).Error("Failed to record pull outcome")
		}
		return result, pullErr
	}

	if err := p.checkpoints.MarkRunOutcome(ctx, store.ID, kind, models.CheckpointRunOK, nil); err != nil {
		logger.WithError(err).Error("Failed to record pull outcome")
	}

	logger.WithFields(map[string]interface{}{
		"synced": result.Synced,
		"pages":  result.Pages,
	}).Info("Pull completed")

	return result, nil
}

func (p *Puller) pullPages(ctx context.Context, store *models.Store, fetcher PageFetcher, kind types.EntityKind, cp *models.Checkpoint) (*PullResult, error) {
	result := &PullResult{Kind: kind, LastRemoteID: cp.LastRemoteID}

	after := cp.LastRemoteID
	since := cp.LastModifiedAt

	for {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("pull timed out for %s/%s: %w", store.ID, kind, ctx.Err())
		default:
		}

		var count int
		var hasMore bool
		var err error

		switch kind {
		case types.KindOrders:
			count, hasMore, err = p.applyOrderPage(ctx, store, fetcher, cp, after, since)
		case types.KindProducts:
			count, hasMore, err = p.applyProductPage(ctx, fetcher, cp, after, since)
		default:
			return result, fmt.Errorf("unknown entity kind: %s", kind)
		}
		if err != nil {
			return result, err
		}

		if count > 0 {
			result.Pages++
			result.Synced += count
			result.LastRemoteID = cp.LastRemoteID
			after = cp.LastRemoteID
		}
		if !hasMore {
			return result, nil
		}
	}
}

// applyOrderPage fetches one page, writes it durably (mirror rows first,
// then flattened line items), and only then advances the checkpoint.
func (p *Puller) applyOrderPage(ctx context.Context, store *models.Store, fetcher PageFetcher, cp *models.Checkpoint, after int64, since time.Time) (int, bool, error) {
	page, err := fetcher.FetchOrders(ctx, after, since)
	if err != nil {
		return 0, false, err
	}
	if len(page.Orders) == 0 {
		return 0, page.HasMore, nil
	}

	if err := p.orders.UpsertPage(ctx, page.Orders); err != nil {
		return 0, false, err
	}
	if rows := storage.FlattenOrders(store, page.Orders); len(rows) > 0 {
		if err := p.lineItems.BatchInsert(ctx, rows); err != nil {
			return 0, false, err
		}
	}

	p.advanceOrders(cp, page.Orders)
	if err := p.checkpoints.Upsert(ctx, cp); err != nil {
		return 0, false, err
	}
	return len(page.Orders), page.HasMore, nil
}

func (p *Puller) applyProductPage(ctx context.Context, fetcher PageFetcher, cp *models.Checkpoint, after int64, since time.Time) (int, bool, error) {
	page, err := fetcher.FetchProducts(ctx, after, since)
	if err != nil {
		return 0, false, err
	}
	if len(page.Products) == 0 {
		return 0, page.HasMore, nil
	}

	if err := p.products.UpsertPage(ctx, page.Products); err != nil {
		return 0, false, err
	}

	p.advanceProducts(cp, page.Products)
	if err := p.checkpoints.Upsert(ctx, cp); err != nil {
		return 0, false, err
	}
	return len(page.Products), page.HasMore, nil
}

func (p *Puller) advanceOrders(cp *models.Checkpoint, orders []*models.Order) {
	for _, o := range orders {
		if o.RemoteID > cp.LastRemoteID {
			cp.LastRemoteID = o.RemoteID
		}
		if o.ModifiedAt.After(cp.LastModifiedAt) {
			cp.LastModifiedAt = o.ModifiedAt
		}
	}
	cp.SyncedCount += int64(len(orders))
}

func (p *Puller) advanceProducts(cp *models.Checkpoint, products []*models.Product) {
	for _, pr := range products {
		if pr.RemoteID > cp.LastRemoteID {
			cp.LastRemoteID = pr.RemoteID
		}
		if pr.ModifiedAt.After(cp.LastModifiedAt) {
			cp.LastModifiedAt = pr.ModifiedAt
		}
	}
	cp.SyncedCount += int64(len(products))
}
