package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/mapping"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
)

// ReportBucket is the time granularity of a sales report.
type ReportBucket string

const (
	BucketDay   ReportBucket = "day"
	BucketWeek  ReportBucket = "week"
	BucketMonth ReportBucket = "month"
)

func (b ReportBucket) IsValid() bool {
	return b == BucketDay || b == BucketWeek || b == BucketMonth
}

// LineItemReader reads flattened line items from the analytics store.
type LineItemReader interface {
	ListInRange(ctx context.Context, from, to time.Time) ([]*storage.LineItemRow, error)
}

// MappingSource loads the SKU mapping table.
type MappingSource interface {
	ListAll(ctx context.Context) ([]*models.SkuMapping, error)
}

// StoreLister lists every store, disabled ones included; historical line
// items may belong to stores since disabled.
type StoreLister interface {
	ListAll(ctx context.Context) ([]*models.Store, error)
}

// ReportRow is one time bucket of the sales report.
type ReportRow struct {
	Period   string  `json:"period"`
	Units    int64   `json:"units"`
	RawUnits int64   `json:"rawUnits"`
	Orders   int     `json:"orders"`
	Revenue  float64 `json:"revenue"`
}

// SalesReport is the bucketed, unit-normalized aggregation over a range.
type SalesReport struct {
	Bucket   ReportBucket `json:"bucket"`
	From     time.Time    `json:"from"`
	To       time.Time    `json:"to"`
	Rows     []ReportRow  `json:"rows"`
	Degraded bool         `json:"degraded"`
	Warning  string       `json:"warning,omitempty"`
}

// ReportService aggregates normalized unit counts into time buckets. The
// SKU mapping index is rebuilt per run; if the mapping source is down the
// report still generates from raw quantities and says so.
type ReportService struct {
	lineItems LineItemReader
	mappings  MappingSource
	stores    StoreLister
	cache     *storage.ReportCache
	families  []mapping.FamilyRule
}

func NewReportService(lineItems LineItemReader, mappings MappingSource, stores StoreLister, cache *storage.ReportCache) *ReportService {
	return &ReportService{
		lineItems: lineItems,
		mappings:  mappings,
		stores:    stores,
		cache:     cache,
		families:  mapping.DefaultFamilyRules(),
	}
}

// SalesReport computes (or serves from cache) the report for a range.
func (s *ReportService) SalesReport(ctx context.Context, from, to time.Time, bucket ReportBucket) (*SalesReport, error) {
	if !bucket.IsValid() {
		return nil, apperrors.NewInvalidParameterError("bucket", fmt.Sprintf("unknown bucket %q", bucket))
	}
	if !to.After(from) {
		return nil, apperrors.NewInvalidParameterError("range", "to must be after from")
	}

	key := fmt.Sprintf("report:sales:%s:%d:%d", bucket, from.Unix(), to.Unix())

	compute := func(ctx context.Context) ([]byte, error) {
		report, err := s.compute(ctx, from, to, bucket)
		if err != nil {
			return nil, err
		}
		return json.Marshal(report)
	}

	var payload []byte
	var err error
	if s.cache != nil {
		payload, err = s.cache.GetOrCompute(ctx, key, compute)
	} else {
		payload, err = compute(ctx)
	}
	if err != nil {
		return nil, err
	}

	var report SalesReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, apperrors.NewInternalError("failed to decode cached report", err)
	}
	return &report, nil
}

func (s *ReportService) compute(ctx context.Context, from, to time.Time, bucket ReportBucket) (*SalesReport, error) {
	logger := logging.FromContext(ctx).WithField("component", "report")

	report := &SalesReport{Bucket: bucket, From: from, To: to}

	normalizer := s.buildNormalizer(ctx, report)

	stores, err := s.stores.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	storesByID := make(map[string]*models.Store, len(stores))
	for _, store := range stores {
		storesByID[store.ID] = store
	}

	rows, err := s.lineItems.ListInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type bucketAgg struct {
		units    int64
		rawUnits int64
		orders   map[string]bool
		revenue  float64
	}
	buckets := make(map[string]*bucketAgg)

	for _, row := range rows {
		store := storesByID[row.StoreID]
		if store == nil {
			// Store deleted since the row was written; fall back to the
			// type flattened onto the row with default packaging.
			store = &models.Store{ID: row.StoreID, Type: row.StoreType, PackageUnits: 10}
		}

		item := models.OrderLineItem{SKU: row.SKU, Name: row.Name, Quantity: int(row.Quantity)}
		units := normalizer.Normalize(store, item)

		period := bucketKey(row.PlacedAt, bucket)
		agg := buckets[period]
		if agg == nil {
			agg = &bucketAgg{orders: make(map[string]bool)}
			buckets[period] = agg
		}
		agg.units += units
		agg.rawUnits += int64(row.Quantity)
		agg.orders[row.StoreID+"/"+strconv.FormatInt(row.OrderID, 10)] = true
		if price, err := strconv.ParseFloat(row.UnitPrice, 64); err == nil {
			agg.revenue += price * float64(row.Quantity)
		}
	}

	periods := make([]string, 0, len(buckets))
	for period := range buckets {
		periods = append(periods, period)
	}
	sort.Strings(periods)

	report.Rows = make([]ReportRow, 0, len(periods))
	for _, period := range periods {
		agg := buckets[period]
		report.Rows = append(report.Rows, ReportRow{
			Period:   period,
			Units:    agg.units,
			RawUnits: agg.rawUnits,
			Orders:   len(agg.orders),
			Revenue:  agg.revenue,
		})
	}

	logger.WithFields(map[string]interface{}{
		"rows":     len(rows),
		"buckets":  len(report.Rows),
		"degraded": report.Degraded,
	}).Info("Sales report computed")

	return report, nil
}

// buildNormalizer loads the mapping index. Mapping source failure degrades
// to a report without SKU multipliers, with a warning, instead of blocking
// the report; store and family factors still apply.
func (s *ReportService) buildNormalizer(ctx context.Context, report *SalesReport) *mapping.Normalizer {
	rows, err := s.mappings.ListAll(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("SKU mapping source unavailable, reporting without SKU multipliers")
		report.Degraded = true
		report.Warning = "SKU mapping source unavailable; SKU multipliers not applied"
		return mapping.NewNormalizer(nil, s.families)
	}

	mappings := make([]models.SkuMapping, len(rows))
	for i, row := range rows {
		mappings[i] = *row
	}
	return mapping.NewNormalizer(mapping.BuildIndex(mappings), s.families)
}

func bucketKey(t time.Time, bucket ReportBucket) string {
	t = t.UTC()
	switch bucket {
	case BucketWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case BucketMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}
