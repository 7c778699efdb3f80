package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
)

type mockLineItemReader struct {
	rows  []*storage.LineItemRow
	calls int
}

func (m *mockLineItemReader) ListInRange(ctx context.Context, from, to time.Time) ([]*storage.LineItemRow, error) {
	m.calls++
	return m.rows, nil
}

type mockMappingSource struct {
	rows []*models.SkuMapping
	err  error
}

func (m *mockMappingSource) ListAll(ctx context.Context) ([]*models.SkuMapping, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func lineItem(storeID string, storeType types.StoreType, orderID int64, sku string, qty int32, price string, placedAt time.Time) *storage.LineItemRow {
	return &storage.LineItemRow{
		StoreID:   storeID,
		StoreType: storeType,
		OrderID:   orderID,
		SKU:       sku,
		Name:      sku,
		Quantity:  qty,
		UnitPrice: price,
		PlacedAt:  placedAt,
	}
}

func reportFixture(lineItems *mockLineItemReader, mappings *mockMappingSource) *ReportService {
	stores := &mockStoreRepository{
		stores: map[string]*models.Store{
			"retail":    {ID: "retail", Enabled: true, Type: types.StoreRetail, PackageUnits: 10},
			"wholesale": {ID: "wholesale", Enabled: true, Type: types.StoreWholesale, PackageUnits: 10},
		},
		order: []string{"retail", "wholesale"},
	}
	return NewReportService(lineItems, mappings, stores, nil)
}

func TestSalesReport_NormalizesAndBuckets(t *testing.T) {
	day1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	lineItems := &mockLineItemReader{rows: []*storage.LineItemRow{
		// wholesale, no mapping: 3 * 10 = 30
		lineItem("wholesale", types.StoreWholesale, 1, "PLAIN", 3, "2.00", day1),
		// retail, mapped to multipliers 1+3: 2 * 4 = 8
		lineItem("retail", types.StoreRetail, 2, "BUNDLE", 2, "5.00", day1),
		// second day, raw
		lineItem("retail", types.StoreRetail, 3, "OTHER", 1, "1.00", day2),
	}}
	mappings := &mockMappingSource{rows: []*models.SkuMapping{
		{CanonicalID: "c1", LocalSKU: "BUNDLE", Multiplier: 1},
		{CanonicalID: "c2", LocalSKU: "BUNDLE", Multiplier: 3},
	}}

	svc := reportFixture(lineItems, mappings)
	report, err := svc.SalesReport(context.Background(), day1.Add(-time.Hour), day2.Add(time.Hour), BucketDay)
	require.NoError(t, err)

	assert.False(t, report.Degraded)
	require.Len(t, report.Rows, 2)

	assert.Equal(t, "2026-05-01", report.Rows[0].Period)
	assert.Equal(t, int64(38), report.Rows[0].Units)
	assert.Equal(t, int64(5), report.Rows[0].RawUnits)
	assert.Equal(t, 2, report.Rows[0].Orders)
	assert.InDelta(t, 16.0, report.Rows[0].Revenue, 0.001)

	assert.Equal(t, "2026-05-02", report.Rows[1].Period)
	assert.Equal(t, int64(1), report.Rows[1].Units)
}

func TestSalesReport_MappingSourceDownSkipsSkuMultipliers(t *testing.T) {
	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	lineItems := &mockLineItemReader{rows: []*storage.LineItemRow{
		lineItem("retail", types.StoreRetail, 1, "BUNDLE", 2, "5.00", day),
		lineItem("wholesale", types.StoreWholesale, 2, "PLAIN", 3, "2.00", day),
	}}
	mappings := &mockMappingSource{err: errors.New("mapping db down")}

	svc := reportFixture(lineItems, mappings)
	report, err := svc.SalesReport(context.Background(), day.Add(-time.Hour), day.Add(time.Hour), BucketDay)
	require.NoError(t, err, "mapping unavailability never blocks the report")

	assert.True(t, report.Degraded)
	assert.Contains(t, report.Warning, "SKU multipliers not applied")
	require.Len(t, report.Rows, 1)
	// The SKU multiplier is skipped (2 stays 2) but the wholesale package
	// factor still applies (3 * 10 = 30).
	assert.Equal(t, int64(32), report.Rows[0].Units)
}

func TestSalesReport_WeekAndMonthBuckets(t *testing.T) {
	day := time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC) // a Wednesday
	lineItems := &mockLineItemReader{rows: []*storage.LineItemRow{
		lineItem("retail", types.StoreRetail, 1, "A", 1, "1.00", day),
	}}
	svc := reportFixture(lineItems, &mockMappingSource{})

	weekly, err := svc.SalesReport(context.Background(), day.Add(-time.Hour), day.Add(time.Hour), BucketWeek)
	require.NoError(t, err)
	require.Len(t, weekly.Rows, 1)
	assert.Equal(t, "2026-W19", weekly.Rows[0].Period)

	monthly, err := svc.SalesReport(context.Background(), day.Add(-time.Hour), day.Add(time.Hour), BucketMonth)
	require.NoError(t, err)
	require.Len(t, monthly.Rows, 1)
	assert.Equal(t, "2026-05", monthly.Rows[0].Period)
}

func TestSalesReport_InvalidInput(t *testing.T) {
	svc := reportFixture(&mockLineItemReader{}, &mockMappingSource{})
	now := time.Now()

	_, err := svc.SalesReport(context.Background(), now, now.Add(time.Hour), ReportBucket("year"))
	assert.Error(t, err)

	_, err = svc.SalesReport(context.Background(), now, now, BucketDay)
	assert.Error(t, err)
}

func TestSalesReport_CacheServesSecondRead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cache := storage.NewReportCache(client, time.Minute)

	day := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	lineItems := &mockLineItemReader{rows: []*storage.LineItemRow{
		lineItem("retail", types.StoreRetail, 1, "A", 1, "1.00", day),
	}}
	stores := &mockStoreRepository{
		stores: map[string]*models.Store{"retail": {ID: "retail", Enabled: true, Type: types.StoreRetail, PackageUnits: 10}},
		order:  []string{"retail"},
	}
	svc := NewReportService(lineItems, &mockMappingSource{}, stores, cache)

	first, err := svc.SalesReport(context.Background(), day.Add(-time.Hour), day.Add(time.Hour), BucketDay)
	require.NoError(t, err)

	second, err := svc.SalesReport(context.Background(), day.Add(-time.Hour), day.Add(time.Hour), BucketDay)
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, 1, lineItems.calls, "second read is served from cache")
}
