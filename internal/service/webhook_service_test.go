package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
)

type mockEventAuditor struct {
	events []*models.WebhookEvent
}

func (m *mockEventAuditor) Create(ctx context.Context, event *models.WebhookEvent) error {
	m.events = append(m.events, event)
	return nil
}

type mockOrderWriter struct {
	orders []*models.Order
	err    error
}

func (m *mockOrderWriter) UpsertPage(ctx context.Context, orders []*models.Order) error {
	if m.err != nil {
		return m.err
	}
	m.orders = append(m.orders, orders...)
	return nil
}

type mockLineItemWriter struct {
	rows []*storage.LineItemRow
	err  error
}

func (m *mockLineItemWriter) BatchInsert(ctx context.Context, items []*storage.LineItemRow) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, items...)
	return nil
}

type mockEnqueuer struct {
	items []*models.WebhookQueueItem
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, item *models.WebhookQueueItem) error {
	m.items = append(m.items, item)
	return nil
}

func webhookFixture(secret string) (*WebhookService, *mockEventAuditor, *mockOrderWriter, *mockLineItemWriter, *mockEnqueuer) {
	store := enabledStore("s1")
	store.WebhookSecret = secret
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": store}, order: []string{"s1"}}

	events := &mockEventAuditor{}
	orders := &mockOrderWriter{}
	items := &mockLineItemWriter{}
	queue := &mockEnqueuer{}
	svc := NewWebhookService(stores, events, orders, items, queue, WebhookServiceConfig{MaxAttempts: 5})
	return svc, events, orders, items, queue
}

func orderBody(id int64) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":     id,
		"number": fmt.Sprintf("#%d", id),
		"status": "processing",
		"total":  "25.00",
		"line_items": []map[string]interface{}{
			{"sku": "ABC", "name": "Widget", "quantity": 2, "price": "12.50"},
		},
	})
	return body
}

func TestHandleInbound_AppliesOrderEvent(t *testing.T) {
	svc, events, orders, items, _ := webhookFixture("")

	result, err := svc.HandleInbound(context.Background(), "s1", "order.updated", "", orderBody(42))
	require.NoError(t, err)

	assert.Equal(t, types.WebhookSuccess, result.Outcome)
	require.Len(t, orders.orders, 1)
	assert.Equal(t, int64(42), orders.orders[0].RemoteID)
	require.Len(t, items.rows, 1)

	require.Len(t, events.events, 1)
	assert.Equal(t, types.WebhookSuccess, events.events[0].Status)
	assert.Equal(t, "order", events.events[0].ObjectType)
	assert.Equal(t, "42", events.events[0].ObjectID)
}

func TestHandleInbound_ValidSignatureAccepted(t *testing.T) {
	svc, _, orders, _, _ := webhookFixture("topsecret")

	body := orderBody(7)
	sig := SignPayload("topsecret", body)

	_, err := svc.HandleInbound(context.Background(), "s1", "order.created", sig, body)
	require.NoError(t, err)
	assert.Len(t, orders.orders, 1)
}

func TestHandleInbound_BadSignatureRejectedButAudited(t *testing.T) {
	svc, events, orders, _, _ := webhookFixture("topsecret")

	body := orderBody(7)
	_, err := svc.HandleInbound(context.Background(), "s1", "order.created", "sha256=deadbeef", body)
	require.Error(t, err)

	var catErr *apperrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, apperrors.CategoryVerification, catErr.Category)

	assert.Empty(t, orders.orders, "an unverified payload is never applied")
	require.Len(t, events.events, 1, "rejects still land in the audit log")
	assert.Equal(t, types.WebhookError, events.events[0].Status)
}

func TestHandleInbound_MissingSignatureRejectedWhenSecretSet(t *testing.T) {
	svc, events, _, _, _ := webhookFixture("topsecret")

	_, err := svc.HandleInbound(context.Background(), "s1", "order.created", "", orderBody(7))
	require.Error(t, err)
	require.Len(t, events.events, 1)
}

func TestHandleInbound_PartialWhenDerivedWriteFails(t *testing.T) {
	svc, events, orders, items, _ := webhookFixture("")
	items.err = errors.New("clickhouse unavailable")

	result, err := svc.HandleInbound(context.Background(), "s1", "order.updated", "", orderBody(9))
	require.NoError(t, err)

	assert.Equal(t, types.WebhookPartial, result.Outcome)
	require.Len(t, result.Failures, 1)
	assert.Len(t, orders.orders, 1, "the order itself is applied")

	require.Len(t, events.events, 1)
	assert.Equal(t, types.WebhookPartial, events.events[0].Status)
	require.NotNil(t, events.events[0].Error)
}

func TestHandleInbound_MalformedPayloadAudited(t *testing.T) {
	svc, events, _, _, _ := webhookFixture("")

	_, err := svc.HandleInbound(context.Background(), "s1", "order.updated", "", []byte("{not json"))
	require.Error(t, err)
	require.Len(t, events.events, 1)
	assert.Equal(t, types.WebhookError, events.events[0].Status)
}

func TestHandleInbound_UnknownEventTypeStoredOnly(t *testing.T) {
	svc, events, orders, _, _ := webhookFixture("")

	result, err := svc.HandleInbound(context.Background(), "s1", "customer.updated", "", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, types.WebhookSuccess, result.Outcome)
	assert.Empty(t, orders.orders)
	require.Len(t, events.events, 1)
}

func TestHandleInbound_ForwardsWhenConfigured(t *testing.T) {
	store := enabledStore("s1")
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": store}, order: []string{"s1"}}
	queue := &mockEnqueuer{}
	svc := NewWebhookService(stores, &mockEventAuditor{}, &mockOrderWriter{}, &mockLineItemWriter{}, queue, WebhookServiceConfig{
		ForwardURL:    "https://downstream.example/hooks",
		ForwardSecret: "fwd-secret",
		MaxAttempts:   5,
	})

	body := orderBody(3)
	_, err := svc.HandleInbound(context.Background(), "s1", "order.updated", "", body)
	require.NoError(t, err)

	require.Len(t, queue.items, 1)
	item := queue.items[0]
	assert.Equal(t, "https://downstream.example/hooks", item.TargetURL)
	assert.Equal(t, types.DeliveryPending, item.Status)
	assert.Equal(t, 5, item.MaxAttempts)
	assert.True(t, VerifySignature("fwd-secret", item.Signature, body))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":1}`)

	sig := SignPayload("secret", body)
	assert.True(t, VerifySignature("secret", sig, body))
	assert.False(t, VerifySignature("other", sig, body))
	assert.False(t, VerifySignature("secret", sig, []byte(`{"id":2}`)))
	assert.False(t, VerifySignature("secret", "", body))
	assert.False(t, VerifySignature("secret", "not-hex", body))
}
