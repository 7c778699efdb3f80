package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
)

// EventAuditor appends to the webhook audit log. Every inbound push lands
// here, rejected ones included.
type EventAuditor interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
}

// OrderWriter applies order updates pushed by a store.
type OrderWriter interface {
	UpsertPage(ctx context.Context, orders []*models.Order) error
}

// LineItemWriter receives the derived analytics rows for a pushed order.
type LineItemWriter interface {
	BatchInsert(ctx context.Context, items []*storage.LineItemRow) error
}

// DeliveryEnqueuer queues an outbound delivery.
type DeliveryEnqueuer interface {
	Enqueue(ctx context.Context, item *models.WebhookQueueItem) error
}

// WebhookServiceConfig configures intake and forwarding.
type WebhookServiceConfig struct {
	ForwardURL    string
	ForwardSecret string
	MaxAttempts   int
}

// IntakeResult is what the intake handler reports back to the caller.
type IntakeResult struct {
	EventID  string               `json:"eventId"`
	Outcome  types.WebhookOutcome `json:"outcome"`
	Failures []string             `json:"failures,omitempty"`
}

// WebhookService verifies and applies inbound store pushes. A payload that
// fails signature verification is never applied, but still leaves an audit
// row. Applied events may end partial: the order row updated but a derived
// write failed.
type WebhookService struct {
	stores    StoreReader
	events    EventAuditor
	orders    OrderWriter
	lineItems LineItemWriter
	queue     DeliveryEnqueuer
	cfg       WebhookServiceConfig
}

func NewWebhookService(stores StoreReader, events EventAuditor, orders OrderWriter, lineItems LineItemWriter, queue DeliveryEnqueuer, cfg WebhookServiceConfig) *WebhookService {
	return &WebhookService{
		stores:    stores,
		events:    events,
		orders:    orders,
		lineItems: lineItems,
		queue:     queue,
		cfg:       cfg,
	}
}

// inboundOrderEvent is the push payload shape for order events.
type inboundOrderEvent struct {
	ID         int64     `json:"id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	Total      string    `json:"total"`
	Currency   string    `json:"currency"`
	PlacedAt   time.Time `json:"date_created"`
	ModifiedAt time.Time `json:"date_modified"`
	Items      []struct {
		SKU       string `json:"sku"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		UnitPrice string `json:"price"`
	} `json:"line_items"`
}

// HandleInbound verifies the signature and applies the event. The audit
// row is written on every path, including rejects.
func (s *WebhookService) HandleInbound(ctx context.Context, storeID, eventType, signature string, body []byte) (*IntakeResult, error) {
	started := time.Now()
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"store": storeID,
		"event": eventType,
	})

	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, apperrors.NewNotFoundError("store", storeID)
	}

	if store.WebhookSecret != "" && !VerifySignature(store.WebhookSecret, signature, body) {
		s.audit(ctx, storeID, eventType, "", "", types.WebhookError, strPtr("signature verification failed"), started, nil)
		logger.Warn("Rejected webhook with bad signature")
		return nil, apperrors.NewSignatureError(storeID)
	}

	objectType, objectID, outcome, failures, applyErr := s.apply(ctx, store, eventType, body)
	if applyErr != nil {
		msg := applyErr.Error()
		s.audit(ctx, storeID, eventType, objectType, objectID, types.WebhookError, &msg, started, nil)
		return nil, applyErr
	}

	var auditErr *string
	var metadata map[string]interface{}
	if len(failures) > 0 {
		joined := strings.Join(failures, "; ")
		auditErr = &joined
		metadata = map[string]interface{}{"failures": failures}
	}
	event := s.audit(ctx, storeID, eventType, objectType, objectID, outcome, auditErr, started, metadata)

	if s.cfg.ForwardURL != "" {
		s.enqueueForward(ctx, store, eventType, body)
	}

	return &IntakeResult{EventID: event.ID, Outcome: outcome, Failures: failures}, nil
}

// apply dispatches on the event type. Unknown event types are stored for
// audit but apply nothing.
func (s *WebhookService) apply(ctx context.Context, store *models.Store, eventType string, body []byte) (objectType, objectID string, outcome types.WebhookOutcome, failures []string, err error) {
	switch {
	case strings.HasPrefix(eventType, "order."):
		return s.applyOrder(ctx, store, body)
	default:
		return "", "", types.WebhookSuccess, nil, nil
	}
}

func (s *WebhookService) applyOrder(ctx context.Context, store *models.Store, body []byte) (string, string, types.WebhookOutcome, []string, error) {
	var payload inboundOrderEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return "order", "", "", nil, apperrors.NewInvalidParameterError("body", "malformed order payload")
	}
	if payload.ID == 0 {
		return "order", "", "", nil, apperrors.NewInvalidParameterError("body", "order payload missing id")
	}
	objectID := strconv.FormatInt(payload.ID, 10)

	items := make([]models.OrderLineItem, 0, len(payload.Items))
	for _, li := range payload.Items {
		items = append(items, models.OrderLineItem{
			SKU:       li.SKU,
			Name:      li.Name,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice,
		})
	}
	order := &models.Order{
		StoreID:    store.ID,
		RemoteID:   payload.ID,
		Number:     payload.Number,
		Status:     payload.Status,
		Total:      payload.Total,
		Currency:   payload.Currency,
		Items:      items,
		PlacedAt:   payload.PlacedAt,
		ModifiedAt: payload.ModifiedAt,
	}

	if err := s.orders.UpsertPage(ctx, []*models.Order{order}); err != nil {
		return "order", objectID, "", nil, apperrors.NewDatabaseError("apply webhook order", err)
	}

	// The mirror row is in; derived writes failing from here on degrade
	// the outcome to partial instead of rejecting the event.
	var failures []string
	if rows := storage.FlattenOrders(store, []*models.Order{order}); len(rows) > 0 {
		if err := s.lineItems.BatchInsert(ctx, rows); err != nil {
			failures = append(failures, "line items: "+err.Error())
		}
	}

	outcome := types.WebhookSuccess
	if len(failures) > 0 {
		outcome = types.WebhookPartial
	}
	return "order", objectID, outcome, failures, nil
}

func (s *WebhookService) audit(ctx context.Context, storeID, eventType, objectType, objectID string, status types.WebhookOutcome, auditErr *string, started time.Time, metadata map[string]interface{}) *models.WebhookEvent {
	event := &models.WebhookEvent{
		ID:         uuid.New().String(),
		StoreID:    storeID,
		EventType:  eventType,
		ObjectType: objectType,
		ObjectID:   objectID,
		Status:     status,
		Error:      auditErr,
		DurationMs: time.Since(started).Milliseconds(),
		Metadata:   metadata,
		ReceivedAt: started.UTC(),
	}
	if err := s.events.Create(ctx, event); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to write webhook audit row")
	}
	return event
}

// enqueueForward queues the applied event for downstream delivery. The
// delivery worker owns retries from here.
func (s *WebhookService) enqueueForward(ctx context.Context, store *models.Store, eventType string, body []byte) {
	item := &models.WebhookQueueItem{
		ID:          uuid.New().String(),
		StoreID:     store.ID,
		TargetURL:   s.cfg.ForwardURL,
		EventType:   eventType,
		Payload:     json.RawMessage(body),
		Signature:   SignPayload(s.cfg.ForwardSecret, body),
		MaxAttempts: s.cfg.MaxAttempts,
		Status:      types.DeliveryPending,
		ScheduledAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to enqueue webhook forward")
	}
}

// VerifySignature checks an inbound signature header against the shared
// secret. Both bare hex digests and "sha256=<hex>" headers are accepted.
func VerifySignature(secret, signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignPayload produces the signature header value for an outbound body.
func SignPayload(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func strPtr(s string) *string {
	return &s
}
