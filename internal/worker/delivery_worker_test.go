package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/retry"
	"github.com/storemirror/internal/types"
)

// fakeQueue mirrors the repository's state transitions: claiming stamps the
// claim time, a failed attempt that reaches the budget moves the item to
// dead, and stuck release measures from the claim stamp.
type fakeQueue struct {
	items  []*models.WebhookQueueItem
	sent   []string
	failed []string
	nextAt map[string]time.Time
}

func (f *fakeQueue) find(id string) *models.WebhookQueueItem {
	for _, item := range f.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (f *fakeQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookQueueItem, error) {
	var claimed []*models.WebhookQueueItem
	for _, item := range f.items {
		if len(claimed) == limit {
			break
		}
		if item.Status != types.DeliveryPending && item.Status != types.DeliveryFailed {
			continue
		}
		if item.ScheduledAt.After(now) {
			continue
		}
		item.Status = types.DeliveryInFlight
		claimedAt := now
		item.LastAttemptAt = &claimedAt
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (f *fakeQueue) MarkSent(ctx context.Context, id string, attemptedAt time.Time) error {
	f.sent = append(f.sent, id)
	if item := f.find(id); item != nil && item.Status == types.DeliveryInFlight {
		item.Status = types.DeliverySent
		item.Attempts++
		item.LastAttemptAt = &attemptedAt
	}
	return nil
}

func (f *fakeQueue) MarkFailed(ctx context.Context, id string, attemptedAt time.Time, nextAttemptAt time.Time, deliveryErr string) error {
	f.failed = append(f.failed, id)
	if f.nextAt == nil {
		f.nextAt = make(map[string]time.Time)
	}
	f.nextAt[id] = nextAttemptAt
	if item := f.find(id); item != nil && item.Status == types.DeliveryInFlight {
		item.Attempts++
		item.LastAttemptAt = &attemptedAt
		item.ScheduledAt = nextAttemptAt
		if item.Attempts >= item.MaxAttempts {
			item.Status = types.DeliveryDead
		} else {
			item.Status = types.DeliveryFailed
		}
	}
	return nil
}

func (f *fakeQueue) ReleaseStuckInFlight(ctx context.Context, cutoff time.Time) (int64, error) {
	var released int64
	for _, item := range f.items {
		if item.Status == types.DeliveryInFlight && item.LastAttemptAt != nil && item.LastAttemptAt.Before(cutoff) {
			item.Status = types.DeliveryFailed
			released++
		}
	}
	return released, nil
}

func queueItem(id, target string, attempts int) *models.WebhookQueueItem {
	return &models.WebhookQueueItem{
		ID:          id,
		StoreID:     "store-1",
		TargetURL:   target,
		EventType:   "order.updated",
		Payload:     json.RawMessage(`{"order":42}`),
		Signature:   "sig-abc",
		Attempts:    attempts,
		MaxAttempts: 5,
		Status:      types.DeliveryPending,
		ScheduledAt: time.Now().Add(-time.Minute),
	}
}

func TestRunOnce_DeliversAndMarksSent(t *testing.T) {
	var gotSig, gotEvent, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Event-Type")
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := &fakeQueue{items: []*models.WebhookQueueItem{queueItem("item-1", srv.URL, 0)}}
	w := NewDeliveryWorker(q, srv.Client(), retry.DefaultPolicy(), 20)

	sent, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"item-1"}, q.sent)
	assert.Equal(t, "sig-abc", gotSig)
	assert.Equal(t, "order.updated", gotEvent)
	assert.JSONEq(t, `{"order":42}`, gotBody)
}

func TestRunOnce_FailureReschedulesWithBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	policy := retry.DefaultPolicy()
	q := &fakeQueue{items: []*models.WebhookQueueItem{queueItem("item-1", srv.URL, 2)}}
	w := NewDeliveryWorker(q, srv.Client(), policy, 20)

	before := time.Now()
	sent, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)
	require.Contains(t, q.nextAt, "item-1")

	// Third attempt failed, so the reschedule uses the delay after
	// attempt 3: 1s * 2^2 = 4s.
	wantDelay := policy.Delay(3)
	gotDelay := q.nextAt["item-1"].Sub(before)
	assert.InDelta(t, wantDelay.Seconds(), gotDelay.Seconds(), 1.0)
}

func TestRunOnce_UnreachableTargetMarksFailed(t *testing.T) {
	q := &fakeQueue{items: []*models.WebhookQueueItem{queueItem("item-1", "http://127.0.0.1:1", 0)}}
	w := NewDeliveryWorker(q, &http.Client{Timeout: time.Second}, retry.DefaultPolicy(), 20)

	sent, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	w := NewDeliveryWorker(q, nil, nil, 20)

	sent, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, failed)
}

func TestRunOnce_ExhaustedDeliveryDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// One failure left in the budget.
	q := &fakeQueue{items: []*models.WebhookQueueItem{queueItem("item-1", srv.URL, 4)}}
	w := NewDeliveryWorker(q, srv.Client(), retry.DefaultPolicy(), 20)

	sent, failed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, types.DeliveryDead, q.find("item-1").Status)

	// Dead items leave the retry path: the next sweep has nothing to claim.
	sent, failed, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, failed)
}

func TestReleaseStuck_MeasuresFromClaimNotSchedule(t *testing.T) {
	// A backlog item due an hour ago but claimed just now is being worked
	// on; releasing it would let a second worker double-send.
	item := queueItem("item-1", "http://example.invalid", 0)
	item.ScheduledAt = time.Now().Add(-time.Hour)
	q := &fakeQueue{items: []*models.WebhookQueueItem{item}}

	_, err := q.ClaimDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	w := NewDeliveryWorker(q, nil, nil, 20)
	released, err := w.ReleaseStuck(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Equal(t, types.DeliveryInFlight, item.Status)

	// A claim older than the window belongs to a dead worker and goes
	// back to the retry pool.
	staleClaim := time.Now().Add(-time.Hour)
	item.LastAttemptAt = &staleClaim
	released, err = w.ReleaseStuck(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, released)
	assert.Equal(t, types.DeliveryFailed, item.Status)
}
