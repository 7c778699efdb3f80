package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/retry"
)

// DeliveryQueue is the slice of the queue repository the worker needs.
type DeliveryQueue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookQueueItem, error)
	MarkSent(ctx context.Context, id string, attemptedAt time.Time) error
	MarkFailed(ctx context.Context, id string, attemptedAt time.Time, nextAttemptAt time.Time, deliveryErr string) error
	ReleaseStuckInFlight(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryWorker drains the outbound webhook queue. Items are claimed
// before any send so two workers never double-deliver; failed attempts
// are rescheduled on the shared backoff schedule until the queue
// repository moves them to dead.
type DeliveryWorker struct {
	queue     DeliveryQueue
	client    *http.Client
	policy    *retry.Policy
	batchSize int
}

func NewDeliveryWorker(queue DeliveryQueue, client *http.Client, policy *retry.Policy, batchSize int) *DeliveryWorker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	return &DeliveryWorker{
		queue:     queue,
		client:    client,
		policy:    policy,
		batchSize: batchSize,
	}
}

// Run drains the queue on the given interval until the context ends.
func (w *DeliveryWorker) Run(ctx context.Context, interval time.Duration) {
	logger := logging.FromContext(ctx).WithField("component", "delivery_worker")
	logger.WithField("interval", interval.String()).Info("Delivery worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Delivery worker stopped")
			return
		case <-ticker.C:
			if _, _, err := w.RunOnce(ctx); err != nil {
				logger.WithError(err).Error("Delivery sweep failed")
			}
		}
	}
}

// RunOnce claims one batch of due items and attempts delivery for each.
// Returns how many were sent and how many failed this sweep.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (sent int, failed int, err error) {
	logger := logging.FromContext(ctx).WithField("component", "delivery_worker")

	items, err := w.queue.ClaimDue(ctx, time.Now(), w.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to claim due deliveries: %w", err)
	}

	for _, item := range items {
		attemptedAt := time.Now()
		deliverErr := w.deliver(ctx, item)
		if deliverErr == nil {
			if err := w.queue.MarkSent(ctx, item.ID, attemptedAt); err != nil {
				logger.WithError(err).WithField("item", item.ID).Error("Failed to mark delivery sent")
			}
			sent++
			continue
		}

		// Reschedule on the same backoff curve in-process retries use.
		// The repository moves the item to dead once attempts reach
		// max_attempts.
		exhausted := item.DeadAfterNextFailure()
		nextAttempt := attemptedAt.Add(w.policy.Delay(item.Attempts + 1))
		if err := w.queue.MarkFailed(ctx, item.ID, attemptedAt, nextAttempt, deliverErr.Error()); err != nil {
			logger.WithError(err).WithField("item", item.ID).Error("Failed to mark delivery failed")
		}
		failed++

		attemptLogger := logger.WithFields(map[string]interface{}{
			"item":        item.ID,
			"store":       item.StoreID,
			"attempts":    item.Attempts + 1,
			"maxAttempts": item.MaxAttempts,
			"error":       deliverErr.Error(),
		})
		if exhausted {
			attemptLogger.Error("Webhook delivery dead-lettered after exhausting its attempts")
		} else {
			attemptLogger.WithField("nextAttempt", nextAttempt).Warn("Webhook delivery failed")
		}
	}

	return sent, failed, nil
}

// ReleaseStuck returns in-flight items whose claim is older than the
// cutoff to the retry pool. Run alongside batch reclamation.
func (w *DeliveryWorker) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	return w.queue.ReleaseStuckInFlight(ctx, time.Now().Add(-olderThan))
}

func (w *DeliveryWorker) deliver(ctx context.Context, item *models.WebhookQueueItem) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.TargetURL, bytes.NewReader(item.Payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", item.EventType)
	if item.Signature != "" {
		req.Header.Set("X-Webhook-Signature", item.Signature)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("delivery rejected with HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
