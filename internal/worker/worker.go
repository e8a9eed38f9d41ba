// Package worker processes taps submitted asynchronously over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
)

// TapProcessor decides a single tap.
type TapProcessor interface {
	Process(ctx context.Context, tap *domain.Tap) (*domain.Decision, error)
}

// Worker consumes submitted taps from the EventBus. Decisions are published
// by the processor; the worker only reports taps it could not accept.
type Worker struct {
	bus       domain.EventBus
	processor TapProcessor
	group     string

	subscriptions []domain.Subscription
	mu            sync.Mutex
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	rejected  atomic.Int64
}

// Rejection is published on TopicTapRejected for taps that never reached a
// decision.
type Rejection struct {
	MessageID  string `json:"messageId"`
	TerminalID string `json:"terminalId,omitempty"`
	Error      string `json:"error"`
}

// NewWorker creates a new async worker. Workers sharing a group split the
// submitted taps between them; an empty group means
// domain.DefaultWorkerQueueGroup.
func NewWorker(bus domain.EventBus, processor TapProcessor, group string) *Worker {
	if group == "" {
		group = domain.DefaultWorkerQueueGroup
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		group:     group,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start joins the queue group for submitted taps.
func (w *Worker) Start() error {
	sub, err := w.bus.QueueSubscribe(w.ctx, domain.TopicTapSubmitted, w.group, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tap worker started",
		"topic", domain.TopicTapSubmitted,
		"queue_group", w.group,
	)
	return nil
}

// handleMessage decodes and processes one submitted tap.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	start := time.Now()

	var sub domain.TapSubmission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		w.reject(ctx, msg, "", err)
		return err
	}

	tap, err := sub.ToTap()
	if err != nil {
		w.reject(ctx, msg, sub.TerminalID, err)
		return err
	}

	d, err := w.processor.Process(ctx, tap)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedTap) {
			w.reject(ctx, msg, sub.TerminalID, err)
		}
		return err
	}

	w.processed.Add(1)

	slog.Debug("submitted tap processed",
		"message_id", msg.ID,
		"trace_id", msg.Metadata["trace_id"],
		"tap_id", d.TapID,
		"status", d.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reject(ctx context.Context, msg *domain.Message, terminalID string, cause error) {
	w.rejected.Add(1)

	slog.Warn("rejected submitted tap",
		"message_id", msg.ID,
		"terminal_id", terminalID,
		"error", cause,
	)

	payload, _ := json.Marshal(Rejection{
		MessageID:  msg.ID,
		TerminalID: terminalID,
		Error:      cause.Error(),
	})
	if err := w.bus.Publish(ctx, domain.TopicTapRejected, payload); err != nil {
		slog.Error("failed to publish rejection",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Rejected          int64    `json:"rejected"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Rejected:          w.rejected.Load(),
	}
}
