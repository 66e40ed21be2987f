// Package worker scores datasets submitted through the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

// Worker processes submitted datasets asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	processor *pipeline.Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed int64
	failed    int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds how many datasets are scored at once. Each dataset
	// already fans out across the engine's workers.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, processor *pipeline.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to dataset submissions.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicDatasetSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", domain.TopicDatasetSubmitted, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicDatasetSubmitted,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage acquires a slot and scores the dataset. The slot bounds
// concurrent runs when the bus delivers messages in parallel.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.wg.Add(1)
	defer func() {
		<-w.sem
		w.wg.Done()
	}()

	err := w.processDataset(ctx, msg)

	w.mu.Lock()
	if err != nil {
		w.failed++
	} else {
		w.processed++
	}
	w.mu.Unlock()

	return err
}

// processDataset runs one submitted dataset through the pipeline.
func (w *Worker) processDataset(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ds domain.DatasetMessage
	if err := json.Unmarshal(msg.Payload, &ds); err != nil {
		slog.Error("failed to parse dataset message",
			"message_id", msg.ID,
			"error", err,
		)
		w.replyError(ctx, msg, err)
		return err
	}

	traceID := ds.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing dataset",
		"run_id", ds.RunID,
		"trace_id", traceID,
		"records", len(ds.Records),
	)

	out, err := w.processor.Process(ctx, &pipeline.Input{
		RunID:   ds.RunID,
		Source:  ds.Source,
		TraceID: traceID,
		TopN:    ds.TopN,
		Records: ds.Records,
	})
	if err != nil {
		slog.Error("dataset scoring failed",
			"run_id", ds.RunID,
			"error", err,
		)
		w.replyError(ctx, msg, err)
		return err
	}

	payload, err := json.Marshal(out.Report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if reply, ok := bus.ReplyTopic(msg); ok {
		if err := w.bus.Publish(ctx, reply, payload); err != nil {
			slog.Error("failed to publish reply",
				"run_id", out.Report.ID,
				"error", err,
			)
		}
	}

	if err := w.bus.Publish(ctx, domain.TopicRunCompleted, payload); err != nil && !errors.Is(err, bus.ErrBackpressure) {
		slog.Error("failed to publish run completion",
			"run_id", out.Report.ID,
			"error", err,
		)
	}

	if pipeline.HasFlagged(out.Report) {
		if err := w.bus.Publish(ctx, domain.TopicRunFlagged, payload); err != nil && !errors.Is(err, bus.ErrBackpressure) {
			slog.Error("failed to publish flagged run",
				"run_id", out.Report.ID,
				"error", err,
			)
		}
	}

	slog.Info("dataset processed",
		"run_id", out.Report.ID,
		"trace_id", traceID,
		"cached", out.Cached,
		"flagged", out.Report.FlaggedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// ErrorReply is published to the reply topic when a request fails.
type ErrorReply struct {
	Error string `json:"error"`
}

func (w *Worker) replyError(ctx context.Context, msg *domain.Message, cause error) {
	reply, ok := bus.ReplyTopic(msg)
	if !ok {
		return
	}
	payload, _ := json.Marshal(ErrorReply{Error: cause.Error()})
	if err := w.bus.Publish(ctx, reply, payload); err != nil {
		slog.Error("failed to publish error reply",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for in-flight datasets to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.cancel()
	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
