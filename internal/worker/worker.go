// Package worker provides async persistence of behavioral events. The
// engine emits anomalies, baselines and assessments on the bus; the worker
// drains them into the repository so the hot path never blocks on storage.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/behaviorsec/kestrel/internal/domain"
)

// ProfileSource yields the current profile set for periodic snapshots.
type ProfileSource interface {
	Profiles() []*domain.BehaviorProfile
}

// Worker persists bus events and takes periodic profile snapshots.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	profiles ProfileSource

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// SnapshotInterval is how often profiles are persisted, in seconds.
	// Zero disables periodic snapshots.
	SnapshotInterval int
}

// NewWorker creates a new async persistence worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, profiles ProfileSource) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		profiles: profiles,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the behavioral topics and begins the snapshot loop.
func (w *Worker) Start(cfg Config) error {
	topics := map[string]domain.MessageHandler{
		domain.TopicAnomalyDetected:     w.handleAnomaly,
		domain.TopicBaselineEstablished: w.handleBaseline,
		domain.TopicAssessmentCompleted: w.handleAssessment,
	}

	for topic, handler := range topics {
		sub, err := w.bus.Subscribe(w.ctx, domain.ScopeBehavior, topic, handler)
		if err != nil {
			slog.Error("failed to subscribe",
				"topic", topic,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	if cfg.SnapshotInterval > 0 && w.profiles != nil {
		w.wg.Add(1)
		go w.snapshotLoop(time.Duration(cfg.SnapshotInterval) * time.Second)
	}

	slog.Info("worker started",
		"subscriptions", len(w.subscriptions),
		"snapshot_interval_s", cfg.SnapshotInterval,
	)

	return nil
}

// handleAnomaly persists an anomaly event.
func (w *Worker) handleAnomaly(ctx context.Context, msg *domain.Message) error {
	var anomaly domain.Anomaly
	if err := json.Unmarshal(msg.Payload, &anomaly); err != nil {
		slog.Error("failed to parse anomaly message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveAnomaly(ctx, &anomaly); err != nil {
		slog.Error("failed to save anomaly",
			"anomaly_id", anomaly.ID,
			"user_id", anomaly.UserID,
			"error", err,
		)
		return err
	}

	slog.Debug("anomaly persisted",
		"anomaly_id", anomaly.ID,
		"user_id", anomaly.UserID,
		"type", anomaly.Type,
		"severity", anomaly.Severity,
	)
	return nil
}

// handleBaseline persists the profile snapshot carried by a baseline event.
func (w *Worker) handleBaseline(ctx context.Context, msg *domain.Message) error {
	var profile domain.BehaviorProfile
	if err := json.Unmarshal(msg.Payload, &profile); err != nil {
		slog.Error("failed to parse baseline message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveProfile(ctx, &profile); err != nil {
		slog.Error("failed to save baselined profile",
			"user_id", profile.UserID,
			"error", err,
		)
		return err
	}

	slog.Info("baselined profile persisted", "user_id", profile.UserID)
	return nil
}

// handleAssessment persists a completed assessment.
func (w *Worker) handleAssessment(ctx context.Context, msg *domain.Message) error {
	var assessment domain.SecurityAssessment
	if err := json.Unmarshal(msg.Payload, &assessment); err != nil {
		slog.Error("failed to parse assessment message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveAssessment(ctx, &assessment); err != nil {
		slog.Error("failed to save assessment",
			"assessment_id", assessment.ID,
			"user_id", assessment.UserID,
			"error", err,
		)
		return err
	}
	return nil
}

// snapshotLoop periodically persists every known profile so restarts can
// rehydrate user state.
func (w *Worker) snapshotLoop(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.snapshot()
		}
	}
}

// snapshot persists all current profiles.
func (w *Worker) snapshot() {
	start := time.Now()
	profiles := w.profiles.Profiles()

	var saved int
	for _, p := range profiles {
		if err := w.repo.SaveProfile(w.ctx, p); err != nil {
			slog.Error("failed to snapshot profile",
				"user_id", p.UserID,
				"error", err,
			)
			continue
		}
		saved++
	}

	slog.Debug("profile snapshot complete",
		"profiles", saved,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

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

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
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
	}
}
