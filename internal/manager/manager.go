// Package manager orchestrates the behavioral pipeline: it owns per-user
// state transitions (unseen, training, baselined), routes event batches
// through extraction, profile updates and scoring, and emits anomalies and
// assessments to the bus. Operations return result records and never
// propagate internal faults to callers.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/behaviorsec/kestrel/internal/assess"
	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/features"
	"github.com/behaviorsec/kestrel/internal/profile"
	"github.com/behaviorsec/kestrel/internal/scoring"
)

// Manager is the behavioral engine facade. Bus and cache are optional
// collaborators; a nil value disables the corresponding side effect without
// touching the core pipeline.
type Manager struct {
	store    *profile.Store
	scorer   *scoring.Scorer
	assessor *assess.Processor
	bus      domain.EventBus
	cache    domain.Cache
	cfg      domain.BehaviorConfig
}

// New creates a manager. store, scorer and assessor are required; bus and
// cache may be nil.
func New(store *profile.Store, scorer *scoring.Scorer, assessor *assess.Processor, bus domain.EventBus, cache domain.Cache, cfg domain.BehaviorConfig) *Manager {
	if cfg.AssessmentTTL <= 0 {
		cfg.AssessmentTTL = 30
	}
	return &Manager{
		store:    store,
		scorer:   scorer,
		assessor: assessor,
		bus:      bus,
		cache:    cache,
		cfg:      cfg,
	}
}

// ProcessKeystrokes handles one batch of keyboard events for a user.
func (m *Manager) ProcessKeystrokes(ctx context.Context, userID string, events []domain.KeystrokeEvent) (res *domain.ProcessResult) {
	res = &domain.ProcessResult{UserID: userID, Timestamp: time.Now().UTC()}
	defer m.recoverInto(res, "keystroke")

	valid := make([]domain.KeystrokeEvent, 0, len(events))
	for _, ev := range events {
		if ev.Valid() {
			valid = append(valid, ev)
		}
	}
	if dropped := len(events) - len(valid); dropped > 0 {
		slog.Debug("dropped malformed keystroke events", "user_id", userID, "dropped", dropped)
	}
	res.EventsProcessed = len(valid)

	entry := m.store.GetOrCreate(userID)
	entry.Lock()
	defer entry.Unlock()

	f := features.ExtractKeystroke(valid)
	profile.UpdateKeystroke(entry.Profile, f)

	now := time.Now().UTC()
	for i := range valid {
		ev := valid[i]
		entry.Buffer.Append(domain.BufferedEvent{
			Modality:  domain.ModalityKeystroke,
			At:        now,
			Keystroke: &ev,
		})
	}

	m.afterBatch(ctx, entry, res, domain.AnomalyKeystroke, f.Vector(), "unusual keystroke pattern detected")
	return res
}

// ProcessMouse handles one batch of pointer events for a user.
func (m *Manager) ProcessMouse(ctx context.Context, userID string, events []domain.PointerEvent) (res *domain.ProcessResult) {
	res = &domain.ProcessResult{UserID: userID, Timestamp: time.Now().UTC()}
	defer m.recoverInto(res, "mouse")

	valid := make([]domain.PointerEvent, 0, len(events))
	for _, ev := range events {
		if ev.Valid() {
			valid = append(valid, ev)
		}
	}
	if dropped := len(events) - len(valid); dropped > 0 {
		slog.Debug("dropped malformed pointer events", "user_id", userID, "dropped", dropped)
	}
	res.EventsProcessed = len(valid)

	entry := m.store.GetOrCreate(userID)
	entry.Lock()
	defer entry.Unlock()

	f := features.ExtractMouse(valid)
	profile.UpdateMouse(entry.Profile, f)

	now := time.Now().UTC()
	for i := range valid {
		ev := valid[i]
		entry.Buffer.Append(domain.BufferedEvent{
			Modality: domain.ModalityMouse,
			At:       now,
			Pointer:  &ev,
		})
	}

	m.afterBatch(ctx, entry, res, domain.AnomalyMouse, f.Vector(), "unusual mouse behavior detected")
	return res
}

// deviceCheck is one compared fingerprint field.
type deviceCheck struct {
	stored      *string
	incoming    string
	severity    domain.Severity
	description string
}

// ProcessDevice compares a device snapshot against the stored fingerprint
// and records changes as anomalies. Fields without a prior value never
// raise an anomaly; every reported field is stored after comparison. An
// omitted field is left untouched.
func (m *Manager) ProcessDevice(ctx context.Context, userID string, snap domain.DeviceSnapshot) (res *domain.ProcessResult) {
	res = &domain.ProcessResult{UserID: userID, EventsProcessed: 1, Timestamp: time.Now().UTC()}
	defer m.recoverInto(res, "device")

	entry := m.store.GetOrCreate(userID)
	entry.Lock()
	defer entry.Unlock()

	d := &entry.Profile.Device
	checks := []deviceCheck{
		{&d.ScreenResolution, snap.ScreenResolution, domain.SeverityMedium, "screen resolution changed"},
		{&d.BrowserSignature, snap.BrowserSignature, domain.SeverityLow, "browser signature changed"},
		{&d.IPAddress, snap.IPAddress, domain.SeverityHigh, "IP address changed - potential location change"},
	}
	for _, c := range checks {
		if c.incoming == "" {
			continue
		}
		if *c.stored != "" && *c.stored != c.incoming {
			an := domain.Anomaly{
				ID:          uuid.New().String(),
				UserID:      userID,
				Type:        domain.AnomalyDevice,
				Severity:    c.severity,
				Description: c.description,
				DetectedAt:  res.Timestamp,
			}
			res.Anomalies = append(res.Anomalies, an)
			m.publishAnomaly(ctx, an)
		}
		*c.stored = c.incoming
	}
	if snap.OSSignature != "" {
		d.OSSignature = snap.OSSignature
	}
	entry.Profile.UpdatedAt = time.Now().UTC()
	res.BaselineEstablished = entry.Profile.BaselineEstablished

	m.invalidateAssessment(ctx, userID)
	return res
}

// afterBatch runs the shared tail of a behavioral batch under the entry
// lock: score against the baseline or advance toward establishing one,
// then invalidate the cached assessment.
func (m *Manager) afterBatch(ctx context.Context, entry *profile.Entry, res *domain.ProcessResult, anomalyType string, vector []float64, description string) {
	p := entry.Profile
	userID := p.UserID

	if p.BaselineEstablished {
		score := m.scorer.Score(userID, vector)
		res.AnomalyScore = score
		if score > p.AnomalyThreshold {
			an := domain.Anomaly{
				ID:          uuid.New().String(),
				UserID:      userID,
				Type:        anomalyType,
				Score:       score,
				Description: description,
				DetectedAt:  res.Timestamp,
			}
			res.Anomalies = append(res.Anomalies, an)
			m.publishAnomaly(ctx, an)
		}
		entry.Batches++
		if m.cfg.RetrainEvery > 0 && entry.Batches%m.cfg.RetrainEvery == 0 {
			m.scorer.Train(userID, p)
		}
	} else if profile.BaselineSufficient(p) {
		// Train first, then flip: nothing is ever scored against an
		// untrained model.
		m.scorer.Train(userID, p)
		p.BaselineEstablished = true
		slog.Info("behavioral baseline established",
			"user_id", userID,
			"intervals", len(p.Keystroke.Intervals),
			"click_samples", len(p.Mouse.ClickPattern))
		m.publishBaseline(ctx, p)
	}

	res.BaselineEstablished = p.BaselineEstablished
	m.invalidateAssessment(ctx, userID)
}

// SecurityAssessment returns the current assessment for a user, computing
// and briefly caching it on demand. Repeated calls without intervening
// events yield the same score, risk level and anomaly count.
func (m *Manager) SecurityAssessment(ctx context.Context, userID string) *domain.SecurityAssessment {
	if m.cache != nil {
		if a, err := m.cache.GetAssessment(ctx, userID); err == nil && a != nil {
			return a
		}
	}

	var a *domain.SecurityAssessment
	entry := m.store.Get(userID)
	if entry == nil {
		a = m.assessor.Assess(userID, nil, nil)
	} else {
		entry.Lock()
		a = m.assessor.Assess(userID, entry.Profile, entry.Buffer.Snapshot())
		entry.Unlock()
	}

	if m.cache != nil {
		ttl := time.Duration(m.cfg.AssessmentTTL) * time.Second
		if err := m.cache.SetAssessment(ctx, userID, a, ttl); err != nil {
			slog.Warn("failed to cache assessment", "user_id", userID, "error", err)
		}
	}
	m.publishAssessment(ctx, a)
	return a
}

// Profile returns a copy of the user's profile, or nil when unseen.
func (m *Manager) Profile(userID string) *domain.BehaviorProfile {
	entry := m.store.Get(userID)
	if entry == nil {
		return nil
	}
	entry.Lock()
	defer entry.Unlock()
	return entry.Profile.Clone()
}

// Profiles returns copies of every known profile.
func (m *Manager) Profiles() []*domain.BehaviorProfile {
	return m.store.Snapshot()
}

// Users returns the number of known users.
func (m *Manager) Users() int {
	return m.store.Count()
}

// recoverInto converts a panic anywhere in batch processing into a result
// error: the pipeline fails open and the caller keeps going.
func (m *Manager) recoverInto(res *domain.ProcessResult, operation string) {
	if r := recover(); r != nil {
		slog.Error("behavior processing fault",
			"operation", operation,
			"user_id", res.UserID,
			"fault", r)
		res.AnomalyScore = 0
		res.Anomalies = nil
		res.Error = fmt.Sprintf("internal error processing %s batch: %v", operation, r)
	}
}

func (m *Manager) invalidateAssessment(ctx context.Context, userID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidateAssessment(ctx, userID); err != nil {
		slog.Warn("failed to invalidate assessment cache", "user_id", userID, "error", err)
	}
}

func (m *Manager) publishAnomaly(ctx context.Context, an domain.Anomaly) {
	m.publish(ctx, domain.TopicAnomalyDetected, an)
}

func (m *Manager) publishBaseline(ctx context.Context, p *domain.BehaviorProfile) {
	m.publish(ctx, domain.TopicBaselineEstablished, p.Clone())
}

func (m *Manager) publishAssessment(ctx context.Context, a *domain.SecurityAssessment) {
	m.publish(ctx, domain.TopicAssessmentCompleted, a)
}

func (m *Manager) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal bus payload", "topic", topic, "error", err)
		return
	}
	if err := m.bus.Publish(ctx, domain.ScopeBehavior, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
