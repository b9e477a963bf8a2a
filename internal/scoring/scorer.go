// Package scoring maintains per-user anomaly models and scores feature
// vectors against them.
package scoring

import (
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/behaviorsec/kestrel/internal/domain"
)

// TrainStatus is the outcome of a training attempt.
type TrainStatus string

const (
	// StatusTrained means a fresh model was installed for the user.
	StatusTrained TrainStatus = "trained"

	// StatusSkipped means training did not run: no backend configured,
	// no usable training rows, or the detector rejected the data.
	// Skipping is policy, not failure.
	StatusSkipped TrainStatus = "skipped"
)

// userModel pairs a trained detector with the scaler fitted alongside it.
// The pair is immutable; retraining swaps in a whole new pair.
type userModel struct {
	detector domain.Detector
	scaler   *Scaler
}

// Scorer holds the per-user model registry. Safe for concurrent use:
// lookups take a read lock, (re)training replaces under a write lock.
type Scorer struct {
	mu      sync.RWMutex
	models  map[string]*userModel
	factory domain.DetectorFactory

	warnOnce sync.Once
}

// New builds a scorer for the configured backend. An unknown or "none"
// backend yields a scorer with no factory: training skips and every score
// request returns the sentinel.
func New(cfg domain.ModelConfig) *Scorer {
	var factory domain.DetectorFactory
	switch cfg.Backend {
	case domain.ModelBackendIsoForest:
		factory = func() domain.Detector { return NewIsolationForest(cfg) }
	case domain.ModelBackendNone, "":
	default:
		slog.Warn("unknown model backend, scoring disabled", "backend", cfg.Backend)
	}
	return NewWithFactory(factory)
}

// NewWithFactory builds a scorer around an explicit detector factory.
// A nil factory disables scoring.
func NewWithFactory(factory domain.DetectorFactory) *Scorer {
	return &Scorer{
		models:  make(map[string]*userModel),
		factory: factory,
	}
}

// Available reports whether a detector backend is configured.
func (s *Scorer) Available() bool {
	return s.factory != nil
}

// Train fits a fresh model to the user's accumulated profile and installs
// it atomically. At most two training rows exist (one per modality); a
// modality with no accumulated average contributes nothing.
func (s *Scorer) Train(userID string, p *domain.BehaviorProfile) TrainStatus {
	if s.factory == nil {
		s.warnOnce.Do(func() {
			slog.Warn("no model backend configured, anomaly training disabled")
		})
		return StatusSkipped
	}

	rows := trainingRows(p)
	if len(rows) == 0 {
		slog.Debug("no training rows for user", "user_id", userID)
		return StatusSkipped
	}

	scaler := NewScaler(rows)
	detector := s.factory()
	if err := detector.Fit(scaler.TransformAll(rows)); err != nil {
		slog.Error("model training failed", "user_id", userID, "error", err)
		return StatusSkipped
	}

	s.mu.Lock()
	s.models[userID] = &userModel{detector: detector, scaler: scaler}
	s.mu.Unlock()

	slog.Info("trained anomaly model", "user_id", userID, "rows", len(rows))
	return StatusTrained
}

// trainingRows derives the feature matrix from a profile: a keystroke row
// when a typing average exists and a mouse row when a movement average
// exists.
func trainingRows(p *domain.BehaviorProfile) [][]float64 {
	var rows [][]float64
	if p.Keystroke.AvgTypingSpeed > 0 {
		rows = append(rows, []float64{
			p.Keystroke.AvgTypingSpeed,
			float64(len(p.Keystroke.Intervals)),
			p.Keystroke.ErrorRate,
			0,
		})
	}
	if p.Mouse.AvgMovementSpeed > 0 {
		meanClicks := 0.0
		if len(p.Mouse.ClickPattern) > 0 {
			meanClicks = stat.Mean(p.Mouse.ClickPattern, nil)
		}
		rows = append(rows, []float64{
			p.Mouse.AvgMovementSpeed,
			meanClicks,
			0,
			p.Mouse.MovementVariance,
		})
	}
	return rows
}

// HasModel reports whether a trained model exists for the user.
func (s *Scorer) HasModel(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.models[userID] != nil
}

// Drop discards the user's model, if any.
func (s *Scorer) Drop(userID string) {
	s.mu.Lock()
	delete(s.models, userID)
	s.mu.Unlock()
}

// Score rates one feature vector in [0, 1]. Without a backend or a trained
// model for the user it returns the sentinel. The detector's margin is
// mapped through clamp((margin+0.5)/1.0, 0, 1); when the margin is not a
// number the binary verdict decides (outlier 1, inlier 0). A panicking
// detector is recovered: the batch scores 0 and processing continues.
func (s *Scorer) Score(userID string, vector []float64) (score float64) {
	if s.factory == nil {
		return domain.SentinelScore
	}

	s.mu.RLock()
	m := s.models[userID]
	s.mu.RUnlock()
	if m == nil {
		return domain.SentinelScore
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("anomaly scoring fault", "user_id", userID, "fault", r)
			score = 0
		}
	}()

	scaled := m.scaler.Transform(vector)
	verdict := m.detector.Predict(scaled)
	margin := m.detector.DecisionFunction(scaled)
	if math.IsNaN(margin) {
		if verdict < 0 {
			return 1
		}
		return 0
	}
	return clamp((margin+0.5)/1.0, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
