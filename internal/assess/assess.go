// Package assess turns a user's recent behavior into a security assessment:
// a 0-100 score and a risk tier for downstream access decisions.
package assess

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/features"
	"github.com/behaviorsec/kestrel/internal/scoring"
)

// RecentAnomalyCutoff is the per-channel score above which a re-scored
// buffer channel counts as an anomaly.
const RecentAnomalyCutoff = 0.5

// ScorePenalty is how many points each anomalous channel subtracts from
// the perfect score.
const ScorePenalty = 10

// Processor recomputes security assessments from buffered behavior.
// Stateless apart from its scorer reference; safe for concurrent use.
type Processor struct {
	scorer *scoring.Scorer
}

// NewProcessor creates an assessment processor over the given scorer.
func NewProcessor(scorer *scoring.Scorer) *Processor {
	return &Processor{scorer: scorer}
}

// Assess produces an assessment for one user. A nil profile means the user
// has never been seen: score 0, risk unknown. Otherwise the recent buffer is
// partitioned by modality, each non-empty channel is re-extracted and
// re-scored against the current model, and channels above the cutoff count
// as anomalies. Caller holds the user's entry lock while passing live state.
func (p *Processor) Assess(userID string, profile *domain.BehaviorProfile, recent []domain.BufferedEvent) *domain.SecurityAssessment {
	now := time.Now().UTC()
	if profile == nil {
		return &domain.SecurityAssessment{
			ID:        uuid.New().String(),
			UserID:    userID,
			RiskLevel: domain.RiskUnknown,
			Timestamp: now,
		}
	}

	var keystrokes []domain.KeystrokeEvent
	var pointers []domain.PointerEvent
	for _, ev := range recent {
		switch {
		case ev.Modality == domain.ModalityKeystroke && ev.Keystroke != nil:
			keystrokes = append(keystrokes, *ev.Keystroke)
		case ev.Modality == domain.ModalityMouse && ev.Pointer != nil:
			pointers = append(pointers, *ev.Pointer)
		}
	}

	count := 0
	if len(keystrokes) > 0 {
		v := features.ExtractKeystroke(keystrokes).Vector()
		if p.scorer.Score(userID, v) > RecentAnomalyCutoff {
			count++
		}
	}
	if len(pointers) > 0 {
		v := features.ExtractMouse(pointers).Vector()
		if p.scorer.Score(userID, v) > RecentAnomalyCutoff {
			count++
		}
	}

	score := 100 - count*ScorePenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	a := &domain.SecurityAssessment{
		ID:                  uuid.New().String(),
		UserID:              userID,
		SecurityScore:       score,
		RiskLevel:           riskTier(count),
		AnomaliesCount:      count,
		BaselineEstablished: profile.BaselineEstablished,
		Timestamp:           now,
	}
	slog.Debug("assessment computed",
		"user_id", userID,
		"score", a.SecurityScore,
		"risk", a.RiskLevel,
		"anomalies", a.AnomaliesCount)
	return a
}

// riskTier buckets the recent anomaly count. With two buffer channels the
// count tops out at 2; the high tier is reserved for additional channels.
func riskTier(count int) domain.RiskLevel {
	switch {
	case count == 0:
		return domain.RiskLow
	case count <= 2:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}
