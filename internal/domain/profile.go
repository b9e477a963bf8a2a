package domain

import (
	"time"
)

// Behavioral baseline limits.
const (
	// MaxIntervalHistory caps the stored keystroke interval history per user.
	MaxIntervalHistory = 1000

	// MaxClickHistory caps the stored click-count history per user.
	MaxClickHistory = 100

	// MinIntervalBaseline is the interval count required to establish a baseline.
	MinIntervalBaseline = 50

	// MinClickBaseline is the click-sample count that alternatively establishes a baseline.
	MinClickBaseline = 20

	// DefaultBufferSize is the per-user recent-behavior buffer capacity.
	DefaultBufferSize = 50

	// DefaultAnomalyThreshold is the per-batch anomaly score threshold.
	DefaultAnomalyThreshold = 0.15
)

// KeystrokeStats is the accumulated typing baseline for one user.
type KeystrokeStats struct {
	AvgTypingSpeed float64   `json:"avgTypingSpeed"`
	Intervals      []float64 `json:"intervals"`
	ErrorRate      float64   `json:"errorRate"`
}

// MouseStats is the accumulated pointer baseline for one user.
type MouseStats struct {
	AvgMovementSpeed float64   `json:"avgMovementSpeed"`
	ClickPattern     []float64 `json:"clickPattern"`
	MovementVariance float64   `json:"movementVariance"`
}

// DeviceStats holds the most recently observed device fingerprint fields.
type DeviceStats struct {
	ScreenResolution string `json:"screenResolution,omitempty"`
	BrowserSignature string `json:"browserSignature,omitempty"`
	OSSignature      string `json:"osSignature,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`
}

// BehaviorProfile is the per-user behavioral baseline. BaselineEstablished
// flips false to true exactly once, after the sufficiency check passes and
// the user's model has been trained.
type BehaviorProfile struct {
	UserID              string         `json:"userId"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
	Keystroke           KeystrokeStats `json:"keystroke"`
	Mouse               MouseStats     `json:"mouse"`
	Device              DeviceStats    `json:"device"`
	BaselineEstablished bool           `json:"baselineEstablished"`
	AnomalyThreshold    float64        `json:"anomalyThreshold"`
}

// NewBehaviorProfile returns an empty profile with default thresholds.
func NewBehaviorProfile(userID string) *BehaviorProfile {
	now := time.Now().UTC()
	return &BehaviorProfile{
		UserID:           userID,
		CreatedAt:        now,
		UpdatedAt:        now,
		AnomalyThreshold: DefaultAnomalyThreshold,
	}
}

// Clone returns a deep copy safe to hand out across the locking boundary.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Keystroke.Intervals = append([]float64(nil), p.Keystroke.Intervals...)
	cp.Mouse.ClickPattern = append([]float64(nil), p.Mouse.ClickPattern...)
	return &cp
}
