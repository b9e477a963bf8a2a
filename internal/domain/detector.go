package domain

// Detector is the outlier-detection backend trained per user. Implementations
// must be safe to replace wholesale: callers never mutate a trained detector,
// they swap in a new one.
type Detector interface {
	// Fit trains the detector on scaled feature rows.
	Fit(samples [][]float64) error

	// Predict returns 1 for an inlier and -1 for an outlier.
	Predict(v []float64) int

	// DecisionFunction returns the signed margin for a sample.
	// Positive values are inliers, negative values outliers.
	DecisionFunction(v []float64) float64
}

// DetectorFactory builds a fresh untrained detector for one user.
type DetectorFactory func() Detector

// Model backend names.
const (
	ModelBackendIsoForest = "isoforest"
	ModelBackendNone      = "none"
)

// ModelConfig holds detector backend settings.
type ModelConfig struct {
	// Backend selects the detector implementation: "isoforest" or "none".
	// "none" disables scoring; every score request returns the sentinel.
	Backend string

	// Trees is the isolation forest ensemble size.
	Trees int

	// Contamination is the expected fraction of outliers in training data.
	Contamination float64

	// Seed makes training deterministic. Zero means seeded from time.
	Seed int64
}

// SentinelScore is returned when no trained model (or no backend) exists for
// a user: absence of evidence, scored as mildly unusual rather than normal.
const SentinelScore = 0.1
