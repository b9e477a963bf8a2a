package profile

import (
	"time"

	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/features"
)

// smooth folds a new observation into a running statistic: plain midpoint
// once a value exists, adoption on first observation.
func smooth(old, observed float64) float64 {
	if old != 0 {
		return (old + observed) / 2
	}
	return observed
}

// truncate keeps the most recent n values.
func truncate(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return append(vals[:0], vals[len(vals)-n:]...)
}

// UpdateKeystroke folds extracted typing features into the profile. Zero
// feature values are treated as "no observation" and leave the stored
// statistic untouched. Caller holds the entry lock.
func UpdateKeystroke(p *domain.BehaviorProfile, f features.KeystrokeFeatures) {
	if f.TypingSpeed != 0 {
		p.Keystroke.AvgTypingSpeed = smooth(p.Keystroke.AvgTypingSpeed, f.TypingSpeed)
	}
	if len(f.Intervals) > 0 {
		p.Keystroke.Intervals = truncate(append(p.Keystroke.Intervals, f.Intervals...), domain.MaxIntervalHistory)
	}
	p.UpdatedAt = time.Now().UTC()
}

// UpdateMouse folds extracted pointer features into the profile.
// Caller holds the entry lock.
func UpdateMouse(p *domain.BehaviorProfile, f features.MouseFeatures) {
	if f.MovementSpeed != 0 {
		p.Mouse.AvgMovementSpeed = smooth(p.Mouse.AvgMovementSpeed, f.MovementSpeed)
	}
	if f.ClickCount > 0 {
		p.Mouse.ClickPattern = truncate(append(p.Mouse.ClickPattern, f.ClickCount), domain.MaxClickHistory)
	}
	p.UpdatedAt = time.Now().UTC()
}

// BaselineSufficient reports whether enough history exists to establish a
// baseline: either the keystroke interval quota or the click-sample quota.
func BaselineSufficient(p *domain.BehaviorProfile) bool {
	return len(p.Keystroke.Intervals) >= domain.MinIntervalBaseline ||
		len(p.Mouse.ClickPattern) >= domain.MinClickBaseline
}
