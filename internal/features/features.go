// Package features extracts fixed-shape feature vectors from raw behavioral
// events. Extraction is pure: no clocks, no I/O, no stored state.
package features

import (
	"github.com/behaviorsec/kestrel/internal/domain"
)

// KeystrokeFeatures is the typing-dynamics summary of one event batch.
type KeystrokeFeatures struct {
	TypingSpeed     float64
	Intervals       []float64
	ErrorCount      float64
	SpecialKeyUsage float64
}

// Vector returns the four-dimensional scoring vector
// [typing_speed, interval_count, error_count, special_key_usage].
func (f KeystrokeFeatures) Vector() []float64 {
	return []float64{f.TypingSpeed, float64(len(f.Intervals)), f.ErrorCount, f.SpecialKeyUsage}
}

// MouseFeatures is the pointer-dynamics summary of one event batch.
type MouseFeatures struct {
	MovementSpeed    float64
	ClickCount       float64
	ScrollCount      float64
	MovementVariance float64
}

// Vector returns the four-dimensional scoring vector
// [movement_speed, click_count, scroll_count, movement_variance].
func (f MouseFeatures) Vector() []float64 {
	return []float64{f.MovementSpeed, f.ClickCount, f.ScrollCount, f.MovementVariance}
}

// ExtractKeystroke derives typing features from a batch of keyboard events.
// Only keydown timestamps contribute, in arrival order. With fewer than two
// keydowns there are no intervals and the typing speed stays zero. The speed
// divisor is the largest inter-key interval, falling back to 1 when that
// value is not positive (duplicate client timestamps).
func ExtractKeystroke(events []domain.KeystrokeEvent) KeystrokeFeatures {
	var f KeystrokeFeatures
	if len(events) == 0 {
		return f
	}

	var downTimes []float64
	for _, ev := range events {
		if ev.Subtype == domain.KeySubtypeDown {
			downTimes = append(downTimes, ev.Timestamp)
		}
	}
	if len(downTimes) < 2 {
		return f
	}

	intervals := make([]float64, 0, len(downTimes)-1)
	maxInterval := 0.0
	for i := 1; i < len(downTimes); i++ {
		iv := downTimes[i] - downTimes[i-1]
		intervals = append(intervals, iv)
		if iv > maxInterval {
			maxInterval = iv
		}
	}
	if maxInterval <= 0 {
		maxInterval = 1
	}

	f.Intervals = intervals
	f.TypingSpeed = float64(len(events)) / maxInterval
	return f
}

// ExtractMouse derives pointer features from a batch of mouse events.
// Click and scroll subtypes are counted; movement speed and variance are
// computed upstream from the accumulated profile, not per batch, so they
// stay zero here.
func ExtractMouse(events []domain.PointerEvent) MouseFeatures {
	var f MouseFeatures
	for _, ev := range events {
		switch ev.Subtype {
		case domain.PointerSubtypeClick:
			f.ClickCount++
		case domain.PointerSubtypeScroll:
			f.ScrollCount++
		}
	}
	return f
}
