package scoring

import (
	"errors"
	"testing"

	"github.com/behaviorsec/kestrel/internal/domain"
)

// fixedDetector returns a constant margin regardless of input.
type fixedDetector struct {
	margin float64
	fitErr error
	fits   int
}

func (d *fixedDetector) Fit(samples [][]float64) error {
	d.fits++
	return d.fitErr
}

func (d *fixedDetector) Predict(v []float64) int {
	if d.margin < 0 {
		return -1
	}
	return 1
}

func (d *fixedDetector) DecisionFunction(v []float64) float64 { return d.margin }

// panicDetector blows up on every call after fitting.
type panicDetector struct{}

func (panicDetector) Fit([][]float64) error              { return nil }
func (panicDetector) Predict([]float64) int              { panic("detector fault") }
func (panicDetector) DecisionFunction([]float64) float64 { panic("detector fault") }

func trainedProfile() *domain.BehaviorProfile {
	p := domain.NewBehaviorProfile("u")
	p.Keystroke.AvgTypingSpeed = 7.5
	p.Keystroke.Intervals = []float64{0.1, 0.2, 0.15}
	p.Mouse.AvgMovementSpeed = 3.0
	p.Mouse.ClickPattern = []float64{2, 4}
	return p
}

func TestScorerSentinels(t *testing.T) {
	t.Run("no backend scores sentinel", func(t *testing.T) {
		s := New(domain.ModelConfig{Backend: domain.ModelBackendNone})
		if got := s.Score("u", []float64{1, 2, 3, 4}); got != domain.SentinelScore {
			t.Errorf("score = %f, want sentinel %f", got, domain.SentinelScore)
		}
		if s.Train("u", trainedProfile()) != StatusSkipped {
			t.Error("training without a backend must be skipped")
		}
	})

	t.Run("no model yet scores sentinel", func(t *testing.T) {
		s := NewWithFactory(func() domain.Detector { return &fixedDetector{} })
		if got := s.Score("u", []float64{1, 2, 3, 4}); got != domain.SentinelScore {
			t.Errorf("score = %f, want sentinel %f", got, domain.SentinelScore)
		}
	})
}

func TestScorerTrain(t *testing.T) {
	t.Run("empty profile skips", func(t *testing.T) {
		s := NewWithFactory(func() domain.Detector { return &fixedDetector{} })
		if s.Train("u", domain.NewBehaviorProfile("u")) != StatusSkipped {
			t.Error("profile without averages must skip training")
		}
		if s.HasModel("u") {
			t.Error("skipped training must not install a model")
		}
	})

	t.Run("fit error skips and keeps the old model", func(t *testing.T) {
		s := NewWithFactory(func() domain.Detector { return &fixedDetector{margin: 0.2} })
		if s.Train("u", trainedProfile()) != StatusTrained {
			t.Fatal("expected training to succeed")
		}
		s.factory = func() domain.Detector { return &fixedDetector{fitErr: errors.New("bad data")} }
		if s.Train("u", trainedProfile()) != StatusSkipped {
			t.Error("fit error must report skipped")
		}
		if got := s.Score("u", []float64{1, 2, 3, 4}); got != clamp((0.2+0.5)/1.0, 0, 1) {
			t.Errorf("old model gone after failed retrain, score = %f", got)
		}
	})

	t.Run("retrain replaces the model wholesale", func(t *testing.T) {
		margin := 0.5
		s := NewWithFactory(func() domain.Detector { return &fixedDetector{margin: margin} })
		s.Train("u", trainedProfile())
		if got := s.Score("u", []float64{1, 2, 3, 4}); got != 1 {
			t.Fatalf("score = %f, want 1", got)
		}
		margin = -0.5
		s.Train("u", trainedProfile())
		if got := s.Score("u", []float64{1, 2, 3, 4}); got != 0 {
			t.Errorf("score = %f, want 0 after retrain", got)
		}
	})

	t.Run("training rows cover both modalities", func(t *testing.T) {
		rows := trainingRows(trainedProfile())
		if len(rows) != 2 {
			t.Fatalf("rows = %d, want 2", len(rows))
		}
		if rows[0][0] != 7.5 || rows[0][1] != 3 {
			t.Errorf("keystroke row = %v", rows[0])
		}
		if rows[1][0] != 3.0 || rows[1][1] != 3 {
			t.Errorf("mouse row = %v", rows[1])
		}
	})
}

func TestScoreMapping(t *testing.T) {
	cases := []struct {
		margin float64
		want   float64
	}{
		{-1.0, 0},
		{-0.5, 0},
		{0, 0.5},
		{0.25, 0.75},
		{0.5, 1},
		{2.0, 1},
	}
	for _, tc := range cases {
		s := NewWithFactory(func() domain.Detector { return &fixedDetector{margin: tc.margin} })
		s.Train("u", trainedProfile())
		if got := s.Score("u", []float64{1, 2, 3, 4}); got != tc.want {
			t.Errorf("margin %f: score = %f, want %f", tc.margin, got, tc.want)
		}
	}
}

func TestScoreFailOpen(t *testing.T) {
	s := NewWithFactory(func() domain.Detector { return panicDetector{} })
	if s.Train("u", trainedProfile()) != StatusTrained {
		t.Fatal("expected training to succeed")
	}
	if got := s.Score("u", []float64{1, 2, 3, 4}); got != 0 {
		t.Errorf("score = %f, want 0 on recovered fault", got)
	}
}
