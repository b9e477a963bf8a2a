package profile

import (
	"sync"
	"testing"

	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/features"
)

func TestStoreGetOrCreate(t *testing.T) {
	s := NewStore(0, 0)

	e := s.GetOrCreate("alice")
	if e.Profile.UserID != "alice" {
		t.Errorf("user id = %q, want alice", e.Profile.UserID)
	}
	if e.Profile.BaselineEstablished {
		t.Error("new profile must start without a baseline")
	}
	if e.Profile.AnomalyThreshold != domain.DefaultAnomalyThreshold {
		t.Errorf("threshold = %f, want %f", e.Profile.AnomalyThreshold, domain.DefaultAnomalyThreshold)
	}

	if s.GetOrCreate("alice") != e {
		t.Error("second GetOrCreate returned a different entry")
	}
	if s.Get("bob") != nil {
		t.Error("Get for unseen user must return nil")
	}
}

func TestStoreConcurrentCreate(t *testing.T) {
	s := NewStore(0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.GetOrCreate("shared")
		}()
	}
	wg.Wait()
	if s.Count() != 1 {
		t.Errorf("count = %d, want 1", s.Count())
	}
}

func TestUpdateKeystroke(t *testing.T) {
	t.Run("first observation adopts the value", func(t *testing.T) {
		p := domain.NewBehaviorProfile("u")
		UpdateKeystroke(p, features.KeystrokeFeatures{TypingSpeed: 8, Intervals: []float64{0.1, 0.2}})
		if p.Keystroke.AvgTypingSpeed != 8 {
			t.Errorf("avg speed = %f, want 8", p.Keystroke.AvgTypingSpeed)
		}
		if len(p.Keystroke.Intervals) != 2 {
			t.Errorf("intervals = %d, want 2", len(p.Keystroke.Intervals))
		}
	})

	t.Run("later observations average pairwise", func(t *testing.T) {
		p := domain.NewBehaviorProfile("u")
		p.Keystroke.AvgTypingSpeed = 8
		UpdateKeystroke(p, features.KeystrokeFeatures{TypingSpeed: 4})
		if p.Keystroke.AvgTypingSpeed != 6 {
			t.Errorf("avg speed = %f, want 6", p.Keystroke.AvgTypingSpeed)
		}
	})

	t.Run("zero speed leaves the average alone", func(t *testing.T) {
		p := domain.NewBehaviorProfile("u")
		p.Keystroke.AvgTypingSpeed = 8
		UpdateKeystroke(p, features.KeystrokeFeatures{})
		if p.Keystroke.AvgTypingSpeed != 8 {
			t.Errorf("avg speed = %f, want 8 unchanged", p.Keystroke.AvgTypingSpeed)
		}
	})

	t.Run("interval history keeps the most recent cap", func(t *testing.T) {
		p := domain.NewBehaviorProfile("u")
		long := make([]float64, domain.MaxIntervalHistory+5)
		for i := range long {
			long[i] = float64(i)
		}
		UpdateKeystroke(p, features.KeystrokeFeatures{TypingSpeed: 1, Intervals: long})
		if len(p.Keystroke.Intervals) != domain.MaxIntervalHistory {
			t.Fatalf("intervals = %d, want %d", len(p.Keystroke.Intervals), domain.MaxIntervalHistory)
		}
		if p.Keystroke.Intervals[0] != 5 {
			t.Errorf("oldest kept interval = %f, want 5", p.Keystroke.Intervals[0])
		}
	})
}

func TestUpdateMouse(t *testing.T) {
	p := domain.NewBehaviorProfile("u")

	UpdateMouse(p, features.MouseFeatures{ClickCount: 3})
	if len(p.Mouse.ClickPattern) != 1 || p.Mouse.ClickPattern[0] != 3 {
		t.Errorf("click pattern = %v, want [3]", p.Mouse.ClickPattern)
	}

	// zero clicks must not append
	UpdateMouse(p, features.MouseFeatures{})
	if len(p.Mouse.ClickPattern) != 1 {
		t.Errorf("click pattern grew on zero observation: %v", p.Mouse.ClickPattern)
	}

	for i := 0; i < domain.MaxClickHistory+10; i++ {
		UpdateMouse(p, features.MouseFeatures{ClickCount: float64(i + 10)})
	}
	if len(p.Mouse.ClickPattern) != domain.MaxClickHistory {
		t.Errorf("click pattern = %d entries, want %d", len(p.Mouse.ClickPattern), domain.MaxClickHistory)
	}
}

func TestBaselineSufficient(t *testing.T) {
	t.Run("one short of the interval quota is insufficient", func(t *testing.T) {
		p := domain.NewBehaviorProfile("u")
		p.Keystroke.Intervals = make([]float64, domain.MinIntervalBaseline-1)
		if BaselineSufficient(p) {
			t.Error("49 intervals must not establish a baseline")
		}
		p.Keystroke.Intervals = append(p.Keystroke.Intervals, 0.1)
		if !BaselineSufficient(p) {
			t.Error("50 intervals must establish a baseline")
		}
	})

	t.Run("click quota alone suffices", func(t *testing.T) {
		p := domain.NewBehaviorProfile("u")
		p.Mouse.ClickPattern = make([]float64, domain.MinClickBaseline)
		if !BaselineSufficient(p) {
			t.Error("20 click samples must establish a baseline")
		}
	})

	t.Run("empty profile is insufficient", func(t *testing.T) {
		if BaselineSufficient(domain.NewBehaviorProfile("u")) {
			t.Error("empty profile must not establish a baseline")
		}
	})
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore(0, 0)
	e := s.GetOrCreate("alice")
	e.Profile.Keystroke.Intervals = []float64{1, 2, 3}

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	snap[0].Keystroke.Intervals[0] = 99
	if e.Profile.Keystroke.Intervals[0] != 1 {
		t.Error("snapshot mutation leaked into the store")
	}
}
