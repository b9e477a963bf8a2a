package domain

import (
	"time"
)

// Modality tags identify which channel a buffered event came from.
const (
	ModalityKeystroke = "keystroke"
	ModalityMouse     = "mouse"
)

// Keystroke event subtypes.
const (
	KeySubtypeDown = "keydown"
	KeySubtypeUp   = "keyup"
)

// Pointer event subtypes.
const (
	PointerSubtypeMove   = "move"
	PointerSubtypeClick  = "click"
	PointerSubtypeScroll = "scroll"
)

// KeystrokeEvent is a single raw keyboard event reported by a client agent.
// Timestamp is epoch seconds as measured on the client; ordering is the
// arrival order within a batch, not a server-side sort.
type KeystrokeEvent struct {
	Subtype   string  `json:"subtype"`
	Timestamp float64 `json:"timestamp"`
	Key       string  `json:"key,omitempty"`
}

// Valid reports whether the event carries enough to be processed.
func (e *KeystrokeEvent) Valid() bool {
	return e.Subtype != "" && e.Timestamp > 0
}

// PointerEvent is a single raw mouse event reported by a client agent.
type PointerEvent struct {
	Subtype   string  `json:"subtype"`
	Timestamp float64 `json:"timestamp"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
}

// Valid reports whether the event carries enough to be processed.
func (e *PointerEvent) Valid() bool {
	return e.Subtype != ""
}

// DeviceSnapshot describes the environment a batch of events came from.
// Empty fields mean "not reported", not "changed to empty".
type DeviceSnapshot struct {
	ScreenResolution string `json:"screenResolution,omitempty"`
	BrowserSignature string `json:"browserSignature,omitempty"`
	OSSignature      string `json:"osSignature,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`
}

// BufferedEvent is a modality-tagged entry in a user's recent-behavior buffer.
// Exactly one of Keystroke or Pointer is set, matching Modality.
type BufferedEvent struct {
	Modality  string          `json:"modality"`
	At        time.Time       `json:"at"`
	Keystroke *KeystrokeEvent `json:"keystroke,omitempty"`
	Pointer   *PointerEvent   `json:"pointer,omitempty"`
}
