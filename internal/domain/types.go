package domain

import (
	"math"
	"strings"
)

// StateEvent is the event name observers receive the state under.
const StateEvent = "overlay://state"

const (
	DefaultConnection = "checking"
	DefaultListening  = "ready"
	DefaultProcessing = "idle"
	DefaultTarget     = "unknown"
)

// OverlayState is the status record shown by the overlay.
type OverlayState struct {
	Connection string  `json:"connection"`
	Listening  string  `json:"listening"`
	Processing string  `json:"processing"`
	Target     string  `json:"target"`
	Level      float64 `json:"level"`
	Visible    bool    `json:"visible"`
	Message    *string `json:"message"`
}

// DefaultState returns the record every store starts from.
func DefaultState() OverlayState {
	return OverlayState{
		Connection: DefaultConnection,
		Listening:  DefaultListening,
		Processing: DefaultProcessing,
		Target:     DefaultTarget,
	}
}

// Normalized returns a copy with level clamped and a blank message dropped.
func (s OverlayState) Normalized() OverlayState {
	s.Level = ClampLevel(s.Level)
	s.Message = NormalizeMessage(s.Message)
	return s
}

// MessageText returns the message or "" when absent.
func (s OverlayState) MessageText() string {
	if s.Message == nil {
		return ""
	}
	return *s.Message
}

// Equal compares two records field by field, including message contents.
func (s OverlayState) Equal(other OverlayState) bool {
	if s.Connection != other.Connection ||
		s.Listening != other.Listening ||
		s.Processing != other.Processing ||
		s.Target != other.Target ||
		s.Level != other.Level ||
		s.Visible != other.Visible {
		return false
	}
	if (s.Message == nil) != (other.Message == nil) {
		return false
	}
	return s.Message == nil || *s.Message == *other.Message
}

// OverlayPatch is a partial update; nil fields leave the target untouched.
type OverlayPatch struct {
	Connection *string  `json:"connection,omitempty"`
	Listening  *string  `json:"listening,omitempty"`
	Processing *string  `json:"processing,omitempty"`
	Target     *string  `json:"target,omitempty"`
	Level      *float64 `json:"level,omitempty"`
	Visible    *bool    `json:"visible,omitempty"`
	Message    *string  `json:"message,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p OverlayPatch) IsEmpty() bool {
	return p.Connection == nil &&
		p.Listening == nil &&
		p.Processing == nil &&
		p.Target == nil &&
		p.Level == nil &&
		p.Visible == nil &&
		p.Message == nil
}

// Apply overwrites the fields present in p and returns the result.
func (p OverlayPatch) Apply(state OverlayState) OverlayState {
	if p.Connection != nil {
		state.Connection = *p.Connection
	}
	if p.Listening != nil {
		state.Listening = *p.Listening
	}
	if p.Processing != nil {
		state.Processing = *p.Processing
	}
	if p.Target != nil {
		state.Target = *p.Target
	}
	if p.Level != nil {
		state.Level = ClampLevel(*p.Level)
	}
	if p.Visible != nil {
		state.Visible = *p.Visible
	}
	if p.Message != nil {
		state.Message = NormalizeMessage(p.Message)
	}
	return state
}

// ClampLevel bounds x to [0, 1]. NaN becomes 0.
func ClampLevel(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

// NormalizeMessage maps empty and whitespace-only text to nil.
// The returned pointer never aliases the input.
func NormalizeMessage(message *string) *string {
	if message == nil || strings.TrimSpace(*message) == "" {
		return nil
	}
	text := *message
	return &text
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
