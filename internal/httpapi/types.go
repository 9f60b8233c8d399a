package httpapi

import (
	"time"

	"voicekey/internal/domain"
)

// TimeNow is overridable in tests.
var TimeNow = time.Now

// APIError is the body of every non-2xx JSON response.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StateResponse is the body of GET /v1/state.
type StateResponse struct {
	Event       string              `json:"event"`
	State       domain.OverlayState `json:"state"`
	GeneratedAt string              `json:"generated_at"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Listener    ListenerView `json:"listener"`
	Observers   int          `json:"observers"`
	GeneratedAt string       `json:"generated_at"`
}

// ListenerView describes the UDP bridge.
type ListenerView struct {
	State string `json:"state"`
	Addr  string `json:"addr,omitempty"`
	Error string `json:"error,omitempty"`
}

func timestamp() string {
	return TimeNow().UTC().Format(time.RFC3339)
}
