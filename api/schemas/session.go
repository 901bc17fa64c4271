package schemas

import (
	"fmt"
	"time"
)

// -- Session Schemas --

// BrowserKind identifies the engine binary backing a session.
type BrowserKind string

const (
	BrowserChromium BrowserKind = "chromium"
	BrowserFirefox  BrowserKind = "firefox"
	BrowserWebKit   BrowserKind = "webkit"
)

// Valid reports whether the kind names a supported engine.
func (k BrowserKind) Valid() bool {
	switch k {
	case BrowserChromium, BrowserFirefox, BrowserWebKit:
		return true
	}
	return false
}

// SessionState tracks where a session is in its lifecycle.
// Transitions are strictly monotonic: starting -> active -> closing -> closed.
// A launch failure moves starting directly to closed.
type SessionState string

const (
	StateStarting SessionState = "starting"
	StateActive   SessionState = "active"
	StateClosing  SessionState = "closing"
	StateClosed   SessionState = "closed"
)

// StartSessionRequest is the payload for session/start. Engine options are
// fixed at creation; there is no mutation endpoint.
type StartSessionRequest struct {
	Browser  BrowserKind `json:"browser"`
	Headless *bool       `json:"headless,omitempty"`
	// ViewportWidth and ViewportHeight must be supplied together.
	ViewportWidth     int     `json:"viewport_width,omitempty"`
	ViewportHeight    int     `json:"viewport_height,omitempty"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty"`
}

// HeadlessOrDefault resolves the headless flag; sessions are headless unless
// the client explicitly asks otherwise.
func (r StartSessionRequest) HeadlessOrDefault() bool {
	if r.Headless == nil {
		return true
	}
	return *r.Headless
}

// Validate checks the request before any engine resource is allocated.
func (r StartSessionRequest) Validate() error {
	if !r.Browser.Valid() {
		return fmt.Errorf("unsupported browser kind %q (expected chromium, firefox or webkit)", string(r.Browser))
	}
	if r.ViewportWidth < 0 || r.ViewportHeight < 0 {
		return fmt.Errorf("viewport dimensions must be positive, got %dx%d", r.ViewportWidth, r.ViewportHeight)
	}
	if (r.ViewportWidth == 0) != (r.ViewportHeight == 0) {
		return fmt.Errorf("viewport_width and viewport_height must be provided together")
	}
	if r.DeviceScaleFactor < 0 {
		return fmt.Errorf("device_scale_factor must be positive, got %g", r.DeviceScaleFactor)
	}
	return nil
}

// StartSessionResponse carries the identifier of a newly active session.
type StartSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// CloseSessionRequest identifies the session to tear down.
type CloseSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionInfo is the registry's public view of one live session.
type SessionInfo struct {
	SessionID   string       `json:"sessionId"`
	Browser     BrowserKind  `json:"browser"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	ActionCount int64        `json:"action_count"`
}
