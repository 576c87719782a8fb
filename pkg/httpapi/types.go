package httpapi

import (
	"context"
	"time"

	"github.com/storeforge/storeforge/internal/history"
	"github.com/storeforge/storeforge/pkg/provision"
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration
	// LiveFrameInterval is how often the live challenge view captures a
	// fresh screenshot.
	LiveFrameInterval time.Duration
}

// HistoryReader serves the finished-attempts archive.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Attempt, error)
}

// provisionRequest is the optional body of POST /provision/{targetId}.
// The target id in the path names the store; the body only carries caller
// metadata.
type provisionRequest struct {
	Client *clientDetails `json:"client,omitempty"`
}

// clientDetails identifies the caller for audit logging.
type clientDetails struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// codeRequest is the body of POST /provision/code/{sessionId}.
type codeRequest struct {
	Code string `json:"code"`
}

// sessionResponse is the payload for provisioning outcomes. Which fields
// are present depends on the session state; the HTTP status code mirrors
// the state (200 succeeded, 202 code required, 203 challenge, 502 failed).
type sessionResponse struct {
	SessionID    string             `json:"sessionId"`
	State        provision.State    `json:"state"`
	Result       *provision.Result  `json:"result,omitempty"`
	ChallengeRef string             `json:"challengeRef,omitempty"`
	ChallengeURL string             `json:"challengeUrl,omitempty"`
	Failure      *provision.Failure `json:"failure,omitempty"`
}

// codeRejectedResponse is returned with 400 when a one-time code is
// rejected.
type codeRejectedResponse struct {
	Error             string `json:"error"`
	Retryable         bool   `json:"retryable"`
	Attempts          int    `json:"attempts"`
	AttemptsRemaining int    `json:"attemptsRemaining"`
}

// errorResponse is the generic error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// cancelResponse acknowledges a cancellation.
type cancelResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// healthResponse reports liveness.
type healthResponse struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime"`
	Sessions  int     `json:"sessions"`
	Timestamp int64   `json:"timestamp"`
}
