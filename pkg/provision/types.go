package provision

import "time"

// State is the lifecycle state of a provisioning session.
type State string

const (
	StateInitializing      State = "initializing"
	StateAwaitingChallenge State = "awaiting_challenge"
	StateAwaitingCode      State = "awaiting_code"
	StateResuming          State = "resuming"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// FailureReason is a machine-readable reason stored on failed sessions.
type FailureReason string

const (
	ReasonAgentFailure       FailureReason = "agent_failure"
	ReasonTransportFailure   FailureReason = "transport_failure"
	ReasonMaxRetriesExceeded FailureReason = "max_retries_exceeded"
	ReasonExpired            FailureReason = "expired"
)

// Challenge describes a pending human-verification step.
type Challenge struct {
	Ref string `json:"ref"`
	URL string `json:"url,omitempty"`
}

// Result is what a successful provisioning attempt produced.
type Result struct {
	Domain   string `json:"domain,omitempty"`
	AdminURL string `json:"adminUrl,omitempty"`
}

// Failure carries the reason a session ended in StateFailed.
type Failure struct {
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// Session is one provisioning attempt for a target store.
type Session struct {
	ID             string     `json:"sessionId"`
	TargetID       string     `json:"targetId"`
	State          State      `json:"state"`
	Challenge      *Challenge `json:"challenge,omitempty"`
	CodeAttempts   int        `json:"codeAttempts"`
	Result         *Result    `json:"result,omitempty"`
	Failure        *Failure   `json:"failure,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
}
