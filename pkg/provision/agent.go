package provision

import "context"

// SignalKind enumerates the outcomes an agent round trip can report.
type SignalKind int

const (
	// SignalDone means the provisioning flow completed.
	SignalDone SignalKind = iota
	// SignalNeedsChallenge means a visual challenge must be solved by a human.
	SignalNeedsChallenge
	// SignalNeedsCode means a one-time code is required.
	SignalNeedsCode
	// SignalInvalidCode means the submitted one-time code was rejected.
	SignalInvalidCode
	// SignalError means the flow failed and cannot continue.
	SignalError
)

func (k SignalKind) String() string {
	switch k {
	case SignalDone:
		return "done"
	case SignalNeedsChallenge:
		return "needs_challenge"
	case SignalNeedsCode:
		return "needs_code"
	case SignalInvalidCode:
		return "invalid_code"
	case SignalError:
		return "error"
	}
	return "unknown"
}

// Signal is the agent's report after a start or resume round trip.
type Signal struct {
	Kind      SignalKind
	Challenge *Challenge    // SignalNeedsChallenge
	Result    *Result       // SignalDone
	Reason    FailureReason // SignalError
	Detail    string        // SignalError
}

// Done builds a completion signal.
func Done(result *Result) Signal {
	return Signal{Kind: SignalDone, Result: result}
}

// NeedsChallenge builds a visual-challenge signal.
func NeedsChallenge(ref, url string) Signal {
	return Signal{Kind: SignalNeedsChallenge, Challenge: &Challenge{Ref: ref, URL: url}}
}

// NeedsCode builds a one-time-code signal.
func NeedsCode() Signal {
	return Signal{Kind: SignalNeedsCode}
}

// InvalidCode builds a rejected-code signal.
func InvalidCode() Signal {
	return Signal{Kind: SignalInvalidCode}
}

// Errored builds a fatal error signal.
func Errored(reason FailureReason, detail string) Signal {
	return Signal{Kind: SignalError, Reason: reason, Detail: detail}
}

// Agent drives one provisioning attempt against the remote storefront.
// An agent holds live resources (typically a browser session) between the
// first Start call and Cancel; Cancel must be idempotent because the
// orchestrator releases agents on every terminal path, including success.
type Agent interface {
	Start(ctx context.Context, targetID string) Signal
	ResumeWithChallengeAck(ctx context.Context) Signal
	ResumeWithCode(ctx context.Context, code string) Signal
	Cancel(ctx context.Context) error
}

// AgentFactory produces a fresh agent for each session.
type AgentFactory func() Agent

// Screenshotter is an optional agent capability backing the live
// challenge view.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}
