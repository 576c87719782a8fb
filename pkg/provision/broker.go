package provision

// Transition is the protocol-visible outcome of one agent signal: the next
// session state plus the payload callers are allowed to see.
type Transition struct {
	State     State
	Challenge *Challenge
	Result    *Result
	Failure   *Failure
	// CodeRetry is set when a rejected code leaves the session open for
	// another attempt.
	CodeRetry bool
}

// Broker translates agent signals into session transitions. It is pure
// translation logic; the orchestrator applies the returned transition to the
// store.
type Broker struct {
	maxCodeAttempts int
}

// NewBroker creates a broker enforcing the given code retry budget.
func NewBroker(maxCodeAttempts int) *Broker {
	if maxCodeAttempts <= 0 {
		maxCodeAttempts = DefaultMaxCodeAttempts
	}
	return &Broker{maxCodeAttempts: maxCodeAttempts}
}

// MaxCodeAttempts returns the configured retry budget.
func (b *Broker) MaxCodeAttempts() int {
	return b.maxCodeAttempts
}

// Translate maps an agent signal to the resulting transition. codeAttempts
// is the session's attempt count with the current submission already
// included; once it reaches the budget a rejected code becomes a
// deterministic failure instead of another retry.
func (b *Broker) Translate(sig Signal, codeAttempts int) Transition {
	switch sig.Kind {
	case SignalDone:
		return Transition{State: StateSucceeded, Result: sig.Result}

	case SignalNeedsChallenge:
		challenge := sig.Challenge
		if challenge == nil {
			challenge = &Challenge{}
		}
		return Transition{State: StateAwaitingChallenge, Challenge: challenge}

	case SignalNeedsCode:
		return Transition{State: StateAwaitingCode}

	case SignalInvalidCode:
		if codeAttempts >= b.maxCodeAttempts {
			return Transition{
				State:   StateFailed,
				Failure: &Failure{Reason: ReasonMaxRetriesExceeded},
			}
		}
		return Transition{State: StateAwaitingCode, CodeRetry: true}

	case SignalError:
		reason := sig.Reason
		if reason == "" {
			reason = ReasonAgentFailure
		}
		return Transition{
			State:   StateFailed,
			Failure: &Failure{Reason: reason, Detail: sig.Detail},
		}
	}

	// Unknown signal kinds are treated as fatal agent failures.
	return Transition{
		State:   StateFailed,
		Failure: &Failure{Reason: ReasonAgentFailure, Detail: "unknown agent signal"},
	}
}
