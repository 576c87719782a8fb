package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/storeforge/storeforge/internal/metrics"
)

const (
	DefaultSessionTTL      = 5 * time.Minute
	DefaultMaxCodeAttempts = 3
	DefaultAgentTimeout    = 90 * time.Second
	DefaultGracePeriod     = 10 * time.Minute
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// SessionTTL is how long a session may sit idle before it expires.
	SessionTTL time.Duration
	// MaxCodeAttempts bounds one-time-code retries per session.
	MaxCodeAttempts int
	// AgentTimeout bounds each agent round trip; a timeout is treated as a
	// transport failure and ends the session.
	AgentTimeout time.Duration
	// GracePeriod is how long terminal sessions stay pollable before the
	// reaper archives and removes them.
	GracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.MaxCodeAttempts <= 0 {
		c.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = DefaultAgentTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Recorder archives finished sessions. The orchestrator calls it exactly
// once per session, when the session reaches a terminal state.
type Recorder interface {
	Record(session Session) error
}

// Orchestrator owns the lifecycle of provisioning sessions: it starts
// agents, applies transitions from agent signals and caller resolutions,
// enforces the one-session-per-target invariant through the store, and
// guarantees agent teardown on every terminal path.
type Orchestrator struct {
	store    *Store
	broker   *Broker
	factory  AgentFactory
	cfg      Config
	recorder Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	running map[string]*runningAgent
}

// runningAgent pairs a session's agent with its release guard. The
// sync.Once is what makes "exactly one cancel per session" hold even when
// cancellation races an in-flight resume or the TTL reaper.
type runningAgent struct {
	agent   Agent
	release sync.Once
}

// New creates an orchestrator. recorder and m may be nil.
func New(store *Store, factory AgentFactory, cfg Config, recorder Recorder, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:    store,
		broker:   NewBroker(cfg.MaxCodeAttempts),
		factory:  factory,
		cfg:      cfg,
		recorder: recorder,
		metrics:  m,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		running:  make(map[string]*runningAgent),
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Provision creates a session for targetID and drives the agent through the
// first round trip. It fails fast with ErrConflict while another attempt
// for the same target is still active.
func (o *Orchestrator) Provision(ctx context.Context, targetID string) (Session, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return Session{}, fmt.Errorf("target id is required")
	}

	session, err := o.store.Create(targetID)
	if err != nil {
		return Session{}, err
	}

	agent := o.factory()
	o.mu.Lock()
	o.running[session.ID] = &runningAgent{agent: agent}
	o.mu.Unlock()

	o.metrics.SessionStarted()
	o.logger.Info().
		Str("session_id", session.ID).
		Str("target_id", targetID).
		Msg("Provisioning session started")

	sig := o.callAgent(ctx, "start", func(ctx context.Context) Signal {
		return agent.Start(ctx, targetID)
	})

	return o.applySignal(session.ID, sig)
}

// AckChallenge resumes a session after the caller solved the visual
// challenge out of band.
func (o *Orchestrator) AckChallenge(ctx context.Context, sessionID string) (Session, error) {
	session, err := o.store.Update(sessionID, func(s *Session) error {
		if s.State != StateAwaitingChallenge {
			return ErrInvalidTransition
		}
		s.State = StateResuming
		s.Challenge = nil
		return nil
	})
	if err != nil {
		return session, err
	}

	agent, err := o.agentFor(sessionID)
	if err != nil {
		return o.failTransport(sessionID, err)
	}

	o.logger.Info().Str("session_id", sessionID).Msg("Challenge acknowledged, resuming agent")
	sig := o.callAgent(ctx, "resume_challenge", agent.ResumeWithChallengeAck)

	return o.applySignal(sessionID, sig)
}

// SubmitCode resumes a session with a one-time code. A rejected code keeps
// the session in StateAwaitingCode and returns ErrInvalidCode until the
// retry budget is exhausted, at which point the session fails with
// ErrMaxRetriesExceeded.
func (o *Orchestrator) SubmitCode(ctx context.Context, sessionID, code string) (Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		session, err := o.store.Get(sessionID)
		if err != nil {
			return session, err
		}
		return session, ErrInvalidCode
	}

	session, err := o.store.Update(sessionID, func(s *Session) error {
		if s.State != StateAwaitingCode {
			return ErrInvalidTransition
		}
		s.State = StateResuming
		s.CodeAttempts++
		return nil
	})
	if err != nil {
		return session, err
	}

	agent, err := o.agentFor(sessionID)
	if err != nil {
		return o.failTransport(sessionID, err)
	}

	o.logger.Info().
		Str("session_id", sessionID).
		Int("attempt", session.CodeAttempts).
		Msg("One-time code submitted, resuming agent")
	sig := o.callAgent(ctx, "resume_code", func(ctx context.Context) Signal {
		return agent.ResumeWithCode(ctx, code)
	})

	session, err = o.applySignal(sessionID, sig)
	if err != nil {
		return session, err
	}

	if sig.Kind == SignalInvalidCode {
		o.metrics.CodeRejected()
		if session.State == StateFailed {
			return session, ErrMaxRetriesExceeded
		}
		return session, ErrInvalidCode
	}
	return session, nil
}

// Cancel moves a session to StateCancelled and releases its agent. It is
// idempotent: cancelling an unknown or already-terminal session is a no-op.
// The caller does not wait for the agent teardown; that completes in the
// background so resources are reclaimed even if the caller stops polling.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	session, err := o.store.Update(sessionID, func(s *Session) error {
		if s.State.Terminal() {
			return ErrInvalidTransition
		}
		s.State = StateCancelled
		s.Challenge = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}

	o.logger.Info().Str("session_id", sessionID).Msg("Session cancelled")
	go o.teardown(session)
	return nil
}

// Get returns a snapshot of the session for polling callers.
func (o *Orchestrator) Get(sessionID string) (Session, error) {
	return o.store.Get(sessionID)
}

// ActiveSessions counts sessions that have not reached a terminal state.
func (o *Orchestrator) ActiveSessions() int {
	return o.countActive()
}

// ChallengeScreenshot captures the current challenge page for the live
// view. Only valid while the session awaits a challenge and the agent
// supports screenshots.
func (o *Orchestrator) ChallengeScreenshot(ctx context.Context, sessionID string) ([]byte, error) {
	session, err := o.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != StateAwaitingChallenge {
		return nil, ErrInvalidTransition
	}

	agent, err := o.agentFor(sessionID)
	if err != nil {
		return nil, err
	}
	shooter, ok := agent.(Screenshotter)
	if !ok {
		return nil, ErrNoLiveView
	}
	return shooter.Screenshot(ctx)
}

// Sweep applies TTL expiry to idle sessions and reclaims terminal sessions
// past the grace period. It is invoked on a schedule by the daemon.
func (o *Orchestrator) Sweep() {
	now := time.Now()

	for _, session := range o.store.List() {
		if session.State.Terminal() {
			if now.Sub(session.LastActivityAt) >= o.cfg.GracePeriod {
				o.purge(session)
			}
			continue
		}

		if now.Sub(session.LastActivityAt) < o.cfg.SessionTTL {
			continue
		}

		expired, err := o.store.Update(session.ID, func(s *Session) error {
			if s.State.Terminal() {
				return ErrInvalidTransition
			}
			s.State = StateFailed
			s.Challenge = nil
			s.Failure = &Failure{Reason: ReasonExpired}
			return nil
		})
		if err != nil {
			continue
		}

		o.logger.Warn().
			Str("session_id", session.ID).
			Str("target_id", session.TargetID).
			Msg("Session expired")
		o.teardown(expired)
	}

	o.metrics.SetActiveSessions(o.countActive())
}

// Shutdown releases every live agent. Used on daemon stop so browser
// resources never outlive the process.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, session := range o.store.List() {
		if !session.State.Terminal() {
			_ = o.Cancel(ctx, session.ID)
		}
	}

	o.mu.Lock()
	handles := make([]*runningAgent, 0, len(o.running))
	for _, handle := range o.running {
		handles = append(handles, handle)
	}
	o.mu.Unlock()

	for _, handle := range handles {
		o.releaseAgent(handle)
	}
}

// callAgent runs one agent round trip under the configured timeout. A
// timeout or cancellation is reported as a transport failure, which is
// always fatal for the session.
func (o *Orchestrator) callAgent(ctx context.Context, op string, call func(context.Context) Signal) Signal {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan Signal, 1)
	go func() {
		done <- call(ctx)
	}()

	var sig Signal
	select {
	case sig = <-done:
	case <-ctx.Done():
		sig = Errored(ReasonTransportFailure, fmt.Sprintf("agent %s: %v", op, ctx.Err()))
	}

	o.metrics.ObserveAgentRoundTrip(op, time.Since(start))
	return sig
}

// applySignal translates an agent signal through the broker and commits the
// transition. A signal arriving after the session already reached a
// terminal state (a resume racing a cancel) is discarded.
func (o *Orchestrator) applySignal(sessionID string, sig Signal) (Session, error) {
	session, err := o.store.Update(sessionID, func(s *Session) error {
		if s.State.Terminal() {
			return ErrInvalidTransition
		}
		tr := o.broker.Translate(sig, s.CodeAttempts)
		s.State = tr.State
		s.Challenge = tr.Challenge
		s.Result = tr.Result
		s.Failure = tr.Failure
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// The session ended while the agent call was in flight. The
			// terminal path already released the agent; report the stored
			// state as-is.
			return o.store.Get(sessionID)
		}
		return session, err
	}

	switch session.State {
	case StateAwaitingChallenge:
		o.metrics.ChallengeIssued("challenge")
	case StateAwaitingCode:
		if sig.Kind == SignalNeedsCode {
			o.metrics.ChallengeIssued("code")
		}
	}

	if session.State.Terminal() {
		o.teardown(session)
	}
	return session, nil
}

// failTransport force-fails a session whose agent handle is gone.
func (o *Orchestrator) failTransport(sessionID string, cause error) (Session, error) {
	session, err := o.store.Update(sessionID, func(s *Session) error {
		if s.State.Terminal() {
			return ErrInvalidTransition
		}
		s.State = StateFailed
		s.Challenge = nil
		s.Failure = &Failure{Reason: ReasonTransportFailure, Detail: cause.Error()}
		return nil
	})
	if err != nil {
		return session, err
	}
	o.teardown(session)
	return session, nil
}

// teardown releases the session's agent and records the terminal session.
// Safe to call multiple times; the release itself happens once.
func (o *Orchestrator) teardown(session Session) {
	o.mu.Lock()
	handle := o.running[session.ID]
	o.mu.Unlock()

	if handle != nil {
		o.releaseAgent(handle)
	}

	o.metrics.SessionFinished(string(session.State), failureReason(session))
	o.metrics.SetActiveSessions(o.countActive())

	if o.recorder != nil {
		if err := o.recorder.Record(session); err != nil {
			o.logger.Error().
				Err(err).
				Str("session_id", session.ID).
				Msg("Failed to record finished session")
		}
	}

	o.logger.Info().
		Str("session_id", session.ID).
		Str("target_id", session.TargetID).
		Str("state", string(session.State)).
		Msg("Session finished")
}

func (o *Orchestrator) releaseAgent(handle *runningAgent) {
	handle.release.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.AgentTimeout)
		defer cancel()
		if err := handle.agent.Cancel(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Agent cancel reported error")
		}
	})
}

// purge archives nothing further (teardown already recorded the session)
// and removes the session record and agent handle.
func (o *Orchestrator) purge(session Session) {
	o.store.Delete(session.ID)
	o.mu.Lock()
	delete(o.running, session.ID)
	o.mu.Unlock()

	o.logger.Debug().
		Str("session_id", session.ID).
		Msg("Terminal session reclaimed")
}

func (o *Orchestrator) agentFor(sessionID string) (Agent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	handle, exists := o.running[sessionID]
	if !exists {
		return nil, fmt.Errorf("no live agent for session %s", sessionID)
	}
	return handle.agent, nil
}

func (o *Orchestrator) countActive() int {
	count := 0
	for _, session := range o.store.List() {
		if !session.State.Terminal() {
			count++
		}
	}
	return count
}

func failureReason(session Session) string {
	if session.Failure == nil {
		return ""
	}
	return string(session.Failure.Reason)
}
