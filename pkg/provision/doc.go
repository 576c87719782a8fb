// Package provision implements the provisioning session state machine and
// its challenge-resolution protocol: long-running storefront creation flows
// driven by an automation agent, interruptible by human-verification steps
// (a visual challenge and a one-time numeric code), exposed to callers as
// idempotent, pollable operations.
//
// Invariants:
// - At most one non-terminal session exists per target at any time.
// - Transitions within a session are strictly sequential; polls always see
//   a fully-applied state.
// - Every terminal path releases the agent exactly once, including success.
// - A rejected one-time code keeps the session open until the retry budget
//   is exhausted, then fails deterministically.
//
// Usage:
//
//	store := provision.NewStore()
//	orch := provision.New(store, factory, provision.Config{}, nil, nil, logger)
//	session, _ := orch.Provision(ctx, "shop-42")
//	_ = session
package provision
