// Package remote implements the optional sync adapter against a hosted
// real-time store speaking the Stepline sync protocol (see Event and the
// syncserver package for the hosted side).
package remote

import (
	"context"

	"github.com/stepline/stepline/internal/types"
)

// Unsubscribe detaches a previously registered listener. Calling it more
// than once is harmless.
type Unsubscribe func()

// Adapter reconciles local data with the remote real-time store.
//
// When the adapter is not configured every operation degrades to a local
// no-op: Initialize returns the local store's data unchanged, writes
// succeed without network traffic, and subscriptions return inert
// unsubscribe handles. The application must stay fully usable with the
// remote absent or broken.
//
// There is no conflict resolution: the remote's last-written value wins
// for all readers. Two clients writing concurrently race, and the later
// write silently overwrites the earlier one.
type Adapter interface {
	// IsConfigured reports whether all connection parameters (endpoint
	// URL, project id, access key) are present and non-placeholder.
	IsConfigured() bool

	// Initialize reconciles local and remote state at connect time.
	//
	// If the remote holds at least one challenge it is authoritative:
	// its data is persisted to the local store and returned. Otherwise
	// the local store's data is pushed to the remote wholesale and
	// returned unchanged. Any failure falls back to the local store's
	// data; the returned error then records why the remote was skipped.
	//
	// Challenges come back sorted by order ascending and sessions by
	// date descending; downstream code need not re-sort.
	Initialize(ctx context.Context) (types.AppData, error)

	// SubscribeChallenges registers a continuous listener invoked with
	// the full challenge collection every time the remote changes.
	SubscribeChallenges(cb func([]types.Challenge)) Unsubscribe

	// SubscribeSessions registers a continuous listener invoked with
	// the full session collection every time the remote changes.
	SubscribeSessions(cb func([]types.Session)) Unsubscribe

	// SaveChallenges overwrites the remote challenge collection
	// wholesale. The returned error is the final outcome after bounded
	// retries; callers surface it as a status flag rather than blocking.
	SaveChallenges(ctx context.Context, challenges []types.Challenge) error

	// SaveChallenge writes a single challenge record.
	SaveChallenge(ctx context.Context, challenge types.Challenge) error

	// DeleteChallenge removes a single challenge record.
	DeleteChallenge(ctx context.Context, id string) error

	// SaveSession writes a single completed-run record.
	SaveSession(ctx context.Context, session types.Session) error

	// SaveSessions overwrites the remote session collection wholesale.
	// Used when the whole dataset is replaced (initial seed, import).
	SaveSessions(ctx context.Context, sessions []types.Session) error

	// Cleanup detaches all active subscriptions and closes the feed.
	// Safe to call multiple times; requests already in flight are not
	// cancelled.
	Cleanup()
}
