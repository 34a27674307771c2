package remote

import "encoding/json"

// Collection names in the remote store. The remote holds exactly two
// top-level collections, each a mapping from record id to the full
// record; consumers reconstruct ordering from the order/date fields.
const (
	CollectionChallenges = "challenges"
	CollectionSessions   = "sessions"
)

// KnownCollection reports whether name is one of the two collections.
func KnownCollection(name string) bool {
	return name == CollectionChallenges || name == CollectionSessions
}

// Event is one message on the subscription feed: the full current state
// of a collection, sent on connect and again on every change. The feed
// carries whole collections, not deltas, so a listener is always
// consistent after a single message.
type Event struct {
	Collection string                     `json:"collection"`
	Records    map[string]json.RawMessage `json:"records"`
}
