package session

import (
	"time"

	"github.com/tbxark/intakeagent/types"
)

// Turn is one immutable user/assistant exchange. History is append-only
// and timestamps strictly increase within a session.
type Turn struct {
	UserText        string    `json:"user_text"`
	AssistantText   string    `json:"assistant_text"`
	Timestamp       time.Time `json:"timestamp"`
	ServedFromCache bool      `json:"served_from_cache"`

	// ContextKey is the collection state the turn was served under.
	ContextKey types.ContextKey `json:"context_key"`

	// Embedding is the vector of (context key, user text) at creation
	// time. Nil on turns that were not inserted into the cache.
	Embedding []float64 `json:"embedding,omitempty"`

	// NonAuthoritative marks turns whose extraction output was rejected:
	// the turn is logged but moved no state.
	NonAuthoritative bool `json:"non_authoritative,omitempty"`

	// Errored marks degraded turns served after generation failure.
	Errored bool `json:"errored,omitempty"`
}
