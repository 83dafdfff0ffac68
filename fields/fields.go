// Package fields holds the fixed-shape record of the four intake fields
// and the pure completion logic over it. Nothing here talks to a model or
// a store; the Set type is the single source of truth the session engine
// mutates.
package fields

import (
	"encoding/json"
	"strings"

	"github.com/tbxark/intakeagent/types"
)

// DefaultThreshold is the acceptance confidence below which an extraction
// candidate is treated as "not extracted".
const DefaultThreshold = 0.7

// TotalRequired is the number of fields a session must collect.
const TotalRequired = 4

// Slot is one field slot: unset while Value is empty, otherwise the
// accepted value plus the confidence that set it.
type Slot struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (s Slot) IsSet() bool { return s.Value != "" }

// MarshalJSON renders an unset slot as null so API snapshots match the
// "not collected yet" shape callers expect.
func (s Slot) MarshalJSON() ([]byte, error) {
	if !s.IsSet() {
		return []byte("null"), nil
	}
	type alias Slot
	return json.Marshal(alias(s))
}

// Candidate is one proposed value for a field as returned by the
// extractor, before acceptance gating.
type Candidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Set is the four-slot intake record. The zero value is an empty record.
type Set struct {
	U1 Slot `json:"u1"`
	C1 Slot `json:"c1"`
	U2 Slot `json:"u2"`
	C2 Slot `json:"c2"`
}

func (s *Set) slot(k types.FieldKey) *Slot {
	switch k {
	case types.FieldU1:
		return &s.U1
	case types.FieldC1:
		return &s.C1
	case types.FieldU2:
		return &s.U2
	case types.FieldC2:
		return &s.C2
	}
	return nil
}

// Get returns the slot for k. ok is false for unknown keys.
func (s Set) Get(k types.FieldKey) (Slot, bool) {
	p := s.slot(k)
	if p == nil {
		return Slot{}, false
	}
	return *p, true
}

// Next returns the first unset field in priority order u1, c1, u2, c2.
// ok is false once all four are set.
func (s Set) Next() (types.FieldKey, bool) {
	for _, k := range types.FieldOrder {
		if p := s.slot(k); !p.IsSet() {
			return k, true
		}
	}
	return "", false
}

func (s Set) IsComplete() bool {
	_, more := s.Next()
	return !more
}

func (s Set) CollectedCount() int {
	n := 0
	for _, k := range types.FieldOrder {
		if p := s.slot(k); p.IsSet() {
			n++
		}
	}
	return n
}

// Status derives the session status: complete iff all four slots are set.
func (s Set) Status() types.Status {
	if s.IsComplete() {
		return types.StatusComplete
	}
	return types.StatusCollecting
}

// Context returns the cache scoping key for the current collection state.
func (s Set) Context() types.ContextKey {
	next, more := s.Next()
	return types.ContextFor(next, more)
}

// Apply merges extraction candidates into the record and returns the keys
// that were actually set, in priority order. Gating rules:
//   - unknown keys and empty values are ignored
//   - confidence below threshold is ignored
//   - a slot, once set, is frozen: it was accepted at or above the
//     threshold and never regresses or changes afterwards
//
// threshold <= 0 falls back to DefaultThreshold.
func (s *Set) Apply(cands map[types.FieldKey]Candidate, threshold float64) []types.FieldKey {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var applied []types.FieldKey
	for _, k := range types.FieldOrder {
		cand, ok := cands[k]
		if !ok {
			continue
		}
		value := strings.TrimSpace(cand.Value)
		if value == "" || cand.Confidence < threshold {
			continue
		}
		slot := s.slot(k)
		if slot.IsSet() {
			continue
		}
		*slot = Slot{Value: value, Confidence: cand.Confidence}
		applied = append(applied, k)
	}
	return applied
}
