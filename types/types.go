package types

// FieldKey names one of the four required intake fields.
type FieldKey string

const (
	FieldU1 FieldKey = "u1"
	FieldC1 FieldKey = "c1"
	FieldU2 FieldKey = "u2"
	FieldC2 FieldKey = "c2"
)

// FieldOrder is the fixed priority in which missing fields are requested.
var FieldOrder = [4]FieldKey{FieldU1, FieldC1, FieldU2, FieldC2}

var displayNames = map[FieldKey]string{
	FieldU1: "First university name",
	FieldC1: "First university course",
	FieldU2: "Second university name",
	FieldC2: "Second university course",
}

// Valid reports whether k is one of the four known field keys.
func (k FieldKey) Valid() bool {
	_, ok := displayNames[k]
	return ok
}

// DisplayName returns the human-readable name used in prompts.
func (k FieldKey) DisplayName() string {
	if name, ok := displayNames[k]; ok {
		return name
	}
	return string(k)
}

// IsCourse reports whether the key names a course slot rather than a
// university slot.
func (k FieldKey) IsCourse() bool {
	return k == FieldC1 || k == FieldC2
}

type Status string

const (
	StatusCollecting Status = "collecting"
	StatusComplete   Status = "complete"
)

// ContextKey scopes similarity-cache entries to the field being collected
// when the cached answer was produced. ContextComplete is the sentinel for
// sessions that already hold all four fields.
type ContextKey string

const ContextComplete ContextKey = "complete"

// ContextFor maps a pending field (or none) to its cache scoping key.
func ContextFor(next FieldKey, ok bool) ContextKey {
	if !ok {
		return ContextComplete
	}
	return ContextKey(next)
}
