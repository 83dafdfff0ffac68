// Package session owns the per-conversation state machine: it sequences
// cache lookup, extraction, generation and bookkeeping for each message
// and guards the four-field record's invariants while doing so.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/intakeagent/archive"
	"github.com/tbxark/intakeagent/dialogue"
	"github.com/tbxark/intakeagent/extract"
	"github.com/tbxark/intakeagent/fields"
	"github.com/tbxark/intakeagent/simcache"
	"github.com/tbxark/intakeagent/types"
)

const (
	// DefaultGenerateTimeout bounds a single generation attempt.
	DefaultGenerateTimeout = 30 * time.Second
	// DefaultHistoryWindow is how many chat messages the generator sees.
	DefaultHistoryWindow = 20

	apologyMessage = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."
)

// Config wires an Engine's collaborators. Extractor, Generator and Cache
// are required; Archiver is optional.
type Config struct {
	Extractor extract.Extractor
	Generator dialogue.Generator
	Cache     *simcache.Cache
	Archiver  archive.Archiver
	Prompts   *dialogue.PromptConfig

	Threshold       float64
	GenerateTimeout time.Duration
	HistoryWindow   int
}

func (c Config) withDefaults() Config {
	if c.Prompts == nil {
		c.Prompts = dialogue.DefaultPromptConfig()
	}
	if c.Threshold <= 0 {
		c.Threshold = fields.DefaultThreshold
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	return c
}

// Reply is the outward result of one processed message.
type Reply struct {
	SessionID       string       `json:"session_id"`
	AssistantText   string       `json:"assistant_text"`
	Fields          fields.Set   `json:"fields"`
	Status          types.Status `json:"status"`
	ServedFromCache bool         `json:"served_from_cache"`
}

// Completion is the progress snapshot exposed to callers.
type Completion struct {
	IsComplete     bool            `json:"is_complete"`
	CollectedCount int             `json:"collected_count"`
	TotalRequired  int             `json:"total_required"`
	NextField      *types.FieldKey `json:"next_field"`
}

// Engine drives one session. All message processing for a session is
// serialized by its mutex; different sessions run fully in parallel.
type Engine struct {
	id        string
	createdAt time.Time
	conf      Config
	trimmer   dialogue.KeepLastNTrimmer

	mu         sync.Mutex
	record     fields.Set
	history    []Turn
	chat       []*schema.Message
	lastActive time.Time
}

func newEngine(id string, conf Config) *Engine {
	now := time.Now().UTC()
	e := &Engine{
		id:         id,
		createdAt:  now,
		conf:       conf,
		trimmer:    dialogue.KeepLastNTrimmer{N: conf.HistoryWindow},
		lastActive: now,
	}
	// Seed the chat window with the greeting so the model sees how the
	// conversation opened, mirroring the opening message shown to users.
	e.chat = []*schema.Message{schema.AssistantMessage(conf.Prompts.Greeting, nil)}
	return e
}

func (e *Engine) ID() string           { return e.id }
func (e *Engine) CreatedAt() time.Time { return e.createdAt }

// Greeting is the opening assistant message for a new session.
func (e *Engine) Greeting() string { return e.conf.Prompts.Greeting }

// Fields returns a snapshot of the four-slot record.
func (e *Engine) Fields() fields.Set {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// Status returns the current session status.
func (e *Engine) Status() types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Status()
}

// Completion returns the progress snapshot.
func (e *Engine) Completion() Completion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return completionOf(e.record)
}

func completionOf(record fields.Set) Completion {
	c := Completion{
		IsComplete:     record.IsComplete(),
		CollectedCount: record.CollectedCount(),
		TotalRequired:  fields.TotalRequired,
	}
	if next, more := record.Next(); more {
		c.NextField = &next
	}
	return c
}

// History returns a copy of the turn log in insertion order.
func (e *Engine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}

// LastActive reports when the session last processed a message.
func (e *Engine) LastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive
}

// SearchSimilar exposes raw cache neighbors for the session's current
// collection state.
func (e *Engine) SearchSimilar(ctx context.Context, query string, limit int) ([]simcache.Result, error) {
	e.mu.Lock()
	key := e.record.Context()
	e.mu.Unlock()
	return e.conf.Cache.Search(ctx, key, query, limit)
}

// HandleMessage processes one user utterance:
//
//  1. compute the cache scoping key from the current record
//  2. cache lookup; a hit substitutes the reply text only
//  3. extract candidates (skipped once complete) and stage them on a copy
//  4. on cache miss, generate a reply against the staged record, with one
//     bounded retry
//  5. commit the staged record only on a served (non-degraded) turn
//  6. append the turn, upsert it into the cache, return the snapshot
//
// Failures never touch previously accepted fields: extraction failures
// re-prompt the user, generation failures return an apology turn that is
// flagged and excluded from the cache.
func (e *Engine) HandleMessage(ctx context.Context, utterance string) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = time.Now().UTC()

	contextKey := e.record.Context()
	collecting := contextKey != types.ContextComplete
	wasComplete := e.record.IsComplete()

	hit := e.conf.Cache.Lookup(ctx, contextKey, utterance)

	// Extraction is independent of the cache hit: a reused reply still
	// has to move the field record.
	staged := e.record
	extractionFailed := false
	if collecting {
		cands, err := e.conf.Extractor.Extract(ctx, utterance, e.record)
		if err != nil {
			extractionFailed = true
			slog.Warn("extraction rejected, re-prompting", "session", e.id, "err", err)
		} else if applied := staged.Apply(cands, e.conf.Threshold); len(applied) > 0 {
			slog.Debug("fields accepted", "session", e.id, "fields", applied)
		}
	}

	var assistantText string
	var errored bool
	switch {
	case extractionFailed:
		staged = e.record // no state advance on rejected extraction
		assistantText, errored = e.generateOrApologize(ctx, &dialogue.Request{
			Utterance:    utterance,
			Fields:       staged,
			Context:      contextKey,
			History:      e.chat,
			RephraseOnly: true,
		})
	case hit != nil:
		assistantText = hit.AssistantText
	default:
		assistantText, errored = e.generateOrApologize(ctx, &dialogue.Request{
			Utterance: utterance,
			Fields:    staged,
			Context:   contextKey,
			History:   e.chat,
		})
	}

	if !errored {
		e.record = staged
	}

	turn := Turn{
		UserText:         utterance,
		AssistantText:    assistantText,
		Timestamp:        e.nextTimestamp(),
		ServedFromCache:  hit != nil && !errored && !extractionFailed,
		ContextKey:       contextKey,
		NonAuthoritative: extractionFailed,
		Errored:          errored,
	}

	// Error and non-authoritative turns stay out of the cache; everything
	// served normally goes in, cache hits included.
	if !errored && !extractionFailed {
		vector, err := e.conf.Cache.Upsert(ctx, contextKey, utterance, assistantText)
		if err != nil {
			slog.Warn("cache upsert skipped", "session", e.id, "err", err)
		} else {
			turn.Embedding = vector
		}
	}

	e.history = append(e.history, turn)
	e.chat = e.trimmer.Trim(append(e.chat,
		schema.UserMessage(utterance),
		schema.AssistantMessage(assistantText, nil),
	))

	if !wasComplete && e.record.IsComplete() {
		e.archiveLocked(ctx)
	}

	return &Reply{
		SessionID:       e.id,
		AssistantText:   assistantText,
		Fields:          e.record,
		Status:          e.record.Status(),
		ServedFromCache: turn.ServedFromCache,
	}, nil
}

// generateOrApologize runs the generator with a per-attempt timeout and
// one retry; after that it degrades to the apology turn.
func (e *Engine) generateOrApologize(ctx context.Context, req *dialogue.Request) (string, bool) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		gctx, cancel := context.WithTimeout(ctx, e.conf.GenerateTimeout)
		text, err := e.conf.Generator.GenerateReply(gctx, req)
		cancel()
		if err == nil {
			return text, false
		}
		lastErr = err
		slog.Warn("reply generation failed", "session", e.id, "attempt", attempt, "err", err)
	}
	slog.Error("reply generation degraded", "session", e.id,
		"err", fmt.Errorf("%w: %v", ErrGenerationUnavailable, lastErr))
	return apologyMessage, true
}

// nextTimestamp keeps turn timestamps strictly increasing even when the
// clock does not move between turns.
func (e *Engine) nextTimestamp() time.Time {
	ts := time.Now().UTC()
	if n := len(e.history); n > 0 {
		if last := e.history[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}
	return ts
}

// archiveLocked persists the completed record. Best-effort: failures are
// logged and the turn still succeeds. Callers hold e.mu.
func (e *Engine) archiveLocked(ctx context.Context) {
	if e.conf.Archiver == nil {
		return
	}
	rec := archive.Record{
		SessionID:   e.id,
		CreatedAt:   e.createdAt,
		CompletedAt: time.Now().UTC(),
		Fields:      e.record,
	}
	if err := e.conf.Archiver.Save(ctx, rec); err != nil {
		slog.Warn("intake archive failed", "session", e.id, "err", err)
		return
	}
	slog.Info("intake archived", "session", e.id)
}
