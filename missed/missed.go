// Package missed records the concepts the Oracle failed to guess so later
// games can be told about them.
package missed

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/twentyq/storage"
)

// Collection is the storage namespace holding missed-answer records.
const Collection = "missed"

// DefaultLimit caps how many entries List returns when no limit is given.
const DefaultLimit = 50

// Record is one game the Oracle lost.
type Record struct {
	SessionID  string    `json:"session_id"`
	Answer     string    `json:"answer"`
	Questions  int       `json:"questions"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder writes and lists missed answers. Records are keyed by session id,
// so recording the same session twice keeps the first record.
type Recorder struct {
	store     storage.Storage
	log       *slog.Logger
	now       func() time.Time
	retention time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the Recorder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRetention expires records ttl after they are written. Zero keeps them
// forever.
func WithRetention(ttl time.Duration) Option {
	return func(r *Recorder) {
		if ttl > 0 {
			r.retention = ttl
		}
	}
}

// NewRecorder returns a Recorder persisting into store.
func NewRecorder(store storage.Storage, opts ...Option) *Recorder {
	r := &Recorder{store: store, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores answer as missed by sessionID. It reports whether a new
// record was written.
func (r *Recorder) Record(ctx context.Context, sessionID, answer string, questions int) (bool, error) {
	answer = strings.TrimSpace(answer)
	if sessionID == "" || answer == "" {
		return false, errors.New("missed: session id and answer are required")
	}

	existing, err := r.store.Get(ctx, sessionID, storage.WithCollection(Collection))
	if err != nil {
		return false, fmt.Errorf("missed: lookup %s: %w", sessionID, err)
	}
	if existing != nil {
		return false, nil
	}

	raw, err := json.Marshal(Record{
		SessionID:  sessionID,
		Answer:     answer,
		Questions:  questions,
		RecordedAt: r.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("missed: encode: %w", err)
	}
	opts := []storage.Option{storage.WithCollection(Collection)}
	if r.retention > 0 {
		opts = append(opts, storage.WithTTL(r.retention))
	}
	if err := r.store.Set(ctx, sessionID, raw, opts...); err != nil {
		return false, fmt.Errorf("missed: store %s: %w", sessionID, err)
	}
	return true, nil
}

// List returns up to limit records, most recent first. Undecodable records
// are skipped and logged.
func (r *Recorder) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	keys, err := r.store.Keys(ctx, storage.WithCollection(Collection))
	if err != nil {
		return nil, fmt.Errorf("missed: list: %w", err)
	}

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		item, err := r.store.Get(ctx, k, storage.WithCollection(Collection))
		if err != nil {
			return nil, fmt.Errorf("missed: get %s: %w", k, err)
		}
		if item == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(item.Data, &rec); err != nil {
			r.log.WarnContext(ctx, "missed.record.decode_failed", slog.String("key", k), slog.String("err", err.Error()))
			continue
		}
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b Record) int {
		if c := b.RecordedAt.Compare(a.RecordedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Answers is List reduced to distinct answers, most recent first.
func (r *Recorder) Answers(ctx context.Context, limit int) ([]string, error) {
	records, err := r.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := make(map[string]bool, len(records))
	var out []string
	for _, rec := range records {
		k := strings.ToLower(rec.Answer)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rec.Answer)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
