// Package ratelimit implements a sliding-window rate limiter keyed by an
// arbitrary string. Counting is non-mutating except for incidental
// pruning of expired entries; callers decide admission with Check and
// only record an admitted action with Record.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckResult is the outcome of a sliding-window check.
type CheckResult struct {
	Allowed bool
	Current int
	Limit   int
}

// sink is the storage backend for (key, timestamp_ms) tuples. Both the
// durable SQLite sink and the in-memory fallback implement it.
type sink interface {
	insert(key string, timestampMs int64) error
	countSince(key string, sinceMs int64) (int, error)
	pruneBefore(key string, beforeMs int64) error
	pruneAllBefore(beforeMs int64) (int, error)
	close() error
}

// Limiter is a sliding-window rate limiter. It prefers a durable backing
// store but transparently falls back to an in-memory map if the durable
// sink can't be initialized — the fallback is visible via Durable() but
// never changes the public API.
type Limiter struct {
	mu      sync.Mutex
	sink    sink
	durable bool
	log     *zap.Logger
}

// Option configures a Limiter at construction.
type Option func(*Limiter)

// WithLogger attaches a structured logger. A nil logger is replaced with
// a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// New constructs a Limiter backed by a SQLite database at path. If the
// database can't be opened, it falls back to an in-memory sink and logs
// the degradation rather than failing construction — per the
// SinkTimeout/StorageUnavailable recovery contract, the rate limiter
// never becomes fatal.
func New(path string, opts ...Option) *Limiter {
	l := &Limiter{log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}

	s, err := openSQLiteSink(path)
	if err != nil {
		l.log.Warn("rate limiter durable sink unavailable, falling back to memory", zap.Error(err))
		l.sink = newMemorySink()
		l.durable = false
		return l
	}
	l.sink = s
	l.durable = true
	return l
}

// NewInMemory constructs a Limiter with only the in-memory fallback —
// useful for tests and for embedders who don't want a SQLite file.
func NewInMemory(opts ...Option) *Limiter {
	l := &Limiter{log: zap.NewNop(), sink: newMemorySink(), durable: false}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Durable reports whether the limiter is backed by the durable sink
// rather than the in-memory fallback.
func (l *Limiter) Durable() bool {
	return l.durable
}

// Close releases the underlying storage.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.close()
}

// Check reports whether one more event at key would be admitted under a
// sliding window of windowMs milliseconds allowing at most maxCount
// events. It lazily prunes entries for key older than the window before
// counting — Check never inserts a new entry itself.
func (l *Limiter) Check(key string, maxCount int, windowMs int64) (CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := nowMs()
	cutoff := now - windowMs

	if err := l.sink.pruneBefore(key, cutoff+1); err != nil {
		l.log.Warn("rate limiter prune failed", zap.String("key", key), zap.Error(err))
	}

	count, err := l.sink.countSince(key, cutoff+1)
	if err != nil {
		return CheckResult{}, err
	}

	return CheckResult{
		Allowed: count < maxCount,
		Current: count,
		Limit:   maxCount,
	}, nil
}

// Record unconditionally appends one event for key at the current time.
// It does not enforce anything; the caller calls Check first and Record
// only once the action has been admitted.
func (l *Limiter) Record(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.insert(key, nowMs())
}

// Prune removes every entry across every key older than windowMs and
// returns the number of rows removed. Call it periodically as a
// housekeeping task, or rely on Check's per-key lazy pruning — either
// cadence keeps the store bounded.
func (l *Limiter) Prune(windowMs int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sink.pruneAllBefore(nowMs() - windowMs)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
