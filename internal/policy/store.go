package policy

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/ratelimit"
)

// Store holds a hot-reloadable Engine. A config-file watcher calls
// Reload on change; Evaluate callers always see either the previous
// fully-built Engine or the new one, never a half-built one.
type Store struct {
	current atomic.Pointer[Engine]

	mu      sync.Mutex
	path    string
	limiter *ratelimit.Limiter
	log     *zap.Logger
	ledger  *WitnessLedger
}

// NewStore loads the policy bundle at path and returns a Store wrapping
// its Engine. Pass a non-nil ledger to witness every load and reload.
func NewStore(path string, limiter *ratelimit.Limiter, ledger *WitnessLedger, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{path: path, limiter: limiter, log: log, ledger: ledger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Engine returns the currently active Engine. Safe to call concurrently
// with Reload.
func (s *Store) Engine() *Engine {
	return s.current.Load()
}

// Reload re-reads the policy bundle from disk, builds a fresh Engine,
// and atomically swaps it in. On any error the previous Engine remains
// active — a malformed reload never takes down a running session.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := NewFromFile(s.path, s.limiter, s.log)
	if err != nil {
		s.log.Error("policy reload failed, keeping previous bundle", zap.String("path", s.path), zap.Error(err))
		return err
	}

	s.current.Store(e)
	if s.ledger != nil {
		if werr := s.ledger.WitnessEngine(e); werr != nil {
			s.log.Warn("failed to witness policy bundle", zap.Error(werr))
		}
	}
	s.log.Info("policy bundle loaded", zap.String("path", s.path), zap.String("entityId", e.EntityID()))
	return nil
}
