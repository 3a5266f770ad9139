package sync

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowsync/pkg/clock"
	"flowsync/pkg/observability"
)

// EchoSuppressor is a short-lived registry of "this exact change was
// initiated locally" signatures. It distinguishes genuine remote changes
// from the remote system's echo of the client's own action.
//
// Entries are inserted right before a message is emitted whose echo must be
// ignored, and are removed when matched or after the suppression TTL,
// whichever comes first. The TTL bounds memory and tolerates lost echoes.
type EchoSuppressor struct {
	mu      sync.Mutex
	pending map[string]clock.Timer
	ttl     time.Duration
	clk     clock.Clock
	logger  *zap.Logger
}

// NewEchoSuppressor creates a suppressor with the given suppression window.
func NewEchoSuppressor(ttl time.Duration, clk clock.Clock, logger *zap.Logger) *EchoSuppressor {
	return &EchoSuppressor{
		pending: make(map[string]clock.Timer),
		ttl:     ttl,
		clk:     clk,
		logger:  logger,
	}
}

// signature builds the suppression key: event type plus the sorted,
// comma-joined id list. Sorting makes bulk signatures match regardless of
// the id order the echo happens to carry.
func signature(eventType string, ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return eventType + "|" + strings.Join(sorted, ",")
}

// MarkPending records that a change with this signature was initiated
// locally. Call it immediately before the corresponding emission.
func (s *EchoSuppressor) MarkPending(eventType string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	sig := signature(eventType, ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.pending[sig]; exists {
		old.Stop()
	}
	s.pending[sig] = s.clk.AfterFunc(s.ttl, func() {
		s.expire(sig)
	})
}

// IsPending reports whether an incoming message matches a locally initiated
// change. A match consumes the entry, so a redelivered echo is treated as a
// genuine remote event once the first delivery has been absorbed.
func (s *EchoSuppressor) IsPending(eventType string, ids ...string) bool {
	if len(ids) == 0 {
		return false
	}
	sig := signature(eventType, ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.pending[sig]
	if !exists {
		return false
	}
	t.Stop()
	delete(s.pending, sig)
	observability.EchoesSuppressed.Inc()
	return true
}

// SetTTL changes the suppression window for entries inserted from now on.
func (s *EchoSuppressor) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Stop discards all pending entries. Used at session teardown; nothing is
// flushed.
func (s *EchoSuppressor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sig, t := range s.pending {
		t.Stop()
		delete(s.pending, sig)
	}
}

func (s *EchoSuppressor) expire(sig string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[sig]; exists {
		delete(s.pending, sig)
		s.logger.Debug("echo suppression entry expired", zap.String("signature", sig))
	}
}
