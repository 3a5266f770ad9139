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

// DedupGuard prevents a bulk-deletion acknowledgement from being applied to
// the store more than once within a short window.
//
// This is deliberately separate from the EchoSuppressor: a bulk-delete
// acknowledgement can legitimately be the authority's second push of the
// same outcome (a transport-layer retry) with no local origin at all, so it
// would never have a suppression entry to match.
type DedupGuard struct {
	mu     sync.Mutex
	seen   map[string]clock.Timer
	ttl    time.Duration
	clk    clock.Clock
	logger *zap.Logger
}

// NewDedupGuard creates a guard with the given dedup window.
func NewDedupGuard(ttl time.Duration, clk clock.Clock, logger *zap.Logger) *DedupGuard {
	return &DedupGuard{
		seen:   make(map[string]clock.Timer),
		ttl:    ttl,
		clk:    clk,
		logger: logger,
	}
}

// SetTTL changes the dedup window for signatures recorded from now on.
func (g *DedupGuard) SetTTL(ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ttl = ttl
}

// ShouldApply reports whether an acknowledgement for this id set is being
// seen for the first time within the window. A repeat within the window
// returns false and must be a no-op for the caller.
func (g *DedupGuard) ShouldApply(ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	sig := strings.Join(sorted, ",")

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.seen[sig]; dup {
		observability.DuplicatesDropped.Inc()
		g.logger.Debug("duplicate bulk-delete delivery dropped", zap.String("signature", sig))
		return false
	}
	g.seen[sig] = g.clk.AfterFunc(g.ttl, func() {
		g.forget(sig)
	})
	return true
}

// Stop discards all recorded signatures. Used at session teardown.
func (g *DedupGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for sig, t := range g.seen {
		t.Stop()
		delete(g.seen, sig)
	}
}

func (g *DedupGuard) forget(sig string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, sig)
}
