package sync

import (
	"sync"

	"go.uber.org/zap"

	"flowsync/domain/core/entities"
	"flowsync/domain/core/valueobjects"
	pkgerrors "flowsync/pkg/errors"
)

// PastePlanEntry is one staged node creation, already translated to its
// absolute target position. It intentionally carries no id: the remote
// authority assigns the new one.
type PastePlanEntry struct {
	Type     entities.NodeType
	Position valueobjects.Position
	Data     entities.NodeData
}

// ConnectionSpec is one staged connection with endpoints already remapped
// from old (pre-copy) ids to new (server-assigned) ids.
type ConnectionSpec struct {
	Source       string
	SourceHandle string
	Target       string
	TargetHandle string
}

type stagedNode struct {
	originalID string
	nodeType   entities.NodeType
	data       entities.NodeData
	target     valueobjects.Position
	matched    bool
}

// Clipboard stages a multi-node copy or cut and coordinates the asynchronous
// reconciliation of the resulting creation acknowledgements, which arrive
// independently and in any order.
//
// At most one paste session is active at a time. The session is created by
// CommitAt, mutated by every matching acknowledgement, and destroyed by
// Complete once all staged work has been issued.
type Clipboard struct {
	mu        sync.Mutex
	tolerance float64
	logger    *zap.Logger

	// staged selection, survives across pastes until the next copy/cut
	capturedNodes      []*entities.Node
	capturedConns      []*entities.Connection
	includeConnections bool
	isCut              bool

	// active session
	active     bool
	generation int
	entries    []*stagedNode
	conns      []*entities.Connection
	idMap      map[string]string
	expected   int
	created    int
}

// NewClipboard creates a coordinator with the given position-match tolerance.
func NewClipboard(tolerance float64, logger *zap.Logger) *Clipboard {
	return &Clipboard{tolerance: tolerance, logger: logger}
}

// SetTolerance changes the position-match tolerance for sessions opened
// from now on.
func (c *Clipboard) SetTolerance(tolerance float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tolerance = tolerance
}

// Stage captures a selection for a later paste. Nodes are cloned; conns must
// already be filtered to edges with both endpoints inside the selection.
func (c *Clipboard) Stage(nodes []*entities.Node, conns []*entities.Connection, includeConnections, isCut bool) error {
	if len(nodes) == 0 {
		return pkgerrors.NewValidationError("nothing selected to copy")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capturedNodes = make([]*entities.Node, 0, len(nodes))
	for _, n := range nodes {
		c.capturedNodes = append(c.capturedNodes, n.Clone())
	}
	c.capturedConns = nil
	if includeConnections {
		for _, conn := range conns {
			c.capturedConns = append(c.capturedConns, conn.Clone())
		}
	}
	c.includeConnections = includeConnections
	c.isCut = isCut
	return nil
}

// HasStaged reports whether a selection is captured.
func (c *Clipboard) HasStaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.capturedNodes) > 0
}

// CommitAt opens the paste session and returns one creation plan per staged
// node, translated so the selection's bounding-box minimum lands on target.
// Plans are returned in deterministic staging order.
func (c *Clipboard) CommitAt(target valueobjects.Position) ([]PastePlanEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.capturedNodes) == 0 {
		return nil, pkgerrors.NewValidationError("clipboard is empty")
	}
	if c.active {
		return nil, pkgerrors.NewConflictError("a paste is already in progress")
	}

	minX, minY := c.capturedNodes[0].Position.X, c.capturedNodes[0].Position.Y
	for _, n := range c.capturedNodes[1:] {
		if n.Position.X < minX {
			minX = n.Position.X
		}
		if n.Position.Y < minY {
			minY = n.Position.Y
		}
	}
	dx, dy := target.X-minX, target.Y-minY

	c.entries = make([]*stagedNode, 0, len(c.capturedNodes))
	plans := make([]PastePlanEntry, 0, len(c.capturedNodes))
	for _, n := range c.capturedNodes {
		clone := n.Clone()
		entry := &stagedNode{
			originalID: clone.ID,
			nodeType:   clone.Type,
			data:       clone.Data,
			target:     clone.Position.Translate(dx, dy),
		}
		c.entries = append(c.entries, entry)
		plans = append(plans, PastePlanEntry{
			Type:     entry.nodeType,
			Position: entry.target,
			Data:     entry.data,
		})
	}

	c.conns = c.capturedConns
	c.idMap = make(map[string]string, len(c.entries))
	c.expected = len(c.entries)
	c.created = 0
	c.active = true
	c.generation++

	c.logger.Debug("paste session opened",
		zap.Int("nodes", c.expected),
		zap.Int("connections", len(c.conns)),
		zap.Bool("cut", c.isCut))
	return plans, nil
}

// Active reports whether a paste session is in flight.
func (c *Clipboard) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Generation identifies the current session. Deferred work scheduled for an
// older generation must be discarded.
func (c *Clipboard) Generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// MatchCreated tries to match a node-creation acknowledgement against the
// not-yet-matched staged entries by positional closeness and type equality.
// First match wins and leaves the candidate pool, which prevents
// double-matching when two pasted nodes collide within tolerance.
func (c *Clipboard) MatchCreated(node *entities.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false
	}
	for _, entry := range c.entries {
		if entry.matched {
			continue
		}
		if entry.nodeType != node.Type {
			continue
		}
		if !entry.target.WithinTolerance(node.Position, c.tolerance) {
			continue
		}
		entry.matched = true
		c.idMap[entry.originalID] = node.ID
		c.created++
		c.logger.Debug("paste acknowledgement matched",
			zap.String("originalID", entry.originalID),
			zap.String("newID", node.ID),
			zap.Int("created", c.created),
			zap.Int("expected", c.expected))
		return true
	}
	return false
}

// AllCreated reports whether every staged node has been confirmed.
func (c *Clipboard) AllCreated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.created == c.expected
}

// RemappedConnections returns the staged connections with endpoints
// rewritten through the old-to-new id map. Only meaningful once AllCreated;
// connections whose endpoints did not both get remapped are dropped.
func (c *Clipboard) RemappedConnections() []ConnectionSpec {
	c.mu.Lock()
	defer c.mu.Unlock()

	specs := make([]ConnectionSpec, 0, len(c.conns))
	for _, conn := range c.conns {
		source, okS := c.idMap[conn.Source]
		target, okT := c.idMap[conn.Target]
		if !okS || !okT {
			c.logger.Warn("staged connection endpoint never remapped",
				zap.String("connectionID", conn.ID))
			continue
		}
		specs = append(specs, ConnectionSpec{
			Source:       source,
			SourceHandle: conn.SourceHandle,
			Target:       target,
			TargetHandle: conn.TargetHandle,
		})
	}
	return specs
}

// OriginalIDs returns the pre-copy node ids, for cut deletions.
func (c *Clipboard) OriginalIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		ids = append(ids, e.originalID)
	}
	return ids
}

// IsCut reports whether the staged selection was cut rather than copied.
func (c *Clipboard) IsCut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCut
}

// Complete closes the session. It reports whether this call actually closed
// it, so repeated completion triggers collapse to a single notification.
func (c *Clipboard) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false
	}
	c.active = false
	c.entries = nil
	c.conns = nil
	c.idMap = nil
	c.logger.Debug("paste session completed")
	return true
}

// Reset discards the session and the staged selection. Used at teardown.
func (c *Clipboard) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	c.entries = nil
	c.conns = nil
	c.idMap = nil
	c.capturedNodes = nil
	c.capturedConns = nil
}
