// Package aggregates holds the canonical in-memory representation of the
// canvas. The Graph is the single writer target for both optimistic local
// edits and reconciled remote updates; every writer goes through the same
// narrow replace/upsert/remove contract.
package aggregates

import (
	"sync"

	"flowsync/domain/core/entities"
)

// Snapshot is one immutable state of the canvas. Operations on the Graph
// produce a new Snapshot and never mutate a previously returned one;
// unchanged entities are shared structurally between snapshots.
type Snapshot struct {
	Nodes       []*entities.Node
	Connections []*entities.Connection
}

// NodeByID finds a node in the snapshot.
func (s Snapshot) NodeByID(id string) (*entities.Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// ConnectionByID finds a connection in the snapshot.
func (s Snapshot) ConnectionByID(id string) (*entities.Connection, bool) {
	for _, c := range s.Connections {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// HasNode reports whether a node id exists in the snapshot.
func (s Snapshot) HasNode(id string) bool {
	_, ok := s.NodeByID(id)
	return ok
}

// Graph owns the current snapshot. Reads may come from any goroutine (the
// rendering layer, the debug surface); writes are serialized by the engine
// but the guard here keeps the aggregate safe on its own terms.
type Graph struct {
	mu      sync.RWMutex
	current Snapshot
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Snapshot returns the current canonical snapshot. The returned value is
// shared and must be treated as read-only.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// NodeByID returns a copy of the node so callers can never alias
// canonical state.
func (g *Graph) NodeByID(id string) (*entities.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.current.NodeByID(id)
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// ConnectionByID returns a copy of the connection.
func (g *Graph) ConnectionByID(id string) (*entities.Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.current.ConnectionByID(id)
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// ConnectionsTouching returns copies of every connection with at least one
// endpoint in the given node id set.
func (g *Graph) ConnectionsTouching(nodeIDs []string) []*entities.Connection {
	set := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		set[id] = struct{}{}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*entities.Connection
	for _, c := range g.current.Connections {
		if _, ok := set[c.Source]; ok {
			out = append(out, c.Clone())
			continue
		}
		if _, ok := set[c.Target]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

// ReplaceNodes swaps in a whole new node set. Inputs are cloned; the caller
// keeps ownership of what it passed in.
func (g *Graph) ReplaceNodes(nodes []*entities.Node) Snapshot {
	cloned := make([]*entities.Node, 0, len(nodes))
	for _, n := range nodes {
		cloned = append(cloned, n.Clone())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = Snapshot{Nodes: cloned, Connections: g.current.Connections}
	return g.current
}

// ReplaceConnections swaps in a whole new connection set.
func (g *Graph) ReplaceConnections(conns []*entities.Connection) Snapshot {
	cloned := make([]*entities.Connection, 0, len(conns))
	for _, c := range conns {
		cloned = append(cloned, c.Clone())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = Snapshot{Nodes: g.current.Nodes, Connections: cloned}
	return g.current
}

// UpsertNode replaces the node with a matching id or appends if absent.
// This single mechanism serves both optimistic local edits and remote
// confirmations, which is what enforces at-most-one node per id.
func (g *Graph) UpsertNode(node *entities.Node) Snapshot {
	incoming := node.Clone()

	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make([]*entities.Node, 0, len(g.current.Nodes)+1)
	replaced := false
	for _, n := range g.current.Nodes {
		if n.ID == incoming.ID {
			nodes = append(nodes, incoming)
			replaced = true
			continue
		}
		nodes = append(nodes, n)
	}
	if !replaced {
		nodes = append(nodes, incoming)
	}

	g.current = Snapshot{Nodes: nodes, Connections: g.current.Connections}
	return g.current
}

// UpsertConnection replaces the connection with a matching id or appends.
func (g *Graph) UpsertConnection(conn *entities.Connection) Snapshot {
	incoming := conn.Clone()

	g.mu.Lock()
	defer g.mu.Unlock()

	conns := make([]*entities.Connection, 0, len(g.current.Connections)+1)
	replaced := false
	for _, c := range g.current.Connections {
		if c.ID == incoming.ID {
			conns = append(conns, incoming)
			replaced = true
			continue
		}
		conns = append(conns, c)
	}
	if !replaced {
		conns = append(conns, incoming)
	}

	g.current = Snapshot{Nodes: g.current.Nodes, Connections: conns}
	return g.current
}

// RemoveNodes drops the given node ids. Unknown ids are a no-op, not an
// error: remote acknowledgements can be redelivered.
func (g *Graph) RemoveNodes(ids []string) Snapshot {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make([]*entities.Node, 0, len(g.current.Nodes))
	for _, n := range g.current.Nodes {
		if _, gone := set[n.ID]; !gone {
			nodes = append(nodes, n)
		}
	}

	g.current = Snapshot{Nodes: nodes, Connections: g.current.Connections}
	return g.current
}

// RemoveConnections drops the given connection ids, idempotently.
func (g *Graph) RemoveConnections(ids []string) Snapshot {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	conns := make([]*entities.Connection, 0, len(g.current.Connections))
	for _, c := range g.current.Connections {
		if _, gone := set[c.ID]; !gone {
			conns = append(conns, c)
		}
	}

	g.current = Snapshot{Nodes: g.current.Nodes, Connections: conns}
	return g.current
}

// Counts returns the node and connection counts of the current snapshot.
func (g *Graph) Counts() (nodes, connections int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.current.Nodes), len(g.current.Connections)
}
