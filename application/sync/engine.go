// Package sync implements the client-side graph synchronization core: it
// applies edits optimistically to local state, emits intent messages to the
// remote authority, reconciles acknowledgements and echoes, maintains an
// undo/redo history of inverse operations, and orchestrates multi-entity
// paste and bulk-delete flows whose acknowledgements arrive out of order.
package sync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"flowsync/application/ports"
	domaincfg "flowsync/domain/config"
	"flowsync/domain/core/aggregates"
	"flowsync/domain/core/entities"
	"flowsync/domain/core/valueobjects"
	"flowsync/domain/events"
	"flowsync/pkg/clock"
	pkgerrors "flowsync/pkg/errors"
	"flowsync/pkg/observability"
)

// Engine owns all mutable synchronization state. Public operations and
// inbound channel callbacks are serialized through one mutex, which gives
// the same observable semantics as the single event loop the protocol was
// designed for: interleaving happens only at message granularity.
type Engine struct {
	mu sync.Mutex

	graph      *aggregates.Graph
	channel    ports.MessageChannel
	history    *History
	suppressor *EchoSuppressor
	guard      *DedupGuard
	clipboard  *Clipboard
	hub        *NotificationHub
	cfg        *domaincfg.DomainConfig
	clk        clock.Clock
	session    ports.SessionContext
	logger     *zap.Logger

	closed bool

	// paste connections scheduled but not yet issued
	pasteConnsRemaining int
}

// NewEngine wires the synchronization core together. Call Start to attach
// the inbound subscriptions and request the initial snapshot.
func NewEngine(
	graph *aggregates.Graph,
	channel ports.MessageChannel,
	history *History,
	suppressor *EchoSuppressor,
	guard *DedupGuard,
	clipboard *Clipboard,
	hub *NotificationHub,
	cfg *domaincfg.DomainConfig,
	clk clock.Clock,
	session ports.SessionContext,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		graph:      graph,
		channel:    channel,
		history:    history,
		suppressor: suppressor,
		guard:      guard,
		clipboard:  clipboard,
		hub:        hub,
		cfg:        cfg,
		clk:        clk,
		session:    session,
		logger:     logger,
	}
}

// Start subscribes the inbound handlers and requests the cold-start
// snapshot from the remote authority.
func (e *Engine) Start() error {
	if !e.session.Valid() {
		return pkgerrors.NewContextError("no graph session")
	}

	e.subscribe()
	return e.emit(events.WorkflowGet, events.WorkflowGetPayload{GraphID: e.session.GraphID})
}

// Resync re-requests the authoritative snapshot. The channel calls this
// after re-establishing a dropped connection; the resulting workflow:data
// replaces local state wholesale.
func (e *Engine) Resync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("resync"); err != nil {
		return err
	}
	return e.emit(events.WorkflowGet, events.WorkflowGetPayload{GraphID: e.session.GraphID})
}

// Close tears down subscriptions and discards all in-flight state: pending
// suppression entries, dedup signatures, and any active paste session. No
// operation is guaranteed to complete after Close. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.channel.Close()
	e.suppressor.Stop()
	e.guard.Stop()
	e.clipboard.Reset()
	e.hub.Close()
	return err
}

// Snapshot returns the current canonical graph snapshot.
func (e *Engine) Snapshot() aggregates.Snapshot {
	return e.graph.Snapshot()
}

// Notifications returns a new subscription on the change-notification
// stream consumed by the rendering layer.
func (e *Engine) Notifications() <-chan Notification {
	return e.hub.Subscribe()
}

// CanUndo reports whether an undo is available.
func (e *Engine) CanUndo() bool { return e.history.CanUndo() }

// CanRedo reports whether a redo is available.
func (e *Engine) CanRedo() bool { return e.history.CanRedo() }

// HistoryDepth returns the current undo and redo stack depths.
func (e *Engine) HistoryDepth() (undo, redo int) { return e.history.Depth() }

// Session returns the identity context the engine runs under.
func (e *Engine) Session() ports.SessionContext { return e.session }

// ApplyTuning swaps in a new domain configuration at runtime. Windows and
// tolerances take effect for entries and sessions created from now on.
func (e *Engine) ApplyTuning(cfg *domaincfg.DomainConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	e.suppressor.SetTTL(cfg.EchoSuppressionTTL)
	e.guard.SetTTL(cfg.DedupGuardTTL)
	e.clipboard.SetTolerance(cfg.PasteMatchTolerance)
}

// CreateNode requests creation of a regular node. There is no optimistic
// apply here: the node's id is assigned by the remote authority, so the
// node first appears when its creation acknowledgement arrives.
func (e *Engine) CreateNode(pos valueobjects.Position, data entities.NodeData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("node:create"); err != nil {
		return err
	}
	return e.emit(events.NodeCreate, events.NodeCreatePayload{
		GraphID:  e.session.GraphID,
		Type:     entities.NodeTypeDefault,
		Position: pos,
		Data:     data,
	})
}

// CreateNote requests creation of a sticky note.
func (e *Engine) CreateNote(pos valueobjects.Position, content string, width, height float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("note:create"); err != nil {
		return err
	}
	return e.emit(events.NoteCreate, events.NodeCreatePayload{
		GraphID:  e.session.GraphID,
		Type:     entities.NodeTypeNote,
		Position: pos,
		Data:     entities.NodeData{Content: content, Width: width, Height: height},
	})
}

// UpdateNode applies a position and/or data change optimistically, records
// it with its inverse, and emits the intent. Works for notes as well; the
// entry and emission are note-typed when the target is a sticky note.
func (e *Engine) UpdateNode(id string, pos *valueobjects.Position, data *entities.NodeData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("node:update"); err != nil {
		return err
	}
	if pos == nil && data == nil {
		return pkgerrors.NewValidationError("nothing to update")
	}
	prev, ok := e.graph.NodeByID(id)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("node " + id))
	}

	next := prev.Clone()
	var inverse HistoryPayload
	inverse.NodeID = id
	if pos != nil {
		p := prev.Position
		inverse.Position = &p
		next.Position = *pos
	}
	if data != nil {
		d := prev.Data
		inverse.Data = &d
		next.Data = *data
	}

	// Local mutation lands before the emission so the UI never waits on
	// the network.
	e.graph.UpsertNode(next)

	action, updateEvent, ackEvent := ActionNodeUpdate, events.NodeUpdate, events.NodeUpdated
	if prev.IsNote() {
		action, updateEvent, ackEvent = ActionNoteUpdate, events.NoteUpdate, events.NoteUpdated
	}
	e.history.Record(HistoryEntry{
		Action:  action,
		Forward: HistoryPayload{NodeID: id, Position: pos, Data: data},
		Inverse: inverse,
	})
	e.suppressor.MarkPending(ackEvent, id)
	e.publishChanged(id)
	return e.emit(updateEvent, events.NodeUpdatePayload{
		GraphID:  e.session.GraphID,
		ID:       id,
		Position: pos,
		Data:     data,
	})
}

// DeleteNode deletes a single node (or note), capturing its full snapshot
// for the inverse before anything is removed.
func (e *Engine) DeleteNode(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("node:delete"); err != nil {
		return err
	}
	prev, ok := e.graph.NodeByID(id)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("node " + id))
	}

	e.removeNodesLocally([]string{id})

	action, deleteEvent, ackEvent := ActionNodeDelete, events.NodeDelete, events.NodeDeleted
	if prev.IsNote() {
		action, deleteEvent, ackEvent = ActionNoteDelete, events.NoteDelete, events.NoteDeleted
	}
	e.history.Record(HistoryEntry{
		Action:  action,
		Forward: HistoryPayload{NodeID: id},
		Inverse: HistoryPayload{Node: prev},
	})
	e.suppressor.MarkPending(ackEvent, id)
	e.publishChanged(id)
	return e.emit(deleteEvent, events.NodeDeletePayload{GraphID: e.session.GraphID, ID: id})
}

// DeleteNodes deletes several nodes as one bulk operation with a single
// history entry. Unknown ids are skipped.
func (e *Engine) DeleteNodes(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("node:delete_bulk"); err != nil {
		return err
	}

	snapshots := make([]*entities.Node, 0, len(ids))
	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := e.graph.NodeByID(id); ok {
			snapshots = append(snapshots, n)
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return e.fail(pkgerrors.NewNotFoundError("selection"))
	}

	e.removeNodesLocally(existing)

	e.history.Record(HistoryEntry{
		Action:  ActionNodeDeleteBulk,
		Forward: HistoryPayload{NodeIDs: existing},
		Inverse: HistoryPayload{Nodes: snapshots},
	})
	e.suppressor.MarkPending(events.NodeDeleted, existing...)
	e.publishChanged(existing...)
	return e.emit(events.NodeDeleteBulk, events.NodeDeleteBulkPayload{
		GraphID: e.session.GraphID,
		IDs:     existing,
	})
}

// Connect creates a connection between two pins. Self-loops and references
// to nodes missing from the store are rejected before any mutation or
// emission occurs.
func (e *Engine) Connect(source, sourceHandle, target, targetHandle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("connection:create"); err != nil {
		return err
	}

	if source == target && !e.cfg.AllowSelfConnections {
		return e.fail(pkgerrors.NewValidationError("cannot connect node to itself"))
	}
	snap := e.graph.Snapshot()
	if !snap.HasNode(source) {
		return e.fail(pkgerrors.NewNotFoundError("source node " + source))
	}
	if !snap.HasNode(target) {
		return e.fail(pkgerrors.NewNotFoundError("target node " + target))
	}
	if !e.cfg.AllowDuplicateEdges {
		for _, c := range snap.Connections {
			if c.Source == source && c.Target == target &&
				c.SourceHandle == sourceHandle && c.TargetHandle == targetHandle {
				return e.fail(pkgerrors.NewConflictError("connection already exists"))
			}
		}
	}

	conn, err := entities.NewConnection(source, sourceHandle, target, targetHandle, e.clk.Now())
	if err != nil {
		return e.fail(err)
	}

	e.graph.UpsertConnection(conn)
	e.history.Record(HistoryEntry{
		Action:  ActionConnectionCreate,
		Forward: HistoryPayload{Connection: conn},
		Inverse: HistoryPayload{ConnectionID: conn.ID},
	})
	e.suppressor.MarkPending(events.ConnectionCreated, conn.ID)
	e.publishChanged(conn.ID)
	return e.emit(events.ConnectionCreate, events.ConnectionCreatePayload{
		GraphID:    e.session.GraphID,
		Connection: *conn,
	})
}

// DeleteConnection removes a connection, capturing its snapshot for the
// inverse first.
func (e *Engine) DeleteConnection(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("connection:delete"); err != nil {
		return err
	}
	prev, ok := e.graph.ConnectionByID(id)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("connection " + id))
	}

	e.graph.RemoveConnections([]string{id})
	e.history.Record(HistoryEntry{
		Action:  ActionConnectionDelete,
		Forward: HistoryPayload{ConnectionID: id},
		Inverse: HistoryPayload{Connection: prev},
	})
	e.suppressor.MarkPending(events.ConnectionDeleted, id)
	e.publishChanged(id)
	return e.emit(events.ConnectionDelete, events.ConnectionDeletePayload{
		GraphID: e.session.GraphID,
		ID:      id,
	})
}

// AddPin splices a user pin into a node's named collection.
func (e *Engine) AddPin(nodeID string, kind entities.PinKind, pin entities.Pin) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("pin:add"); err != nil {
		return err
	}
	node, ok := e.graph.NodeByID(nodeID)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("node " + nodeID))
	}
	pin.Custom = true
	if err := node.AddPin(kind, pin); err != nil {
		return e.fail(err)
	}

	e.graph.UpsertNode(node)
	e.history.Record(HistoryEntry{
		Action:  ActionPinAdd,
		Forward: HistoryPayload{PinNodeID: nodeID, PinKind: kind, Pin: &pin},
		Inverse: HistoryPayload{PinNodeID: nodeID, PinKind: kind, PinID: pin.ID},
	})
	e.suppressor.MarkPending(events.PinAdded, nodeID, pin.ID)
	e.publishChanged(nodeID)
	return e.emit(events.PinAdd, events.PinPayload{
		GraphID:    e.session.GraphID,
		NodeID:     nodeID,
		Collection: kind.CollectionName(),
		Pin:        &pin,
	})
}

// UpdatePin replaces a user pin. Default pins are rejected before any
// mutation.
func (e *Engine) UpdatePin(nodeID string, kind entities.PinKind, pin entities.Pin) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("pin:update"); err != nil {
		return err
	}
	node, ok := e.graph.NodeByID(nodeID)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("node " + nodeID))
	}
	prev, ok := node.FindPin(kind, pin.ID)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("pin " + pin.ID))
	}
	if err := node.UpdatePin(kind, pin); err != nil {
		return e.fail(err)
	}

	e.graph.UpsertNode(node)
	e.history.Record(HistoryEntry{
		Action:  ActionPinUpdate,
		Forward: HistoryPayload{PinNodeID: nodeID, PinKind: kind, Pin: &pin},
		Inverse: HistoryPayload{PinNodeID: nodeID, PinKind: kind, Pin: &prev},
	})
	e.suppressor.MarkPending(events.PinUpdated, nodeID, pin.ID)
	e.publishChanged(nodeID)
	return e.emit(events.PinUpdate, events.PinPayload{
		GraphID:    e.session.GraphID,
		NodeID:     nodeID,
		Collection: kind.CollectionName(),
		Pin:        &pin,
	})
}

// DeletePin removes a user pin. Default pins are rejected before any
// mutation.
func (e *Engine) DeletePin(nodeID string, kind entities.PinKind, pinID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("pin:delete"); err != nil {
		return err
	}
	node, ok := e.graph.NodeByID(nodeID)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("node " + nodeID))
	}
	prev, ok := node.FindPin(kind, pinID)
	if !ok {
		return e.fail(pkgerrors.NewNotFoundError("pin " + pinID))
	}
	if err := node.RemovePin(kind, pinID); err != nil {
		return e.fail(err)
	}

	e.graph.UpsertNode(node)
	e.history.Record(HistoryEntry{
		Action:  ActionPinDelete,
		Forward: HistoryPayload{PinNodeID: nodeID, PinKind: kind, PinID: pinID},
		Inverse: HistoryPayload{PinNodeID: nodeID, PinKind: kind, Pin: &prev},
	})
	e.suppressor.MarkPending(events.PinDeleted, nodeID, pinID)
	e.publishChanged(nodeID)
	return e.emit(events.PinDelete, events.PinPayload{
		GraphID:    e.session.GraphID,
		NodeID:     nodeID,
		Collection: kind.CollectionName(),
		PinID:      pinID,
	})
}

// Copy stages a selection for pasting.
func (e *Engine) Copy(ids []string, includeConnections bool) error {
	return e.stageClipboard(ids, includeConnections, false)
}

// Cut stages a selection whose originals will be deleted once the paste's
// creations have been issued.
func (e *Engine) Cut(ids []string, includeConnections bool) error {
	return e.stageClipboard(ids, includeConnections, true)
}

func (e *Engine) stageClipboard(ids []string, includeConnections, isCut bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(ids) > e.cfg.MaxPasteNodes {
		return e.fail(pkgerrors.NewValidationError("selection exceeds paste limit"))
	}

	selected := make(map[string]struct{}, len(ids))
	nodes := make([]*entities.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := e.graph.NodeByID(id); ok {
			nodes = append(nodes, n)
			selected[id] = struct{}{}
		}
	}
	if len(nodes) == 0 {
		return e.fail(pkgerrors.NewNotFoundError("selection"))
	}

	// Only edges fully inside the selection travel with it.
	var conns []*entities.Connection
	if includeConnections {
		for _, c := range e.graph.ConnectionsTouching(ids) {
			if _, okS := selected[c.Source]; !okS {
				continue
			}
			if _, okT := selected[c.Target]; !okT {
				continue
			}
			conns = append(conns, c)
		}
	}

	if err := e.clipboard.Stage(nodes, conns, includeConnections, isCut); err != nil {
		return e.fail(err)
	}
	return nil
}

// Paste commits the staged selection at the target position: one creation
// emission per staged node, then — for a cut — one deletion emission per
// original. The acknowledgements are reconciled asynchronously.
func (e *Engine) Paste(target valueobjects.Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("paste"); err != nil {
		return err
	}
	plans, err := e.clipboard.CommitAt(target)
	if err != nil {
		return e.fail(err)
	}

	for _, plan := range plans {
		createEvent := events.NodeCreate
		if plan.Type == entities.NodeTypeNote {
			createEvent = events.NoteCreate
		}
		if err := e.emit(createEvent, events.NodeCreatePayload{
			GraphID:  e.session.GraphID,
			Type:     plan.Type,
			Position: plan.Position,
			Data:     plan.Data,
		}); err != nil {
			return err
		}
	}

	// Cut deletions go out only after every creation has been issued, so
	// the user's working copy survives until the duplication is underway.
	if e.clipboard.IsCut() {
		originals := e.clipboard.OriginalIDs()
		e.removeNodesLocally(originals)
		e.publishChanged(originals...)
		for _, id := range originals {
			e.suppressor.MarkPending(events.NodeDeleted, id)
			if err := e.emit(events.NodeDelete, events.NodeDeletePayload{
				GraphID: e.session.GraphID,
				ID:      id,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// onPasteProgress runs after a creation acknowledgement matched the active
// session. Once every staged node is confirmed, the staged connections are
// issued with a fixed stagger so the remote authority is not flooded with
// edges referencing nodes it may not have fully indexed yet.
//
// Called with the engine lock held.
func (e *Engine) onPasteProgress() {
	if !e.clipboard.AllCreated() {
		return
	}

	specs := e.clipboard.RemappedConnections()
	if len(specs) == 0 {
		e.completePaste()
		return
	}

	gen := e.clipboard.Generation()
	e.pasteConnsRemaining = len(specs)
	for i, spec := range specs {
		spec := spec
		e.clk.AfterFunc(time.Duration(i)*e.cfg.PasteStaggerDelay, func() {
			e.emitPasteConnection(gen, spec)
		})
	}
}

func (e *Engine) emitPasteConnection(generation int, spec ConnectionSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.clipboard.Active() || e.clipboard.Generation() != generation {
		return
	}

	conn, err := entities.NewConnection(spec.Source, spec.SourceHandle, spec.Target, spec.TargetHandle, e.clk.Now())
	if err != nil {
		e.logger.Warn("staged paste connection rejected", zap.Error(err))
	} else {
		e.graph.UpsertConnection(conn)
		e.suppressor.MarkPending(events.ConnectionCreated, conn.ID)
		e.publishChanged(conn.ID)
		if err := e.emit(events.ConnectionCreate, events.ConnectionCreatePayload{
			GraphID:    e.session.GraphID,
			Connection: *conn,
		}); err != nil {
			e.logger.Error("paste connection emission failed", zap.Error(err))
		}
	}

	e.pasteConnsRemaining--
	if e.pasteConnsRemaining <= 0 {
		e.completePaste()
	}
}

// completePaste fires the single summary notification. Repeated triggers
// collapse inside Clipboard.Complete. Called with the engine lock held.
func (e *Engine) completePaste() {
	if !e.clipboard.Complete() {
		return
	}
	observability.PasteSessionsCompleted.Inc()
	e.hub.Publish(Notification{
		Kind:    NotificationPasteCompleted,
		Message: "paste completed",
	})
}

// removeNodesLocally drops nodes and every connection touching them.
// Called with the engine lock held.
func (e *Engine) removeNodesLocally(ids []string) {
	touching := e.graph.ConnectionsTouching(ids)
	if len(touching) > 0 {
		connIDs := make([]string, 0, len(touching))
		for _, c := range touching {
			connIDs = append(connIDs, c.ID)
		}
		e.graph.RemoveConnections(connIDs)
	}
	e.graph.RemoveNodes(ids)
}

// ensureSession aborts the operation when no graph context is active. The
// abort is silent: logged, never emitted, never notified.
func (e *Engine) ensureSession(op string) error {
	if e.closed {
		return pkgerrors.NewContextError("session closed")
	}
	if !e.session.Valid() {
		e.logger.Debug("operation aborted, no graph session", zap.String("operation", op))
		return pkgerrors.NewContextError("no graph session")
	}
	return nil
}

// fail surfaces a local rejection as a notification and returns it.
func (e *Engine) fail(err error) error {
	e.hub.Publish(Notification{
		Kind:    NotificationOperationFailed,
		Message: err.Error(),
	})
	return err
}

func (e *Engine) emit(event string, payload interface{}) error {
	if err := e.channel.Emit(event, payload); err != nil {
		e.logger.Error("emission failed", zap.String("event", event), zap.Error(err))
		e.hub.Publish(Notification{
			Kind:    NotificationOperationFailed,
			Message: "failed to reach the remote authority",
		})
		return pkgerrors.NewNetworkError("emit "+event, err)
	}
	observability.MessagesEmitted.WithLabelValues(event).Inc()
	return nil
}

func (e *Engine) publishChanged(ids ...string) {
	e.hub.Publish(Notification{Kind: NotificationGraphChanged, EntityIDs: ids})
}
