package sync

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flowsync/application/ports"
	domaincfg "flowsync/domain/config"
	"flowsync/domain/core/aggregates"
	"flowsync/domain/core/entities"
	"flowsync/domain/core/valueobjects"
	"flowsync/domain/events"
	"flowsync/infrastructure/channel"
	pkgclock "flowsync/pkg/clock"
	pkgerrors "flowsync/pkg/errors"
)

type engineFixture struct {
	t       *testing.T
	engine  *Engine
	graph   *aggregates.Graph
	ch      *channel.Memory
	clk     *pkgclock.Fake
	cfg     *domaincfg.DomainConfig
	history *History
	notes   <-chan Notification
}

func newEngineFixture(t *testing.T) *engineFixture {
	return newEngineFixtureWithSession(t, ports.SessionContext{UserID: "user-1", GraphID: "graph-1"})
}

func newEngineFixtureWithSession(t *testing.T, session ports.SessionContext) *engineFixture {
	logger := zaptest.NewLogger(t)
	clk := pkgclock.NewFake()
	ch := channel.NewMemory()
	cfg := domaincfg.DefaultDomainConfig()
	graph := aggregates.NewGraph()
	history := NewHistory(cfg.MaxHistoryDepth, logger)
	suppressor := NewEchoSuppressor(cfg.EchoSuppressionTTL, clk, logger)
	guard := NewDedupGuard(cfg.DedupGuardTTL, clk, logger)
	clipboard := NewClipboard(cfg.PasteMatchTolerance, logger)
	hub := NewNotificationHub(logger)

	engine := NewEngine(graph, ch, history, suppressor, guard, clipboard, hub,
		cfg, clk, session, logger)
	notes := hub.Subscribe()
	if session.Valid() {
		require.NoError(t, engine.Start())
		ch.ClearEmitted()
	}

	return &engineFixture{
		t:       t,
		engine:  engine,
		graph:   graph,
		ch:      ch,
		clk:     clk,
		cfg:     cfg,
		history: history,
		notes:   notes,
	}
}

func (f *engineFixture) seedNode(id string, x, y float64) *entities.Node {
	node := &entities.Node{
		ID:       id,
		Type:     entities.NodeTypeDefault,
		Position: valueobjects.Position{X: x, Y: y},
		Data:     entities.NodeData{Label: "node " + id},
	}
	f.graph.UpsertNode(node)
	return node
}

func (f *engineFixture) seedConnection(id, source, target string) *entities.Connection {
	conn := &entities.Connection{ID: id, Source: source, Target: target}
	f.graph.UpsertConnection(conn)
	return conn
}

func (f *engineFixture) deliver(event string, payload interface{}) {
	require.NoError(f.t, f.ch.Deliver(event, payload))
}

func (f *engineFixture) deliverNodeAck(event string, node *entities.Node) {
	f.deliver(event, events.NodeAck{
		Ack:  events.Ack{Status: events.StatusSuccess},
		Data: *node,
	})
}

// drainNotifications empties the buffered notification stream.
func (f *engineFixture) drainNotifications() []Notification {
	var out []Notification
	for {
		select {
		case n := <-f.notes:
			out = append(out, n)
		default:
			return out
		}
	}
}

func (f *engineFixture) lastEmitted() channel.EmittedMessage {
	emitted := f.ch.Emitted()
	require.NotEmpty(f.t, emitted)
	return emitted[len(emitted)-1]
}

func TestStartRequestsSnapshot(t *testing.T) {
	logger := zaptest.NewLogger(t)
	clk := pkgclock.NewFake()
	ch := channel.NewMemory()
	cfg := domaincfg.DefaultDomainConfig()
	engine := NewEngine(aggregates.NewGraph(), ch, NewHistory(cfg.MaxHistoryDepth, logger),
		NewEchoSuppressor(cfg.EchoSuppressionTTL, clk, logger),
		NewDedupGuard(cfg.DedupGuardTTL, clk, logger),
		NewClipboard(cfg.PasteMatchTolerance, logger),
		NewNotificationHub(logger),
		cfg, clk, ports.SessionContext{UserID: "u", GraphID: "g"}, logger)

	require.NoError(t, engine.Start())

	require.Equal(t, []string{events.WorkflowGet}, ch.EmittedEvents())
}

func TestOperationsWithoutSessionAreSilentlyAborted(t *testing.T) {
	f := newEngineFixtureWithSession(t, ports.SessionContext{})

	err := f.engine.CreateNode(valueobjects.Position{X: 1, Y: 2}, entities.NodeData{})
	assert.True(t, pkgerrors.IsContext(err))
	assert.Empty(t, f.ch.Emitted())
	assert.Empty(t, f.drainNotifications())
}

func TestCreateNodeAppearsOnAcknowledgement(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.CreateNode(valueobjects.Position{X: 5, Y: 5}, entities.NodeData{Label: "fresh"}))

	// No optimistic apply: the id is assigned remotely.
	assert.Empty(t, f.engine.Snapshot().Nodes)
	require.Equal(t, []string{events.NodeCreate}, f.ch.EmittedEvents())

	f.deliverNodeAck(events.NodeCreated, &entities.Node{
		ID:       "srv-1",
		Type:     entities.NodeTypeDefault,
		Position: valueobjects.Position{X: 5, Y: 5},
		Data:     entities.NodeData{Label: "fresh"},
	})

	snap := f.engine.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "srv-1", snap.Nodes[0].ID)
	assert.True(t, f.engine.CanUndo())
}

func TestUpdateNodeAppliesBeforeEmission(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 10, 10)

	pos := valueobjects.Position{X: 50, Y: 60}
	require.NoError(t, f.engine.UpdateNode("n1", &pos, nil))

	got, ok := f.graph.NodeByID("n1")
	require.True(t, ok)
	assert.Equal(t, pos, got.Position)
	assert.Equal(t, []string{events.NodeUpdate}, f.ch.EmittedEvents())
	assert.True(t, f.engine.CanUndo())
}

func TestUpdateEchoDoesNotRecordHistory(t *testing.T) {
	f := newEngineFixture(t)
	node := f.seedNode("n1", 10, 10)

	pos := valueobjects.Position{X: 50, Y: 60}
	require.NoError(t, f.engine.UpdateNode("n1", &pos, nil))
	undoDepth, _ := f.engine.HistoryDepth()
	require.Equal(t, 1, undoDepth)

	echo := node.Clone()
	echo.Position = pos
	f.deliverNodeAck(events.NodeUpdated, echo)

	undoDepth, _ = f.engine.HistoryDepth()
	assert.Equal(t, 1, undoDepth)
}

func TestRemoteUpdateAppliesWithoutHistory(t *testing.T) {
	f := newEngineFixture(t)
	node := f.seedNode("n1", 10, 10)

	remote := node.Clone()
	remote.Position = valueobjects.Position{X: 99, Y: 99}
	f.deliverNodeAck(events.NodeUpdated, remote)

	got, ok := f.graph.NodeByID("n1")
	require.True(t, ok)
	assert.Equal(t, valueobjects.Position{X: 99, Y: 99}, got.Position)
	assert.False(t, f.engine.CanUndo())
}

func TestFailedAcknowledgementNeverMutates(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 10, 10)

	f.deliver(events.NodeUpdated, events.NodeAck{
		Ack: events.Ack{Status: events.StatusFailed, Error: "version conflict"},
		Data: entities.Node{
			ID:       "n1",
			Type:     entities.NodeTypeDefault,
			Position: valueobjects.Position{X: 999, Y: 999},
		},
	})

	got, ok := f.graph.NodeByID("n1")
	require.True(t, ok)
	assert.Equal(t, valueobjects.Position{X: 10, Y: 10}, got.Position)

	notes := f.drainNotifications()
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationRemoteRejected, notes[0].Kind)
	assert.Equal(t, "version conflict", notes[0].Message)
}

func TestConnectRejectsSelfLoopBeforeAnything(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 0, 0)

	err := f.engine.Connect("n1", "out", "n1", "in")
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Empty(t, f.ch.Emitted())
	assert.Empty(t, f.engine.Snapshot().Connections)
	assert.False(t, f.engine.CanUndo())
}

func TestConnectRejectsUnknownEndpoints(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 0, 0)

	err := f.engine.Connect("n1", "out", "ghost", "in")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.Empty(t, f.ch.Emitted())
}

func TestConnectRejectsDuplicateEdge(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 0, 0)
	f.seedNode("n2", 10, 10)

	require.NoError(t, f.engine.Connect("n1", "out", "n2", "in"))
	err := f.engine.Connect("n1", "out", "n2", "in")
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestConnectAppliesOptimistically(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 0, 0)
	f.seedNode("n2", 10, 10)

	require.NoError(t, f.engine.Connect("n1", "out", "n2", "in"))

	snap := f.engine.Snapshot()
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "n1", snap.Connections[0].Source)
	assert.Equal(t, []string{events.ConnectionCreate}, f.ch.EmittedEvents())
	assert.True(t, f.engine.CanUndo())
}

func TestDeleteNodeCascadesAndUndoRestoresIdentity(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 10, 10)
	f.seedNode("n2", 20, 20)
	f.seedConnection("c1", "n1", "n2")

	require.NoError(t, f.engine.DeleteNode("n1"))

	snap := f.engine.Snapshot()
	assert.Len(t, snap.Nodes, 1)
	assert.Empty(t, snap.Connections)
	assert.Equal(t, []string{events.NodeDelete}, f.ch.EmittedEvents())

	require.NoError(t, f.engine.Undo())

	// The node comes back under its original identity; the recreation
	// emission carries the recorded id so the authority reuses it.
	got, ok := f.graph.NodeByID("n1")
	require.True(t, ok)
	assert.Equal(t, valueobjects.Position{X: 10, Y: 10}, got.Position)

	last := f.lastEmitted()
	require.Equal(t, events.NodeCreate, last.Event)
	var payload events.NodeCreatePayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, "n1", payload.ID)
}

func TestUndoRedoInverseLaw(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 10, 10)

	pos := valueobjects.Position{X: 50, Y: 60}
	require.NoError(t, f.engine.UpdateNode("n1", &pos, nil))

	require.NoError(t, f.engine.Undo())
	got, _ := f.graph.NodeByID("n1")
	assert.Equal(t, valueobjects.Position{X: 10, Y: 10}, got.Position)

	require.NoError(t, f.engine.Redo())
	got, _ = f.graph.NodeByID("n1")
	assert.Equal(t, pos, got.Position)
}

func TestUndoOfRemoteCreationEmitsDelete(t *testing.T) {
	f := newEngineFixture(t)

	f.deliverNodeAck(events.NodeCreated, &entities.Node{
		ID:       "srv-1",
		Type:     entities.NodeTypeDefault,
		Position: valueobjects.Position{X: 1, Y: 1},
	})
	require.True(t, f.engine.CanUndo())

	require.NoError(t, f.engine.Undo())

	assert.Empty(t, f.engine.Snapshot().Nodes)
	assert.Equal(t, events.NodeDelete, f.lastEmitted().Event)
}

func TestBulkDeleteIsOneHistoryEntry(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("a", 0, 0)
	f.seedNode("b", 10, 10)
	f.seedNode("c", 20, 20)

	require.NoError(t, f.engine.DeleteNodes([]string{"a", "b", "ghost", "c"}))

	assert.Empty(t, f.engine.Snapshot().Nodes)
	assert.Equal(t, []string{events.NodeDeleteBulk}, f.ch.EmittedEvents())
	undoDepth, _ := f.engine.HistoryDepth()
	assert.Equal(t, 1, undoDepth)

	// One undo restores the whole selection.
	require.NoError(t, f.engine.Undo())
	assert.Len(t, f.engine.Snapshot().Nodes, 3)
}

func TestBulkDeletedAcknowledgementAppliesOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("a", 0, 0)
	f.seedNode("b", 10, 10)
	f.drainNotifications()

	ack := events.NodeDeletedAck{
		Ack: events.Ack{Status: events.StatusSuccess},
		IDs: []string{"a", "b"},
	}
	f.deliver(events.NodeDeleted, ack)
	f.deliver(events.NodeDeleted, ack)

	assert.Empty(t, f.engine.Snapshot().Nodes)

	// The duplicate delivery is dropped entirely: one state notification.
	var changed int
	for _, n := range f.drainNotifications() {
		if n.Kind == NotificationGraphChanged {
			changed++
		}
	}
	assert.Equal(t, 1, changed)
}

func TestBulkDeleteEchoDoesNotRecordHistory(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("a", 0, 0)
	f.seedNode("b", 10, 10)

	require.NoError(t, f.engine.DeleteNodes([]string{"a", "b"}))
	undoDepth, _ := f.engine.HistoryDepth()
	require.Equal(t, 1, undoDepth)

	// Echo carries the ids in a different order; the signature still matches.
	f.deliver(events.NodeDeleted, events.NodeDeletedAck{
		Ack: events.Ack{Status: events.StatusSuccess},
		IDs: []string{"b", "a"},
	})

	undoDepth, _ = f.engine.HistoryDepth()
	assert.Equal(t, 1, undoDepth)
	assert.Empty(t, f.engine.Snapshot().Nodes)
}

func TestPinLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	node := f.seedNode("n1", 0, 0)
	node.Data.Outputs = []entities.Pin{{ID: "out-default", Name: "out", Type: "flow"}}
	f.graph.UpsertNode(node)

	require.NoError(t, f.engine.AddPin("n1", entities.PinKindOutput, entities.Pin{
		ID:   "out-custom",
		Name: "extra",
		Type: "flow",
	}))
	got, _ := f.graph.NodeByID("n1")
	assert.Len(t, got.Pins(entities.PinKindOutput), 2)
	assert.Equal(t, events.PinAdd, f.lastEmitted().Event)

	// Default pins stay immutable.
	err := f.engine.UpdatePin("n1", entities.PinKindOutput, entities.Pin{
		ID:   "out-default",
		Name: "renamed",
		Type: "flow",
	})
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, events.PinAdd, f.lastEmitted().Event)

	require.NoError(t, f.engine.DeletePin("n1", entities.PinKindOutput, "out-custom"))
	got, _ = f.graph.NodeByID("n1")
	assert.Len(t, got.Pins(entities.PinKindOutput), 1)

	// Undo of the deletion restores the custom pin.
	require.NoError(t, f.engine.Undo())
	got, _ = f.graph.NodeByID("n1")
	assert.Len(t, got.Pins(entities.PinKindOutput), 2)
}

func TestPinDeletionCascadeFromAcknowledgement(t *testing.T) {
	f := newEngineFixture(t)
	node := f.seedNode("n1", 0, 0)
	node.Data.Outputs = []entities.Pin{{ID: "p1", Name: "out", Type: "flow", Custom: true}}
	f.graph.UpsertNode(node)
	f.seedNode("n2", 10, 10)
	f.seedConnection("c1", "n1", "n2")

	f.deliver(events.PinDeleted, events.PinAck{
		Ack:                events.Ack{Status: events.StatusSuccess},
		NodeID:             "n1",
		Collection:         "outputs",
		PinID:              "p1",
		DeletedConnections: []string{"c1"},
	})

	got, _ := f.graph.NodeByID("n1")
	assert.Empty(t, got.Pins(entities.PinKindOutput))
	assert.Empty(t, f.engine.Snapshot().Connections)
}

func TestCutDeletesOriginalsOnlyAfterCreationsIssued(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("a", 0, 0)
	f.seedNode("b", 10, 10)

	require.NoError(t, f.engine.Cut([]string{"a", "b"}, false))
	require.NoError(t, f.engine.Paste(valueobjects.Position{X: 100, Y: 100}))

	got := f.ch.EmittedEvents()
	require.Equal(t, []string{
		events.NodeCreate, events.NodeCreate,
		events.NodeDelete, events.NodeDelete,
	}, got)

	// Originals are gone locally, and the cut never touches the history.
	assert.Empty(t, f.engine.Snapshot().Nodes)
	assert.False(t, f.engine.CanUndo())
}

func TestPasteFlowCompletesOutOfOrder(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("a", 0, 0)
	f.seedNode("b", 50, 50)
	f.seedConnection("c1", "a", "b")

	require.NoError(t, f.engine.Copy([]string{"a", "b"}, true))
	require.NoError(t, f.engine.Paste(valueobjects.Position{X: 100, Y: 100}))
	require.Equal(t, []string{events.NodeCreate, events.NodeCreate}, f.ch.EmittedEvents())
	f.drainNotifications()

	// Acknowledgements arrive reversed.
	f.deliverNodeAck(events.NodeCreated, &entities.Node{
		ID: "srv-b", Type: entities.NodeTypeDefault,
		Position: valueobjects.Position{X: 150, Y: 150},
	})
	f.deliverNodeAck(events.NodeCreated, &entities.Node{
		ID: "srv-a", Type: entities.NodeTypeDefault,
		Position: valueobjects.Position{X: 100, Y: 100},
	})

	// Pasted nodes land in the store without history entries of their own.
	assert.Len(t, f.engine.Snapshot().Nodes, 4)
	assert.False(t, f.engine.CanUndo())

	// The staged connection goes out on the stagger schedule, remapped to
	// the server-assigned ids.
	f.clk.Advance(f.cfg.PasteStaggerDelay)
	last := f.lastEmitted()
	require.Equal(t, events.ConnectionCreate, last.Event)
	var payload events.ConnectionCreatePayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, "srv-a", payload.Connection.Source)
	assert.Equal(t, "srv-b", payload.Connection.Target)

	var completed int
	for _, n := range f.drainNotifications() {
		if n.Kind == NotificationPasteCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestPasteWithoutConnectionsCompletesOnLastMatch(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("a", 0, 0)

	require.NoError(t, f.engine.Copy([]string{"a"}, false))
	require.NoError(t, f.engine.Paste(valueobjects.Position{X: 30, Y: 30}))
	f.drainNotifications()

	f.deliverNodeAck(events.NodeCreated, &entities.Node{
		ID: "srv-a", Type: entities.NodeTypeDefault,
		Position: valueobjects.Position{X: 30, Y: 30},
	})

	var completed int
	for _, n := range f.drainNotifications() {
		if n.Kind == NotificationPasteCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestCopyRejectsOversizedSelection(t *testing.T) {
	f := newEngineFixture(t)
	ids := make([]string, f.cfg.MaxPasteNodes+1)
	for i := range ids {
		ids[i] = f.seedNode("n"+strconv.Itoa(i), 0, 0).ID
	}

	err := f.engine.Copy(ids, false)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestWorkflowDataReplacesStateAndClearsHistory(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("old", 0, 0)
	pos := valueobjects.Position{X: 5, Y: 5}
	require.NoError(t, f.engine.UpdateNode("old", &pos, nil))
	require.True(t, f.engine.CanUndo())

	f.deliver(events.WorkflowData, events.WorkflowDataPayload{
		GraphID: "graph-1",
		Nodes: []*entities.Node{
			{ID: "fresh", Type: entities.NodeTypeDefault},
		},
		Connections: nil,
	})

	snap := f.engine.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "fresh", snap.Nodes[0].ID)
	assert.False(t, f.engine.CanUndo())
	assert.False(t, f.engine.CanRedo())
}

func TestEmissionFailureSurfacesAsNotification(t *testing.T) {
	f := newEngineFixture(t)
	f.seedNode("n1", 0, 0)
	f.ch.FailWith(assert.AnError)

	pos := valueobjects.Position{X: 1, Y: 1}
	err := f.engine.UpdateNode("n1", &pos, nil)
	require.Error(t, err)

	var failed int
	for _, n := range f.drainNotifications() {
		if n.Kind == NotificationOperationFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close())
	assert.True(t, f.ch.Closed())

	err := f.engine.CreateNode(valueobjects.Position{}, entities.NodeData{})
	assert.True(t, pkgerrors.IsContext(err))
}

func TestNoteLifecycleUsesNoteEvents(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.CreateNote(valueobjects.Position{X: 1, Y: 2}, "remember", 200, 120))
	require.Equal(t, []string{events.NoteCreate}, f.ch.EmittedEvents())

	f.deliver(events.NoteCreated, events.NodeAck{
		Ack: events.Ack{Status: events.StatusSuccess},
		Data: entities.Node{
			ID:       "note-1",
			Type:     entities.NodeTypeNote,
			Position: valueobjects.Position{X: 1, Y: 2},
			Data:     entities.NodeData{Content: "remember", Width: 200, Height: 120},
		},
	})
	require.Len(t, f.engine.Snapshot().Nodes, 1)

	require.NoError(t, f.engine.DeleteNode("note-1"))
	assert.Equal(t, events.NoteDelete, f.lastEmitted().Event)

	// Undoing the note deletion recreates it through the note surface.
	require.NoError(t, f.engine.Undo())
	assert.Equal(t, events.NoteCreate, f.lastEmitted().Event)
	got, ok := f.graph.NodeByID("note-1")
	require.True(t, ok)
	assert.True(t, got.IsNote())
}

func TestResyncReemitsSnapshotRequest(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.engine.Resync())
	assert.Equal(t, events.WorkflowGet, f.lastEmitted().Event)
}
