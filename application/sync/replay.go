package sync

import (
	"go.uber.org/zap"

	"flowsync/domain/core/entities"
	"flowsync/domain/events"
)

// Undo replays the inverse of the most recent entry. A no-op when the undo
// stack is empty.
func (e *Engine) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("undo"); err != nil {
		return err
	}
	entry, ok := e.history.Undo()
	if !ok {
		return nil
	}
	return e.replay(entry.Action, entry.Inverse, true)
}

// Redo replays the forward direction of the most recently undone entry. A
// no-op when the redo stack is empty.
func (e *Engine) Redo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureSession("redo"); err != nil {
		return err
	}
	entry, ok := e.history.Redo()
	if !ok {
		return nil
	}
	return e.replay(entry.Action, entry.Forward, false)
}

// replay applies one direction of a history entry: local mutation first,
// echo pre-marked, then the intent emission. Replays never re-enter the
// history. Called with the engine lock held.
func (e *Engine) replay(action ActionType, p HistoryPayload, undoing bool) error {
	switch action {
	case ActionNodeCreate, ActionNoteCreate:
		if undoing {
			return e.replayNodeRemoval([]string{p.NodeID}, action == ActionNoteCreate, false)
		}
		return e.replayNodeRestore([]*entities.Node{p.Node}, action == ActionNoteCreate)

	case ActionNodeDelete, ActionNoteDelete:
		if undoing {
			return e.replayNodeRestore([]*entities.Node{p.Node}, action == ActionNoteDelete)
		}
		return e.replayNodeRemoval([]string{p.NodeID}, action == ActionNoteDelete, false)

	case ActionNodeDeleteBulk:
		if undoing {
			return e.replayNodeRestore(p.Nodes, false)
		}
		return e.replayNodeRemoval(p.NodeIDs, false, true)

	case ActionNodeUpdate, ActionNoteUpdate:
		return e.replayNodeUpdate(p, action == ActionNoteUpdate)

	case ActionConnectionCreate:
		if undoing {
			return e.replayConnectionRemoval(p.ConnectionID)
		}
		return e.replayConnectionRestore(p.Connection)

	case ActionConnectionDelete:
		if undoing {
			return e.replayConnectionRestore(p.Connection)
		}
		return e.replayConnectionRemoval(p.ConnectionID)

	case ActionPinAdd:
		if undoing {
			return e.replayPin(p, pinReplayRemove)
		}
		return e.replayPin(p, pinReplayAdd)

	case ActionPinUpdate:
		return e.replayPin(p, pinReplayUpdate)

	case ActionPinDelete:
		if undoing {
			return e.replayPin(p, pinReplayAdd)
		}
		return e.replayPin(p, pinReplayRemove)
	}

	e.logger.Warn("unreplayable history entry", zap.String("action", string(action)))
	return nil
}

// replayNodeRestore recreates previously deleted nodes under their old
// identity: the creation emission carries the recorded id, and the
// resulting acknowledgement is pre-marked so it applies as an echo rather
// than a fresh remote creation.
func (e *Engine) replayNodeRestore(nodes []*entities.Node, isNote bool) error {
	createEvent, ackEvent := events.NodeCreate, events.NodeCreated
	if isNote {
		createEvent, ackEvent = events.NoteCreate, events.NoteCreated
	}

	for _, node := range nodes {
		if node == nil {
			continue
		}
		e.graph.UpsertNode(node)
		e.suppressor.MarkPending(ackEvent, node.ID)
		e.publishChanged(node.ID)
		if err := e.emit(createEvent, events.NodeCreatePayload{
			GraphID:  e.session.GraphID,
			ID:       node.ID,
			Type:     node.Type,
			Position: node.Position,
			Data:     node.Data,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replayNodeRemoval(ids []string, isNote, bulk bool) error {
	e.removeNodesLocally(ids)
	e.publishChanged(ids...)

	if bulk {
		e.suppressor.MarkPending(events.NodeDeleted, ids...)
		return e.emit(events.NodeDeleteBulk, events.NodeDeleteBulkPayload{
			GraphID: e.session.GraphID,
			IDs:     ids,
		})
	}

	deleteEvent, ackEvent := events.NodeDelete, events.NodeDeleted
	if isNote {
		deleteEvent, ackEvent = events.NoteDelete, events.NoteDeleted
	}
	for _, id := range ids {
		e.suppressor.MarkPending(ackEvent, id)
		if err := e.emit(deleteEvent, events.NodeDeletePayload{
			GraphID: e.session.GraphID,
			ID:      id,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replayNodeUpdate(p HistoryPayload, isNote bool) error {
	node, ok := e.graph.NodeByID(p.NodeID)
	if !ok {
		// The node was deleted remotely after this entry was recorded.
		e.logger.Warn("replay target gone", zap.String("node_id", p.NodeID))
		return nil
	}
	if p.Position != nil {
		node.Position = *p.Position
	}
	if p.Data != nil {
		node.Data = *p.Data
	}
	e.graph.UpsertNode(node)

	updateEvent, ackEvent := events.NodeUpdate, events.NodeUpdated
	if isNote {
		updateEvent, ackEvent = events.NoteUpdate, events.NoteUpdated
	}
	e.suppressor.MarkPending(ackEvent, p.NodeID)
	e.publishChanged(p.NodeID)
	return e.emit(updateEvent, events.NodeUpdatePayload{
		GraphID:  e.session.GraphID,
		ID:       p.NodeID,
		Position: p.Position,
		Data:     p.Data,
	})
}

func (e *Engine) replayConnectionRestore(conn *entities.Connection) error {
	if conn == nil {
		return nil
	}
	e.graph.UpsertConnection(conn)
	e.suppressor.MarkPending(events.ConnectionCreated, conn.ID)
	e.publishChanged(conn.ID)
	return e.emit(events.ConnectionCreate, events.ConnectionCreatePayload{
		GraphID:    e.session.GraphID,
		Connection: *conn,
	})
}

func (e *Engine) replayConnectionRemoval(id string) error {
	e.graph.RemoveConnections([]string{id})
	e.suppressor.MarkPending(events.ConnectionDeleted, id)
	e.publishChanged(id)
	return e.emit(events.ConnectionDelete, events.ConnectionDeletePayload{
		GraphID: e.session.GraphID,
		ID:      id,
	})
}

type pinReplayOp int

const (
	pinReplayAdd pinReplayOp = iota
	pinReplayUpdate
	pinReplayRemove
)

func (e *Engine) replayPin(p HistoryPayload, op pinReplayOp) error {
	node, ok := e.graph.NodeByID(p.PinNodeID)
	if !ok {
		e.logger.Warn("replay target gone", zap.String("node_id", p.PinNodeID))
		return nil
	}

	var err error
	payload := events.PinPayload{
		GraphID:    e.session.GraphID,
		NodeID:     p.PinNodeID,
		Collection: p.PinKind.CollectionName(),
	}
	var emitEvent, ackEvent, pinID string

	switch op {
	case pinReplayAdd:
		err = node.AddPin(p.PinKind, *p.Pin)
		payload.Pin = p.Pin
		emitEvent, ackEvent, pinID = events.PinAdd, events.PinAdded, p.Pin.ID
	case pinReplayUpdate:
		err = node.UpdatePin(p.PinKind, *p.Pin)
		payload.Pin = p.Pin
		emitEvent, ackEvent, pinID = events.PinUpdate, events.PinUpdated, p.Pin.ID
	case pinReplayRemove:
		id := p.PinID
		if id == "" && p.Pin != nil {
			id = p.Pin.ID
		}
		err = node.RemovePin(p.PinKind, id)
		payload.PinID = id
		emitEvent, ackEvent, pinID = events.PinDelete, events.PinDeleted, id
	}
	if err != nil {
		e.logger.Warn("pin replay rejected", zap.String("node_id", p.PinNodeID), zap.Error(err))
		return nil
	}

	e.graph.UpsertNode(node)
	e.suppressor.MarkPending(ackEvent, p.PinNodeID, pinID)
	e.publishChanged(p.PinNodeID)
	return e.emit(emitEvent, payload)
}
