package sync

import (
	"encoding/json"

	"go.uber.org/zap"

	"flowsync/domain/core/entities"
	"flowsync/domain/events"
	"flowsync/pkg/observability"
)

// subscribe registers every inbound handler on the channel. Each handler is
// wrapped so a decode failure or panic is contained to the one message.
func (e *Engine) subscribe() {
	on := func(event string, handler func(json.RawMessage)) {
		e.channel.On(event, e.dispatch(event, handler))
	}

	on(events.NodeCreated, e.onNodeCreated(ActionNodeCreate))
	on(events.NoteCreated, e.onNodeCreated(ActionNoteCreate))
	on(events.NodeUpdated, e.onNodeUpdated(events.NodeUpdated))
	on(events.NoteUpdated, e.onNodeUpdated(events.NoteUpdated))
	on(events.NodeDeleted, e.onNodeDeleted(events.NodeDeleted))
	on(events.NoteDeleted, e.onNodeDeleted(events.NoteDeleted))
	on(events.ConnectionCreated, e.onConnectionCreated)
	on(events.ConnectionDeleted, e.onConnectionDeleted)
	on(events.PinAdded, e.onPinMutated(events.PinAdded))
	on(events.PinUpdated, e.onPinMutated(events.PinUpdated))
	on(events.PinDeleted, e.onPinMutated(events.PinDeleted))
	on(events.WorkflowData, e.onWorkflowData)
}

// dispatch is the inbound boundary: nothing a handler does may propagate
// back into the transport.
func (e *Engine) dispatch(event string, handler func(json.RawMessage)) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("inbound handler panicked",
					zap.String("event", event), zap.Any("panic", r))
			}
		}()
		observability.MessagesReceived.WithLabelValues(event).Inc()
		handler(raw)
	}
}

// rejected handles a failed acknowledgement: notify, never mutate.
func (e *Engine) rejected(event string, a events.Ack) bool {
	if !a.Failed() {
		return false
	}
	observability.RemoteRejections.Inc()
	e.logger.Warn("remote rejection", zap.String("event", event), zap.String("error", a.Error))
	e.hub.Publish(Notification{
		Kind:    NotificationRemoteRejected,
		Message: a.Error,
	})
	return true
}

// onNodeCreated routes a creation acknowledgement three ways: a pre-marked
// echo applies without a history entry, an active paste session claims it
// via match, and anything else is a genuine creation that records history
// so local undo can remove remotely pasted nodes too.
func (e *Engine) onNodeCreated(action ActionType) func(json.RawMessage) {
	event := events.NodeCreated
	if action == ActionNoteCreate {
		event = events.NoteCreated
	}
	return func(raw json.RawMessage) {
		var ack events.NodeAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			e.logger.Error("malformed acknowledgement", zap.String("event", event), zap.Error(err))
			return
		}
		if e.rejected(event, ack.Ack) {
			return
		}
		node := &ack.Data
		if node.ID == "" {
			e.logger.Error("creation acknowledgement without id", zap.String("event", event))
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.suppressor.IsPending(event, node.ID) {
			e.graph.UpsertNode(node)
			e.publishChanged(node.ID)
			return
		}
		if e.clipboard.Active() && e.clipboard.MatchCreated(node) {
			e.graph.UpsertNode(node)
			e.publishChanged(node.ID)
			e.onPasteProgress()
			return
		}

		e.graph.UpsertNode(node)
		e.history.Record(HistoryEntry{
			Action:  action,
			Forward: HistoryPayload{Node: node.Clone()},
			Inverse: HistoryPayload{NodeID: node.ID},
		})
		e.publishChanged(node.ID)
	}
}

func (e *Engine) onNodeUpdated(event string) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var ack events.NodeAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			e.logger.Error("malformed acknowledgement", zap.String("event", event), zap.Error(err))
			return
		}
		if e.rejected(event, ack.Ack) {
			return
		}
		node := &ack.Data
		if node.ID == "" {
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		// Suppression consumes the entry either way; the upsert is applied
		// regardless because the acknowledgement is authoritative.
		e.suppressor.IsPending(event, node.ID)
		e.graph.UpsertNode(node)
		e.publishChanged(node.ID)
	}
}

func (e *Engine) onNodeDeleted(event string) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var ack events.NodeDeletedAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			e.logger.Error("malformed acknowledgement", zap.String("event", event), zap.Error(err))
			return
		}
		if e.rejected(event, ack.Ack) {
			return
		}
		ids := ack.DeletedIDs()
		if len(ids) == 0 {
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		// Bulk deletions can be delivered more than once (broadcast plus
		// direct acknowledgement); the guard collapses them to one apply.
		if len(ids) > 1 && !e.guard.ShouldApply(ids) {
			return
		}
		e.suppressor.IsPending(event, ids...)
		e.removeNodesLocally(ids)
		e.publishChanged(ids...)
	}
}

func (e *Engine) onConnectionCreated(raw json.RawMessage) {
	var ack events.ConnectionAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		e.logger.Error("malformed acknowledgement", zap.String("event", events.ConnectionCreated), zap.Error(err))
		return
	}
	if e.rejected(events.ConnectionCreated, ack.Ack) {
		return
	}
	conn := &ack.Data
	if conn.ID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.suppressor.IsPending(events.ConnectionCreated, conn.ID)
	e.graph.UpsertConnection(conn)
	e.publishChanged(conn.ID)
}

func (e *Engine) onConnectionDeleted(raw json.RawMessage) {
	var ack events.ConnectionDeletedAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		e.logger.Error("malformed acknowledgement", zap.String("event", events.ConnectionDeleted), zap.Error(err))
		return
	}
	if e.rejected(events.ConnectionDeleted, ack.Ack) {
		return
	}
	if ack.ID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.suppressor.IsPending(events.ConnectionDeleted, ack.ID)
	e.graph.RemoveConnections([]string{ack.ID})
	e.publishChanged(ack.ID)
}

// onPinMutated splices the acknowledged pin state into the target node and
// applies any cascade of connection deletions the authority performed.
func (e *Engine) onPinMutated(event string) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		var ack events.PinAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			e.logger.Error("malformed acknowledgement", zap.String("event", event), zap.Error(err))
			return
		}
		if e.rejected(event, ack.Ack) {
			return
		}
		kind, err := entities.KindForCollection(ack.Collection)
		if err != nil {
			e.logger.Error("unknown pin collection",
				zap.String("event", event), zap.String("collection", ack.Collection))
			return
		}
		pinID := ack.PinID
		if pinID == "" && ack.Pin != nil {
			pinID = ack.Pin.ID
		}
		if pinID == "" {
			return
		}
		if event != events.PinDeleted && ack.Pin == nil {
			e.logger.Error("pin acknowledgement without pin body", zap.String("event", event))
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()

		e.suppressor.IsPending(event, ack.NodeID, pinID)

		node, ok := e.graph.NodeByID(ack.NodeID)
		if !ok {
			e.logger.Warn("pin acknowledgement for unknown node", zap.String("node_id", ack.NodeID))
			return
		}
		switch event {
		case events.PinAdded:
			err = node.AddPin(kind, *ack.Pin)
		case events.PinUpdated:
			err = node.UpdatePin(kind, *ack.Pin)
		case events.PinDeleted:
			err = node.RemovePin(kind, pinID)
		}
		if err != nil {
			// Echoes of local splices land here; the state already matches.
			e.logger.Debug("pin acknowledgement not applied",
				zap.String("event", event), zap.Error(err))
		} else {
			e.graph.UpsertNode(node)
		}

		if len(ack.DeletedConnections) > 0 {
			e.graph.RemoveConnections(ack.DeletedConnections)
		}
		e.publishChanged(ack.NodeID)
	}
}

// onWorkflowData replaces local state with the authoritative snapshot. The
// history is cleared: entries recorded against the previous state have no
// meaningful replay targets afterwards.
func (e *Engine) onWorkflowData(raw json.RawMessage) {
	var payload events.WorkflowDataPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.logger.Error("malformed snapshot", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.graph.ReplaceNodes(payload.Nodes)
	e.graph.ReplaceConnections(payload.Connections)
	e.history.Clear()
	e.logger.Info("snapshot applied",
		zap.String("graph_id", payload.GraphID),
		zap.Int("nodes", len(payload.Nodes)),
		zap.Int("connections", len(payload.Connections)))
	e.publishChanged()
}
