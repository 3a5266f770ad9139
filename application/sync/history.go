package sync

import (
	"sync"

	"go.uber.org/zap"

	"flowsync/domain/core/entities"
	"flowsync/domain/core/valueobjects"
	"flowsync/pkg/observability"
)

// ActionType tags a history entry with the operation it records.
type ActionType string

const (
	ActionNodeCreate       ActionType = "NODE_CREATE"
	ActionNodeUpdate       ActionType = "NODE_UPDATE"
	ActionNodeDelete       ActionType = "NODE_DELETE"
	ActionNodeDeleteBulk   ActionType = "NODE_DELETE_BULK"
	ActionNoteCreate       ActionType = "NOTE_CREATE"
	ActionNoteUpdate       ActionType = "NOTE_UPDATE"
	ActionNoteDelete       ActionType = "NOTE_DELETE"
	ActionPinAdd           ActionType = "PIN_ADD"
	ActionPinUpdate        ActionType = "PIN_UPDATE"
	ActionPinDelete        ActionType = "PIN_DELETE"
	ActionConnectionCreate ActionType = "CONNECTION_CREATE"
	ActionConnectionDelete ActionType = "CONNECTION_DELETE"
)

// HistoryPayload is the data one direction of a history entry needs for
// replay. Which fields are set depends on the action type.
type HistoryPayload struct {
	Node    *entities.Node
	Nodes   []*entities.Node
	NodeID  string
	NodeIDs []string

	Position *valueobjects.Position
	Data     *entities.NodeData

	Connection   *entities.Connection
	ConnectionID string

	PinNodeID string
	PinKind   entities.PinKind
	Pin       *entities.Pin
	PinID     string
}

// HistoryEntry records one user-initiated mutation. The inverse payload is
// computed at record time, not at undo time: the data needed to invert a
// delete only exists before the delete is applied.
type HistoryEntry struct {
	Action  ActionType
	Forward HistoryPayload
	Inverse HistoryPayload
}

// History is the undo/redo engine: a state machine over two stacks. Pushing
// a new entry after an undo clears the redo stack, so there is no redo
// branching.
type History struct {
	mu       sync.Mutex
	undo     []HistoryEntry
	redo     []HistoryEntry
	maxDepth int
	logger   *zap.Logger
}

// NewHistory creates a history with a bounded undo stack.
func NewHistory(maxDepth int, logger *zap.Logger) *History {
	return &History{maxDepth: maxDepth, logger: logger}
}

// Record pushes a new entry and clears the redo stack.
func (h *History) Record(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.undo = append(h.undo, entry)
	if len(h.undo) > h.maxDepth {
		h.undo = h.undo[len(h.undo)-h.maxDepth:]
	}
	h.redo = nil
	observability.UndoDepth.Set(float64(len(h.undo)))
	h.logger.Debug("recorded history entry",
		zap.String("action", string(entry.Action)),
		zap.Int("undoDepth", len(h.undo)))
}

// Undo pops the most recent entry onto the redo stack and returns it for
// inverse replay. Returns false when there is nothing to undo.
func (h *History) Undo() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.undo) == 0 {
		return HistoryEntry{}, false
	}
	entry := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, entry)
	observability.UndoDepth.Set(float64(len(h.undo)))
	return entry, true
}

// Redo pops the most recently undone entry back onto the undo stack and
// returns it for forward replay.
func (h *History) Redo() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.redo) == 0 {
		return HistoryEntry{}, false
	}
	entry := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, entry)
	observability.UndoDepth.Set(float64(len(h.undo)))
	return entry, true
}

// CanUndo reports whether the undo stack is non-empty.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Depth returns the current undo and redo stack depths.
func (h *History) Depth() (undo, redo int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo), len(h.redo)
}

// Clear drops both stacks. Called when a full snapshot replaces local state,
// because old entries may reference entities that no longer exist.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = nil
	h.redo = nil
	observability.UndoDepth.Set(0)
}
