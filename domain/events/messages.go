// Package events defines the message surface exchanged with the remote
// authority over the channel: event names, outbound intent payloads, and
// inbound acknowledgement shapes.
package events

import (
	"flowsync/domain/core/entities"
	"flowsync/domain/core/valueobjects"
)

// Outbound intent events.
const (
	NodeCreate       = "node:create"
	NodeUpdate       = "node:update"
	NodeDelete       = "node:delete"
	NodeDeleteBulk   = "node:delete_bulk"
	NoteCreate       = "note:create"
	NoteUpdate       = "note:update"
	NoteDelete       = "note:delete"
	ConnectionCreate = "connection:create"
	ConnectionDelete = "connection:delete"
	PinAdd           = "pin:add"
	PinUpdate        = "pin:update"
	PinDelete        = "pin:delete"
	WorkflowGet      = "workflow:get"
)

// Inbound acknowledgement / echo events.
const (
	NodeCreated       = "node:created"
	NodeUpdated       = "node:updated"
	NodeDeleted       = "node:deleted"
	NoteCreated       = "note:created"
	NoteUpdated       = "note:updated"
	NoteDeleted       = "note:deleted"
	ConnectionCreated = "connection:created"
	ConnectionDeleted = "connection:deleted"
	PinAdded          = "pin:added"
	PinUpdated        = "pin:updated"
	PinDeleted        = "pin:deleted"
	WorkflowData      = "workflow:data"
)

// Status discriminator carried by every inbound acknowledgement.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Ack carries the status discriminator common to all inbound messages.
// A failed status must never reach the graph store.
type Ack struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the acknowledgement carries a remote rejection.
func (a Ack) Failed() bool {
	return a.Status != StatusSuccess
}

// Outbound payloads

// NodeCreatePayload requests creation of a node. Fresh creations carry no
// id — the remote authority assigns the final one. History replay sets ID
// to recreate a previously deleted node under its old identity.
type NodeCreatePayload struct {
	GraphID  string                `json:"graph_id"`
	ID       string                `json:"id,omitempty"`
	Type     entities.NodeType     `json:"type"`
	Position valueobjects.Position `json:"position"`
	Data     entities.NodeData     `json:"data"`
}

// NodeUpdatePayload carries only the fields being changed.
type NodeUpdatePayload struct {
	GraphID  string                 `json:"graph_id"`
	ID       string                 `json:"id"`
	Position *valueobjects.Position `json:"position,omitempty"`
	Data     *entities.NodeData     `json:"data,omitempty"`
}

// NodeDeletePayload requests deletion of a single node.
type NodeDeletePayload struct {
	GraphID string `json:"graph_id"`
	ID      string `json:"id"`
}

// NodeDeleteBulkPayload requests deletion of several nodes at once.
type NodeDeleteBulkPayload struct {
	GraphID string   `json:"graph_id"`
	IDs     []string `json:"ids"`
}

// ConnectionCreatePayload requests creation of an edge. Connection ids are
// client-generated, so the full connection travels out.
type ConnectionCreatePayload struct {
	GraphID    string              `json:"graph_id"`
	Connection entities.Connection `json:"connection"`
}

// ConnectionDeletePayload requests deletion of an edge.
type ConnectionDeletePayload struct {
	GraphID string `json:"graph_id"`
	ID      string `json:"id"`
}

// PinPayload carries a pin mutation targeting a named collection on a node.
// For pin:delete only PinID is set.
type PinPayload struct {
	GraphID    string        `json:"graph_id"`
	NodeID     string        `json:"node_id"`
	Collection string        `json:"pin_collection"`
	Pin        *entities.Pin `json:"pin,omitempty"`
	PinID      string        `json:"pin_id,omitempty"`
}

// WorkflowGetPayload requests the full graph snapshot (cold start and
// reconnect resync).
type WorkflowGetPayload struct {
	GraphID string `json:"graph_id"`
}

// Inbound payloads

// NodeAck confirms a node create/update. Data carries the authoritative
// node, including the server-assigned id on creation.
type NodeAck struct {
	Ack
	Data entities.Node `json:"data"`
}

// NodeDeletedAck confirms node deletion; either ID or IDs is set.
type NodeDeletedAck struct {
	Ack
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids,omitempty"`
}

// DeletedIDs normalizes single and bulk deletions to a list.
func (a NodeDeletedAck) DeletedIDs() []string {
	if len(a.IDs) > 0 {
		return a.IDs
	}
	if a.ID != "" {
		return []string{a.ID}
	}
	return nil
}

// ConnectionAck confirms a connection creation.
type ConnectionAck struct {
	Ack
	Data entities.Connection `json:"data"`
}

// ConnectionDeletedAck confirms a connection deletion.
type ConnectionDeletedAck struct {
	Ack
	ID string `json:"id"`
}

// PinAck confirms a pin mutation. DeletedConnections lists edge ids the
// authority cascade-removed alongside a deleted pin.
type PinAck struct {
	Ack
	NodeID             string        `json:"node_id"`
	Collection         string        `json:"pin_collection"`
	Pin                *entities.Pin `json:"pin,omitempty"`
	PinID              string        `json:"pin_id,omitempty"`
	DeletedConnections []string      `json:"deleted_connections,omitempty"`
}

// WorkflowDataPayload is the complete snapshot from which full local state
// is always reconstructable. Notes travel as note-typed nodes.
type WorkflowDataPayload struct {
	GraphID     string                 `json:"graph_id"`
	Nodes       []*entities.Node       `json:"nodes"`
	Connections []*entities.Connection `json:"connections"`
}
