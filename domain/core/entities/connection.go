package entities

import (
	"time"

	"flowsync/domain/core/valueobjects"
	pkgerrors "flowsync/pkg/errors"
)

// Connection is a directed edge between two node pins. Unlike nodes, the
// client names connections itself at optimistic-creation time so it can
// refer to them before the remote authority has seen them.
type Connection struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// NewConnection builds a connection with a deterministic client-generated id.
// Self-loop policy lives with the caller; only structure is checked here.
func NewConnection(source, sourceHandle, target, targetHandle string, at time.Time) (*Connection, error) {
	if source == "" || target == "" {
		return nil, pkgerrors.NewValidationError("connection endpoints cannot be empty")
	}
	return &Connection{
		ID:           valueobjects.NewConnectionID(source, sourceHandle, target, targetHandle, at),
		Source:       source,
		Target:       target,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	}, nil
}

// Clone returns a copy of the connection.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Validate checks the connection's structural invariants.
func (c *Connection) Validate() error {
	if c.ID == "" {
		return pkgerrors.NewValidationError("connection id cannot be empty")
	}
	if c.Source == "" || c.Target == "" {
		return pkgerrors.NewValidationError("connection endpoints cannot be empty")
	}
	return nil
}
