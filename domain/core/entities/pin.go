package entities

import (
	pkgerrors "flowsync/pkg/errors"
)

// PinKind selects which named collection on a node's data a pin lives in.
type PinKind string

const (
	PinKindInput  PinKind = "input"
	PinKindOutput PinKind = "output"
	PinKindNext   PinKind = "next"
)

// Collection names as they appear in node data and on the wire.
const (
	CollectionInputs   = "inputs"
	CollectionOutputs  = "outputs"
	CollectionNextPins = "next_pins"
)

// CollectionName returns the node-data collection the kind maps to.
func (k PinKind) CollectionName() string {
	switch k {
	case PinKindInput:
		return CollectionInputs
	case PinKindOutput:
		return CollectionOutputs
	case PinKindNext:
		return CollectionNextPins
	default:
		return ""
	}
}

// KindForCollection resolves a wire collection name back to a PinKind.
func KindForCollection(collection string) (PinKind, error) {
	switch collection {
	case CollectionInputs:
		return PinKindInput, nil
	case CollectionOutputs:
		return PinKindOutput, nil
	case CollectionNextPins:
		return PinKindNext, nil
	default:
		return "", pkgerrors.NewValidationError("unknown pin collection: " + collection)
	}
}

// Pin is a named connection point on a node. Custom pins are user-added and
// may be renamed or removed; default pins come from the node's schema and
// are immutable through pin-management operations.
type Pin struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
	Custom   bool   `json:"custom"`
}

// Validate checks the pin's structural invariants.
func (p Pin) Validate() error {
	if p.ID == "" {
		return pkgerrors.NewValidationError("pin id cannot be empty")
	}
	if p.Name == "" {
		return pkgerrors.NewValidationError("pin name cannot be empty")
	}
	return nil
}

func clonePins(pins []Pin) []Pin {
	if pins == nil {
		return nil
	}
	out := make([]Pin, len(pins))
	copy(out, pins)
	return out
}
