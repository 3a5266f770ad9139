package entities

import (
	"flowsync/domain/core/valueobjects"
	pkgerrors "flowsync/pkg/errors"
)

// NodeType selects a node's capability set.
type NodeType string

const (
	// NodeTypeDefault is a regular graph node carrying a label and pins.
	NodeTypeDefault NodeType = "default"
	// NodeTypeNote is a sticky note carrying free text and optional size.
	NodeTypeNote NodeType = "sticky_note"
)

// Node is a canvas entity: a regular graph node or a sticky note.
// Its id, once assigned by the remote authority, is immutable; the store
// enforces at-most-one node per id through id-keyed upsert.
type Node struct {
	ID       string                `json:"id"`
	Type     NodeType              `json:"type"`
	Position valueobjects.Position `json:"position"`
	Data     NodeData              `json:"data"`
}

// NodeData is the type-dependent payload. Regular nodes use the label,
// visual metadata, and pin collections; notes use content and size.
type NodeData struct {
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`

	Inputs   []Pin `json:"inputs,omitempty"`
	Outputs  []Pin `json:"outputs,omitempty"`
	NextPins []Pin `json:"next_pins,omitempty"`

	Content string  `json:"content,omitempty"`
	Width   float64 `json:"width,omitempty"`
	Height  float64 `json:"height,omitempty"`
}

// IsNote reports whether the node is a sticky note.
func (n *Node) IsNote() bool {
	return n.Type == NodeTypeNote
}

// Clone returns a deep copy. The store clones on the way in and out so
// callers can never alias canonical state.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Data.Inputs = clonePins(n.Data.Inputs)
	out.Data.Outputs = clonePins(n.Data.Outputs)
	out.Data.NextPins = clonePins(n.Data.NextPins)
	return &out
}

// Pins returns the pin collection for the given kind.
func (n *Node) Pins(kind PinKind) []Pin {
	switch kind {
	case PinKindInput:
		return n.Data.Inputs
	case PinKindOutput:
		return n.Data.Outputs
	case PinKindNext:
		return n.Data.NextPins
	default:
		return nil
	}
}

func (n *Node) setPins(kind PinKind, pins []Pin) {
	switch kind {
	case PinKindInput:
		n.Data.Inputs = pins
	case PinKindOutput:
		n.Data.Outputs = pins
	case PinKindNext:
		n.Data.NextPins = pins
	}
}

// FindPin looks a pin up by id across the given collection.
func (n *Node) FindPin(kind PinKind, pinID string) (Pin, bool) {
	for _, p := range n.Pins(kind) {
		if p.ID == pinID {
			return p, true
		}
	}
	return Pin{}, false
}

// AddPin splices a pin into the named collection.
func (n *Node) AddPin(kind PinKind, pin Pin) error {
	if n.IsNote() {
		return pkgerrors.NewValidationError("sticky notes cannot carry pins")
	}
	if err := pin.Validate(); err != nil {
		return err
	}
	if _, exists := n.FindPin(kind, pin.ID); exists {
		return pkgerrors.NewConflictError("pin already exists: " + pin.ID)
	}
	n.setPins(kind, append(clonePins(n.Pins(kind)), pin))
	return nil
}

// UpdatePin replaces a pin in place. Default (non-custom) pins are
// schema-defined and cannot be changed through pin management.
func (n *Node) UpdatePin(kind PinKind, pin Pin) error {
	if err := pin.Validate(); err != nil {
		return err
	}
	existing, ok := n.FindPin(kind, pin.ID)
	if !ok {
		return pkgerrors.NewNotFoundError("pin " + pin.ID)
	}
	if !existing.Custom {
		return pkgerrors.NewValidationError("default pins cannot be modified")
	}
	pins := clonePins(n.Pins(kind))
	for i := range pins {
		if pins[i].ID == pin.ID {
			pin.Custom = true // user pins stay user pins
			pins[i] = pin
			break
		}
	}
	n.setPins(kind, pins)
	return nil
}

// RemovePin removes a pin from the named collection. Default pins are
// rejected without mutating the collection.
func (n *Node) RemovePin(kind PinKind, pinID string) error {
	existing, ok := n.FindPin(kind, pinID)
	if !ok {
		return pkgerrors.NewNotFoundError("pin " + pinID)
	}
	if !existing.Custom {
		return pkgerrors.NewValidationError("default pins cannot be removed")
	}
	old := n.Pins(kind)
	pins := make([]Pin, 0, len(old)-1)
	for _, p := range old {
		if p.ID != pinID {
			pins = append(pins, p)
		}
	}
	n.setPins(kind, pins)
	return nil
}

// Validate checks the node's structural invariants.
func (n *Node) Validate() error {
	if n.ID == "" {
		return pkgerrors.NewValidationError("node id cannot be empty")
	}
	if n.Type != NodeTypeDefault && n.Type != NodeTypeNote {
		return pkgerrors.NewValidationError("unknown node type: " + string(n.Type))
	}
	return nil
}
