package config

import "time"

// DomainConfig holds the configurable business rules of the sync core.
// These are the protocol's tunable knobs: suppression windows, paste
// matching tolerance, and structural limits on a single editing session.
type DomainConfig struct {
	// Duplicate-delivery windows
	EchoSuppressionTTL time.Duration
	DedupGuardTTL      time.Duration

	// Paste coordination
	PasteMatchTolerance float64
	PasteStaggerDelay   time.Duration
	MaxPasteNodes       int

	// History constraints
	MaxHistoryDepth int

	// Validation settings
	AllowSelfConnections bool
	AllowDuplicateEdges  bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		EchoSuppressionTTL: 5 * time.Second,
		DedupGuardTTL:      5 * time.Second,

		PasteMatchTolerance: 1.0,
		PasteStaggerDelay:   100 * time.Millisecond,
		MaxPasteNodes:       200,

		MaxHistoryDepth: 100,

		AllowSelfConnections: false,
		AllowDuplicateEdges:  false,
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.EchoSuppressionTTL <= 0 {
		c.EchoSuppressionTTL = 5 * time.Second
	}
	if c.DedupGuardTTL <= 0 {
		c.DedupGuardTTL = 5 * time.Second
	}
	if c.PasteMatchTolerance < 0 {
		c.PasteMatchTolerance = 0
	}
	if c.MaxHistoryDepth <= 0 {
		c.MaxHistoryDepth = 100
	}
	return nil
}
