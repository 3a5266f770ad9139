package valueobjects

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionIDIsDeterministic(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewConnectionID("a", "out", "b", "in", at)
	second := NewConnectionID("a", "out", "b", "in", at)

	assert.Equal(t, first, second)
	_, err := uuid.Parse(first)
	require.NoError(t, err)
}

func TestConnectionIDVariesWithInputs(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := NewConnectionID("a", "out", "b", "in", at)

	assert.NotEqual(t, base, NewConnectionID("a", "out", "c", "in", at))
	assert.NotEqual(t, base, NewConnectionID("a", "out2", "b", "in", at))
	assert.NotEqual(t, base, NewConnectionID("a", "out", "b", "in", at.Add(time.Nanosecond)))
}
