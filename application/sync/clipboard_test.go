package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flowsync/domain/core/entities"
	"flowsync/domain/core/valueobjects"
	pkgerrors "flowsync/pkg/errors"
)

func clipNode(id string, x, y float64) *entities.Node {
	return &entities.Node{
		ID:       id,
		Type:     entities.NodeTypeDefault,
		Position: valueobjects.Position{X: x, Y: y},
		Data:     entities.NodeData{Label: "node " + id},
	}
}

func clipConn(id, source, target string) *entities.Connection {
	return &entities.Connection{ID: id, Source: source, Target: target}
}

func TestClipboardStageRequiresSelection(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))

	err := c.Stage(nil, nil, false, false)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.False(t, c.HasStaged())
}

func TestClipboardCommitTranslatesToTarget(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{
		clipNode("a", 10, 10),
		clipNode("b", 20, 30),
	}, nil, false, false))

	plans, err := c.CommitAt(valueobjects.Position{X: 100, Y: 100})
	require.NoError(t, err)
	require.Len(t, plans, 2)

	// The bounding-box minimum lands on the target; relative layout holds.
	assert.Equal(t, valueobjects.Position{X: 100, Y: 100}, plans[0].Position)
	assert.Equal(t, valueobjects.Position{X: 110, Y: 120}, plans[1].Position)
}

func TestClipboardRejectsConcurrentPaste(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{clipNode("a", 0, 0)}, nil, false, false))

	_, err := c.CommitAt(valueobjects.Position{X: 10, Y: 10})
	require.NoError(t, err)

	_, err = c.CommitAt(valueobjects.Position{X: 20, Y: 20})
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestClipboardMatchesAcknowledgementsOutOfOrder(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{
		clipNode("a", 0, 0),
		clipNode("b", 50, 50),
	}, []*entities.Connection{clipConn("c1", "a", "b")}, true, false))

	plans, err := c.CommitAt(valueobjects.Position{X: 100, Y: 100})
	require.NoError(t, err)

	// The second creation acknowledgement arrives first.
	assert.True(t, c.MatchCreated(clipNode("srv-b", plans[1].Position.X, plans[1].Position.Y)))
	assert.False(t, c.AllCreated())
	assert.True(t, c.MatchCreated(clipNode("srv-a", plans[0].Position.X, plans[0].Position.Y)))
	assert.True(t, c.AllCreated())

	specs := c.RemappedConnections()
	require.Len(t, specs, 1)
	assert.Equal(t, "srv-a", specs[0].Source)
	assert.Equal(t, "srv-b", specs[0].Target)
}

func TestClipboardFirstMatchWinsOnCollidingPositions(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{
		clipNode("a", 0, 0),
		clipNode("b", 0, 0),
	}, nil, false, false))

	_, err := c.CommitAt(valueobjects.Position{X: 10, Y: 10})
	require.NoError(t, err)

	// Both staged entries collide within tolerance; each acknowledgement
	// must claim exactly one.
	assert.True(t, c.MatchCreated(clipNode("srv-1", 10, 10)))
	assert.True(t, c.MatchCreated(clipNode("srv-2", 10, 10)))
	assert.True(t, c.AllCreated())
	assert.False(t, c.MatchCreated(clipNode("srv-3", 10, 10)))
}

func TestClipboardIgnoresUnmatchedType(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{clipNode("a", 0, 0)}, nil, false, false))

	_, err := c.CommitAt(valueobjects.Position{X: 10, Y: 10})
	require.NoError(t, err)

	note := clipNode("srv-1", 10, 10)
	note.Type = entities.NodeTypeNote
	assert.False(t, c.MatchCreated(note))
}

func TestClipboardDropsUnremappedConnections(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage(
		[]*entities.Node{clipNode("a", 0, 0)},
		[]*entities.Connection{clipConn("c1", "a", "outside")},
		true, false))

	plans, err := c.CommitAt(valueobjects.Position{X: 10, Y: 10})
	require.NoError(t, err)
	require.True(t, c.MatchCreated(clipNode("srv-a", plans[0].Position.X, plans[0].Position.Y)))

	assert.Empty(t, c.RemappedConnections())
}

func TestClipboardCompleteIsIdempotent(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{clipNode("a", 0, 0)}, nil, false, false))
	_, err := c.CommitAt(valueobjects.Position{X: 10, Y: 10})
	require.NoError(t, err)

	assert.True(t, c.Complete())
	assert.False(t, c.Complete())
	assert.False(t, c.Active())
}

func TestClipboardSelectionSurvivesPaste(t *testing.T) {
	c := NewClipboard(1.0, zaptest.NewLogger(t))
	require.NoError(t, c.Stage([]*entities.Node{clipNode("a", 0, 0)}, nil, false, false))

	_, err := c.CommitAt(valueobjects.Position{X: 10, Y: 10})
	require.NoError(t, err)
	require.True(t, c.Complete())

	// The same selection can be pasted again at a new target.
	plans, err := c.CommitAt(valueobjects.Position{X: 50, Y: 50})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, valueobjects.Position{X: 50, Y: 50}, plans[0].Position)
}
