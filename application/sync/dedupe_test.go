package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"flowsync/pkg/clock"
)

func TestDedupGuardAllowsFirstDelivery(t *testing.T) {
	clk := clock.NewFake()
	g := NewDedupGuard(5*time.Second, clk, zaptest.NewLogger(t))

	assert.True(t, g.ShouldApply([]string{"a", "b"}))
}

func TestDedupGuardBlocksRepeatWithinWindow(t *testing.T) {
	clk := clock.NewFake()
	g := NewDedupGuard(5*time.Second, clk, zaptest.NewLogger(t))

	assert.True(t, g.ShouldApply([]string{"a", "b"}))
	assert.False(t, g.ShouldApply([]string{"b", "a"}))
}

func TestDedupGuardForgetsAfterWindow(t *testing.T) {
	clk := clock.NewFake()
	g := NewDedupGuard(5*time.Second, clk, zaptest.NewLogger(t))

	assert.True(t, g.ShouldApply([]string{"a", "b"}))
	clk.Advance(5 * time.Second)
	assert.True(t, g.ShouldApply([]string{"a", "b"}))
}

func TestDedupGuardDistinguishesIDSets(t *testing.T) {
	clk := clock.NewFake()
	g := NewDedupGuard(5*time.Second, clk, zaptest.NewLogger(t))

	assert.True(t, g.ShouldApply([]string{"a", "b"}))
	assert.True(t, g.ShouldApply([]string{"a", "c"}))
}

func TestDedupGuardRejectsEmptySet(t *testing.T) {
	clk := clock.NewFake()
	g := NewDedupGuard(5*time.Second, clk, zaptest.NewLogger(t))

	assert.False(t, g.ShouldApply(nil))
}
