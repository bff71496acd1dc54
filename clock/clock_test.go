package clock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamgraph/core/clock"
)

func TestMutateImmutablePanics(t *testing.T) {
	assert.Panics(t, func() {
		clock.Immutable().Mutate(func() {})
	})
}

func TestMutationApply(t *testing.T) {
	ctx := clock.New()
	v := 0
	m := ctx.Mutate(func() { v = 42 })

	assert.Equal(t, 0, v)
	m.Apply()
	assert.Equal(t, 42, v)
}

func TestIsMutable(t *testing.T) {
	assert.False(t, clock.Immutable().IsMutable())
	assert.True(t, clock.New().IsMutable())
}
