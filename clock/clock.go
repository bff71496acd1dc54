// Package clock holds a mutation primitive, grounded on the teacher's
// mutable.Context/Mutation/Pusher (mutable/mutable.go,
// mutable/pusher.go): a Context identifies a mutable actor and a
// Mutation pairs a closure with it. No other package of this module
// builds or applies a Mutation. The package also defines RatioUpdate,
// the clock-ratio value elements receive.
package clock

import "crypto/rand"

type (
	// Context identifies a mutable actor (element, bin or pipeline).
	// The zero Context is Immutable and cannot be mutated.
	Context [16]byte

	// Mutation pairs a mutator closure with the Context it targets.
	Mutation struct {
		Context
		fn func()
	}
)

var immutable = Context{}

// New returns a fresh, unique mutable Context.
func New() Context {
	var c Context
	_, _ = rand.Read(c[:])
	return c
}

// Immutable returns the zero Context, used by components that never
// accept runtime mutation.
func Immutable() Context { return immutable }

// IsMutable reports whether c can accept mutations.
func (c Context) IsMutable() bool { return c != immutable }

// Mutate builds a Mutation bound to c. Panics if c is immutable: a
// mutation with no addressable target is a programmer error, not a
// runtime condition to recover from.
func (c Context) Mutate(fn func()) Mutation {
	if !c.IsMutable() {
		panic("clock: mutate immutable context")
	}
	return Mutation{Context: c, fn: fn}
}

// Apply runs the mutation's closure.
func (m Mutation) Apply() {
	m.fn()
}

// RatioUpdate carries a new playback rate ratio between the pipeline
// clock and an element's local clock (e.g. a live source resampling to
// the pipeline's reference clock). An element that receives a
// KindClockRatio envelope passes it, as a RatioUpdate value, to its
// OtherHandler.
type RatioUpdate struct {
	Ratio float64
}
