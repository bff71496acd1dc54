package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/streamgraph/core/element"
	"github.com/streamgraph/core/pad"
)

// ElementSpec names one child to spawn: its handler, declared pads,
// and the kind tag used for log correlation (defaults to "element").
type ElementSpec struct {
	Name    string
	Kind    string
	Handler element.Handler
	Inputs  []pad.Spec
	Outputs []pad.Spec
}

// LinkSpec names one edge to link after every element in Spec.Elements
// has been spawned.
type LinkSpec struct {
	From, FromPad string
	To, ToPad     string
}

// Spec is the declarative pipeline description Start consumes, built
// up by the With* options the way the teacher's Pipe is built from
// WithRoutes/WithMutators (options.go).
type Spec struct {
	Elements   []ElementSpec
	Links      []LinkSpec
	Log        logrus.FieldLogger
	ClockRatio *float64
}

// Option mutates a Spec under construction.
type Option func(*Spec)

// WithElements appends elements to spawn as direct children of the
// pipeline.
func WithElements(elements ...ElementSpec) Option {
	return func(s *Spec) { s.Elements = append(s.Elements, elements...) }
}

// WithLinks appends edges to link once every named element exists.
// Links run in the order given, after every element has been spawned.
func WithLinks(links ...LinkSpec) Option {
	return func(s *Spec) { s.Links = append(s.Links, links...) }
}

// WithLog sets the logger every spawned child and the pipeline itself
// are tagged with.
func WithLog(log logrus.FieldLogger) Option {
	return func(s *Spec) { s.Log = log }
}

// WithClock broadcasts an initial clock ratio to every child right
// after linking, the same KindClockRatio fan-out a running pipeline
// uses for a live source resynchronizing later (parent.broadcastClock).
func WithClock(ratio float64) Option {
	return func(s *Spec) { s.ClockRatio = &ratio }
}
