// Package pipeline implements spec.md §6's declarative Parent
// constructor, start(spec) where spec = {elements, links}: a single
// call that spawns every named element under a fresh Pipeline, links
// every named edge, and hands back the running root. Grounded on the
// teacher's functional-options Pipe construction (options.go) plus its
// top-level Run(ctx, Executor) lifecycle entry point (run.go) — here
// collapsed into one call since, unlike the teacher's Pipe, a Pipeline
// is already its own always-on actor once spawned rather than a
// component a separate Run loop drives.
package pipeline

import (
	"context"
	"fmt"

	"github.com/streamgraph/core/actor"
	"github.com/streamgraph/core/element"
	"github.com/streamgraph/core/link"
	"github.com/streamgraph/core/pad"
	"github.com/streamgraph/core/parent"
	"github.com/streamgraph/core/state"
)

// Start builds a Pipeline named name, spawns every element in opts,
// links every edge in opts, and starts the pipeline's mailbox loop
// bound to ctx. It returns as soon as every link handshake has
// completed; the returned Pipeline is Stopped until Play is called.
func Start(ctx context.Context, name string, opts ...Option) (*parent.Pipeline, error) {
	var spec Spec
	for _, opt := range opts {
		opt(&spec)
	}

	p := parent.NewPipeline(name, spec.Log)
	elements := make(map[string]*element.Element, len(spec.Elements))
	for _, es := range spec.Elements {
		kind := es.Kind
		if kind == "" {
			kind = "element"
		}
		el := element.New(es.Name, kind, es.Handler, es.Inputs, es.Outputs, spec.Log)
		if _, dup := elements[es.Name]; dup {
			return nil, fmt.Errorf("pipeline: start: duplicate element name %q", es.Name)
		}
		elements[es.Name] = el
		p.Spawn(el)
	}

	go p.Run(ctx)

	for _, ls := range spec.Links {
		if err := linkEdge(p, elements, ls); err != nil {
			return nil, err
		}
	}

	if spec.ClockRatio != nil {
		p.Mailbox() <- actor.Envelope{Kind: actor.KindClockRatio, Ratio: *spec.ClockRatio}
	}

	return p, nil
}

func linkEdge(p *parent.Pipeline, elements map[string]*element.Element, ls LinkSpec) error {
	from, ok := elements[ls.From]
	if !ok {
		return fmt.Errorf("pipeline: start: link names unknown element %q", ls.From)
	}
	to, ok := elements[ls.To]
	if !ok {
		return fmt.Errorf("pipeline: start: link names unknown element %q", ls.To)
	}
	fromRef := pad.Ref{Element: ls.From, Name: ls.FromPad}
	toRef := pad.Ref{Element: ls.To, Name: ls.ToPad}
	fromRec, err := from.Pads().Get(fromRef)
	if err != nil {
		return err
	}
	toRec, err := to.Pads().Get(toRef)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	p.Link(link.Request{
		A: link.Endpoint{Box: from.Mailbox(), Pad: fromRef, Direction: pad.Output, ToiletThreshold: fromRec.ToiletThreshold},
		B: link.Endpoint{Box: to.Mailbox(), Pad: toRef, Direction: pad.Input, ToiletThreshold: toRec.ToiletThreshold},
	}, func(err error) { done <- err })

	if err := <-done; err != nil {
		return fmt.Errorf("pipeline: start: link %s.%s -> %s.%s: %w", ls.From, ls.FromPad, ls.To, ls.ToPad, err)
	}
	return nil
}

// changeStater is satisfied by *parent.Pipeline and *parent.Bin alike,
// via their embedded *parent.Parent.
type changeStater interface {
	ChangeState(target state.State) <-chan error
}

// Play requests the playing state, spec.md §6's play(parent).
func Play(p changeStater) <-chan error { return p.ChangeState(state.Playing) }

// Prepare requests the prepared state, spec.md §6's prepare(parent).
func Prepare(p changeStater) <-chan error { return p.ChangeState(state.Prepared) }

// Stop requests the stopped state, spec.md §6's stop(parent).
func Stop(p changeStater) <-chan error { return p.ChangeState(state.Stopped) }
