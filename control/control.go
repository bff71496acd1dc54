// Package control implements the spec's stream controllers: each
// validates ordering, updates pad state, invokes the owning element's
// matching callback and interprets the returned actions. Controllers
// are injected with a Callbacks implementation (the element) so they
// can be unit tested against a fake, the same way the teacher tests its
// runners against pipe/pump, pipe/processor, pipe/sink fakes.
package control

import (
	"github.com/streamgraph/core/errs"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
)

// Action is the tagged union of values an element callback may return,
// interpreted in order by the controller that invoked the callback.
type ActionKind int

const (
	ActionBuffer ActionKind = iota
	ActionCaps
	ActionEvent
	ActionDemand
	ActionRedemand
	ActionForward
	ActionNotify
	ActionPlaybackChangeSuccessful
)

// ForwardTarget selects the pad set for an ActionForward.
type ForwardTarget int

const (
	// ForwardAll means "emit the same kind on each pad with the
	// opposite direction."
	ForwardAll ForwardTarget = iota
	// ForwardList restricts the forward to an explicit pad list.
	ForwardList
)

// Action is one element of the ordered action list returned by an
// element callback.
type Action struct {
	Kind ActionKind

	Pad     pad.Ref
	Buffers []media.Buffer
	Caps    media.Caps
	Event   media.Event
	Size    *int // nil on ActionDemand means "apply DemandFn instead"
	DemandFn func(current int) int

	Forward     ForwardTarget
	ForwardPads []pad.Ref
	ForwardWhat ActionKind // one of ActionCaps, ActionEvent, ActionBuffer

	Notify interface{}
}

// Callbacks is the subset of the element callback contract the stream
// controllers drive directly.
type Callbacks interface {
	HandleCaps(ref pad.Ref, c media.Caps) ([]Action, error)
	HandleProcess(ref pad.Ref, bs []media.Buffer) ([]Action, error)
	HandleEvent(ref pad.Ref, e media.Event) ([]Action, error)
	HandleDemand(ref pad.Ref, size int, unit media.DemandUnit) ([]Action, error)
}

// Sink is implemented by the element actor to carry out the side
// effects an Action requires: emitting on a pad, changing its own
// demand, notifying its parent, forwarding to peers.
type Sink interface {
	EmitBuffers(ref pad.Ref, bs []media.Buffer) error
	EmitCaps(ref pad.Ref, c media.Caps) error
	EmitEvent(ref pad.Ref, e media.Event) error
	SetDemand(ref pad.Ref, size *int, fn func(int) int) error
	Redemand(ref pad.Ref) error
	Notify(payload interface{}) error
	NotifyStreamEvent(ref pad.Ref, e media.Event) error
	PlaybackChangeSuccessful() error
	OppositePads(ref pad.Ref) []pad.Ref
}

// Controllers bundles the four stream controllers bound to one
// element's PadModel, Callbacks and Sink.
type Controllers struct {
	Pads *pad.Model
	CB   Callbacks
	Out  Sink
}

// Caps implements CapsController: validates the new caps against the
// pad's declared constraint, stores them, invokes handle_caps, and
// interprets the returned actions.
func (c *Controllers) Caps(ref pad.Ref, caps media.Caps) error {
	rec, err := c.Pads.Get(ref)
	if err != nil {
		return err
	}
	if constraint, ok := rec.Constraint.(media.Caps); ok {
		if !caps.Matches(constraint) {
			return errs.NewCapsMismatch(ref.String(), caps)
		}
	}
	if err := c.Pads.Update(ref, func(r *pad.Record) {
		r.Caps = caps
		r.HasCaps = true
	}); err != nil {
		return err
	}

	actions, err := c.CB.HandleCaps(ref, caps)
	if err != nil {
		return &errs.CallbackError{Element: ref.Element, Callback: "handle_caps", Err: err}
	}
	return c.Interpret(ref, actions)
}

// Event implements EventController: routes by kind, setting the
// start/end-of-stream flags and informing the owning element's parent,
// in that order, before the user-visible handle_event callback runs.
func (c *Controllers) Event(ref pad.Ref, ev media.Event) error {
	switch ev.Kind {
	case media.StartOfStream:
		if err := c.Pads.Update(ref, func(r *pad.Record) { r.StartOfStreamSent = true }); err != nil {
			return err
		}
		if err := c.Out.NotifyStreamEvent(ref, ev); err != nil {
			return err
		}
	case media.EndOfStream:
		if err := c.Pads.Update(ref, func(r *pad.Record) { r.EndOfStreamSent = true }); err != nil {
			return err
		}
		if err := c.Out.NotifyStreamEvent(ref, ev); err != nil {
			return err
		}
	}

	actions, err := c.CB.HandleEvent(ref, ev)
	if err != nil {
		return &errs.CallbackError{Element: ref.Element, Callback: "handle_event", Err: err}
	}
	return c.Interpret(ref, actions)
}

// Buffers implements BufferController: rejects buffers arriving before
// caps were sent on the pad (the feasibility-test contract), rejects
// buffers arriving after end_of_stream, otherwise invokes
// handle_process and interprets the returned actions.
func (c *Controllers) Buffers(ref pad.Ref, bs []media.Buffer) error {
	rec, err := c.Pads.Get(ref)
	if err != nil {
		return err
	}
	if !rec.HasCaps {
		return errs.NewBufferBeforeCaps(ref.String())
	}
	if rec.EndOfStreamSent {
		return &errs.ContractError{Pad: ref.String(), Message: "buffer received after end_of_stream"}
	}

	actions, err := c.CB.HandleProcess(ref, bs)
	if err != nil {
		return &errs.CallbackError{Element: ref.Element, Callback: "handle_process", Err: err}
	}
	return c.Interpret(ref, actions)
}

// Demand implements DemandController: invokes handle_demand and
// interprets the returned actions, which normally include buffer
// and/or redemand.
func (c *Controllers) Demand(ref pad.Ref, size int) error {
	rec, err := c.Pads.Get(ref)
	if err != nil {
		return err
	}
	actions, err := c.CB.HandleDemand(ref, size, media.DemandUnit(rec.DemandUnit))
	if err != nil {
		return &errs.CallbackError{Element: ref.Element, Callback: "handle_demand", Err: err}
	}
	return c.Interpret(ref, actions)
}

// Interpret dispatches each action in order to the matching Sink
// method. sourceRef is the pad that triggered the callback producing
// these actions, used to resolve ForwardAll; state-transition callbacks
// that carry no natural pad pass the zero pad.Ref, which only matters if
// they return an ActionForward.
func (c *Controllers) Interpret(sourceRef pad.Ref, actions []Action) error {
	for _, a := range actions {
		if err := c.apply(sourceRef, a); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controllers) apply(sourceRef pad.Ref, a Action) error {
	switch a.Kind {
	case ActionBuffer:
		if err := c.guardCapsSent(a.Pad); err != nil {
			return err
		}
		return c.Out.EmitBuffers(a.Pad, a.Buffers)
	case ActionCaps:
		if err := c.Out.EmitCaps(a.Pad, a.Caps); err != nil {
			return err
		}
		return c.Pads.Update(a.Pad, func(r *pad.Record) { r.CapsSent = true })
	case ActionEvent:
		return c.Out.EmitEvent(a.Pad, a.Event)
	case ActionDemand:
		return c.Out.SetDemand(a.Pad, a.Size, a.DemandFn)
	case ActionRedemand:
		return c.Out.Redemand(a.Pad)
	case ActionForward:
		return c.forward(sourceRef, a)
	case ActionNotify:
		return c.Out.Notify(a.Notify)
	case ActionPlaybackChangeSuccessful:
		return c.Out.PlaybackChangeSuccessful()
	}
	return nil
}

// guardCapsSent enforces the invariant that no buffer may be emitted on
// an output pad before caps were sent on it.
func (c *Controllers) guardCapsSent(ref pad.Ref) error {
	rec, err := c.Pads.Get(ref)
	if err != nil {
		return err
	}
	if !rec.CapsSent {
		return errs.NewBufferBeforeCaps(ref.String())
	}
	return nil
}

func (c *Controllers) forward(sourceRef pad.Ref, a Action) error {
	targets := a.ForwardPads
	if a.Forward == ForwardAll {
		targets = c.Out.OppositePads(sourceRef)
	}
	for _, t := range targets {
		var err error
		switch a.ForwardWhat {
		case ActionCaps:
			err = c.Out.EmitCaps(t, a.Caps)
			if err == nil {
				err = c.Pads.Update(t, func(r *pad.Record) { r.CapsSent = true })
			}
		case ActionEvent:
			err = c.Out.EmitEvent(t, a.Event)
		default:
			err = c.guardCapsSent(t)
			if err == nil {
				err = c.Out.EmitBuffers(t, a.Buffers)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
