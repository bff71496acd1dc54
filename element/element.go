package element

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/streamgraph/core/actor"
	"github.com/streamgraph/core/clock"
	"github.com/streamgraph/core/control"
	"github.com/streamgraph/core/demand"
	"github.com/streamgraph/core/errs"
	"github.com/streamgraph/core/inputbuf"
	"github.com/streamgraph/core/internal/logging"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
	"github.com/streamgraph/core/state"
)

// tick is the payload delivered to HandleOther for a KindTick message.
type tick struct{}

// Element is one actor: a private mailbox, a PadModel, the four stream
// controllers, a DemandHandler and an ElementStateMachine, all driven
// from the single goroutine running Run. It implements
// control.Callbacks, control.Sink and demand.Dispatcher against itself,
// so the controllers and demand handler never need to know they are
// talking to an actor rather than a plain struct.
type Element struct {
	name    string
	kind    string
	handler Handler

	pads   *pad.Model
	ctrl   *control.Controllers
	demand *demand.Handler
	sm     *state.Machine

	mailbox actor.Mailbox
	parent  actor.Mailbox

	log logrus.FieldLogger
	ctx *Context
}

// New builds an Element bound to h, with the given declared pad specs,
// logging under kind/name the way internal/logging.ForComponent tags
// every other actor in the tree.
func New(name, kind string, h Handler, inputs, outputs []pad.Spec, log logrus.FieldLogger) *Element {
	pads := pad.NewModel()
	el := &Element{
		name:    name,
		kind:    kind,
		handler: h,
		pads:    pads,
		mailbox: make(actor.Mailbox, 64),
		sm:      state.New(),
	}
	el.log = logging.ForComponent(log, kind, name)
	el.ctx = &Context{el: el}
	el.demand = demand.NewHandler(pads, el, el.log)
	el.ctrl = &control.Controllers{Pads: pads, CB: el, Out: el}
	for _, s := range inputs {
		el.AddPad(s, pad.Input, "")
	}
	for _, s := range outputs {
		el.AddPad(s, pad.Output, "")
	}
	return el
}

// Mailbox returns the channel other actors send Envelopes to for this
// element.
func (e *Element) Mailbox() actor.Mailbox { return e.mailbox }

// Name returns the element's registered name.
func (e *Element) Name() string { return e.name }

// Pads returns the element's PadModel, for tests and for parents that
// need to inspect/seed pad state before the element's goroutine starts.
func (e *Element) Pads() *pad.Model { return e.pads }

// State returns the element's current playback state.
func (e *Element) State() state.State { return e.sm.Current() }

// Attach wires this element's parent mailbox, used for notifications,
// playback_change_successful bubbling and the child-down report.
func (e *Element) Attach(parent actor.Mailbox) { e.parent = parent }

// AddPad registers a new pad, attaching an InputBuffer to pull-mode
// inputs. instance is only meaningful for an OnRequest spec and
// produces a pad.Ref with that Instance set.
func (e *Element) AddPad(s pad.Spec, dir pad.Direction, instance string) pad.Ref {
	ref := pad.Ref{Element: e.name, Name: s.Name, Instance: instance}
	e.pads.Register(ref, pad.Record{
		Direction:       dir,
		Mode:            s.Mode,
		DemandUnit:      s.DemandUnit,
		Constraint:      s.Caps,
		ToiletThreshold: s.Threshold(),
	})
	if dir == pad.Input && s.Mode == pad.Pull {
		e.demand.RegisterInputBuffer(ref, inputbuf.New(media.MetricFor(media.DemandUnit(s.DemandUnit)), s.Preferred()))
	}
	return ref
}

// Run drives the mailbox loop until ctx is done, the mailbox is
// closed, or a KindShutdown envelope arrives. A crash (a non-nil error
// out of any other envelope) also ends the loop, after which the
// element's ShutdownHandler (if any) runs and its parent, if attached,
// is told via KindChildDown.
func (e *Element) Run(ctx context.Context) {
	if err := e.handler.Init(e.ctx); err != nil {
		e.crash(err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			e.terminal(ctx.Err())
			return
		case env, ok := <-e.mailbox:
			if !ok {
				e.terminal(nil)
				return
			}
			if env.Kind == actor.KindShutdown {
				if env.Reply != nil {
					env.Reply <- nil
					close(env.Reply)
				}
				e.terminal(env.Reason)
				return
			}
			err := e.handle(env)
			if env.Reply != nil {
				env.Reply <- err
				close(env.Reply)
			}
			if err != nil {
				e.crash(err)
				return
			}
		}
	}
}

func (e *Element) crash(err error) {
	e.log.WithError(err).Error("element crashed")
	e.terminal(err)
}

func (e *Element) terminal(reason error) {
	if h, ok := e.handler.(ShutdownHandler); ok {
		h.HandleShutdown(e.ctx, reason)
	}
	if e.parent != nil {
		e.parent <- actor.Envelope{Kind: actor.KindChildDown, ChildName: e.name, From: e.mailbox, Reason: reason}
	}
}

func (e *Element) handle(env actor.Envelope) error {
	switch env.Kind {
	case actor.KindLink:
		return e.handleLink(env)
	case actor.KindChangeState:
		return e.handleChangeState(env.Target)
	case actor.KindSupplyDemand:
		return e.demand.SupplyDemand(env.Pad, env.Size)
	case actor.KindRedemand:
		return e.demand.HandleRedemand(env.Pad)
	case actor.KindCaps:
		return e.deliver(env.Pad, inputbuf.Item{Kind: inputbuf.CapsItem, Caps: env.Caps}, env.From)
	case actor.KindEvent:
		return e.deliver(env.Pad, inputbuf.Item{Kind: inputbuf.EventItem, Event: env.Event}, env.From)
	case actor.KindBuffers:
		return e.deliver(env.Pad, inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: env.Buffers}, env.From)
	case actor.KindDemandRequest:
		size := 0
		if env.Size != nil {
			size = *env.Size
		}
		return e.demand.IncreaseDemand(env.Pad, size)
	case actor.KindToiletDrain:
		if env.Size == nil {
			return nil
		}
		if t, ok := e.demand.Toilet(env.Pad); ok {
			t.Drain(int64(*env.Size))
		}
		return nil
	case actor.KindOther:
		return e.onOther(env.Other)
	case actor.KindTick:
		return e.onOther(tick{})
	case actor.KindClockRatio:
		return e.onOther(clock.RatioUpdate{Ratio: env.Ratio})
	default:
		return nil
	}
}

// handleLink implements the LinkHandler's per-endpoint side of the
// handshake. An unknown pad or a pad that already has a peer is a
// LinkError per spec.md §7 item 4 — returned to the parent through the
// link-response path so the link request is rejected gracefully,
// rather than propagated as a crash the way a ContractError is: a
// rejected link aborts startup, it does not tear down a sibling.
func (e *Element) handleLink(env actor.Envelope) error {
	li := env.Link
	if li == nil {
		return nil
	}
	var thisMode pad.Mode
	var linkErr error
	if err := e.pads.Update(li.ThisPad, func(r *pad.Record) {
		if r.Peer != nil {
			linkErr = &errs.LinkError{From: li.ThisPad.String(), To: li.PeerPad.String(), Reason: "pad already linked"}
			return
		}
		r.Peer = &pad.Peer{Ref: li.PeerPad, PID: li.PeerBox}
		thisMode = r.Mode
	}); err != nil {
		var unknown *errs.UnknownPadError
		if !errors.As(err, &unknown) {
			return err
		}
		linkErr = &errs.LinkError{From: li.ThisPad.String(), To: li.PeerPad.String(), Reason: "unknown pad"}
	}
	if linkErr == nil && li.Direction == pad.Output && thisMode == pad.Push {
		e.demand.RegisterToilet(li.PeerPad, li.ToiletThreshold)
	}
	if env.From != nil {
		env.From <- actor.Envelope{Kind: actor.KindLinkResponse, LinkID: li.LinkID, FromName: e.name, From: e.mailbox, Reason: linkErr}
	}
	return nil
}

func (e *Element) handleChangeState(target state.State) error {
	hops := e.sm.Request(target)
	for _, hop := range hops {
		actions, err := e.runTransition(hop.Callback)
		if err != nil {
			return &errs.CallbackError{Element: e.name, Callback: hop.Callback.String(), Err: err}
		}
		if err := e.ctrl.Interpret(pad.Ref{}, actions); err != nil {
			return err
		}
		e.sm.Advance(hop.To)
		if !hasPlaybackAck(actions) {
			if err := e.PlaybackChangeSuccessful(); err != nil {
				return err
			}
		}
	}
	return nil
}

// hasPlaybackAck reports whether a transition hook already reported its
// own completion via ActionPlaybackChangeSuccessful, the escape hatch
// for an element whose transition genuinely finishes asynchronously
// (e.g. waiting on hardware init before it is ready to report). Absent
// that, a hop's completion is reported as soon as its callback returns.
func hasPlaybackAck(actions []control.Action) bool {
	for _, a := range actions {
		if a.Kind == control.ActionPlaybackChangeSuccessful {
			return true
		}
	}
	return false
}

func (e *Element) runTransition(cb state.Callback) ([]control.Action, error) {
	switch cb {
	case state.StoppedToPrepared:
		if h, ok := e.handler.(StoppedToPreparedHandler); ok {
			return h.HandleStoppedToPrepared(e.ctx)
		}
	case state.PreparedToPlaying:
		if h, ok := e.handler.(PreparedToPlayingHandler); ok {
			return h.HandlePreparedToPlaying(e.ctx)
		}
	case state.PlayingToPrepared:
		if h, ok := e.handler.(PlayingToPreparedHandler); ok {
			return h.HandlePlayingToPrepared(e.ctx)
		}
	case state.PreparedToStopped:
		if h, ok := e.handler.(PreparedToStoppedHandler); ok {
			return h.HandlePreparedToStopped(e.ctx)
		}
	}
	return nil, nil
}

// deliver routes one incoming stream item: pull-mode inputs queue it in
// their InputBuffer and attempt a demand-gated drain; push-mode inputs
// (or inputs with no InputBuffer at all) are dispatched immediately,
// acking the toilet back to from once a buffer item is processed.
func (e *Element) deliver(ref pad.Ref, item inputbuf.Item, from actor.Mailbox) error {
	if e.demand.HasInputBuffer(ref) {
		e.demand.StoreIncoming(ref, item)
		return e.demand.SupplyDemand(ref, nil)
	}
	switch item.Kind {
	case inputbuf.CapsItem:
		return e.ctrl.Caps(ref, item.Caps)
	case inputbuf.EventItem:
		return e.ctrl.Event(ref, item.Event)
	case inputbuf.BuffersItem:
		if err := e.ctrl.Buffers(ref, item.Buffers); err != nil {
			return err
		}
		return e.ackToilet(ref, item.Buffers, from)
	}
	return nil
}

func (e *Element) ackToilet(ref pad.Ref, bs []media.Buffer, from actor.Mailbox) error {
	if from == nil {
		return nil
	}
	rec, err := e.pads.Get(ref)
	if err != nil {
		return err
	}
	n := media.MetricFor(media.DemandUnit(rec.DemandUnit))(bs)
	from <- actor.Envelope{Kind: actor.KindToiletDrain, Pad: ref, Size: &n, From: e.mailbox}
	return nil
}

func (e *Element) onOther(payload interface{}) error {
	h, ok := e.handler.(OtherHandler)
	if !ok {
		return nil
	}
	actions, err := h.HandleOther(e.ctx, payload)
	if err != nil {
		return &errs.CallbackError{Element: e.name, Callback: "handle_other", Err: err}
	}
	return e.ctrl.Interpret(pad.Ref{}, actions)
}

// --- control.Callbacks ---

func (e *Element) HandleCaps(ref pad.Ref, c media.Caps) ([]control.Action, error) {
	if h, ok := e.handler.(CapsHandler); ok {
		return h.HandleCaps(e.ctx, ref, c)
	}
	return e.defaultForward(ref, control.ActionCaps, c, media.Event{}, nil), nil
}

func (e *Element) HandleProcess(ref pad.Ref, bs []media.Buffer) ([]control.Action, error) {
	if h, ok := e.handler.(ProcessHandler); ok {
		return h.HandleProcess(e.ctx, ref, bs)
	}
	return e.defaultForward(ref, control.ActionBuffer, nil, media.Event{}, bs), nil
}

func (e *Element) HandleEvent(ref pad.Ref, ev media.Event) ([]control.Action, error) {
	if h, ok := e.handler.(EventHandler); ok {
		return h.HandleEvent(e.ctx, ref, ev)
	}
	return e.defaultForward(ref, control.ActionEvent, nil, ev, nil), nil
}

func (e *Element) HandleDemand(ref pad.Ref, size int, unit media.DemandUnit) ([]control.Action, error) {
	if h, ok := e.handler.(DemandHandlerFn); ok {
		return h.HandleDemand(e.ctx, ref, size, unit)
	}
	// No handler: nothing to supply, the pull chain stalls here by
	// design rather than guessing at a passthrough demand ratio.
	return nil, nil
}

// defaultForward builds the forward:all fallback action for an element
// that implements none of the optional stream-controller hooks, mirroring
// GStreamer's default behavior for a bin with no installed pad probes.
func (e *Element) defaultForward(ref pad.Ref, what control.ActionKind, c media.Caps, ev media.Event, bs []media.Buffer) []control.Action {
	rec, err := e.pads.Get(ref)
	if err != nil {
		return nil
	}
	if len(e.pads.RefsByDirection(rec.Direction.Opposite())) == 0 {
		return nil
	}
	return []control.Action{{Kind: control.ActionForward, Forward: control.ForwardAll, ForwardWhat: what, Caps: c, Event: ev, Buffers: bs}}
}

// --- control.Sink ---

func (e *Element) EmitBuffers(ref pad.Ref, bs []media.Buffer) error {
	if err := e.demand.AccountOutgoing(ref, bs); err != nil {
		return err
	}
	rec, err := e.pads.Get(ref)
	if err != nil {
		return err
	}
	if rec.Peer == nil {
		return nil
	}
	box, ok := rec.Peer.PID.(actor.Mailbox)
	if !ok {
		return nil
	}
	box <- actor.Envelope{Kind: actor.KindBuffers, From: e.mailbox, FromName: e.name, Pad: rec.Peer.Ref, Buffers: bs}
	return nil
}

func (e *Element) EmitCaps(ref pad.Ref, c media.Caps) error {
	rec, err := e.pads.Get(ref)
	if err != nil {
		return err
	}
	if rec.Peer == nil {
		return nil
	}
	box, ok := rec.Peer.PID.(actor.Mailbox)
	if !ok {
		return nil
	}
	box <- actor.Envelope{Kind: actor.KindCaps, From: e.mailbox, FromName: e.name, Pad: rec.Peer.Ref, Caps: c}
	return nil
}

func (e *Element) EmitEvent(ref pad.Ref, ev media.Event) error {
	rec, err := e.pads.Get(ref)
	if err != nil {
		return err
	}
	if rec.Peer == nil {
		return nil
	}
	box, ok := rec.Peer.PID.(actor.Mailbox)
	if !ok {
		return nil
	}
	box <- actor.Envelope{Kind: actor.KindEvent, From: e.mailbox, FromName: e.name, Pad: rec.Peer.Ref, Event: ev}
	return nil
}

func (e *Element) SetDemand(ref pad.Ref, size *int, fn func(int) int) error {
	if size != nil {
		return e.demand.SupplyDemand(ref, size)
	}
	if fn != nil {
		rec, err := e.pads.Get(ref)
		if err != nil {
			return err
		}
		next := fn(rec.Demand)
		return e.demand.SupplyDemand(ref, &next)
	}
	return e.demand.SupplyDemand(ref, nil)
}

func (e *Element) Redemand(ref pad.Ref) error {
	return e.demand.HandleRedemand(ref)
}

func (e *Element) Notify(payload interface{}) error {
	if e.parent != nil {
		e.parent <- actor.Envelope{Kind: actor.KindChildNotification, ChildName: e.name, From: e.mailbox, Other: payload}
	}
	return nil
}

// NotifyStreamEvent informs this element's parent that a start_of_stream
// or end_of_stream event was seen on one of its pads, the second half
// of the EventController's "set the flag and inform the parent"
// contract.
func (e *Element) NotifyStreamEvent(ref pad.Ref, ev media.Event) error {
	if e.parent == nil {
		return nil
	}
	kind := actor.KindStartOfStream
	if ev.Kind == media.EndOfStream {
		kind = actor.KindEndOfStream
	}
	e.parent <- actor.Envelope{Kind: kind, ChildName: e.name, From: e.mailbox, Pad: ref, Event: ev}
	return nil
}

func (e *Element) PlaybackChangeSuccessful() error {
	if e.parent != nil {
		e.parent <- actor.Envelope{Kind: actor.KindChildPlaybackChanged, ChildName: e.name, From: e.mailbox, ChildState: e.sm.Current()}
	}
	return nil
}

func (e *Element) OppositePads(ref pad.Ref) []pad.Ref {
	rec, err := e.pads.Get(ref)
	if err != nil {
		return nil
	}
	return e.pads.RefsByDirection(rec.Direction.Opposite())
}

// --- demand.Dispatcher ---

func (e *Element) DispatchCaps(ref pad.Ref, c media.Caps) error { return e.ctrl.Caps(ref, c) }
func (e *Element) DispatchEvent(ref pad.Ref, ev media.Event) error {
	return e.ctrl.Event(ref, ev)
}
func (e *Element) DispatchBuffers(ref pad.Ref, bs []media.Buffer) error {
	return e.ctrl.Buffers(ref, bs)
}
func (e *Element) DispatchDemand(ref pad.Ref, size int) error { return e.ctrl.Demand(ref, size) }

func (e *Element) RequestDemand(ref pad.Ref, size int) error {
	rec, err := e.pads.Get(ref)
	if err != nil {
		return err
	}
	if rec.Peer == nil {
		return nil
	}
	box, ok := rec.Peer.PID.(actor.Mailbox)
	if !ok {
		return nil
	}
	box <- actor.Envelope{Kind: actor.KindDemandRequest, From: e.mailbox, FromName: e.name, Pad: rec.Peer.Ref, Size: &size}
	return nil
}

func (e *Element) KillPeer(ref pad.Ref, err error) {
	e.log.WithField("pad", ref.String()).WithError(err).Error("toilet overflow, terminating producer")
}
