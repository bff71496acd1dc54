// Package parent implements the spec's parent-side actor: the
// ChildLifeController (spawn, monitor, crash propagation), the
// LifecycleController (fan-out playback transitions and wait for every
// child's playback_change_successful), and the MessageDispatcher that
// ties both to one mailbox loop. Bin and Pipeline are both a Parent —
// the only difference is whether a Parent has a parent of its own —
// mirroring the teacher's own single pipe.Line driving both top-level
// pipelines and nested groups (line.go, deleted from this tree once its
// fan-in wait pattern had been generalized into errorMerger's
// descendant here, golang.org/x/sync/errgroup).
package parent

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/streamgraph/core/actor"
	"github.com/streamgraph/core/errs"
	"github.com/streamgraph/core/internal/logging"
	"github.com/streamgraph/core/link"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
	"github.com/streamgraph/core/state"
)

// Runnable is implemented by anything a Parent can host as a child:
// an *element.Element, or another *Parent acting as a nested Bin.
type Runnable interface {
	Mailbox() actor.Mailbox
	Name() string
	Attach(parent actor.Mailbox)
	Run(ctx context.Context)
}

type trackedChild struct {
	box    actor.Mailbox
	cancel context.CancelFunc
}

// Parent is the shared implementation behind both Bin and Pipeline.
type Parent struct {
	name string
	log  logrus.FieldLogger

	mailbox   actor.Mailbox
	parentBox actor.Mailbox

	rootCtx    context.Context
	rootCancel context.CancelFunc

	children map[string]*trackedChild
	link     *link.Handler
	sm       *state.Machine

	pendingHops  []state.Transition
	pendingReply chan error
	waitingFor   map[string]bool

	onNotify      func(childName string, payload interface{})
	onStreamEvent func(childName string, ref pad.Ref, ev media.Event)

	doneCh   chan error
	doneOnce sync.Once
}

// New creates a Parent. kind tags its logger the way every other actor
// in the tree is tagged (internal/logging.ForComponent); it is
// typically "bin" or "pipeline".
func New(name, kind string, log logrus.FieldLogger) *Parent {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Parent{
		name:       name,
		log:        logging.ForComponent(log, kind, name),
		mailbox:    make(actor.Mailbox, 64),
		rootCtx:    rootCtx,
		rootCancel: cancel,
		children:   make(map[string]*trackedChild),
		link:       link.NewHandler(log),
		sm:         state.New(),
		doneCh:     make(chan error, 1),
	}
}

func (p *Parent) Mailbox() actor.Mailbox   { return p.mailbox }
func (p *Parent) Name() string             { return p.name }
func (p *Parent) Attach(box actor.Mailbox) { p.parentBox = box }
func (p *Parent) State() state.State       { return p.sm.Current() }
func (p *Parent) Done() <-chan error       { return p.doneCh }

// OnNotify installs the callback invoked when a bubbled notification
// reaches the root (a Parent with no parent of its own). Only the
// Pipeline root needs one; a nested Bin always has a parentBox and
// bubbles instead.
func (p *Parent) OnNotify(fn func(childName string, payload interface{})) { p.onNotify = fn }

// OnStreamEvent installs the callback invoked when a bubbled
// start_of_stream/end_of_stream notification reaches the root, the
// LifecycleController's "user-visible callback" half of handling
// handle_start_of_stream/handle_end_of_stream. Only the Pipeline root
// needs one; a nested Bin always has a parentBox and bubbles instead.
func (p *Parent) OnStreamEvent(fn func(childName string, ref pad.Ref, ev media.Event)) {
	p.onStreamEvent = fn
}

// Spawn attaches, registers and starts child, deriving its lifetime
// from this Parent's own root context so cancelling or crashing the
// Parent tears every descendant down too.
func (p *Parent) Spawn(child Runnable) {
	cctx, cancel := context.WithCancel(p.rootCtx)
	child.Attach(p.mailbox)
	p.children[child.Name()] = &trackedChild{box: child.Mailbox(), cancel: cancel}
	go child.Run(cctx)
}

// SpawnChild asks the running Parent to add and start a new child
// through its own mailbox loop rather than mutating p.children
// directly the way Spawn does: a child added after Run has already
// started must go through the same single-threaded dispatch as every
// other change to p.children, or it would race the loop's own reads
// of that map.
func (p *Parent) SpawnChild(child Runnable) <-chan error {
	reply := make(chan error, 1)
	p.mailbox <- actor.Envelope{Kind: actor.KindSpawnChild, Other: child, Reply: reply}
	return reply
}

// RemoveChild asks the running Parent to drop the named child from its
// children and shut it down, the dynamic counterpart to SpawnChild.
// Links to the child's pads are left as they are.
func (p *Parent) RemoveChild(name string) <-chan error {
	reply := make(chan error, 1)
	p.mailbox <- actor.Envelope{Kind: actor.KindRemoveChild, ChildName: name, Reply: reply}
	return reply
}

// MessageChild routes payload to the named child as a KindOther
// envelope, spec.md §6's message_child(parent, child_name, message).
// It goes through the mailbox like every other request here, so it is
// ordered correctly against a concurrent SpawnChild/RemoveChild for
// the same name.
func (p *Parent) MessageChild(name string, payload interface{}) <-chan error {
	reply := make(chan error, 1)
	p.mailbox <- actor.Envelope{Kind: actor.KindMessageChild, ChildName: name, Other: payload, Reply: reply}
	return reply
}

// Link runs the LinkHandler two-step handshake between two endpoints
// owned by (possibly different) children of this Parent.
func (p *Parent) Link(req link.Request, onComplete func(error)) string {
	return p.link.Link(p.mailbox, req, onComplete)
}

// ChangeState requests a playback transition, fanning each hop out to
// every child and waiting for all of them to ack before committing the
// next hop. It is async: completion (or failure) arrives via the
// envelope this call itself sends, observed by the caller as a blocking
// Terminate-style request when needed, or fire-and-forget otherwise.
func (p *Parent) ChangeState(target state.State) <-chan error {
	reply := make(chan error, 1)
	p.mailbox <- actor.Envelope{Kind: actor.KindChangeState, Target: target, Reply: reply}
	return reply
}

// Terminate sends a blocking shutdown: every child is asked to stop and
// this Parent waits for all of them before itself returning.
func (p *Parent) Terminate(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case p.mailbox <- actor.Envelope{Kind: actor.KindShutdown, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the mailbox loop until ctx is cancelled, the mailbox is
// closed, or a KindShutdown envelope arrives, or any child reports a
// crash (a KindChildDown with a non-nil Reason).
func (p *Parent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.rootCancel()
			p.finish(ctx.Err())
			return
		case env, ok := <-p.mailbox:
			if !ok {
				p.finish(nil)
				return
			}
			if env.Kind == actor.KindShutdown {
				p.handleShutdown(env)
				return
			}
			if stop, reason := p.dispatch(env); stop {
				p.finish(reason)
				return
			}
		}
	}
}

func (p *Parent) finish(reason error) {
	p.doneOnce.Do(func() {
		p.doneCh <- reason
		close(p.doneCh)
	})
	if p.parentBox != nil {
		p.parentBox <- actor.Envelope{Kind: actor.KindChildDown, ChildName: p.name, From: p.mailbox, Reason: reason}
	}
}

// dispatch is the MessageDispatcher: one switch, one case per Kind,
// routing to the matching controller method.
func (p *Parent) dispatch(env actor.Envelope) (stop bool, reason error) {
	switch env.Kind {
	case actor.KindChangeState:
		p.handleChangeState(env)
	case actor.KindLinkResponse:
		p.link.HandleResponse(env)
	case actor.KindChildDown:
		return p.handleChildDown(env)
	case actor.KindChildPlaybackChanged:
		p.handlePlaybackChanged(env)
	case actor.KindChildNotification:
		p.bubbleNotification(env)
	case actor.KindStartOfStream, actor.KindEndOfStream:
		p.bubbleStreamEvent(env)
	case actor.KindClockRatio:
		p.broadcastClock(env)
	case actor.KindSpawnChild:
		p.handleSpawnChild(env)
	case actor.KindRemoveChild:
		p.handleRemoveChild(env)
	case actor.KindMessageChild:
		p.handleMessageChild(env)
	case actor.KindLink:
		p.handleLink(env)
	}
	return false, nil
}

// handleShutdown fans KindShutdown out to every child concurrently and
// waits for all of them, collecting every failure into a Multi rather
// than reporting only the first: a sibling's shutdown error must not
// hide another sibling's.
func (p *Parent) handleShutdown(env actor.Envelope) {
	var g errgroup.Group
	var mu sync.Mutex
	var failures errs.Multi
	for name, c := range p.children {
		name, c := name, c
		g.Go(func() error {
			reply := make(chan error, 1)
			c.box <- actor.Envelope{Kind: actor.KindShutdown, Reply: reply}
			if err := <-reply; err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	err := failures.Ret()
	if env.Reply != nil {
		env.Reply <- err
		close(env.Reply)
	}
	p.finish(err)
}

// handleChildDown implements the ChildLifeController: a clean exit
// (Reason == nil) just drops the bookkeeping entry; a crash tears down
// every remaining sibling and propagates, per the spec's one-for-all
// supervision strategy for a child crash.
func (p *Parent) handleChildDown(env actor.Envelope) (bool, error) {
	if c, ok := p.children[env.ChildName]; ok {
		if c.cancel != nil {
			c.cancel()
		}
		delete(p.children, env.ChildName)
	}
	if env.Reason == nil {
		return false, nil
	}
	p.log.WithField("child", env.ChildName).WithError(env.Reason).Error("child crashed, tearing down siblings")
	for name, c := range p.children {
		if c.cancel != nil {
			c.cancel()
		}
		delete(p.children, name)
	}
	return true, env.Reason
}

func (p *Parent) handleChangeState(env actor.Envelope) {
	hops := p.sm.Request(env.Target)
	if len(hops) == 0 {
		if env.Reply != nil {
			env.Reply <- nil
			close(env.Reply)
		}
		return
	}
	p.pendingHops = hops
	p.pendingReply = env.Reply
	p.advanceHop()
}

func (p *Parent) advanceHop() {
	if len(p.pendingHops) == 0 {
		if p.pendingReply != nil {
			p.pendingReply <- nil
			close(p.pendingReply)
			p.pendingReply = nil
		}
		if p.parentBox != nil {
			p.parentBox <- actor.Envelope{Kind: actor.KindChildPlaybackChanged, ChildName: p.name, From: p.mailbox, ChildState: p.sm.Current()}
		}
		return
	}
	hop := p.pendingHops[0]
	p.pendingHops = p.pendingHops[1:]
	waiting := make(map[string]bool, len(p.children))
	for name, c := range p.children {
		waiting[name] = true
		c.box <- actor.Envelope{Kind: actor.KindChangeState, Target: hop.To}
	}
	p.sm.Advance(hop.To)
	if len(waiting) == 0 {
		p.advanceHop()
		return
	}
	p.waitingFor = waiting
}

func (p *Parent) handlePlaybackChanged(env actor.Envelope) {
	if p.waitingFor == nil {
		return
	}
	delete(p.waitingFor, env.ChildName)
	if len(p.waitingFor) == 0 {
		p.waitingFor = nil
		p.advanceHop()
	}
}

func (p *Parent) bubbleNotification(env actor.Envelope) {
	if p.parentBox != nil {
		p.parentBox <- actor.Envelope{Kind: actor.KindChildNotification, ChildName: p.name, From: p.mailbox, Other: env.Other}
		return
	}
	if p.onNotify != nil {
		p.onNotify(env.ChildName, env.Other)
	}
}

func (p *Parent) bubbleStreamEvent(env actor.Envelope) {
	if p.parentBox != nil {
		env.ChildName = p.name
		env.From = p.mailbox
		p.parentBox <- env
		return
	}
	if p.onStreamEvent != nil {
		p.onStreamEvent(env.ChildName, env.Pad, env.Event)
	}
}

func (p *Parent) broadcastClock(env actor.Envelope) {
	for _, c := range p.children {
		c.box <- actor.Envelope{Kind: actor.KindClockRatio, Ratio: env.Ratio}
	}
}

func (p *Parent) handleSpawnChild(env actor.Envelope) {
	child, ok := env.Other.(Runnable)
	if !ok {
		if env.Reply != nil {
			env.Reply <- fmt.Errorf("parent: KindSpawnChild payload is not a Runnable")
			close(env.Reply)
		}
		return
	}
	p.Spawn(child)
	if env.Reply != nil {
		env.Reply <- nil
		close(env.Reply)
	}
}

func (p *Parent) handleRemoveChild(env actor.Envelope) {
	c, ok := p.children[env.ChildName]
	if !ok {
		if env.Reply != nil {
			env.Reply <- fmt.Errorf("parent: unknown child %q", env.ChildName)
			close(env.Reply)
		}
		return
	}
	delete(p.children, env.ChildName)
	reply := make(chan error, 1)
	c.box <- actor.Envelope{Kind: actor.KindShutdown, Reply: reply}
	go func() {
		err := <-reply
		if env.Reply != nil {
			env.Reply <- err
			close(env.Reply)
		}
	}()
}

func (p *Parent) handleMessageChild(env actor.Envelope) {
	c, ok := p.children[env.ChildName]
	if !ok {
		if env.Reply != nil {
			env.Reply <- fmt.Errorf("parent: unknown child %q", env.ChildName)
			close(env.Reply)
		}
		return
	}
	c.box <- actor.Envelope{Kind: actor.KindOther, Other: env.Other}
	if env.Reply != nil {
		env.Reply <- nil
		close(env.Reply)
	}
}

// handleLink forwards a cross-bin handle_link verbatim to the direct
// child that owns the addressed pad, resolving the spec's Open Question
// on forward:all vs dynamic pads during linking in favor of simple
// deferment bubbling: a Bin is transparent to the handshake, the child
// replies link_response straight back to the original requester kept
// in the forwarded envelope's From field.
func (p *Parent) handleLink(env actor.Envelope) {
	if env.Link == nil {
		return
	}
	c, ok := p.children[env.Link.ThisPad.Element]
	if !ok {
		p.log.WithField("pad", env.Link.ThisPad.String()).Warn("handle_link for unknown child pad")
		return
	}
	c.box <- env
}
