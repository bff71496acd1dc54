// Package element is the composition root binding pad.Model,
// control.Controllers, demand.Handler and state.Machine into one actor
// with a private mailbox, grounded on the teacher's runner.go: a
// goroutine driving one component's lifecycle, dispatching to whichever
// optional hooks the component implements (bindHooks/flusher/interrupter/
// resetter) and falling back to sensible defaults otherwise.
package element

import (
	"github.com/sirupsen/logrus"

	"github.com/streamgraph/core/control"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
)

// Handler is the minimal element callback contract: every element
// implements Init, and optionally implements any of the sub-interfaces
// below. A Handler that implements none of them is a pure passthrough
// filter that forwards caps, events and buffers to every pad of the
// opposite direction.
type Handler interface {
	// Init runs once before the element's first state transition. It
	// is the place to read options and register on-request pads.
	Init(ctx *Context) error
}

// StoppedToPreparedHandler, PreparedToPlayingHandler,
// PlayingToPreparedHandler and PreparedToStoppedHandler are the four
// optional state-transition hooks. An element that doesn't implement
// one of them simply has nothing to do for that hop.
type (
	StoppedToPreparedHandler interface {
		HandleStoppedToPrepared(ctx *Context) ([]control.Action, error)
	}
	PreparedToPlayingHandler interface {
		HandlePreparedToPlaying(ctx *Context) ([]control.Action, error)
	}
	PlayingToPreparedHandler interface {
		HandlePlayingToPrepared(ctx *Context) ([]control.Action, error)
	}
	PreparedToStoppedHandler interface {
		HandlePreparedToStopped(ctx *Context) ([]control.Action, error)
	}
)

// CapsHandler, ProcessHandler, EventHandler and DemandHandlerFn are the
// optional stream-controller hooks. Unimplemented caps, process and
// event hooks fall back to the forward:all default described on
// Handler; an unimplemented DemandHandlerFn does nothing.
type (
	CapsHandler interface {
		HandleCaps(ctx *Context, ref pad.Ref, c media.Caps) ([]control.Action, error)
	}
	ProcessHandler interface {
		HandleProcess(ctx *Context, ref pad.Ref, bs []media.Buffer) ([]control.Action, error)
	}
	EventHandler interface {
		HandleEvent(ctx *Context, ref pad.Ref, e media.Event) ([]control.Action, error)
	}
	DemandHandlerFn interface {
		HandleDemand(ctx *Context, ref pad.Ref, size int, unit media.DemandUnit) ([]control.Action, error)
	}
)

// OtherHandler receives messages the mailbox loop does not otherwise
// recognize (handle_other); ShutdownHandler runs just before an
// element's goroutine exits, whether the shutdown was requested or the
// element was killed for a contract violation or toilet overflow.
type (
	OtherHandler interface {
		HandleOther(ctx *Context, msg interface{}) ([]control.Action, error)
	}
	ShutdownHandler interface {
		HandleShutdown(ctx *Context, reason error)
	}
)

// Context is passed to every Handler hook, giving it read/write access
// to its own element's pads and logger without a direct reference to
// the Element actor's mailbox loop state.
type Context struct {
	el *Element
}

// Pads returns the element's own PadModel.
func (c *Context) Pads() *pad.Model { return c.el.pads }

// Log returns the element's logger, already tagged with its name.
func (c *Context) Log() logrus.FieldLogger { return c.el.log }

// Name returns the element's name, as registered with its parent.
func (c *Context) Name() string { return c.el.name }
