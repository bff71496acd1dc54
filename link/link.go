// Package link implements the spec's LinkHandler: the two-step link
// handshake a parent runs to connect a pad on one child to a pad on
// another. Both endpoints are told handle_link independently and each
// replies with its own link_response(link_id); the handshake is
// complete only once both acks are in. This generalizes the teacher's
// errorMerger wait-for-N-channels pattern (merger.go) from "wait for N
// error channels to close" to "wait for N acks carrying the same
// link_id", callback-driven instead of channel-driven since a parent's
// mailbox loop must stay non-blocking.
package link

import (
	"github.com/sirupsen/logrus"

	"github.com/streamgraph/core/actor"
	"github.com/streamgraph/core/errs"
	"github.com/streamgraph/core/internal/id"
	"github.com/streamgraph/core/pad"
)

// Endpoint is one side of a link: the mailbox of the actor owning the
// pad, the pad itself, and the direction that pad has on its own
// owner (so the receiving actor, per actor.LinkInfo.Direction, knows
// whether it is acting as producer or consumer on this leg).
type Endpoint struct {
	Box             actor.Mailbox
	Pad             pad.Ref
	Direction       pad.Direction
	ToiletThreshold int
}

// Request names the two endpoints to connect.
type Request struct {
	ID string
	A  Endpoint
	B  Endpoint
}

type pending struct {
	req        Request
	remaining  int
	onComplete func(error)
}

// Handler tracks in-flight link handshakes for one parent.
type Handler struct {
	log     logrus.FieldLogger
	pending map[string]*pending
}

// NewHandler creates a LinkHandler. log may be nil.
func NewHandler(log logrus.FieldLogger) *Handler {
	return &Handler{log: log, pending: make(map[string]*pending)}
}

// Link starts a handshake for req, sending KindLink to both endpoints
// from parentBox. onComplete runs once both sides have acked (or
// immediately, with an error, if either endpoint's mailbox is nil). It
// returns the link id used to correlate the eventual KindLinkResponse
// envelopes via HandleResponse.
func (h *Handler) Link(parentBox actor.Mailbox, req Request, onComplete func(error)) string {
	if req.ID == "" {
		req.ID = id.New()
	}
	if req.A.Box == nil || req.B.Box == nil {
		if onComplete != nil {
			onComplete(&errs.LinkError{From: req.A.Pad.String(), To: req.B.Pad.String(), Reason: "endpoint has no mailbox"})
		}
		return req.ID
	}

	h.pending[req.ID] = &pending{req: req, remaining: 2, onComplete: onComplete}

	req.A.Box <- actor.Envelope{
		Kind: actor.KindLink,
		From: parentBox,
		Link: &actor.LinkInfo{
			LinkID:          req.ID,
			Direction:       req.A.Direction,
			ThisPad:         req.A.Pad,
			PeerPad:         req.B.Pad,
			PeerBox:         req.B.Box,
			ToiletThreshold: req.B.ToiletThreshold,
		},
	}
	req.B.Box <- actor.Envelope{
		Kind: actor.KindLink,
		From: parentBox,
		Link: &actor.LinkInfo{
			LinkID:          req.ID,
			Direction:       req.B.Direction,
			ThisPad:         req.B.Pad,
			PeerPad:         req.A.Pad,
			PeerBox:         req.A.Box,
			ToiletThreshold: req.A.ToiletThreshold,
		},
	}
	return req.ID
}

// HandleResponse folds in one KindLinkResponse envelope. It reports
// whether this response completed its handshake (so the caller can
// drop it from whatever bookkeeping it layers on top), and runs the
// registered onComplete exactly once: normally when the second of the
// two expected acks arrives, or immediately if either endpoint's ack
// carries a Reason (e.g. a LinkError), since one rejected leg aborts
// the whole handshake without waiting on the other.
func (h *Handler) HandleResponse(env actor.Envelope) bool {
	p, ok := h.pending[env.LinkID]
	if !ok {
		if h.log != nil {
			h.log.WithField("link_id", env.LinkID).Warn("link_response for unknown or already-completed handshake")
		}
		return false
	}
	if env.Reason != nil {
		delete(h.pending, env.LinkID)
		if p.onComplete != nil {
			p.onComplete(env.Reason)
		}
		return true
	}
	p.remaining--
	if p.remaining > 0 {
		return false
	}
	delete(h.pending, env.LinkID)
	if p.onComplete != nil {
		p.onComplete(nil)
	}
	return true
}

// Pending reports whether a handshake with the given id is still
// waiting on one or both acks.
func (h *Handler) Pending(linkID string) bool {
	_, ok := h.pending[linkID]
	return ok
}
