// Package demand implements the re-entrant pull protocol described by
// the spec's DemandHandler: supply_demand/handle_redemand with a
// re-entrance guard, a uniformly-random delayed-demand drain, and the
// push-mode toilet overflow guard. It is deliberately decoupled from
// the element package via the Dispatcher interface so it can be unit
// tested without spinning up a real actor — the same inversion the
// teacher uses for its Pump/Processor/Sink interfaces (pipe/pump,
// pipe/processor, pipe/sink).
package demand

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/streamgraph/core/errs"
	"github.com/streamgraph/core/inputbuf"
	"github.com/streamgraph/core/internal/metrics"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
)

// action identifies a deferred unit of work held in the delayed set.
type action int

const (
	// supplyAction re-runs SupplyDemand for the pad.
	supplyAction action = iota
	// redemandAction re-runs HandleRedemand for the pad.
	redemandAction
)

type delayedKey struct {
	pad    pad.Ref
	action action
}

// Dispatcher is implemented by the owning element actor. It is the
// seam between the demand protocol and the element's callback
// contract, controllers and outbound mailbox sends.
type Dispatcher interface {
	// DispatchCaps/Event/Buffers deliver one drained InputBuffer item
	// to the matching stream controller for ref (an input pad).
	DispatchCaps(ref pad.Ref, c media.Caps) error
	DispatchEvent(ref pad.Ref, e media.Event) error
	DispatchBuffers(ref pad.Ref, bs []media.Buffer) error
	// DispatchDemand invokes handle_demand for an output pad with the
	// given size (0 for a pure re-entry / redemand).
	DispatchDemand(ref pad.Ref, size int) error
	// RequestDemand sends a demand message for size units to ref's
	// peer, used both for the InputBuffer deficit re-demand and for an
	// explicit {demand, pad, size} action on an output pad.
	RequestDemand(ref pad.Ref, size int) error
	// KillPeer is told that a buffer emission on ref (an output pad)
	// overflowed its peer's toilet. AccountOutgoing then also returns
	// the same ToiletOverflowError to its caller.
	KillPeer(ref pad.Ref, err error)
}

// Handler is the DemandHandler for one element. It owns the supplying
// flag and the delayed set for every pad of that element, plus the
// InputBuffer and Toilet instances for input pads that need them.
type Handler struct {
	pads       *pad.Model
	dispatch   Dispatcher
	log        logrus.FieldLogger
	buffers    map[pad.Ref]*inputbuf.Buffer
	toilets    map[pad.Ref]*Toilet
	supplying  map[pad.Ref]bool
	delayed    map[delayedKey]struct{}
	rng        *rand.Rand
}

// NewHandler creates a DemandHandler bound to pads and dispatch.
func NewHandler(pads *pad.Model, dispatch Dispatcher, log logrus.FieldLogger) *Handler {
	return &Handler{
		pads:      pads,
		dispatch:  dispatch,
		log:       log,
		buffers:   make(map[pad.Ref]*inputbuf.Buffer),
		toilets:   make(map[pad.Ref]*Toilet),
		supplying: make(map[pad.Ref]bool),
		delayed:   make(map[delayedKey]struct{}),
		rng:       rand.New(rand.NewSource(randSeed())),
	}
}

// RegisterInputBuffer attaches an InputBuffer to a pull-mode input pad.
func (h *Handler) RegisterInputBuffer(ref pad.Ref, buf *inputbuf.Buffer) {
	h.buffers[ref] = buf
}

// HasInputBuffer reports whether ref has a registered InputBuffer,
// distinguishing a pull-mode input (buffered, demand-gated) from a
// push-mode one (delivered immediately, guarded by a Toilet instead).
func (h *Handler) HasInputBuffer(ref pad.Ref) bool {
	_, ok := h.buffers[ref]
	return ok
}

// StoreIncoming appends item to ref's InputBuffer. It is a no-op if ref
// has no registered InputBuffer.
func (h *Handler) StoreIncoming(ref pad.Ref, item inputbuf.Item) {
	if buf, ok := h.buffers[ref]; ok {
		buf.Store(item)
	}
}

// RegisterToilet attaches a Toilet to a push-mode input pad.
func (h *Handler) RegisterToilet(ref pad.Ref, threshold int) *Toilet {
	t := NewToilet(threshold)
	h.toilets[ref] = t
	return t
}

// Toilet returns the Toilet registered for ref, if any.
func (h *Handler) Toilet(ref pad.Ref) (*Toilet, bool) {
	t, ok := h.toilets[ref]
	return t, ok
}

// SupplyDemand implements supply_demand(pad_ref, size?). If size is
// non-nil the pad's demand is first set to *size (an absolute value,
// matching "set pad's demand to size"); a negative result is a
// ContractError per the spec's invariant demand >= 0.
func (h *Handler) SupplyDemand(ref pad.Ref, size *int) error {
	if size != nil {
		if err := h.setDemand(ref, *size); err != nil {
			return err
		}
	}

	if h.supplying[ref] {
		h.delayed[delayedKey{pad: ref, action: supplyAction}] = struct{}{}
		return nil
	}

	if err := h.runSupply(ref); err != nil {
		return err
	}
	return h.drainDelayed()
}

// HandleRedemand implements handle_redemand(pad_ref): while another
// supply is in flight for ref, defer; otherwise re-enter the
// DemandController with size 0 so the element can recompute its own
// demand and typically emit more buffers.
func (h *Handler) HandleRedemand(ref pad.Ref) error {
	if h.supplying[ref] {
		h.delayed[delayedKey{pad: ref, action: redemandAction}] = struct{}{}
		return nil
	}
	if err := h.dispatch.DispatchDemand(ref, 0); err != nil {
		return err
	}
	return h.drainDelayed()
}

// IncreaseDemand implements the wire form of RequestDemand received
// from a downstream peer: delta units are added to ref's current
// demand and a supply cycle runs against the new absolute value.
func (h *Handler) IncreaseDemand(ref pad.Ref, delta int) error {
	rec, err := h.pads.Get(ref)
	if err != nil {
		return err
	}
	next := rec.Demand + delta
	return h.SupplyDemand(ref, &next)
}

// setDemand applies the new absolute demand value to ref's record.
func (h *Handler) setDemand(ref pad.Ref, size int) error {
	if size < 0 {
		return errs.NewNegativeDemand(ref.String(), size)
	}
	metrics.SetDemand(ref.String(), size)
	return h.pads.Update(ref, func(r *pad.Record) {
		r.Demand = size
	})
}

// runSupply performs exactly one drain cycle for ref, under the
// supplying flag, then dispatches drained items to the matching
// controllers in order.
func (h *Handler) runSupply(ref pad.Ref) error {
	h.supplying[ref] = true
	defer func() { h.supplying[ref] = false }()

	rec, err := h.pads.Get(ref)
	if err != nil {
		return err
	}

	buf, hasBuf := h.buffers[ref]
	if !hasBuf {
		// Output pad: there is no queue to drain, supplying demand
		// means re-entering the element's own demand callback.
		return h.dispatch.DispatchDemand(ref, rec.Demand)
	}

	var peerPID, peerPadAny interface{}
	if rec.Peer != nil {
		peerPID, peerPadAny = rec.Peer.PID, rec.Peer.Ref
	}

	_, drained := buf.TakeAndDemand(rec.Demand, peerPID, peerPadAny, func(_, _ interface{}, deficit int) {
		if deficit > 0 {
			if err := h.dispatch.RequestDemand(ref, deficit); err != nil && h.log != nil {
				h.log.WithError(err).Warn("failed to request deficit demand")
			}
		}
	})

	for _, item := range drained {
		switch item.Kind {
		case inputbuf.CapsItem:
			if err := h.dispatch.DispatchCaps(ref, item.Caps); err != nil {
				return err
			}
		case inputbuf.EventItem:
			if err := h.dispatch.DispatchEvent(ref, item.Event); err != nil {
				return err
			}
		case inputbuf.BuffersItem:
			metrics.AddBuffersIn(ref.String(), len(item.Buffers))
			if err := h.dispatch.DispatchBuffers(ref, item.Buffers); err != nil {
				return err
			}
		}
	}
	return nil
}

// drainDelayed repeatedly picks one pending delayed entry uniformly at
// random and executes it, folding in any entries that arrive while
// executing. This is the starvation-avoidance design the spec calls
// out explicitly: a deterministic iteration order would favor whichever
// pad happens to sort first.
func (h *Handler) drainDelayed() error {
	for len(h.delayed) > 0 {
		keys := make([]delayedKey, 0, len(h.delayed))
		for k := range h.delayed {
			keys = append(keys, k)
		}
		pick := keys[h.rng.Intn(len(keys))]
		delete(h.delayed, pick)

		var err error
		switch pick.action {
		case supplyAction:
			err = h.runSupply(pick.pad)
		case redemandAction:
			err = h.dispatch.DispatchDemand(pick.pad, 0)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// AccountOutgoing applies the outgoing-buffers accounting rules for a
// buffer emission on ref (an output pad): pull-mode output subtracts
// from its own demand; push-mode output with a peer toilet adds to
// that toilet and may trigger overflow; push-mode without a toilet is
// a no-op.
func (h *Handler) AccountOutgoing(ref pad.Ref, bs []media.Buffer) error {
	rec, err := h.pads.Get(ref)
	if err != nil {
		return err
	}
	metric := media.MetricFor(media.DemandUnit(rec.DemandUnit))
	size := metric(bs)
	metrics.AddBuffersOut(ref.String(), len(bs))

	switch rec.Mode {
	case pad.Pull:
		return h.pads.Update(ref, func(r *pad.Record) {
			r.Demand -= size
			if r.Demand < 0 {
				r.Demand = 0
			}
			metrics.SetDemand(ref.String(), r.Demand)
		})
	case pad.Push:
		if rec.Peer == nil {
			return nil
		}
		toilet, ok := h.toilets[rec.Peer.Ref]
		if !ok {
			// Sink accepting push buffers with no toilet: no-op.
			return nil
		}
		level := toilet.Add(size)
		metrics.SetToilet(rec.Peer.Ref.String(), level)
		if toilet.Overflowed() {
			err := &errs.ToiletOverflowError{
				Pad:       rec.Peer.Ref.String(),
				Size:      int(level),
				Threshold: toilet.threshold,
			}
			if h.log != nil {
				h.log.WithError(err).Error("toilet overflow, killing producer")
			}
			h.dispatch.KillPeer(ref, err)
			return err
		}
	}
	return nil
}

func randSeed() int64 {
	// A fresh source per handler is sufficient: fairness only needs
	// uniformity across one element's delayed set, not global entropy.
	var b [8]byte
	_, _ = crand.Read(b[:])
	s := int64(binary.BigEndian.Uint64(b[:]))
	if s < 0 {
		s = -s
	}
	if s == 0 {
		s = 1
	}
	return s
}
