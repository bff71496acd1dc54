// Package actor defines the single mailbox envelope every element, bin
// and pipeline actor in the tree sends and receives, grounded on the
// teacher's eventMessage pattern (pipe/state.go): one tagged struct
// carrying whichever fields a given Kind needs, switched on in the
// actor's mailbox loop, instead of one Go channel type per message
// shape. A single envelope type also lets element, link, parent and
// timer address each other's mailboxes without an import cycle between
// packages that otherwise only need to send messages, not call methods.
package actor

import (
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
	"github.com/streamgraph/core/state"
)

// Mailbox is the channel every actor reads its own Envelopes from.
type Mailbox chan Envelope

// Kind tags which fields of an Envelope are meaningful.
type Kind int

const (
	// KindLink carries a two-step link handshake request from a parent
	// to one of the two elements being linked.
	KindLink Kind = iota
	// KindLinkResponse is an element's (or bin's) reply closing one leg
	// of a link handshake, addressed to whoever sent the KindLink.
	KindLinkResponse
	// KindChangeState requests a playback state transition.
	KindChangeState
	// KindSupplyDemand is supply_demand(pad, size).
	KindSupplyDemand
	// KindRedemand is handle_redemand(pad).
	KindRedemand
	// KindCaps delivers caps arriving on one of the receiving actor's
	// input pads.
	KindCaps
	// KindEvent delivers a stream event arriving on a pad.
	KindEvent
	// KindBuffers delivers buffers arriving on a pad (push delivery, or
	// the result of a pull demand being satisfied).
	KindBuffers
	// KindDemandRequest is a peer asking this actor's output pad for
	// more units (the wire form of RequestDemand).
	KindDemandRequest
	// KindToiletDrain is a push-mode consumer acking Size processed
	// units back to the producer that registered a Toilet for it,
	// the wire form that lets a producer-side Toilet actually drain.
	KindToiletDrain
	// KindOther carries an application-defined payload for handle_other.
	KindOther
	// KindShutdown tells an actor to stop, carrying the reason (nil for
	// a clean requested shutdown).
	KindShutdown
	// KindTick is a periodic timer firing bound to this actor's clock.
	KindTick
	// KindClockRatio broadcasts a clock ratio update to be forwarded to
	// children that share the clock.
	KindClockRatio
	// KindChildPlaybackChanged reports a child's playback_change_successful
	// up to its parent.
	KindChildPlaybackChanged
	// KindChildNotification bubbles an application notification up the
	// parent chain.
	KindChildNotification
	// KindStartOfStream/KindEndOfStream notify the parent a child saw
	// that event on one of its pads.
	KindStartOfStream
	KindEndOfStream
	// KindChildDown is sent by a child actor (element or nested parent)
	// to its parent when the child's own mailbox loop exits.
	KindChildDown
	// KindSpawnChild asks a parent to add and start a new child; the
	// new child is not linked to anything.
	KindSpawnChild
	// KindRemoveChild asks a parent to drop and shut down a child; links
	// to the child's pads are left as they are.
	KindRemoveChild
	// KindMessageChild asks a parent to forward Other to one named
	// child's own mailbox as a KindOther envelope.
	KindMessageChild
)

// LinkInfo describes one leg of a link handshake.
type LinkInfo struct {
	LinkID string
	// Direction is the direction of ThisPad as seen by the receiving
	// actor: Output means the receiving actor is the producer on this
	// leg of the link.
	Direction pad.Direction
	ThisPad   pad.Ref
	PeerPad   pad.Ref
	PeerBox   Mailbox
	// ToiletThreshold is the peer's declared toilet threshold, carried
	// along so a push-mode producer can register a local Toilet for
	// PeerPad without a round trip to ask for it.
	ToiletThreshold int
}

// Envelope is the single message type exchanged between actors.
type Envelope struct {
	Kind Kind

	From     Mailbox
	FromName string

	Pad     pad.Ref
	Caps    media.Caps
	Event   media.Event
	Buffers []media.Buffer
	Size    *int

	Target State

	Link   *LinkInfo
	LinkID string

	Reason error
	Other  interface{}
	Ratio  float64

	ChildName  string
	ChildState State

	// Reply, when non-nil, is closed (after an optional error send) by
	// the receiver once the request has been fully handled, letting the
	// sender block for an acknowledgement (e.g. a blocking terminate).
	Reply chan error
}

// State re-exports state.State so callers constructing Envelopes do not
// need to import the state package solely for this one field type.
type State = state.State
