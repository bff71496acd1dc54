// Package inputbuf implements the bounded, order-preserving per-pad
// queue described by the spec's InputBuffer component: items flow in
// producer order, demand is tracked against delivered buffer units, and
// a configurable preferred_size drives deficit re-demand.
package inputbuf

import "github.com/streamgraph/core/media"

// ItemKind tags the union stored in a Buffer queue entry.
type ItemKind int

const (
	// CapsItem carries a caps negotiation.
	CapsItem ItemKind = iota
	// EventItem carries a control event.
	EventItem
	// BuffersItem carries one or more data buffers, sized by Unit.
	BuffersItem
)

// Item is the tagged union stored by the queue: {caps c} | {event e} |
// {buffers bs, unit_size n}.
type Item struct {
	Kind    ItemKind
	Caps    media.Caps
	Event   media.Event
	Buffers []media.Buffer
	Size    int // precomputed via the pad's Metric, only meaningful for BuffersItem
}

// Status reports whether TakeAndDemand satisfied the requested demand before
// running out of queued items.
type Status int

const (
	// Drained means the requested demand was fully satisfied.
	Drained Status = iota
	// Empty means the queue emptied before demand was satisfied.
	Empty
)

// Buffer is the bounded, order-preserving input queue for one input
// pad. It is not safe for concurrent use; callers must serialize access
// through the owning element's actor loop.
type Buffer struct {
	metric        media.Metric
	preferredSize int
	items         []Item
}

// New creates an input queue. metric sizes buffer items according to
// the pad's declared demand unit; preferredSize is the low-water mark
// below which a deficit re-demand is requested from the peer.
func New(metric media.Metric, preferredSize int) *Buffer {
	if metric == nil {
		metric = media.BuffersMetric
	}
	return &Buffer{metric: metric, preferredSize: preferredSize}
}

// Store appends item to the tail of the queue, computing its Size for
// BuffersItem entries via the pad's metric.
func (b *Buffer) Store(item Item) {
	if item.Kind == BuffersItem {
		item.Size = b.metric(item.Buffers)
	}
	b.items = append(b.items, item)
}

// Len returns the number of queued buffer units currently held,
// ignoring non-buffer items (caps/events do not count toward the size
// budget).
func (b *Buffer) Len() int {
	n := 0
	for _, it := range b.items {
		if it.Kind == BuffersItem {
			n += it.Size
		}
	}
	return n
}

// Pending returns the number of queued entries, including non-buffer
// items, mostly for diagnostics and tests.
func (b *Buffer) Pending() int {
	return len(b.items)
}

// DemandFn redemands size units on peer/peerPad. It is invoked by
// TakeAndDemand when, after draining, the queue sits below
// preferredSize.
type DemandFn func(peer interface{}, peerPad interface{}, size int)

// TakeAndDemand drains items from the head of the queue until either
// the queue empties or the total drained buffer units reach
// currentDemand. Non-buffer items are always drained when at the head
// and never count toward the size budget. If, after draining, the
// queue holds fewer than preferredSize buffer units, demand is raised
// on the peer for the deficit via demand.
func (b *Buffer) TakeAndDemand(currentDemand int, peer, peerPad interface{}, demand DemandFn) (Status, []Item) {
	drained := make([]Item, 0, len(b.items))
	drainedUnits := 0
	i := 0
	for ; i < len(b.items); i++ {
		it := b.items[i]
		drained = append(drained, it)
		if it.Kind == BuffersItem {
			drainedUnits += it.Size
			if drainedUnits >= currentDemand {
				i++
				break
			}
		}
	}
	status := Drained
	if i >= len(b.items) && drainedUnits < currentDemand {
		status = Empty
	}
	b.items = append(b.items[:0], b.items[i:]...)

	if remaining := b.Len(); remaining < b.preferredSize && demand != nil {
		deficit := b.preferredSize - remaining
		demand(peer, peerPad, deficit)
	}

	return status, drained
}
