// Package media defines the payload-agnostic data types that flow
// through a streamgraph: structured format descriptors (Caps), immutable
// data units (Buffer) and typed control signals (Event).
package media

import (
	"reflect"
	"time"
)

// Caps is an opaque structured descriptor of stream format, compared by
// structural equality. A filter declares the Caps patterns it accepts
// on a pad; an upstream element negotiates concrete Caps against that
// declaration.
type Caps map[string]interface{}

// Equal reports whether two Caps describe the same format.
func (c Caps) Equal(other Caps) bool {
	return reflect.DeepEqual(c, other)
}

// Matches reports whether c satisfies the pattern declared by a pad. A
// nil pattern means "any"; a non-nil pattern must be a subset match: every
// key present in pattern must be present and equal in c.
func (c Caps) Matches(pattern Caps) bool {
	if pattern == nil {
		return true
	}
	for k, v := range pattern {
		cv, ok := c[k]
		if !ok || !reflect.DeepEqual(cv, v) {
			return false
		}
	}
	return true
}

// Buffer is an immutable payload unit flowing along a Link. Once
// constructed via NewBuffer it must not be mutated; elements that need
// to transform data must produce a new Buffer.
type Buffer struct {
	payload []byte
	pts     time.Duration
	hasPTS  bool
	meta    map[string]interface{}
}

// NewBuffer constructs a Buffer. meta is copied defensively so callers
// may not retain a mutable alias into it.
func NewBuffer(payload []byte, meta map[string]interface{}) Buffer {
	var m map[string]interface{}
	if len(meta) > 0 {
		m = make(map[string]interface{}, len(meta))
		for k, v := range meta {
			m[k] = v
		}
	}
	return Buffer{payload: payload, meta: m}
}

// WithPTS returns a copy of b carrying the given presentation timestamp.
func (b Buffer) WithPTS(pts time.Duration) Buffer {
	b.pts = pts
	b.hasPTS = true
	return b
}

// Payload returns the buffer's raw bytes. The caller must not mutate the
// returned slice.
func (b Buffer) Payload() []byte { return b.payload }

// PTS returns the presentation timestamp and whether one was set.
func (b Buffer) PTS() (time.Duration, bool) { return b.pts, b.hasPTS }

// Meta returns the value stored under key, if any.
func (b Buffer) Meta(key string) (interface{}, bool) {
	v, ok := b.meta[key]
	return v, ok
}

// Len returns the number of payload bytes.
func (b Buffer) Len() int { return len(b.payload) }

// EventKind identifies the type of a control Event.
type EventKind int

const (
	// StartOfStream marks the first item ever flowing on a pad.
	StartOfStream EventKind = iota
	// EndOfStream marks that no further buffers will arrive on a pad.
	EndOfStream
	// Custom carries an element or application defined signal.
	Custom
)

func (k EventKind) String() string {
	switch k {
	case StartOfStream:
		return "start_of_stream"
	case EndOfStream:
		return "end_of_stream"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Event is a typed control signal that travels interleaved with buffers,
// in producer order, on a single pad.
type Event struct {
	Kind    EventKind
	Name    string // set when Kind == Custom
	Payload interface{}
}

// DemandUnit identifies how buffer sizes are measured for a pad's demand
// accounting.
type DemandUnit int

const (
	// Buffers counts one unit per Buffer, regardless of payload size.
	Buffers DemandUnit = iota
	// Bytes counts the sum of Buffer payload lengths.
	Bytes
	// CustomUnit names an element-defined unit. No pad declaration
	// carries a custom Metric, so MetricFor counts it like Buffers.
	CustomUnit
)

// Metric computes the size, in demand units, of a slice of buffers. The
// framework never inspects buffer content; a pad's Metric is the one
// MetricFor returns for its declared demand unit.
type Metric func(bs []Buffer) int

// BuffersMetric counts one unit per buffer.
func BuffersMetric(bs []Buffer) int { return len(bs) }

// BytesMetric sums Buffer.Len() across bs.
func BytesMetric(bs []Buffer) int {
	n := 0
	for _, b := range bs {
		n += b.Len()
	}
	return n
}

// MetricFor returns the standard Metric for a DemandUnit. CustomUnit has
// no standard metric and gets BuffersMetric, one unit per buffer.
func MetricFor(u DemandUnit) Metric {
	switch u {
	case Bytes:
		return BytesMetric
	default:
		return BuffersMetric
	}
}
