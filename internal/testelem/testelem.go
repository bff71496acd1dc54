// Package testelem provides element.Handler test doubles standing in
// for a source, a transforming filter and a sink, grounded on the
// teacher's pipe/pump, pipe/processor and pipe/sink fakes (and their
// wav.go implementations) used throughout runner_test.go and
// pipe_test.go. These are not meant to do anything useful with media;
// they exist to drive and observe the pad protocol in scenario tests.
package testelem

import (
	"fmt"
	"sync"

	"github.com/streamgraph/core/control"
	"github.com/streamgraph/core/element"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
)

// Emit is the handle_other payload a test drives a push-mode Source
// with: deliver exactly these buffers on Pad right now, bypassing the
// demand protocol the way a live capture source would.
type Emit struct {
	Pad     pad.Ref
	Buffers []media.Buffer
}

// Source is a one-output-pad element.Handler. In pull mode, Feed queues
// buffers consumed as demand arrives; in push mode a test drives it
// directly by sending a KindOther envelope carrying an Emit.
type Source struct {
	Caps media.Caps

	mu      sync.Mutex
	pad     pad.Ref
	pending []media.Buffer

	demands []int // recorded sizes passed to HandleDemand, for assertions
}

// NewSource creates a Source that will declare caps on its StoppedToPrepared hop.
func NewSource(caps media.Caps) *Source {
	return &Source{Caps: caps}
}

func (s *Source) Init(ctx *element.Context) error {
	refs := ctx.Pads().RefsByDirection(pad.Output)
	if len(refs) == 0 {
		return fmt.Errorf("testelem: Source requires one output pad")
	}
	s.pad = refs[0]
	return nil
}

// HandleStoppedToPrepared announces Caps on the source's output pad.
func (s *Source) HandleStoppedToPrepared(ctx *element.Context) ([]control.Action, error) {
	return []control.Action{{Kind: control.ActionCaps, Pad: s.pad, Caps: s.Caps}}, nil
}

// HandlePreparedToPlaying announces start_of_stream, which must precede
// any buffer on the pad.
func (s *Source) HandlePreparedToPlaying(ctx *element.Context) ([]control.Action, error) {
	return []control.Action{{Kind: control.ActionEvent, Pad: s.pad, Event: media.Event{Kind: media.StartOfStream}}}, nil
}

// Feed appends buffers to the pull queue, for a Pull-mode Source.
func (s *Source) Feed(bs ...media.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, bs...)
}

// HandleDemand supplies up to size queued buffers, in order.
func (s *Source) HandleDemand(ctx *element.Context, ref pad.Ref, size int, unit media.DemandUnit) ([]control.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.demands = append(s.demands, size)
	n := size
	if n > len(s.pending) {
		n = len(s.pending)
	}
	if n == 0 {
		return nil, nil
	}
	bs := s.pending[:n]
	s.pending = s.pending[n:]
	return []control.Action{{Kind: control.ActionBuffer, Pad: ref, Buffers: bs}}, nil
}

// HandleOther drives a push-mode emission on request.
func (s *Source) HandleOther(ctx *element.Context, msg interface{}) ([]control.Action, error) {
	em, ok := msg.(Emit)
	if !ok {
		return nil, nil
	}
	return []control.Action{{Kind: control.ActionBuffer, Pad: em.Pad, Buffers: em.Buffers}}, nil
}

// Demands returns every size HandleDemand was called with, for
// asserting re-entrant redemand ordering.
func (s *Source) Demands() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.demands...)
}

// Filter is a one-input/one-output element.Handler. Transform defaults
// to identity; a test can set it, or Err to make HandleProcess fail
// (simulating a callback crash for supervision tests).
type Filter struct {
	Transform func([]media.Buffer) []media.Buffer
	Err       error

	mu        sync.Mutex
	in, out   pad.Ref
	processed int
}

func NewFilter() *Filter {
	return &Filter{}
}

func (f *Filter) Init(ctx *element.Context) error {
	ins := ctx.Pads().RefsByDirection(pad.Input)
	outs := ctx.Pads().RefsByDirection(pad.Output)
	if len(ins) == 0 || len(outs) == 0 {
		return fmt.Errorf("testelem: Filter requires one input and one output pad")
	}
	f.in, f.out = ins[0], outs[0]
	return nil
}

// HandleCaps forwards caps unchanged to the output pad.
func (f *Filter) HandleCaps(ctx *element.Context, ref pad.Ref, c media.Caps) ([]control.Action, error) {
	return []control.Action{{Kind: control.ActionCaps, Pad: f.out, Caps: c}}, nil
}

// HandleProcess applies Transform (identity by default) and emits the
// result, or returns Err if it is set.
func (f *Filter) HandleProcess(ctx *element.Context, ref pad.Ref, bs []media.Buffer) ([]control.Action, error) {
	f.mu.Lock()
	f.processed += len(bs)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := bs
	if f.Transform != nil {
		out = f.Transform(bs)
	}
	return []control.Action{{Kind: control.ActionBuffer, Pad: f.out, Buffers: out}}, nil
}

// HandleEvent forwards start/end-of-stream and custom events unchanged.
func (f *Filter) HandleEvent(ctx *element.Context, ref pad.Ref, e media.Event) ([]control.Action, error) {
	return []control.Action{{Kind: control.ActionEvent, Pad: f.out, Event: e}}, nil
}

// HandleDemand forwards demand on the output pad upstream onto the
// input pad 1:1, the passthrough ratio a pure filter uses absent any
// buffering of its own: production happens when upstream data arrives
// and HandleProcess runs, not here.
func (f *Filter) HandleDemand(ctx *element.Context, ref pad.Ref, size int, unit media.DemandUnit) ([]control.Action, error) {
	if size <= 0 {
		return nil, nil
	}
	n := size
	return []control.Action{{Kind: control.ActionDemand, Pad: f.in, Size: &n}}, nil
}

// Processed returns the number of buffers HandleProcess has seen.
func (f *Filter) Processed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed
}

// Sink is a one-input-pad element.Handler that records everything it
// receives, for test assertions. Demand is the initial pull-mode demand
// it requests when entering Playing; leave it zero for a push-mode
// Sink, which never calls HandleDemand at all.
// RedemandOnProcess, if set, makes HandleProcess return an
// ActionRedemand on its own input pad every time a buffer arrives,
// exercising the re-entrant demand path: the redemand issued from
// inside handle_process races the supply cycle that is still unwinding
// around that very call, so it must queue in the delayed set instead of
// recursing.
type Sink struct {
	Demand            int
	RedemandOnProcess bool

	mu       sync.Mutex
	in       pad.Ref
	caps     []media.Caps
	events   []media.Event
	buffers  []media.Buffer
	shutdown error
	didShut  bool
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Init(ctx *element.Context) error {
	ins := ctx.Pads().RefsByDirection(pad.Input)
	if len(ins) == 0 {
		return fmt.Errorf("testelem: Sink requires one input pad")
	}
	s.in = ins[0]
	return nil
}

// HandlePreparedToPlaying issues the sink's initial pull-mode demand, if
// Demand is non-zero.
func (s *Sink) HandlePreparedToPlaying(ctx *element.Context) ([]control.Action, error) {
	if s.Demand <= 0 {
		return nil, nil
	}
	size := s.Demand
	return []control.Action{{Kind: control.ActionDemand, Pad: s.in, Size: &size}}, nil
}

func (s *Sink) HandleCaps(ctx *element.Context, ref pad.Ref, c media.Caps) ([]control.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = append(s.caps, c)
	return nil, nil
}

func (s *Sink) HandleProcess(ctx *element.Context, ref pad.Ref, bs []media.Buffer) ([]control.Action, error) {
	s.mu.Lock()
	s.buffers = append(s.buffers, bs...)
	redemand := s.RedemandOnProcess
	s.mu.Unlock()
	if !redemand {
		return nil, nil
	}
	return []control.Action{{Kind: control.ActionRedemand, Pad: s.in}}, nil
}

// HandleDemand re-applies the sink's standing Demand, the target of a
// redemand issued from HandleProcess: handle_redemand re-enters this
// callback with size 0, and the sink recomputes its own absolute
// demand rather than trusting the zero it was passed.
func (s *Sink) HandleDemand(ctx *element.Context, ref pad.Ref, size int, unit media.DemandUnit) ([]control.Action, error) {
	if s.Demand <= 0 {
		return nil, nil
	}
	n := s.Demand
	return []control.Action{{Kind: control.ActionDemand, Pad: s.in, Size: &n}}, nil
}

func (s *Sink) HandleEvent(ctx *element.Context, ref pad.Ref, e media.Event) ([]control.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil, nil
}

func (s *Sink) HandleShutdown(ctx *element.Context, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.didShut = true
	s.shutdown = reason
}

// Buffers returns every buffer the sink has accepted, in order.
func (s *Sink) Buffers() []media.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Buffer(nil), s.buffers...)
}

// Events returns every event the sink has accepted, in order.
func (s *Sink) Events() []media.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Event(nil), s.events...)
}

// Caps returns every caps value the sink has accepted, in order.
func (s *Sink) Caps() []media.Caps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Caps(nil), s.caps...)
}

// Shutdown reports whether HandleShutdown ran, and with what reason.
func (s *Sink) Shutdown() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.didShut, s.shutdown
}
