// Package scenario exercises the pad protocol end to end across real
// element, link and parent actors wired together, the way the
// teacher's pipe_test.go and network_test.go drive whole pipe.Lines
// rather than individual components.
package scenario_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/streamgraph/core/actor"
	"github.com/streamgraph/core/element"
	"github.com/streamgraph/core/internal/testelem"
	"github.com/streamgraph/core/link"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
	"github.com/streamgraph/core/parent"
	"github.com/streamgraph/core/state"
)

const timeout = 2 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mustLink links output pad aPad on a to input pad bPad on b, reading
// each endpoint's own declared toilet threshold off its pad record so a
// push-mode producer registers the consumer's actual threshold rather
// than a hardcoded stand-in.
func mustLink(t *testing.T, p *parent.Pipeline, a, b *element.Element, aPad, bPad string) {
	t.Helper()
	aRef := pad.Ref{Element: a.Name(), Name: aPad}
	bRef := pad.Ref{Element: b.Name(), Name: bPad}
	aRec, err := a.Pads().Get(aRef)
	require.NoError(t, err)
	bRec, err := b.Pads().Get(bRef)
	require.NoError(t, err)

	done := make(chan error, 1)
	p.Link(link.Request{
		A: link.Endpoint{Box: a.Mailbox(), Pad: aRef, Direction: pad.Output, ToiletThreshold: aRec.ToiletThreshold},
		B: link.Endpoint{Box: b.Mailbox(), Pad: bRef, Direction: pad.Input, ToiletThreshold: bRec.ToiletThreshold},
	}, func(err error) { done <- err })
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("link handshake timed out")
	}
}

func changeState(t *testing.T, p *parent.Pipeline, target state.State) {
	t.Helper()
	select {
	case err := <-p.ChangeState(target):
		require.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("change_state timed out")
	}
}

func runPipeline(p *parent.Pipeline) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	return cancel
}

// Scenario 1: a buffer arriving before caps crashes the receiving
// element and the crash propagates to the pipeline.
func TestBufferBeforeCapsCrashesPipeline(t *testing.T) {
	in := pad.Spec{Name: "in", Mode: pad.Pull}
	sink := testelem.NewSink()
	sinkEl := element.New("sink", "sink", sink, []pad.Spec{in}, nil, nil)

	p := parent.NewPipeline("pipe", nil)
	p.Spawn(sinkEl)
	cancel := runPipeline(p)
	defer cancel()

	inRef := pad.Ref{Element: "sink", Name: "in"}
	sinkEl.Mailbox() <- actor.Envelope{
		Kind:    actor.KindBuffers,
		Pad:     inRef,
		Buffers: []media.Buffer{media.NewBuffer([]byte{1}, nil)},
	}

	select {
	case reason := <-p.Done():
		require.Error(t, reason)
		assert.Contains(t, reason.Error(), "caps")
	case <-time.After(timeout):
		t.Fatal("pipeline never observed the crash")
	}
}

// Scenario 2: happy path end to end, with a blocking terminate once the
// sink has seen its data.
func TestHappyPathDeliversBuffersAndTerminatesCleanly(t *testing.T) {
	caps := media.Caps{"format": "raw"}
	src := testelem.NewSource(caps)
	filt := testelem.NewFilter()
	snk := testelem.NewSink()
	snk.Demand = 4

	srcOut := pad.Spec{Name: "out", Mode: pad.Pull, Caps: caps}
	filtIn := pad.Spec{Name: "in", Mode: pad.Pull, Caps: caps}
	filtOut := pad.Spec{Name: "out", Mode: pad.Pull, Caps: caps}
	snkIn := pad.Spec{Name: "in", Mode: pad.Pull, Caps: caps}

	srcEl := element.New("src", "source", src, nil, []pad.Spec{srcOut}, nil)
	filtEl := element.New("filt", "filter", filt, []pad.Spec{filtIn}, []pad.Spec{filtOut}, nil)
	snkEl := element.New("snk", "sink", snk, []pad.Spec{snkIn}, nil, nil)

	src.Feed(media.NewBuffer([]byte{1, 2, 3}, nil), media.NewBuffer([]byte{4, 5, 6}, nil))

	p := parent.NewPipeline("pipe", nil)
	startOfStream := make(chan string, 4)
	p.OnStreamEvent(func(childName string, ref pad.Ref, ev media.Event) {
		if ev.Kind == media.StartOfStream {
			startOfStream <- childName
		}
	})
	p.Spawn(srcEl)
	p.Spawn(filtEl)
	p.Spawn(snkEl)
	cancel := runPipeline(p)
	defer cancel()

	mustLink(t, p, srcEl, filtEl, "out", "in")
	mustLink(t, p, filtEl, snkEl, "out", "in")

	changeState(t, p, state.Playing)

	require.Eventually(t, func() bool {
		return len(snk.Buffers()) == 2
	}, timeout, 5*time.Millisecond, "sink never received both buffers")
	assert.Len(t, snk.Caps(), 1)

	// start_of_stream propagates element by element down the chain
	// (src -> filt -> snk), each one informing the pipeline root as it
	// observes the event on its own input pad.
	seen := map[string]bool{}
	deadline := time.After(timeout)
	for !seen["snk"] {
		select {
		case childName := <-startOfStream:
			seen[childName] = true
		case <-deadline:
			t.Fatal("pipeline root never observed start_of_stream bubbled from the sink")
		}
	}
	assert.True(t, seen["filt"], "the filter between source and sink must also report start_of_stream")
	require.Len(t, snk.Events(), 1)
	assert.Equal(t, media.StartOfStream, snk.Events()[0].Kind)

	require.NoError(t, p.Terminate(context.Background()))
}

// Scenario 3: a pull-mode chain's outstanding demand requests stay
// bounded by the consumer's preferred_size rather than draining the
// whole backlog in one shot.
func TestPullBackpressureBoundByPreferredSize(t *testing.T) {
	caps := media.Caps{"format": "raw"}
	src := testelem.NewSource(caps)
	snk := testelem.NewSink()
	snk.Demand = 2

	srcOut := pad.Spec{Name: "out", Mode: pad.Pull, Caps: caps}
	snkIn := pad.Spec{Name: "in", Mode: pad.Pull, Caps: caps, PreferredSize: 2}

	srcEl := element.New("src", "source", src, nil, []pad.Spec{srcOut}, nil)
	snkEl := element.New("snk", "sink", snk, []pad.Spec{snkIn}, nil, nil)

	for i := 0; i < 20; i++ {
		src.Feed(media.NewBuffer([]byte{byte(i)}, nil))
	}

	p := parent.NewPipeline("pipe", nil)
	p.Spawn(srcEl)
	p.Spawn(snkEl)
	cancel := runPipeline(p)
	defer cancel()

	mustLink(t, p, srcEl, snkEl, "out", "in")

	changeState(t, p, state.Playing)

	require.Eventually(t, func() bool {
		return len(snk.Buffers()) >= 10
	}, timeout, 5*time.Millisecond, "sink never drained its feed")

	for _, size := range src.Demands() {
		assert.LessOrEqualf(t, size, 4, "a single demand request exceeded what preferred_size should bound: %d", size)
	}
}

// Scenario 4: a push-mode producer that floods past the default toilet
// threshold is killed, and the crash propagates to the pipeline.
func TestToiletOverflowKillsPushProducer(t *testing.T) {
	caps := media.Caps{"format": "raw"}
	src := testelem.NewSource(caps)
	snk := testelem.NewSink()

	srcOut := pad.Spec{Name: "out", Mode: pad.Push, Caps: caps}
	snkIn := pad.Spec{Name: "in", Mode: pad.Push, Caps: caps}

	srcEl := element.New("src", "source", src, nil, []pad.Spec{srcOut}, nil)
	snkEl := element.New("snk", "sink", snk, []pad.Spec{snkIn}, nil, nil)

	p := parent.NewPipeline("pipe", nil)
	p.Spawn(srcEl)
	p.Spawn(snkEl)
	cancel := runPipeline(p)
	defer cancel()

	srcRef := pad.Ref{Element: "src", Name: "out"}
	mustLink(t, p, srcEl, snkEl, "out", "in")

	changeState(t, p, state.Playing)

	oversized := make([]media.Buffer, pad.DefaultToiletThreshold+1)
	for i := range oversized {
		oversized[i] = media.NewBuffer([]byte{byte(i)}, nil)
	}
	srcEl.Mailbox() <- actor.Envelope{
		Kind:  actor.KindOther,
		Other: testelem.Emit{Pad: srcRef, Buffers: oversized},
	}

	select {
	case reason := <-p.Done():
		require.Error(t, reason)
		assert.Contains(t, reason.Error(), "toilet overflow")
	case <-time.After(timeout):
		t.Fatal("pipeline never observed the toilet overflow")
	}
}

// Scenario 5: a redemand issued from inside handle_process is deferred
// until the in-flight supply cycle finishes, and buffer order at the
// sink is preserved despite the re-entrance.
func TestReentrantRedemandPreservesOrder(t *testing.T) {
	caps := media.Caps{"format": "raw"}
	src := testelem.NewSource(caps)
	snk := testelem.NewSink()
	snk.Demand = 1
	snk.RedemandOnProcess = true

	srcOut := pad.Spec{Name: "out", Mode: pad.Pull, Caps: caps}
	snkIn := pad.Spec{Name: "in", Mode: pad.Pull, Caps: caps, PreferredSize: 1}

	srcEl := element.New("src", "source", src, nil, []pad.Spec{srcOut}, nil)
	snkEl := element.New("snk", "sink", snk, []pad.Spec{snkIn}, nil, nil)

	want := make([]media.Buffer, 6)
	for i := range want {
		want[i] = media.NewBuffer([]byte{byte(i)}, nil)
		src.Feed(want[i])
	}

	p := parent.NewPipeline("pipe", nil)
	p.Spawn(srcEl)
	p.Spawn(snkEl)
	cancel := runPipeline(p)
	defer cancel()

	mustLink(t, p, srcEl, snkEl, "out", "in")

	changeState(t, p, state.Playing)

	require.Eventually(t, func() bool {
		return len(snk.Buffers()) == len(want)
	}, timeout, 5*time.Millisecond, "sink never drained the full feed via redemand")

	got := snk.Buffers()
	for i := range want {
		assert.Equal(t, want[i].Payload(), got[i].Payload(), "buffer order must match emission order at index %d", i)
	}
}

// Scenario 6: a child crash tears down its siblings and propagates to
// the pipeline root.
func TestChildCrashPropagatesToPipelineShutdown(t *testing.T) {
	caps := media.Caps{"format": "raw"}
	src := testelem.NewSource(caps)
	filt := testelem.NewFilter()
	filt.Err = errors.New("boom")
	snk := testelem.NewSink()
	snk.Demand = 2

	srcOut := pad.Spec{Name: "out", Mode: pad.Pull, Caps: caps}
	filtIn := pad.Spec{Name: "in", Mode: pad.Pull, Caps: caps}
	filtOut := pad.Spec{Name: "out", Mode: pad.Pull, Caps: caps}
	snkIn := pad.Spec{Name: "in", Mode: pad.Pull, Caps: caps}

	srcEl := element.New("src", "source", src, nil, []pad.Spec{srcOut}, nil)
	filtEl := element.New("filt", "filter", filt, []pad.Spec{filtIn}, []pad.Spec{filtOut}, nil)
	snkEl := element.New("snk", "sink", snk, []pad.Spec{snkIn}, nil, nil)

	src.Feed(media.NewBuffer([]byte{1}, nil))

	p := parent.NewPipeline("pipe", nil)
	p.Spawn(srcEl)
	p.Spawn(filtEl)
	p.Spawn(snkEl)
	cancel := runPipeline(p)
	defer cancel()

	mustLink(t, p, srcEl, filtEl, "out", "in")
	mustLink(t, p, filtEl, snkEl, "out", "in")

	changeState(t, p, state.Playing)

	select {
	case reason := <-p.Done():
		require.Error(t, reason)
		assert.Contains(t, reason.Error(), "boom")
	case <-time.After(timeout):
		t.Fatal("pipeline never observed the child crash")
	}

	// The parent cancels the siblings and reports Done without waiting
	// for them, so the sink's hook runs on its own goroutine shortly after.
	assert.Eventually(t, func() bool {
		shut, _ := snk.Shutdown()
		return shut
	}, timeout, 5*time.Millisecond, "surviving sink sibling must still run its shutdown hook")
}
