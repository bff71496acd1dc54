package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamgraph/core/internal/testelem"
	"github.com/streamgraph/core/media"
	"github.com/streamgraph/core/pad"
	"github.com/streamgraph/core/pipeline"
)

const timeout = 2 * time.Second

func TestStartWiresElementsLinksAndPlaysThenMessageChildDrivesDelivery(t *testing.T) {
	caps := media.Caps{"format": "raw"}
	src := testelem.NewSource(caps)
	snk := testelem.NewSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pipeline.Start(ctx, "pipe",
		pipeline.WithElements(
			pipeline.ElementSpec{Name: "src", Kind: "source", Handler: src, Outputs: []pad.Spec{{Name: "out", Mode: pad.Push, Caps: caps}}},
			pipeline.ElementSpec{Name: "snk", Kind: "sink", Handler: snk, Inputs: []pad.Spec{{Name: "in", Mode: pad.Push, Caps: caps}}},
		),
		pipeline.WithLinks(pipeline.LinkSpec{From: "src", FromPad: "out", To: "snk", ToPad: "in"}),
	)
	require.NoError(t, err)

	select {
	case err := <-pipeline.Play(p):
		require.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("play never completed")
	}

	buf := media.NewBuffer([]byte{1, 2, 3}, nil)
	emit := testelem.Emit{Pad: pad.Ref{Element: "src", Name: "out"}, Buffers: []media.Buffer{buf}}
	select {
	case err := <-p.MessageChild("src", emit):
		require.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("message_child never completed")
	}

	require.Eventually(t, func() bool {
		return len(snk.Buffers()) == 1
	}, timeout, 5*time.Millisecond, "sink never received the buffer driven in by message_child")

	require.NoError(t, p.Terminate(context.Background()))
}

func TestStartRejectsALinkNamingAnUnknownElement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := pipeline.Start(ctx, "pipe",
		pipeline.WithElements(pipeline.ElementSpec{
			Name:    "src",
			Handler: testelem.NewSource(media.Caps{}),
			Outputs: []pad.Spec{{Name: "out", Mode: pad.Pull}},
		}),
		pipeline.WithLinks(pipeline.LinkSpec{From: "src", FromPad: "out", To: "ghost", ToPad: "in"}),
	)
	require.Error(t, err)
}
