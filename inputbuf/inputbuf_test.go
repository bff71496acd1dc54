package inputbuf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamgraph/core/inputbuf"
	"github.com/streamgraph/core/media"
)

func buffers(n int) []media.Buffer {
	bs := make([]media.Buffer, n)
	for i := range bs {
		bs[i] = media.NewBuffer([]byte{byte(i)}, nil)
	}
	return bs
}

func TestStoreOrderPreserved(t *testing.T) {
	b := inputbuf.New(media.BuffersMetric, 0)
	b.Store(inputbuf.Item{Kind: inputbuf.CapsItem, Caps: media.Caps{"rate": 1}})
	b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(2)})
	b.Store(inputbuf.Item{Kind: inputbuf.EventItem, Event: media.Event{Kind: media.StartOfStream}})

	status, drained := b.TakeAndDemand(10, nil, nil, nil)
	assert.Equal(t, inputbuf.Empty, status)
	assert.Len(t, drained, 3)
	assert.Equal(t, inputbuf.CapsItem, drained[0].Kind)
	assert.Equal(t, inputbuf.BuffersItem, drained[1].Kind)
	assert.Equal(t, inputbuf.EventItem, drained[2].Kind)
}

func TestTakeAndDemandDrainedStopsAtBudget(t *testing.T) {
	b := inputbuf.New(media.BuffersMetric, 0)
	b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(5)})
	b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(5)})

	status, drained := b.TakeAndDemand(5, nil, nil, nil)
	assert.Equal(t, inputbuf.Drained, status)
	assert.Len(t, drained, 1)
	assert.Equal(t, 5, b.Len(), "remaining item must stay queued")
}

func TestTakeAndDemandEmptyBelowBudget(t *testing.T) {
	b := inputbuf.New(media.BuffersMetric, 0)
	b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(3)})

	status, drained := b.TakeAndDemand(10, nil, nil, nil)
	assert.Equal(t, inputbuf.Empty, status)
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, b.Len())
}

func TestTakeAndDemandNoDeficitAtPreferredSize(t *testing.T) {
	b := inputbuf.New(media.BuffersMetric, 8)
	// Store as ten single-buffer items so draining can stop mid-stream.
	for i := 0; i < 10; i++ {
		b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(1)})
	}

	var gotPeer, gotPad interface{}
	var gotSize int
	demandFn := func(peer, peerPad interface{}, size int) {
		gotPeer, gotPad, gotSize = peer, peerPad, size
	}

	status, drained := b.TakeAndDemand(2, "peer", "peerPad", demandFn)
	assert.Equal(t, inputbuf.Drained, status)
	assert.Len(t, drained, 2)
	assert.Equal(t, 8, b.Len())
	assert.Nil(t, gotPeer, "DemandFn must not be called without a deficit")
	assert.Nil(t, gotPad, "DemandFn must not be called without a deficit")
	assert.Equal(t, 0, gotSize, "8 queued already meets preferredSize of 8, no deficit")
}

func TestTakeAndDemandRequestsDeficitWhenBelowPreferred(t *testing.T) {
	b := inputbuf.New(media.BuffersMetric, 20)
	b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(5)})

	var gotSize int
	demandFn := func(peer, peerPad interface{}, size int) {
		gotSize = size
	}

	status, _ := b.TakeAndDemand(5, nil, nil, demandFn)
	assert.Equal(t, inputbuf.Drained, status)
	assert.Equal(t, 20, gotSize)
}

func TestNonBufferItemsDoNotCountTowardBudget(t *testing.T) {
	b := inputbuf.New(media.BuffersMetric, 0)
	b.Store(inputbuf.Item{Kind: inputbuf.EventItem, Event: media.Event{Kind: media.StartOfStream}})
	b.Store(inputbuf.Item{Kind: inputbuf.EventItem, Event: media.Event{Kind: media.Custom}})
	b.Store(inputbuf.Item{Kind: inputbuf.BuffersItem, Buffers: buffers(3)})

	status, drained := b.TakeAndDemand(3, nil, nil, nil)
	assert.Equal(t, inputbuf.Drained, status)
	assert.Len(t, drained, 3, "both events drain unconditionally ahead of the buffer budget")
}
