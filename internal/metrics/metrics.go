// Package metrics exposes runtime counters through expvar, adapted
// from the teacher's metric package (metric/metric.go): per-component
// named counters published under a shared label so operators can read
// them over /debug/vars without any extra wiring.
package metrics

import (
	"expvar"
	"fmt"
	"sync"
)

const label = "streamgraph.pads"

// Counter names tracked per pad.
const (
	DemandCounter     = "Demand"
	ToiletCounter     = "Toilet"
	BuffersInCounter  = "BuffersIn"
	BuffersOutCounter = "BuffersOut"
)

var (
	mu   sync.Mutex
	pads = map[string]*padMetric{}
)

type padMetric struct {
	demand     *expvar.Int
	toilet     *expvar.Int
	buffersIn  *expvar.Int
	buffersOut *expvar.Int
}

func forPad(padRef string) *padMetric {
	mu.Lock()
	defer mu.Unlock()
	if m, ok := pads[padRef]; ok {
		return m
	}
	m := &padMetric{
		demand:     expvar.NewInt(key(padRef, DemandCounter)),
		toilet:     expvar.NewInt(key(padRef, ToiletCounter)),
		buffersIn:  expvar.NewInt(key(padRef, BuffersInCounter)),
		buffersOut: expvar.NewInt(key(padRef, BuffersOutCounter)),
	}
	pads[padRef] = m
	return m
}

func key(padRef, counter string) string {
	return fmt.Sprintf("%s.%s.%s", label, padRef, counter)
}

// SetDemand records the current outstanding demand for a pad.
func SetDemand(padRef string, demand int) {
	forPad(padRef).demand.Set(int64(demand))
}

// SetToilet records the current toilet level for a pad.
func SetToilet(padRef string, level int64) {
	forPad(padRef).toilet.Set(level)
}

// AddBuffersIn increments the accepted-buffer counter for a pad.
func AddBuffersIn(padRef string, n int) {
	forPad(padRef).buffersIn.Add(int64(n))
}

// AddBuffersOut increments the emitted-buffer counter for a pad.
func AddBuffersOut(padRef string, n int) {
	forPad(padRef).buffersOut.Add(int64(n))
}

// Get returns a snapshot of all counters for a pad, for tests and
// diagnostics.
func Get(padRef string) map[string]int64 {
	mu.Lock()
	m, ok := pads[padRef]
	mu.Unlock()
	if !ok {
		return nil
	}
	return map[string]int64{
		DemandCounter:     m.demand.Value(),
		BuffersInCounter:  m.buffersIn.Value(),
		BuffersOutCounter: m.buffersOut.Value(),
		ToiletCounter:     m.toilet.Value(),
	}
}
