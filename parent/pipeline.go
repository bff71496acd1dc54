package parent

import "github.com/sirupsen/logrus"

// Bin is a nested Parent: it has a parent of its own and bubbles
// notifications, stream events and playback-change acks up to it
// instead of handling them itself.
type Bin struct {
	*Parent
}

// NewBin creates a Bin. Attach it to its own parent before spawning it,
// the same way any other Runnable child is attached.
func NewBin(name string, log logrus.FieldLogger) *Bin {
	return &Bin{Parent: New(name, "bin", log)}
}

// Pipeline is the root Parent: it has no parent of its own, so bubbled
// notifications reach the application via OnNotify and a crash or
// requested shutdown is observed through Done rather than propagated
// further up.
type Pipeline struct {
	*Parent
}

// NewPipeline creates a Pipeline root.
func NewPipeline(name string, log logrus.FieldLogger) *Pipeline {
	return &Pipeline{Parent: New(name, "pipeline", log)}
}
