// Package pad defines pad identity, declared pad specs and the
// per-element PadModel: a keyed store of per-pad state records with
// typed accessors, grounded on the spec's PadModel contract. All
// accesses happen from within the owning element's actor goroutine, so
// the store needs no locking of its own.
package pad

import (
	"fmt"

	"github.com/streamgraph/core/errs"
)

// PID is an opaque handle to a peer actor's mailbox. pad never sends on
// it; it only stores and returns it for element/parent to use.
type PID = interface{}

// Direction is the flow direction of a pad.
type Direction int

const (
	// Input pads receive caps, events and buffers from a peer.
	Input Direction = iota
	// Output pads emit caps, events and buffers to a peer.
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Input {
		return Output
	}
	return Input
}

// Mode is the demand discipline of a pad.
type Mode int

const (
	// Pull pads are driven by demand: the consumer requests units and
	// the producer supplies them.
	Pull Mode = iota
	// Push pads are driven by the producer; backpressure is enforced by
	// a toilet counter on the consuming side.
	Push
)

func (m Mode) String() string {
	if m == Pull {
		return "pull"
	}
	return "push"
}

// Availability describes when a declared pad actually exists on an
// element.
type Availability int

const (
	// Always pads exist for the lifetime of the element.
	Always Availability = iota
	// OnRequest pads are instantiated dynamically and carry an Instance
	// id distinguishing them from their siblings.
	OnRequest
)

// Ref identifies a pad: the owning element, its declared name, and an
// optional dynamic instance id for on-request pads.
type Ref struct {
	Element  string
	Name     string
	Instance string
}

// String renders a Ref as "element/name" or "element/name#instance".
func (r Ref) String() string {
	if r.Instance == "" {
		return fmt.Sprintf("%s/%s", r.Element, r.Name)
	}
	return fmt.Sprintf("%s/%s#%s", r.Element, r.Name, r.Instance)
}

// Peer identifies a remote pad together with the mailbox of the
// element that owns it.
type Peer struct {
	Ref Ref
	PID PID
}

// Record is the per-pad state tracked by PadModel.
type Record struct {
	Direction         Direction
	Mode              Mode
	DemandUnit        int // media.DemandUnit; kept untyped to avoid an import cycle with media
	Constraint        interface{}
	Caps              interface{}
	HasCaps           bool
	Peer              *Peer
	Demand            int
	ToiletThreshold   int
	CapsSent          bool
	StartOfStreamSent bool
	EndOfStreamSent   bool
	Data              map[string]interface{}
}

// Model is the keyed store of Records for all pads owned by one
// element. Zero value is not usable; use NewModel.
type Model struct {
	records map[Ref]*Record
}

// NewModel creates an empty PadModel.
func NewModel() *Model {
	return &Model{records: make(map[Ref]*Record)}
}

// Register adds ref to the model with its static attributes. Calling
// Register twice for the same ref replaces the record.
func (m *Model) Register(ref Ref, rec Record) {
	if rec.Data == nil {
		rec.Data = make(map[string]interface{})
	}
	r := rec
	m.records[ref] = &r
}

// Unregister removes ref, used when an on-request pad is released.
func (m *Model) Unregister(ref Ref) {
	delete(m.records, ref)
}

// Refs returns every registered pad reference.
func (m *Model) Refs() []Ref {
	refs := make([]Ref, 0, len(m.records))
	for r := range m.records {
		refs = append(refs, r)
	}
	return refs
}

// RefsByDirection returns every registered pad reference with the given
// direction.
func (m *Model) RefsByDirection(d Direction) []Ref {
	refs := make([]Ref, 0, len(m.records))
	for r, rec := range m.records {
		if rec.Direction == d {
			refs = append(refs, r)
		}
	}
	return refs
}

func (m *Model) get(ref Ref) (*Record, error) {
	r, ok := m.records[ref]
	if !ok {
		return nil, &errs.UnknownPadError{Pad: ref.String()}
	}
	return r, nil
}

// Get returns a copy of the record for ref, or UnknownPadError.
func (m *Model) Get(ref Ref) (Record, error) {
	r, err := m.get(ref)
	if err != nil {
		return Record{}, err
	}
	return *r, nil
}

// Update applies fn to the record for ref in place. fn may mutate any
// field except Data, which should be manipulated via GetData/SetData.
func (m *Model) Update(ref Ref, fn func(*Record)) error {
	r, err := m.get(ref)
	if err != nil {
		return err
	}
	fn(r)
	return nil
}

// GetData returns the value stored under key for ref.
func (m *Model) GetData(ref Ref, key string) (interface{}, error) {
	r, err := m.get(ref)
	if err != nil {
		return nil, err
	}
	return r.Data[key], nil
}

// SetData stores value under key for ref.
func (m *Model) SetData(ref Ref, key string, value interface{}) error {
	r, err := m.get(ref)
	if err != nil {
		return err
	}
	r.Data[key] = value
	return nil
}

// UpdateData applies fn to the current value stored under key for ref
// and stores the result.
func (m *Model) UpdateData(ref Ref, key string, fn func(interface{}) interface{}) error {
	r, err := m.get(ref)
	if err != nil {
		return err
	}
	r.Data[key] = fn(r.Data[key])
	return nil
}

// Spec is the static declaration of one named pad on an element, as
// passed in the inputs/outputs lists of element.New.
type Spec struct {
	Name            string
	Direction       Direction
	Availability    Availability
	Mode            Mode
	DemandUnit      int
	Caps            interface{} // nil means "any"
	ToiletThreshold int         // 0 means "use package default"
	PreferredSize   int         // 0 means "use package default"
}

// DefaultToiletThreshold is T_overflow from the spec: the default
// number of outstanding push-mode units that trigger producer
// termination. Per-pad override resolves the spec's first Open
// Question in favor of configurability.
const DefaultToiletThreshold = 200

// DefaultPreferredSize is the default InputBuffer low-water mark a
// pull-mode input pad tries to keep queued.
const DefaultPreferredSize = 8

// Threshold resolves the effective toilet threshold for a spec.
func (s Spec) Threshold() int {
	if s.ToiletThreshold > 0 {
		return s.ToiletThreshold
	}
	return DefaultToiletThreshold
}

// Preferred resolves the effective InputBuffer preferred size for a spec.
func (s Spec) Preferred() int {
	if s.PreferredSize > 0 {
		return s.PreferredSize
	}
	return DefaultPreferredSize
}
