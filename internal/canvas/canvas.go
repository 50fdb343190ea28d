// Package canvas defines the shared canvas data model and the host boundary.
// The host owns all items and applies mutations synchronously; everything else
// in this module only reads items or writes through the host interface.
package canvas

import (
	"time"
)

// Provenance records who created a canvas item. It is set exactly once, at
// creation time, and is the sole signal used to keep the agent's own output
// out of the human-activity pipeline.
type Provenance string

const (
	ProvenanceHuman  Provenance = "human"
	ProvenanceAI     Provenance = "ai"
	ProvenanceLesson Provenance = "lesson"
	// ProvenanceUnknown is the zero value: the host's default creation path
	// tags nothing. The classifier decides what to do with these.
	ProvenanceUnknown Provenance = ""
)

// Kind is the shape class of a canvas item.
type Kind string

const (
	KindText  Kind = "text"
	KindNote  Kind = "note"
	KindShape Kind = "shape"
)

// Position is a point on the infinite canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Item is a single piece of canvas content. Owned by the host; consumers
// receive copies and must write back through Host.UpdateItem.
type Item struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Text       string     `json:"text,omitempty"`
	Label      string     `json:"label,omitempty"` // shapes carry text in their label
	Position   Position   `json:"position"`
	Provenance Provenance `json:"provenance,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitzero"`
}

// PlainText returns the human-readable text of an item regardless of kind.
func (it Item) PlainText() string {
	if it.Kind == KindShape {
		return it.Label
	}
	return it.Text
}

// Spec describes a new item for Host.CreateItem. Provenance left empty means
// the creator declared nothing; it can never be changed afterwards.
type Spec struct {
	Kind       Kind
	Text       string
	Label      string
	Position   Position
	Provenance Provenance
}

// Patch is a partial update for Host.UpdateItem. Nil fields are left alone.
// Provenance is deliberately absent: it is write-once.
type Patch struct {
	Text  *string
	Label *string
	Pos   *Position
}

// Host is the opaque canvas widget boundary. All calls are synchronous:
// mutations are applied before the call returns, and OnChange fires once per
// logical batch of mutations.
type Host interface {
	// Items returns a snapshot of every item on the canvas.
	Items() []Item

	// CreateItem adds a new item and returns its id.
	CreateItem(spec Spec) (string, error)

	// UpdateItem applies a partial update to an existing item.
	UpdateItem(id string, patch Patch) error

	// OnChange registers a callback fired after each mutation batch. The
	// returned function unsubscribes; it is safe to call more than once.
	OnChange(fn func()) (unsubscribe func())
}
