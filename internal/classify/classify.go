// Package classify decides which canvas items count as human input. It is the
// single choke point for provenance checks: every content-creation path must
// declare a provenance, and everything downstream asks this package instead of
// inspecting tags itself.
package classify

import (
	"sync"
	"time"

	"canvassync/internal/canvas"
)

// Classifier tags and filters canvas items by provenance. Items created by
// the host's default path arrive untagged and untimestamped; the classifier
// stamps those with a first-observation time and treats them as human from
// then on. Provenance itself is never rewritten.
type Classifier struct {
	mu        sync.Mutex
	firstSeen map[string]time.Time
	now       func() time.Time
}

// New creates a Classifier.
func New() *Classifier {
	return &Classifier{
		firstSeen: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetClock overrides the stamping clock. Tests only.
func (c *Classifier) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Eligible reports whether an item may feed human-activity extraction.
// Eligibility is provenance human (or untagged, see Observe) and a kind that
// carries text: text, note, or a shape with a label.
func (c *Classifier) Eligible(it canvas.Item) bool {
	switch c.provenance(it) {
	case canvas.ProvenanceAI, canvas.ProvenanceLesson:
		return false
	}
	switch it.Kind {
	case canvas.KindText, canvas.KindNote:
		return true
	case canvas.KindShape:
		return it.Label != ""
	}
	return false
}

// EffectiveCreatedAt resolves the ordering timestamp for an item: the item's
// own creation time when present, the classifier's first-observation stamp
// otherwise. Items with neither return the zero time and sort last.
func (c *Classifier) EffectiveCreatedAt(it canvas.Item) time.Time {
	if !it.CreatedAt.IsZero() {
		return it.CreatedAt
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstSeen[it.ID]
}

// Observe stamps untagged, untimestamped items with a first-observation time.
// Called once per extraction pass over the current snapshot; stamps are only
// ever added, never changed.
func (c *Classifier) Observe(items []canvas.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		if it.Provenance != canvas.ProvenanceUnknown || !it.CreatedAt.IsZero() {
			continue
		}
		if _, ok := c.firstSeen[it.ID]; !ok {
			c.firstSeen[it.ID] = c.now()
		}
	}
}

// provenance maps untagged items to human. The host's default creation path
// tags nothing, and those items are exactly the ones a person drew or typed.
func (c *Classifier) provenance(it canvas.Item) canvas.Provenance {
	if it.Provenance == canvas.ProvenanceUnknown {
		return canvas.ProvenanceHuman
	}
	return it.Provenance
}
