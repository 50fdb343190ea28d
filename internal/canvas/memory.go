package canvas

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryHost is an in-memory Host used by the demo binary and tests. It keeps
// insertion order stable so snapshots are deterministic.
type MemoryHost struct {
	mu        sync.RWMutex
	items     map[string]*Item
	order     []string
	listeners map[int]func()
	nextID    int

	// failWrites, when set, makes UpdateItem fail for the given item id.
	// Used to exercise mid-animation write failures.
	failWrites map[string]error

	now func() time.Time
}

// NewMemoryHost creates an empty in-memory canvas.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		items:      make(map[string]*Item),
		listeners:  make(map[int]func()),
		failWrites: make(map[string]error),
		now:        time.Now,
	}
}

// SetClock overrides the creation timestamp source. Tests only.
func (h *MemoryHost) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// FailWrites makes subsequent UpdateItem calls for id return err.
func (h *MemoryHost) FailWrites(id string, err error) {
	h.mu.Lock()
	h.failWrites[id] = err
	h.mu.Unlock()
}

// Items returns a copy of all items in creation order.
func (h *MemoryHost) Items() []Item {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Item, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, *h.items[id])
	}
	return out
}

// Item returns a single item by id.
func (h *MemoryHost) Item(id string) (Item, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	it, ok := h.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// CreateItem adds an item, stamps its creation time, and notifies listeners.
func (h *MemoryHost) CreateItem(spec Spec) (string, error) {
	h.mu.Lock()
	id := uuid.NewString()
	it := &Item{
		ID:         id,
		Kind:       spec.Kind,
		Text:       spec.Text,
		Label:      spec.Label,
		Position:   spec.Position,
		Provenance: spec.Provenance,
		CreatedAt:  h.now(),
	}
	h.items[id] = it
	h.order = append(h.order, id)
	h.mu.Unlock()

	h.notify()
	return id, nil
}

// UpdateItem applies a patch and notifies listeners. Returns an error for an
// unknown id or an injected write failure.
func (h *MemoryHost) UpdateItem(id string, patch Patch) error {
	h.mu.Lock()
	if err, ok := h.failWrites[id]; ok {
		h.mu.Unlock()
		return err
	}
	it, ok := h.items[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("canvas: no such item %s", id)
	}
	if patch.Text != nil {
		it.Text = *patch.Text
	}
	if patch.Label != nil {
		it.Label = *patch.Label
	}
	if patch.Pos != nil {
		it.Position = *patch.Pos
	}
	h.mu.Unlock()

	h.notify()
	return nil
}

// OnChange registers a change listener and returns its unsubscribe func.
func (h *MemoryHost) OnChange(fn func()) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// notify fires every listener outside the lock so callbacks can re-enter the
// host (the tracker reads Items from inside its change handler).
func (h *MemoryHost) notify() {
	h.mu.RLock()
	snapshot := make([]func(), 0, len(h.listeners))
	for _, fn := range h.listeners {
		snapshot = append(snapshot, fn)
	}
	h.mu.RUnlock()

	for _, fn := range snapshot {
		fn()
	}
}
