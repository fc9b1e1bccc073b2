package normalizer

import (
	"sync"
	"time"
)

const (
	displayInterimSimilarity = 0.8
	displayFinalSimilarity   = 0.7
	displayFinalWindow       = 2000 * time.Millisecond
)

// Display is the presentation-side filter. It only looks at the item shown
// immediately before, so it catches repeats that reach the screen from more
// than one source (own capture plus room relays).
type Display struct {
	mu   sync.Mutex
	last *Fragment
}

// NewDisplay returns an empty display filter.
func NewDisplay() *Display {
	return &Display{}
}

// Admit reports whether f should be shown and, if so, records it as the
// latest displayed item.
func (d *Display) Admit(f Fragment) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.shouldDisplay(f) {
		return false
	}
	item := f
	d.last = &item
	return true
}

func (d *Display) shouldDisplay(f Fragment) bool {
	if d.last == nil || !d.last.IsFinal {
		return true
	}
	sim := Similarity(f.Text, d.last.Text)
	if !f.IsFinal {
		return sim <= displayInterimSimilarity
	}
	return !(sim > displayFinalSimilarity && f.At.Sub(d.last.At) < displayFinalWindow)
}

// Reset forgets the last displayed item.
func (d *Display) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = nil
}
