// Package tail turns the output of remote tail commands into a sequence of
// new lines, one Source per monitored host/file.
package tail

// Window remembers the most recently admitted line texts of one host/file.
// The ring and the membership set are always updated together, so the set of
// remembered texts equals the ring content and never exceeds the capacity.
type Window struct {
	ring []string
	head int // index of the oldest entry
	size int
	set  map[string]struct{}
}

// NewWindow creates a window holding at most capacity texts. A capacity below
// one is treated as one.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		ring: make([]string, capacity),
		set:  make(map[string]struct{}, capacity),
	}
}

// Seen reports whether text is currently remembered.
func (w *Window) Seen(text string) bool {
	_, ok := w.set[text]
	return ok
}

// Admit returns false if text is already remembered. Otherwise it remembers
// text, evicting the oldest entry when full, and returns true.
func (w *Window) Admit(text string) bool {
	if w.Seen(text) {
		return false
	}
	if w.size == len(w.ring) {
		delete(w.set, w.ring[w.head])
		w.ring[w.head] = text
		w.head = (w.head + 1) % len(w.ring)
	} else {
		w.ring[(w.head+w.size)%len(w.ring)] = text
		w.size++
	}
	w.set[text] = struct{}{}
	return true
}

// Len returns how many texts are remembered.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.ring) }

// Distinct returns the size of the membership set.
func (w *Window) Distinct() int { return len(w.set) }

// Entries returns the remembered texts, oldest first.
func (w *Window) Entries() []string {
	out := make([]string, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.ring[(w.head+i)%len(w.ring)])
	}
	return out
}
