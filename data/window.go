package data

// Window is a fixed-capacity ring that keeps the most recent values pushed into
// it.  Once full, every push evicts the oldest value.
type Window[T any] struct {
	buf []T

	head   int // next write position
	length int
}

func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Window[T]{
		buf: make([]T, capacity),
	}
}

func (w *Window[T]) Capacity() int {
	return len(w.buf)
}

func (w *Window[T]) Length() int {
	return w.length
}

func (w *Window[T]) Push(value T) {
	w.buf[w.head] = value
	w.head++
	if w.head == len(w.buf) {
		w.head = 0
	}
	if w.length < len(w.buf) {
		w.length++
	}
}

// Latest returns the value pushed idx pushes ago (0 is the most recent one).
func (w *Window[T]) Latest(idx int) (T, bool) {
	if idx < 0 || idx >= w.length {
		var res T // nil value
		return res, false
	}

	pos := w.head - 1 - idx
	if pos < 0 {
		pos += len(w.buf)
	}

	return w.buf[pos], true
}

// All reports whether the n most recent values all satisfy the predicate.  It
// is false when fewer than n values were pushed so far.
func (w *Window[T]) All(n int, predicate func(T) bool) bool {
	if n > w.length {
		return false
	}

	for idx := 0; idx < n; idx++ {
		v, _ := w.Latest(idx)
		if !predicate(v) {
			return false
		}
	}

	return true
}

func (w *Window[T]) Reset() {
	w.head = 0
	w.length = 0
}
