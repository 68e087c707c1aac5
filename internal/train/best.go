package train

// BestTracker keeps the snapshot taken at the highest validation accuracy.
// Only a strict improvement replaces it, and the running maximum starts at 0.
type BestTracker[T any] struct {
	valMax  float64
	best    T
	seen    bool
	updates int
}

// Observe records a validation accuracy and calls snapshot when it beats the
// running maximum. It reports whether the best snapshot changed.
func (b *BestTracker[T]) Observe(val float64, snapshot func() T) bool {
	if !(b.valMax < val) {
		return false
	}
	b.valMax = val
	b.best = snapshot()
	b.seen = true
	b.updates++
	return true
}

// Best returns the current best snapshot, the zero value if none was taken
func (b *BestTracker[T]) Best() T {
	return b.best
}

// ValMax returns the highest validation accuracy observed
func (b *BestTracker[T]) ValMax() float64 {
	return b.valMax
}

// Seen reports whether any snapshot was taken
func (b *BestTracker[T]) Seen() bool {
	return b.seen
}

// Updates counts snapshot replacements
func (b *BestTracker[T]) Updates() int {
	return b.updates
}
