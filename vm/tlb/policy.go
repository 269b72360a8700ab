package tlb

// A Policy picks the slot that the next refill overwrites.
type Policy interface {
	Victim(size int) int
}

// RoundRobin overwrites the slots in strict rotation, regardless of how the
// entries are used.
type RoundRobin struct {
	cursor int
}

// Victim returns the slot under the cursor and advances the cursor.
func (r *RoundRobin) Victim(size int) int {
	r.cursor = r.cursor % size
	slot := r.cursor
	r.cursor++

	return slot
}

// Cursor returns the raw cursor value.
func (r *RoundRobin) Cursor() int {
	return r.cursor
}
