package store

// Memory is the fixed pool of page slots backing the cache.
type Memory struct {
	pages [NumMemSlots]Page
	avail [NumMemSlots]bool
}

// NewMemory returns a pool with every slot available.
func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.avail {
		m.avail[i] = true
	}

	return m
}

// FirstAvailable claims and returns the lowest available slot, or
// NumMemSlots when the pool is full.
func (m *Memory) FirstAvailable() int {
	for i, ok := range m.avail {
		if ok {
			m.avail[i] = false

			return i
		}
	}

	return NumMemSlots
}

// TakeSlot claims slot i and reports whether it was available.
func (m *Memory) TakeSlot(i int) bool {
	if !m.avail[i] {
		return false
	}

	m.avail[i] = false

	return true
}

// MakeAvailable returns slot i to the pool and reports whether it was
// taken.
func (m *Memory) MakeAvailable(i int) bool {
	if m.avail[i] {
		return false
	}

	m.avail[i] = true

	return true
}

// SlotsInUse returns the number of claimed slots.
func (m *Memory) SlotsInUse() int {
	n := 0
	for _, ok := range m.avail {
		if !ok {
			n++
		}
	}

	return n
}

// Page returns the page buffer of slot i.
func (m *Memory) Page(i int) *Page {
	return &m.pages[i]
}
