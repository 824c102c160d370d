package authority

// SlotOrder is the center-out order in which screen slots are handed out:
// center, center+1, center-1, center+2, center-2, ... skipping indices past
// either end. For capacity 6 it is [3 4 2 5 1 0].
func SlotOrder(capacity int) []int {
	order := make([]int, 0, capacity)
	center := capacity / 2
	for offset := 0; len(order) < capacity; offset++ {
		if offset == 0 {
			order = append(order, center)
			continue
		}
		if i := center + offset; i < capacity {
			order = append(order, i)
		}
		if i := center - offset; i >= 0 {
			order = append(order, i)
		}
	}
	return order
}

// Slots tracks which screen slots are held. Not safe for concurrent use; the
// room lock guards it.
type Slots struct {
	held  []bool
	order []int
}

func NewSlots(capacity int) *Slots {
	return &Slots{held: make([]bool, capacity), order: SlotOrder(capacity)}
}

// Occupy takes the first free slot in SlotOrder.
func (s *Slots) Occupy() (int, bool) {
	for _, i := range s.order {
		if !s.held[i] {
			s.held[i] = true
			return i, true
		}
	}
	return -1, false
}

// Free releases slot i. Out-of-range indices are ignored.
func (s *Slots) Free(i int) {
	if i >= 0 && i < len(s.held) {
		s.held[i] = false
	}
}

func (s *Slots) Held(i int) bool {
	return i >= 0 && i < len(s.held) && s.held[i]
}
