package registry

import "fmt"

// Handle is a generation-checked reference to a registry slot. A handle
// kept past the unload of its mod never resolves to another mod, even after
// the slot is reused.
type Handle struct {
	slot       uint32
	generation uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool {
	return h.generation == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.slot, h.generation)
}

type slot struct {
	generation uint32
	inst       *instance
}

// slotTable hands out slots and bumps a slot's generation on every release.
// Generations start at 1 so the zero Handle is never valid.
type slotTable struct {
	slots []slot
	free  []uint32
}

func (t *slotTable) acquire(inst *instance) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot{})
	}

	s := &t.slots[idx]
	s.generation++
	s.inst = inst
	return Handle{slot: idx, generation: s.generation}
}

func (t *slotTable) release(h Handle) {
	if int(h.slot) >= len(t.slots) {
		return
	}
	s := &t.slots[h.slot]
	if s.generation != h.generation {
		return
	}
	s.inst = nil
	s.generation++
	t.free = append(t.free, h.slot)
}

func (t *slotTable) lookup(h Handle) (*instance, bool) {
	if h.IsZero() || int(h.slot) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[h.slot]
	if s.generation != h.generation || s.inst == nil {
		return nil, false
	}
	return s.inst, true
}
