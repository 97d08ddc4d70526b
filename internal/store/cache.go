package store

import (
	"slices"

	"github.com/pbnjay/memory"
)

// defaultResidentBudget is half of physical memory, or unlimited when the
// platform does not report it.
func defaultResidentBudget() int64 {
	total := memory.TotalMemory()
	if total == 0 {
		return 0
	}
	return int64(total / 2)
}

// residentSet tracks materialized layers oldest-first against a byte budget.
// Callers hold the store's layer mutex.
type residentSet struct {
	budget int64 // 0 = unlimited
	bytes  int64
	order  []uint32
	sizes  map[uint32]int64
}

func newResidentSet(budget int64) *residentSet {
	return &residentSet{budget: budget, sizes: make(map[uint32]int64)}
}

func (r *residentSet) add(layer uint32, size int64) {
	if _, ok := r.sizes[layer]; ok {
		return
	}
	r.sizes[layer] = size
	r.order = append(r.order, layer)
	r.bytes += size
	residentBytes.Set(float64(r.bytes))
}

func (r *residentSet) remove(layer uint32) {
	size, ok := r.sizes[layer]
	if !ok {
		return
	}
	delete(r.sizes, layer)
	if i := slices.Index(r.order, layer); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	r.bytes -= size
	residentBytes.Set(float64(r.bytes))
}

func (r *residentSet) clear() {
	r.order = r.order[:0]
	clear(r.sizes)
	r.bytes = 0
	residentBytes.Set(0)
}

// victims returns the oldest layers that evictable accepts until need more
// bytes fit in the budget. It may return fewer when not enough can go.
func (r *residentSet) victims(need int64, evictable func(uint32) bool) []uint32 {
	if r.budget <= 0 {
		return nil
	}
	excess := r.bytes + need - r.budget
	var out []uint32
	for _, l := range r.order {
		if excess <= 0 {
			break
		}
		if !evictable(l) {
			continue
		}
		out = append(out, l)
		excess -= r.sizes[l]
	}
	return out
}
