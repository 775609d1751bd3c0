package fusion

import "container/heap"

// SelectTop returns the k best fused results in rank order without sorting
// the whole batch. Ordering matches Fuse: descending score, ties by chunk
// id ascending.
func SelectTop(results []Fused, k int) []Fused {
	if k <= 0 || len(results) <= k {
		out := make([]Fused, len(results))
		copy(out, results)
		return out
	}
	h := &fusedHeap{}
	heap.Init(h)
	for _, f := range results {
		heap.Push(h, f)
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	out := make([]Fused, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Fused)
	}
	return out
}

// fusedHeap is a min-heap by fused score so the worst survivor sits on
// top; tie order is inverted to keep the final output's id-ascending rule.
type fusedHeap []Fused

func (h fusedHeap) Len() int { return len(h) }

func (h fusedHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].ChunkID > h[j].ChunkID
}

func (h fusedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fusedHeap) Push(x interface{}) {
	*h = append(*h, x.(Fused))
}

func (h *fusedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
