package orderbook

import "container/heap"

// priceHeap implements heap.Interface over the distinct prices of one book side.
// Bids use a max heap (highest price on top), asks a min heap.
// pos tracks each price's slot so an emptied level is removed in O(log n).
type priceHeap struct {
	prices []int64
	pos    map[int64]int
	desc   bool
}

func newPriceHeap(desc bool) *priceHeap {
	h := &priceHeap{pos: make(map[int64]int), desc: desc}
	heap.Init(h)
	return h
}

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.desc {
		return h.prices[i] > h.prices[j] // Max heap: larger values bubble up
	}
	return h.prices[i] < h.prices[j] // Min heap: smaller values bubble up
}

func (h *priceHeap) Swap(i, j int) {
	h.prices[i], h.prices[j] = h.prices[j], h.prices[i]
	h.pos[h.prices[i]] = i
	h.pos[h.prices[j]] = j
}

func (h *priceHeap) Push(x any) {
	p := x.(int64)
	h.pos[p] = len(h.prices)
	h.prices = append(h.prices, p)
}

func (h *priceHeap) Pop() any {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[0 : n-1]
	delete(h.pos, x)
	return x
}

// Peek returns the top element without removing it
func (h *priceHeap) Peek() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

func (h *priceHeap) add(price int64) {
	if _, ok := h.pos[price]; ok {
		return
	}
	heap.Push(h, price)
}

func (h *priceHeap) remove(price int64) bool {
	i, ok := h.pos[price]
	if !ok {
		return false
	}
	heap.Remove(h, i)
	return true
}
