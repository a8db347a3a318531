package orderbook

import (
	"sort"

	"github.com/gammazero/deque"
)

// PriceLevel is the FIFO queue of resting orders at one price on one side.
// Every queued order is active with Remaining > 0.
type PriceLevel struct {
	Price  int64
	Side   Side
	orders deque.Deque[*Order]
	total  int64 // sum of Remaining over queued orders
}

func newPriceLevel(side Side, price int64) *PriceLevel {
	return &PriceLevel{Price: price, Side: side}
}

// Len returns the number of queued orders
func (l *PriceLevel) Len() int { return l.orders.Len() }

// Total returns the aggregate remaining quantity at this price
func (l *PriceLevel) Total() int64 { return l.total }

// Head returns the oldest order, the next maker to fill
func (l *PriceLevel) Head() *Order {
	if l.orders.Len() == 0 {
		return nil
	}
	return l.orders.Front()
}

// Orders returns the queued orders in time priority
func (l *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, l.orders.Len())
	for i := 0; i < l.orders.Len(); i++ {
		out = append(out, l.orders.At(i))
	}
	return out
}

func (l *PriceLevel) push(o *Order) {
	l.orders.PushBack(o)
	l.total += o.Remaining
}

func (l *PriceLevel) popHead() *Order {
	o := l.orders.PopFront()
	l.total -= o.Remaining
	return o
}

// remove takes o out of the queue. Queued orders are ascending by Seq, so the
// slot is found by binary search.
func (l *PriceLevel) remove(o *Order) bool {
	n := l.orders.Len()
	i := sort.Search(n, func(i int) bool { return l.orders.At(i).Seq >= o.Seq })
	if i == n || l.orders.At(i) != o {
		return false
	}
	l.orders.Remove(i)
	l.total -= o.Remaining
	return true
}
