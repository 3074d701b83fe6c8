// Package bus carries gateway events (ticks, order status, executions,
// connectivity) to the components waiting on them. Subscriptions are keyed
// by request id or order id, and the bus keeps the latest snapshot per key
// so pollers never miss an update that arrived between polls.
package bus

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies an event family.
type Kind int

const (
	KindTick Kind = iota
	KindOrderStatus
	KindExecution
	KindConnection
)

// Event is anything the gateway publishes.
type Event interface {
	Topic() Topic
}

// Topic is the subscription key of an event.
type Topic struct {
	Kind Kind
	Key  int64
}

// TickField is the price field carried by a tick.
type TickField int

const (
	FieldBid TickField = iota
	FieldAsk
	FieldLast
)

// Tick is a price update for a market data request id.
type Tick struct {
	ReqID int64
	Field TickField
	Price decimal.Decimal
	Time  time.Time
}

func (t Tick) Topic() Topic { return Topic{Kind: KindTick, Key: t.ReqID} }

// OrderStatus is a venue status update for an order.
type OrderStatus struct {
	OrderID   int64
	Status    string
	Filled    int64
	Remaining int64
	AvgPrice  decimal.Decimal
	Time      time.Time
}

func (s OrderStatus) Topic() Topic { return Topic{Kind: KindOrderStatus, Key: s.OrderID} }

// Acknowledged reports whether the venue accepted the order.
func (s OrderStatus) Acknowledged() bool {
	switch s.Status {
	case "Submitted", "PreSubmitted", "Filled":
		return true
	default:
		return s.Filled > 0
	}
}

// Execution is a single fill reported by the venue.
type Execution struct {
	OrderID int64
	ExecID  string
	Shares  int64
	Price   decimal.Decimal
	Time    time.Time
}

func (e Execution) Topic() Topic { return Topic{Kind: KindExecution, Key: e.OrderID} }

// Connection reports a gateway connectivity change.
type Connection struct {
	Connected bool
	Time      time.Time
}

func (c Connection) Topic() Topic { return Topic{Kind: KindConnection} }

// Quote is the latest known prices for a request id.
type Quote struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	UpdatedAt time.Time
}

// HasBidAsk reports whether both sides have been seen.
func (q Quote) HasBidAsk() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive()
}

// Bus is a keyed pub/sub broker with per-key snapshots.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event

	snapMu     sync.RWMutex
	quotes     map[int64]Quote
	orders     map[int64]OrderStatus
	executions map[int64][]Execution
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[Topic][]chan Event),
		quotes:     make(map[int64]Quote),
		orders:     make(map[int64]OrderStatus),
		executions: make(map[int64][]Execution),
	}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	b.subs[topic] = append(b.subs[topic], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[topic]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}

	return ch, unsub
}

// Publish records the event snapshot and fans it out without blocking.
// Slow subscribers drop events; the snapshot still holds the latest value.
func (b *Bus) Publish(ev Event) {
	b.record(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.Topic()] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) record(ev Event) {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()

	switch e := ev.(type) {
	case Tick:
		q := b.quotes[e.ReqID]
		switch e.Field {
		case FieldBid:
			q.Bid = e.Price
		case FieldAsk:
			q.Ask = e.Price
		case FieldLast:
			q.Last = e.Price
		}
		q.UpdatedAt = e.Time
		b.quotes[e.ReqID] = q
	case OrderStatus:
		b.orders[e.OrderID] = e
	case Execution:
		for _, seen := range b.executions[e.OrderID] {
			if seen.ExecID != "" && seen.ExecID == e.ExecID {
				return
			}
		}
		b.executions[e.OrderID] = append(b.executions[e.OrderID], e)
	}
}

// Quote returns the latest quote for a request id.
func (b *Bus) Quote(reqID int64) (Quote, bool) {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	q, ok := b.quotes[reqID]
	return q, ok
}

// ClearQuote forgets the snapshot of a request id. Called on unsubscribe so
// a reused id never reports another contract's prices.
func (b *Bus) ClearQuote(reqID int64) {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()
	delete(b.quotes, reqID)
}

// Order returns the latest status of an order.
func (b *Bus) Order(orderID int64) (OrderStatus, bool) {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	s, ok := b.orders[orderID]
	return s, ok
}

// Executions returns the fills seen for an order, de-duplicated by exec id.
func (b *Bus) Executions(orderID int64) []Execution {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	out := make([]Execution, len(b.executions[orderID]))
	copy(out, b.executions[orderID])
	return out
}

// Forget drops the status and fill snapshots of finished orders.
func (b *Bus) Forget(orderIDs ...int64) {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()
	for _, id := range orderIDs {
		delete(b.orders, id)
		delete(b.executions, id)
	}
}

// FilledFromExecutions sums executions into a filled quantity and a volume
// weighted average price.
func FilledFromExecutions(execs []Execution) (int64, decimal.Decimal) {
	var shares int64
	notional := decimal.Zero
	for _, e := range execs {
		shares += e.Shares
		notional = notional.Add(e.Price.Mul(decimal.NewFromInt(e.Shares)))
	}
	if shares == 0 {
		return 0, decimal.Zero
	}
	return shares, notional.Div(decimal.NewFromInt(shares))
}
