// Package paper provides a simulated gateway for paper trading and tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/bus"
)

// Config holds paper trading configuration.
type Config struct {
	FillDelay time.Duration
	// Slippage is added to buys and subtracted from sells, per unit.
	Slippage decimal.Decimal
	// AutoFill fills accepted orders after FillDelay. When false orders stay
	// submitted until Fill is called.
	AutoFill bool
	// StartOrderID seeds the next valid order id.
	StartOrderID int64

	// Price walk used in paper mode when no external feed exists.
	WalkInterval time.Duration
	WalkStep     decimal.Decimal
	// HalfSpread is the distance from mid to bid and ask.
	HalfSpread decimal.Decimal
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		FillDelay:    50 * time.Millisecond,
		Slippage:     decimal.Zero,
		AutoFill:     true,
		StartOrderID: 1,
		WalkInterval: time.Second,
		WalkStep:     decimal.RequireFromString("0.5"),
		HalfSpread:   decimal.RequireFromString("0.05"),
	}
}

// Fill is a simulated execution kept for replay.
type Fill struct {
	OrderID int64
	ExecID  string
	Symbol  string
	Shares  int64
	Price   decimal.Decimal
	Time    time.Time
}

type order struct {
	req    broker.OrderRequest
	filled bool
}

// Gateway implements broker.Gateway against simulated prices.
type Gateway struct {
	cfg    Config
	events *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	state       atomic.Int32
	nextOrderID atomic.Int64
	rejectNext  atomic.Bool

	mu        sync.Mutex
	mids      map[string]decimal.Decimal
	subs      map[int64]broker.Contract
	orders    map[int64]*order
	fills     []Fill
	positions map[string]int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewGateway creates a new paper gateway publishing to events.
func NewGateway(cfg Config, events *bus.Bus, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = bus.New()
	}

	g := &Gateway{
		cfg:       cfg,
		events:    events,
		logger:    logger,
		now:       time.Now,
		mids:      make(map[string]decimal.Decimal),
		subs:      make(map[int64]broker.Contract),
		orders:    make(map[int64]*order),
		positions: make(map[string]int64),
		done:      make(chan struct{}),
	}

	g.state.Store(int32(broker.StateDisconnected))
	g.nextOrderID.Store(cfg.StartOrderID)

	return g
}

// Connect simulates connecting to the venue.
func (g *Gateway) Connect(ctx context.Context) error {
	g.state.Store(int32(broker.StateConnected))
	g.events.Publish(bus.Connection{Connected: true, Time: g.now()})
	g.logger.Info("paper gateway connected")
	return nil
}

// Disconnect simulates losing the venue. Pending fills are abandoned.
func (g *Gateway) Disconnect() error {
	if g.State() == broker.StateDisconnected {
		return nil
	}
	g.state.Store(int32(broker.StateDisconnected))
	g.mu.Lock()
	close(g.done)
	g.done = make(chan struct{})
	g.mu.Unlock()
	g.wg.Wait()
	g.events.Publish(bus.Connection{Connected: false, Time: g.now()})
	g.logger.Info("paper gateway disconnected")
	return nil
}

// State returns connection state.
func (g *Gateway) State() broker.ConnectionState {
	return broker.ConnectionState(g.state.Load())
}

// IsConnected returns true if connected.
func (g *Gateway) IsConnected() bool {
	return g.State() == broker.StateConnected
}

// NextValidOrderID returns the next order id the simulated venue accepts.
func (g *Gateway) NextValidOrderID() int64 {
	return g.nextOrderID.Load()
}

// RejectNextOrder makes the next PlaceOrder call fail.
func (g *Gateway) RejectNextOrder() {
	g.rejectNext.Store(true)
}

// SetPrice sets the mid price of a symbol and publishes bid, ask and last to
// every request subscribed to it.
func (g *Gateway) SetPrice(symbol string, mid decimal.Decimal) {
	g.mu.Lock()
	g.mids[symbol] = mid
	var reqIDs []int64
	for id, c := range g.subs {
		if c.Symbol == symbol {
			reqIDs = append(reqIDs, id)
		}
	}
	g.mu.Unlock()

	for _, id := range reqIDs {
		g.publishQuote(id, mid)
	}
}

func (g *Gateway) publishQuote(reqID int64, mid decimal.Decimal) {
	now := g.now()
	g.events.Publish(bus.Tick{ReqID: reqID, Field: bus.FieldBid, Price: mid.Sub(g.cfg.HalfSpread), Time: now})
	g.events.Publish(bus.Tick{ReqID: reqID, Field: bus.FieldAsk, Price: mid.Add(g.cfg.HalfSpread), Time: now})
	g.events.Publish(bus.Tick{ReqID: reqID, Field: bus.FieldLast, Price: mid, Time: now})
}

// SubscribeQuote starts publishing prices for reqID.
func (g *Gateway) SubscribeQuote(ctx context.Context, reqID int64, contract broker.Contract) error {
	if !g.IsConnected() {
		return broker.ErrNotConnected
	}
	if err := contract.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	g.subs[reqID] = contract
	mid, ok := g.mids[contract.Symbol]
	g.mu.Unlock()

	if ok {
		g.publishQuote(reqID, mid)
	}
	return nil
}

// UnsubscribeQuote stops publishing prices for reqID.
func (g *Gateway) UnsubscribeQuote(reqID int64) error {
	g.mu.Lock()
	delete(g.subs, reqID)
	g.mu.Unlock()
	g.events.ClearQuote(reqID)
	return nil
}

// PlaceOrder accepts an order and fills it after FillDelay when AutoFill is on.
func (g *Gateway) PlaceOrder(ctx context.Context, req broker.OrderRequest) error {
	if !g.IsConnected() {
		return broker.ErrNotConnected
	}
	if g.rejectNext.CompareAndSwap(true, false) {
		return fmt.Errorf("order %d: %w", req.OrderID, broker.ErrOrderRejected)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validate order: %w", err)
	}

	g.mu.Lock()
	if _, exists := g.orders[req.OrderID]; exists {
		g.mu.Unlock()
		return fmt.Errorf("duplicate order id %d: %w", req.OrderID, broker.ErrOrderRejected)
	}
	g.orders[req.OrderID] = &order{req: req}
	done := g.done
	g.mu.Unlock()

	for {
		cur := g.nextOrderID.Load()
		if req.OrderID < cur || g.nextOrderID.CompareAndSwap(cur, req.OrderID+1) {
			break
		}
	}

	g.events.Publish(bus.OrderStatus{
		OrderID:   req.OrderID,
		Status:    "Submitted",
		Remaining: req.Quantity,
		Time:      g.now(),
	})

	g.logger.Info("paper order placed",
		"order_id", req.OrderID,
		"contract", req.Contract.String(),
		"action", req.Action,
		"quantity", req.Quantity,
	)

	if g.cfg.AutoFill {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			select {
			case <-done:
				return
			case <-time.After(g.cfg.FillDelay):
			}
			if err := g.Fill(req.OrderID); err != nil {
				g.logger.Warn("paper fill failed", "order_id", req.OrderID, "err", err)
			}
		}()
	}

	return nil
}

// Fill executes an accepted order at the current simulated price.
func (g *Gateway) Fill(orderID int64) error {
	g.mu.Lock()
	o, ok := g.orders[orderID]
	if !ok || o.filled {
		g.mu.Unlock()
		return fmt.Errorf("fill order %d: not open", orderID)
	}
	mid, ok := g.mids[o.req.Contract.Symbol]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("fill order %d: no price for %s", orderID, o.req.Contract.Symbol)
	}

	price := mid.Add(g.cfg.HalfSpread).Add(g.cfg.Slippage)
	signed := o.req.Quantity
	if o.req.Action == broker.ActionSell {
		price = mid.Sub(g.cfg.HalfSpread).Sub(g.cfg.Slippage)
		signed = -signed
	}

	fill := Fill{
		OrderID: orderID,
		ExecID:  uuid.NewString(),
		Symbol:  o.req.Contract.Symbol,
		Shares:  o.req.Quantity,
		Price:   price,
		Time:    g.now(),
	}
	o.filled = true
	g.fills = append(g.fills, fill)
	g.positions[fill.Symbol] += signed
	g.mu.Unlock()

	g.events.Publish(bus.Execution{
		OrderID: orderID,
		ExecID:  fill.ExecID,
		Shares:  fill.Shares,
		Price:   fill.Price,
		Time:    fill.Time,
	})
	g.events.Publish(bus.OrderStatus{
		OrderID:  orderID,
		Status:   "Filled",
		Filled:   fill.Shares,
		AvgPrice: fill.Price,
		Time:     fill.Time,
	})

	g.logger.Info("paper order filled",
		"order_id", orderID,
		"symbol", fill.Symbol,
		"shares", fill.Shares,
		"price", fill.Price,
	)
	return nil
}

// RequestExecutions replays simulated fills since a time.
func (g *Gateway) RequestExecutions(ctx context.Context, reqID int64, since time.Time) error {
	if !g.IsConnected() {
		return broker.ErrNotConnected
	}

	g.mu.Lock()
	var replay []Fill
	for _, f := range g.fills {
		if !f.Time.Before(since) {
			replay = append(replay, f)
		}
	}
	g.mu.Unlock()

	for _, f := range replay {
		g.events.Publish(bus.Execution{
			OrderID: f.OrderID,
			ExecID:  f.ExecID,
			Shares:  f.Shares,
			Price:   f.Price,
			Time:    f.Time,
		})
	}
	return nil
}

// Position returns the net simulated position of a symbol.
func (g *Gateway) Position(symbol string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[symbol]
}

// Fills returns a copy of all simulated fills.
func (g *Gateway) Fills() []Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Fill, len(g.fills))
	copy(out, g.fills)
	return out
}

// RunPriceWalk moves every seeded price by a random step each interval until
// ctx is done.
func (g *Gateway) RunPriceWalk(ctx context.Context) {
	if g.cfg.WalkInterval <= 0 {
		return
	}
	ticker := time.NewTicker(g.cfg.WalkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		g.mu.Lock()
		next := make(map[string]decimal.Decimal, len(g.mids))
		for sym, mid := range g.mids {
			step := g.cfg.WalkStep.Mul(decimal.NewFromInt(int64(rand.IntN(3) - 1)))
			if p := mid.Add(step); p.IsPositive() {
				next[sym] = p
			}
		}
		g.mu.Unlock()

		for sym, mid := range next {
			g.SetPrice(sym, mid)
		}
	}
}

// Shutdown shuts down the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.Disconnect()
}

// Ensure Gateway implements broker.Gateway
var _ broker.Gateway = (*Gateway)(nil)
