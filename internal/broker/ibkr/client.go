package ibkr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/bus"
	"github.com/tathienbao/signal-executor/internal/types"
	"golang.org/x/time/rate"
)

// IB API incoming message IDs.
const (
	msgTickPrice      = 1
	msgOrderStatus    = 3
	msgError          = 4
	msgNextValidID    = 9
	msgExecDetails    = 11
	msgExecDetailsEnd = 55
)

// IB API outgoing message IDs.
const (
	reqMktData    = 1
	cancelMktData = 2
	placeOrder    = 3
	reqExecutions = 7
	reqIDs        = 8
)

// IB tick types carried to the bus.
const (
	tickBid  = 1
	tickAsk  = 2
	tickLast = 4
)

// execDetails field positions (simplified layout).
const (
	execFieldOrderID = 3
	execFieldExecID  = 15
	execFieldShares  = 20
	execFieldPrice   = 21
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client implements broker.Gateway over the TWS/Gateway socket API.
type Client struct {
	cfg    Config
	events *bus.Bus
	logger *slog.Logger
	dial   dialFunc

	// Connection
	conn        net.Conn
	state       atomic.Int32
	stateMu     sync.Mutex
	connectedAt time.Time

	// Rate limiting
	limiter *rate.Limiter

	nextValidID atomic.Int64

	// Market data subscriptions keyed by request id
	mdMu            sync.Mutex
	mdSubscriptions map[int64]broker.Contract

	writeMu sync.Mutex
	readBuf bytes.Buffer

	// Shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a new IBKR client publishing to events.
func NewClient(cfg Config, events *bus.Bus, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = bus.New()
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	c := &Client{
		cfg:             cfg,
		events:          events,
		logger:          logger,
		dial:            dialer.DialContext,
		limiter:         rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		mdSubscriptions: make(map[int64]broker.Contract),
		done:            make(chan struct{}),
	}

	c.state.Store(int32(broker.StateDisconnected))

	return c
}

// Connect establishes connection to TWS/Gateway.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateConnected {
		return nil
	}

	c.state.Store(int32(broker.StateConnecting))

	c.logger.Info("connecting to IBKR",
		"host", c.cfg.Host,
		"port", c.cfg.Port,
		"client_id", c.cfg.ClientID,
		"paper", c.cfg.PaperTrading,
	)

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(broker.StateError))
		return fmt.Errorf("%w: %v", broker.ErrConnectionTimeout, err)
	}

	c.conn = conn
	c.connectedAt = time.Now()
	c.readBuf.Reset()

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		c.state.Store(int32(broker.StateError))
		return fmt.Errorf("handshake: %w", err)
	}

	c.state.Store(int32(broker.StateConnected))
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.readLoop(conn, c.done)

	if err := c.send(fmt.Sprintf("%d\x001\x001\x00", reqIDs)); err != nil {
		c.logger.Warn("failed to request next valid id", "err", err)
	}

	c.resubscribeLocked()
	c.events.Publish(bus.Connection{Connected: true, Time: c.connectedAt})

	c.logger.Info("connected to IBKR", "connected_at", c.connectedAt)
	return nil
}

// handshake performs the IB API connection handshake.
func (c *Client) handshake() error {
	handshake := []byte("API\x00")
	versionStr := fmt.Sprintf("v%d..%d", 100, 151)
	handshake = append(handshake, frame(versionStr)...)

	if _, err := c.conn.Write(handshake); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := c.conn.Read(buf)
	_ = c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	c.logger.Debug("handshake response", "bytes", n)

	if _, err := c.conn.Write(c.buildStartAPIMessage(c.cfg.ClientID)); err != nil {
		return fmt.Errorf("write startAPI: %w", err)
	}

	return nil
}

// buildStartAPIMessage creates the startAPI message.
func (c *Client) buildStartAPIMessage(clientID int) []byte {
	return frame(fmt.Sprintf("71\x002\x00%d\x00\x00", clientID))
}

// frame prepends the 4-byte big-endian size.
func frame(msg string) []byte {
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out, uint32(len(msg)))
	copy(out[4:], msg)
	return out
}

// readLoop reads framed messages from the connection.
func (c *Client) readLoop(conn net.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-done:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-done:
				return
			default:
			}
			c.logger.Error("read error", "err", err)
			go c.handleDisconnect()
			return
		}

		if n > 0 {
			c.readBuf.Write(buf[:n])
			c.drainFrames()
		}
	}
}

// drainFrames dispatches every complete frame in the read buffer.
func (c *Client) drainFrames() {
	for c.readBuf.Len() >= 4 {
		size := int(binary.BigEndian.Uint32(c.readBuf.Bytes()[:4]))
		if c.readBuf.Len() < 4+size {
			return
		}
		c.readBuf.Next(4)
		payload := make([]byte, size)
		_, _ = c.readBuf.Read(payload)
		c.processMessage(payload)
	}
}

// processMessage processes an incoming message.
func (c *Client) processMessage(data []byte) {
	fields := bytes.Split(data, []byte{0})
	if len(fields) < 2 {
		c.logger.Debug("received incomplete message", "size", len(data))
		return
	}

	msgID, err := strconv.Atoi(string(fields[0]))
	if err != nil {
		c.logger.Debug("invalid message ID", "data", string(fields[0]))
		return
	}

	switch msgID {
	case msgTickPrice:
		c.handleTickPrice(fields)
	case msgOrderStatus:
		c.handleOrderStatus(fields)
	case msgError:
		c.handleError(fields)
	case msgNextValidID:
		c.handleNextValidID(fields)
	case msgExecDetails:
		c.handleExecDetails(fields)
	case msgExecDetailsEnd:
	default:
		c.logger.Debug("unhandled message type", "msg_id", msgID)
	}
}

// handleTickPrice handles tick price messages.
func (c *Client) handleTickPrice(fields [][]byte) {
	// Format: msgID, version, tickerID, tickType, price, size, attribs
	if len(fields) < 5 {
		return
	}

	tickerID, _ := strconv.ParseInt(string(fields[2]), 10, 64)
	tickType, _ := strconv.Atoi(string(fields[3]))
	price, err := decimal.NewFromString(string(fields[4]))
	if err != nil || !price.IsPositive() {
		return
	}

	var field bus.TickField
	switch tickType {
	case tickBid:
		field = bus.FieldBid
	case tickAsk:
		field = bus.FieldAsk
	case tickLast:
		field = bus.FieldLast
	default:
		return
	}

	c.events.Publish(bus.Tick{ReqID: tickerID, Field: field, Price: price, Time: time.Now()})
}

// handleOrderStatus handles order status messages.
func (c *Client) handleOrderStatus(fields [][]byte) {
	// Format: msgID, version, orderID, status, filled, remaining, avgFillPrice, ...
	if len(fields) < 7 {
		return
	}

	orderID, err := strconv.ParseInt(string(fields[2]), 10, 64)
	if err != nil {
		return
	}
	filled, _ := decimal.NewFromString(string(fields[4]))
	remaining, _ := decimal.NewFromString(string(fields[5]))
	avg, _ := decimal.NewFromString(string(fields[6]))

	status := bus.OrderStatus{
		OrderID:   orderID,
		Status:    string(fields[3]),
		Filled:    filled.IntPart(),
		Remaining: remaining.IntPart(),
		AvgPrice:  avg,
		Time:      time.Now(),
	}

	c.logger.Debug("order status", "order_id", orderID, "status", status.Status, "filled", status.Filled)
	c.events.Publish(status)
}

// handleExecDetails handles execution report messages.
func (c *Client) handleExecDetails(fields [][]byte) {
	if len(fields) <= execFieldPrice {
		return
	}

	orderID, err := strconv.ParseInt(string(fields[execFieldOrderID]), 10, 64)
	if err != nil {
		return
	}
	shares, _ := decimal.NewFromString(string(fields[execFieldShares]))
	price, err := decimal.NewFromString(string(fields[execFieldPrice]))
	if err != nil {
		return
	}

	c.events.Publish(bus.Execution{
		OrderID: orderID,
		ExecID:  string(fields[execFieldExecID]),
		Shares:  shares.Abs().IntPart(),
		Price:   price,
		Time:    time.Now(),
	})
}

// handleNextValidID records the lowest order id the venue accepts.
func (c *Client) handleNextValidID(fields [][]byte) {
	if len(fields) < 3 {
		return
	}
	id, err := strconv.ParseInt(string(fields[2]), 10, 64)
	if err != nil {
		return
	}
	c.nextValidID.Store(id)
	c.logger.Debug("next valid order id", "order_id", id)
}

// handleError logs venue error messages.
func (c *Client) handleError(fields [][]byte) {
	// Format: msgID, version, id, code, message
	if len(fields) < 5 {
		return
	}
	c.logger.Warn("IBKR error",
		"id", string(fields[2]),
		"code", string(fields[3]),
		"message", string(fields[4]),
	)
}

// handleDisconnect handles connection loss.
func (c *Client) handleDisconnect() {
	c.stateMu.Lock()
	if c.State() == broker.StateDisconnected {
		c.stateMu.Unlock()
		return
	}
	c.state.Store(int32(broker.StateDisconnected))
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.stateMu.Unlock()

	c.logger.Warn("disconnected from IBKR")
	c.events.Publish(bus.Connection{Connected: false, Time: time.Now()})

	if c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect.
func (c *Client) reconnectLoop() {
	for i := 0; i < c.cfg.MaxReconnectTries; i++ {
		time.Sleep(c.cfg.ReconnectInterval)

		if c.IsConnected() {
			return
		}

		c.logger.Info("attempting reconnect", "attempt", i+1)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected successfully")
			return
		}

		c.logger.Warn("reconnect failed", "err", err)
	}

	c.logger.Error("max reconnect attempts reached")
}

// resubscribeLocked replays market data requests after a reconnect.
func (c *Client) resubscribeLocked() {
	c.mdMu.Lock()
	defer c.mdMu.Unlock()

	for reqID, contract := range c.mdSubscriptions {
		if err := c.send(c.buildMarketDataMessage(reqID, contract)); err != nil {
			c.logger.Warn("failed to resubscribe market data", "req_id", reqID, "err", err)
		}
	}
}

// send writes a framed message to TWS/Gateway.
func (c *Client) send(msg string) error {
	if c.State() != broker.StateConnected {
		return broker.ErrNotConnected
	}

	if err := c.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(frame(msg)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateDisconnected {
		return nil
	}

	close(c.done)

	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.wg.Wait()
	c.state.Store(int32(broker.StateDisconnected))

	c.logger.Info("disconnected from IBKR")
	return nil
}

// State returns the current connection state.
func (c *Client) State() broker.ConnectionState {
	return broker.ConnectionState(c.state.Load())
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.State() == broker.StateConnected
}

// NextValidOrderID returns the last next-valid-id reported by the venue.
func (c *Client) NextValidOrderID() int64 {
	return c.nextValidID.Load()
}

func (c *Client) withDefaults(contract broker.Contract) broker.Contract {
	if contract.Exchange == "" {
		contract.Exchange = c.cfg.Exchange
	}
	if contract.Currency == "" {
		contract.Currency = c.cfg.Currency
	}
	return contract
}

// SubscribeQuote starts streaming market data for reqID.
func (c *Client) SubscribeQuote(ctx context.Context, reqID int64, contract broker.Contract) error {
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}
	if err := contract.Validate(); err != nil {
		return err
	}

	contract = c.withDefaults(contract)

	c.mdMu.Lock()
	defer c.mdMu.Unlock()

	if err := c.send(c.buildMarketDataMessage(reqID, contract)); err != nil {
		return fmt.Errorf("request market data: %w", err)
	}
	c.mdSubscriptions[reqID] = contract

	c.logger.Debug("subscribed to market data", "req_id", reqID, "contract", contract.String())
	return nil
}

func (c *Client) buildMarketDataMessage(reqID int64, contract broker.Contract) string {
	strike := ""
	if contract.IsOption() {
		strike = contract.Strike.String()
	}
	return fmt.Sprintf("%d\x0011\x00%d\x000\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00%s\x00\x00%s\x00\x00\x000\x00\x00\x00",
		reqMktData,
		reqID,
		contract.Symbol,
		contract.SecType,
		contract.Expiry,
		strike,
		contract.Right,
		contract.LotMultiplier,
		contract.Exchange,
		contract.Currency,
	)
}

// UnsubscribeQuote stops market data for reqID.
func (c *Client) UnsubscribeQuote(reqID int64) error {
	c.mdMu.Lock()
	_, ok := c.mdSubscriptions[reqID]
	delete(c.mdSubscriptions, reqID)
	c.mdMu.Unlock()

	c.events.ClearQuote(reqID)

	if !ok || !c.IsConnected() {
		return nil
	}

	if err := c.send(fmt.Sprintf("%d\x001\x00%d\x00", cancelMktData, reqID)); err != nil {
		return fmt.Errorf("cancel market data: %w", err)
	}

	c.logger.Debug("unsubscribed from market data", "req_id", reqID)
	return nil
}

// PlaceOrder sends an order. Status and fills arrive on the bus.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) error {
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validate order: %w", err)
	}

	req.Contract = c.withDefaults(req.Contract)

	if err := c.send(c.buildPlaceOrderMessage(req)); err != nil {
		return fmt.Errorf("send order: %w", err)
	}

	if next := req.OrderID + 1; next > c.nextValidID.Load() {
		c.nextValidID.Store(next)
	}

	c.logger.Info("order placed",
		"order_id", req.OrderID,
		"contract", req.Contract.String(),
		"action", req.Action,
		"quantity", req.Quantity,
		"style", req.Style,
	)

	return nil
}

// buildPlaceOrderMessage builds a PLACE_ORDER message.
func (c *Client) buildPlaceOrderMessage(req broker.OrderRequest) string {
	// Simplified order message; optional fields left empty
	lmt, aux := "", ""
	if req.Style == types.OrderStyleRelative {
		if !req.LimitPrice.IsZero() {
			lmt = req.LimitPrice.String()
		}
		aux = req.Offset.String()
	}
	strike := ""
	if req.Contract.IsOption() {
		strike = req.Contract.Strike.String()
	}

	return fmt.Sprintf("%d\x0045\x00%d\x000\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d\x00%s\x00%s\x00%s\x00%d\x00%s\x00%s\x00%s\x00DAY\x00\x00%s\x00\x000\x00%s\x000\x00",
		placeOrder,
		req.OrderID,
		req.Contract.Symbol,
		req.Contract.SecType,
		req.Contract.Expiry,
		strike,
		req.Contract.Right,
		req.Contract.LotMultiplier,
		req.Contract.Exchange,
		req.Contract.Currency,
		req.Action,
		req.Quantity,
		req.Style,
		lmt,
		aux,
		c.cfg.Account,
		req.Ref,
	)
}

// RequestExecutions asks the venue to replay executions since a time.
func (c *Client) RequestExecutions(ctx context.Context, reqID int64, since time.Time) error {
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}

	msg := fmt.Sprintf("%d\x003\x00%d\x00%d\x00%s\x00%s\x00\x00\x00\x00\x00",
		reqExecutions,
		reqID,
		c.cfg.ClientID,
		c.cfg.Account,
		since.UTC().Format("20060102-15:04:05"),
	)
	if err := c.send(msg); err != nil {
		return fmt.Errorf("request executions: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the client.
func (c *Client) Shutdown(ctx context.Context) error {
	c.logger.Info("shutting down IBKR client")

	c.mdMu.Lock()
	ids := make([]int64, 0, len(c.mdSubscriptions))
	for id := range c.mdSubscriptions {
		ids = append(ids, id)
	}
	c.mdMu.Unlock()

	for _, id := range ids {
		_ = c.UnsubscribeQuote(id)
	}

	return c.Disconnect()
}

// Ensure Client implements broker.Gateway
var _ broker.Gateway = (*Client)(nil)
