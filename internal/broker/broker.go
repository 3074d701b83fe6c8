// Package broker defines the brokerage gateway contract used by the
// execution engine and the contract descriptors it trades.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Common broker errors.
var (
	ErrNotConnected      = errors.New("broker not connected")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrOrderRejected     = errors.New("order rejected by broker")
	ErrInvalidContract   = errors.New("invalid contract")
	ErrRateLimited       = errors.New("rate limited by broker")
)

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Gateway is the brokerage venue as seen by the engine. Asynchronous
// results (ticks, order status, executions) are delivered on the event bus
// the gateway was constructed with.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	IsConnected() bool

	// NextValidOrderID is the lowest order id the venue will accept.
	NextValidOrderID() int64
	PlaceOrder(ctx context.Context, req OrderRequest) error

	SubscribeQuote(ctx context.Context, reqID int64, contract Contract) error
	UnsubscribeQuote(reqID int64) error

	// RequestExecutions asks the venue to replay fills since a time.
	RequestExecutions(ctx context.Context, reqID int64, since time.Time) error

	Shutdown(ctx context.Context) error
}

// Action is the order side sent to the venue.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ActionFor returns the action that moves a position by a signed quantity.
func ActionFor(quantity int64) Action {
	if quantity < 0 {
		return ActionSell
	}
	return ActionBuy
}

// OrderRequest is a single order to place.
type OrderRequest struct {
	OrderID  int64
	Contract Contract
	Action   Action
	Quantity int64 // always positive
	Style    types.OrderStyle
	// Relative orders: cap price and offset from the quote.
	LimitPrice decimal.Decimal
	Offset     decimal.Decimal
	Ref        string
}

// Validate checks the request before it is sent.
func (r OrderRequest) Validate() error {
	if r.OrderID <= 0 {
		return fmt.Errorf("order id %d: %w", r.OrderID, types.ErrInvalidData)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity %d: %w", r.Quantity, types.ErrInvalidOrderSize)
	}
	if r.Action != ActionBuy && r.Action != ActionSell {
		return fmt.Errorf("action %q: %w", r.Action, types.ErrInvalidData)
	}
	return r.Contract.Validate()
}

// Contract represents a tradeable contract.
type Contract struct {
	Symbol        string
	LotMultiplier int64
	SecType       string // FUT, STK, OPT, IND
	Right         string // C or P, options only
	Strike        decimal.Decimal
	Expiry        string // YYYYMMDD
	Exchange      string
	Currency      string
}

// IsOption reports whether the contract carries a right and strike.
func (c Contract) IsOption() bool {
	return c.SecType == "OPT" || c.SecType == "FOP"
}

// Validate checks the contract has what the venue needs.
func (c Contract) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("empty symbol: %w", ErrInvalidContract)
	}
	if c.LotMultiplier <= 0 {
		return fmt.Errorf("lot multiplier %d: %w", c.LotMultiplier, ErrInvalidContract)
	}
	if c.SecType == "" {
		return fmt.Errorf("empty security type: %w", ErrInvalidContract)
	}
	if c.IsOption() && (c.Right == "" || !c.Strike.IsPositive()) {
		return fmt.Errorf("option needs right and strike: %w", ErrInvalidContract)
	}
	return nil
}

// String encodes the contract as symbol_lotMultiplier_type[_right_strike].
func (c Contract) String() string {
	s := fmt.Sprintf("%s_%d_%s", c.Symbol, c.LotMultiplier, c.SecType)
	if c.IsOption() {
		s += "_" + c.Right + "_" + c.Strike.String()
	}
	return s
}

// ParseContract decodes symbol_lotMultiplier_type[_right_strike].
func ParseContract(s string) (Contract, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 && len(parts) != 5 {
		return Contract{}, fmt.Errorf("parse contract %q: %w", s, ErrInvalidContract)
	}

	lot, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("parse contract %q lot: %w", s, ErrInvalidContract)
	}

	c := Contract{
		Symbol:        parts[0],
		LotMultiplier: lot,
		SecType:       strings.ToUpper(parts[2]),
	}

	if len(parts) == 5 {
		c.Right = strings.ToUpper(parts[3])
		c.Strike, err = decimal.NewFromString(parts[4])
		if err != nil {
			return Contract{}, fmt.Errorf("parse contract %q strike: %w", s, ErrInvalidContract)
		}
	}

	if err := c.Validate(); err != nil {
		return Contract{}, fmt.Errorf("parse contract %q: %w", s, err)
	}
	return c, nil
}

// ExpiresOn reports whether the contract expiry (YYYYMMDD) falls on day's
// calendar date in day's location.
func ExpiresOn(expiry string, day time.Time) bool {
	return expiry != "" && expiry == day.Format("20060102")
}

// FrontMonthExpiry returns the front quarterly expiry in YYYYMMDD format.
// Quarterly futures expire on the 3rd Friday of Mar, Jun, Sep, Dec.
func FrontMonthExpiry(now time.Time) string {
	year := now.Year()
	month := now.Month()

	quarterlyMonths := []time.Month{3, 6, 9, 12}
	for _, qm := range quarterlyMonths {
		if month <= qm {
			thirdFriday := thirdFriday(year, qm)
			if now.Before(thirdFriday) {
				return thirdFriday.Format("20060102")
			}
		}
	}

	return thirdFriday(year+1, 3).Format("20060102")
}

func thirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	daysUntilFriday := (time.Friday - first.Weekday() + 7) % 7
	return first.AddDate(0, 0, int(daysUntilFriday)+14)
}
