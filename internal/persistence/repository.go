// Package persistence journals closed trades and audit findings.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/position"
)

// Repository defines the interface for the trade journal.
type Repository interface {
	// Trade operations
	SaveClosedTrade(ctx context.Context, slot int, r *position.Record) error
	GetTrades(ctx context.Context, from, to time.Time) ([]Trade, error)
	GetTradesByCombo(ctx context.Context, combo string, limit int) ([]Trade, error)

	// Audit operations
	SaveAuditFinding(ctx context.Context, f AuditFinding) error
	GetAuditFindings(ctx context.Context, from, to time.Time) ([]AuditFinding, error)

	// State operations
	SetState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (string, bool, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Trade is a journaled closed position.
type Trade struct {
	ID           string
	Slot         int
	Combo        string
	Contract     string
	Quantity     int64
	EntryTime    time.Time
	ExitTime     time.Time
	EntrySpread  decimal.Decimal
	ExitSpread   decimal.Decimal
	GrossPL      decimal.Decimal
	Cost         decimal.Decimal
	NetPL        decimal.Decimal
	MFE          decimal.Decimal
	MAE          decimal.Decimal
	EntryOrderID int64
	ExitOrderID  int64
	// Record is the closed record in wire form.
	Record string
}

// AuditFinding is one stuck record seen by an audit sweep.
type AuditFinding struct {
	ID            int64
	SweepID       string
	Slot          int
	Combo         string
	State         string
	ReferenceTime time.Time
	Age           time.Duration
	Resolution    string
	Detail        string
	CreatedAt     time.Time
}

// Well-known state keys.
const (
	StateLastSummaryDate = "last_summary_date"
)
