// Package ui renders the slot board for the status command.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/tathienbao/signal-executor/internal/position"
	"github.com/tathienbao/signal-executor/internal/types"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	MoveUp      = "\033[%dA"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Row is one occupied slot on the board.
type Row struct {
	Slot   int
	Record *position.Record
}

// Board renders open slots and the day's P&L.
type Board struct {
	out      io.Writer
	costRate decimal.Decimal
	loc      *time.Location
	color    bool
	width    int

	// Track lines printed for redraw
	linesPrinted int
}

// NewBoard creates a board writing to out. Colors and width follow the
// terminal when out is one.
func NewBoard(out io.Writer, costRate decimal.Decimal, loc *time.Location) *Board {
	b := &Board{out: out, costRate: costRate, loc: loc, width: 100}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b.color = true
		b.width = terminalWidth(f)
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	return b
}

// Start hides the cursor for redraws.
func (b *Board) Start() {
	if b.color {
		fmt.Fprint(b.out, HideCursor)
	}
}

// Stop restores the cursor.
func (b *Board) Stop() {
	if b.color {
		fmt.Fprint(b.out, ShowCursor)
	}
}

// Render draws one frame, overwriting the previous frame on a terminal.
func (b *Board) Render(rows []Row, dailyPL decimal.Decimal, now time.Time) {
	if b.color && b.linesPrinted > 0 {
		fmt.Fprintf(b.out, MoveUp, b.linesPrinted)
	}

	lines := b.Lines(rows, dailyPL, now)
	for _, line := range lines {
		if b.color {
			fmt.Fprint(b.out, ClearLine)
		}
		fmt.Fprintln(b.out, line)
	}
	b.linesPrinted = len(lines)
}

// Lines formats one frame.
func (b *Board) Lines(rows []Row, dailyPL decimal.Decimal, now time.Time) []string {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Slot < rows[j].Slot })

	lines := []string{
		b.paint(ColorBold, fmt.Sprintf("%-4s %-18s %-6s %6s %-22s %12s %12s %10s",
			"SLOT", "COMBO", "SIDE", "QTY", "STATE", "ENTRY", "LAST", "NET P&L")),
		b.paint(ColorDim, strings.Repeat("─", min(b.width, 98))),
	}

	for _, r := range rows {
		rec := r.Record
		pnl, ok := rec.NetPnL(b.costRate)
		pnlText := "-"
		color := ColorReset
		if ok {
			pnlText = pnl.StringFixed(2)
			color = pnlColor(pnl)
		}
		if rec.State.IsPending() {
			color = ColorYellow
		}

		line := fmt.Sprintf("%-4d %-18s %-6s %6d %-22s %12s %12s %10s",
			r.Slot,
			truncate(rec.Combo, 18),
			rec.Side(),
			rec.AbsQuantity(),
			rec.State,
			spread(rec.EntrySpread),
			spread(last(rec)),
			pnlText,
		)
		lines = append(lines, b.paint(color, line))
	}

	if len(rows) == 0 {
		lines = append(lines, b.paint(ColorDim, "no open slots"))
	}

	lines = append(lines, fmt.Sprintf("%s %s │ %s %d │ %s %s",
		b.paint(ColorBold, "Day P&L:"), b.paint(pnlColor(dailyPL), dailyPL.StringFixed(2)),
		b.paint(ColorBold, "Slots:"), len(rows),
		b.paint(ColorBold, "As of:"), now.In(b.loc).Format("2006-01-02 15:04:05")))

	return lines
}

func (b *Board) paint(color, s string) string {
	if !b.color || color == ColorReset {
		return s
	}
	return color + s + ColorReset
}

func pnlColor(pnl decimal.Decimal) string {
	if pnl.IsNegative() {
		return ColorRed
	}
	return ColorGreen
}

func last(rec *position.Record) decimal.NullDecimal {
	if rec.State == types.StateExitFilled && rec.ExitSpread.Valid {
		return rec.ExitSpread
	}
	return rec.LastSpread
}

func spread(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// terminalWidth returns the terminal width, or 80 when unknown.
func terminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
