// Package intervention applies operator commands: per-slot flags read by the
// exit monitors, and strategy tunables written to the store.
package intervention

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Flags are the pending operator requests for one slot.
type Flags struct {
	Stop             bool
	SquareOff        bool
	UpdateStopLoss   bool
	UpdateTakeProfit bool
	StopLossTarget   decimal.Decimal
	TakeProfitTarget decimal.Decimal
}

// Any reports whether any flag is raised.
func (f Flags) Any() bool {
	return f.Stop || f.SquareOff || f.UpdateStopLoss || f.UpdateTakeProfit
}

// FlagTable holds flags by slot for the life of the process.
type FlagTable struct {
	mu    sync.Mutex
	flags map[int]Flags
}

// NewFlagTable creates an empty flag table.
func NewFlagTable() *FlagTable {
	return &FlagTable{flags: make(map[int]Flags)}
}

func (t *FlagTable) update(slot int, fn func(*Flags)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.flags[slot]
	fn(&f)
	t.flags[slot] = f
}

// RaiseStop asks the slot's monitor to stop without exiting.
func (t *FlagTable) RaiseStop(slot int) {
	t.update(slot, func(f *Flags) { f.Stop = true })
}

// RaiseSquareOff asks the slot's monitor to exit the position.
func (t *FlagTable) RaiseSquareOff(slot int) {
	t.update(slot, func(f *Flags) { f.SquareOff = true })
}

// SetStopLoss asks the slot's monitor to move its stop level to v.
func (t *FlagTable) SetStopLoss(slot int, v decimal.Decimal) {
	t.update(slot, func(f *Flags) {
		f.UpdateStopLoss = true
		f.StopLossTarget = v
	})
}

// SetTakeProfit asks the slot's monitor to move its take level to v.
func (t *FlagTable) SetTakeProfit(slot int, v decimal.Decimal) {
	t.update(slot, func(f *Flags) {
		f.UpdateTakeProfit = true
		f.TakeProfitTarget = v
	})
}

// Get returns the slot's flags without consuming them.
func (t *FlagTable) Get(slot int) Flags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags[slot]
}

// Take returns the slot's flags and clears the level updates, which apply
// once. Stop and SquareOff stay raised until Clear.
func (t *FlagTable) Take(slot int) Flags {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flags[slot]
	if !ok {
		return Flags{}
	}
	next := f
	next.UpdateStopLoss = false
	next.UpdateTakeProfit = false
	next.StopLossTarget = decimal.Zero
	next.TakeProfitTarget = decimal.Zero
	if next.Any() {
		t.flags[slot] = next
	} else {
		delete(t.flags, slot)
	}
	return f
}

// Clear drops every flag of the slot.
func (t *FlagTable) Clear(slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flags, slot)
}
