// Package types defines shared types used across the execution engine.
package types

import (
	"fmt"
)

// Side represents the direction of a position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Sign returns +1 for long, -1 for short and 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// SideOf derives the side from a signed quantity or direction value.
func SideOf(v int64) Side {
	switch {
	case v > 0:
		return SideLong
	case v < 0:
		return SideShort
	default:
		return SideFlat
	}
}

// OrderState is the lifecycle stage of a trading position record.
// Values are strictly ordered; a record only ever moves forward by one step.
type OrderState int

const (
	StateUnknown OrderState = iota
	StateSlotBlocked
	StateEntryInitiated
	StateEntryFilled
	StateExitInitiated
	StateExitSentToExchange
	StateExitFilled
)

var orderStateNames = map[OrderState]string{
	StateSlotBlocked:        "slot-blocked",
	StateEntryInitiated:     "entry-initiated",
	StateEntryFilled:        "entry-filled",
	StateExitInitiated:      "exit-initiated",
	StateExitSentToExchange: "exit-sent-to-exchange",
	StateExitFilled:         "exit-filled",
}

func (s OrderState) String() string {
	if name, ok := orderStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseOrderState parses the wire name of an order state.
func ParseOrderState(s string) (OrderState, error) {
	for state, name := range orderStateNames {
		if name == s {
			return state, nil
		}
	}
	return StateUnknown, fmt.Errorf("parse order state %q: %w", s, ErrInvalidData)
}

// IsTerminal returns true once the exit has been filled.
func (s OrderState) IsTerminal() bool {
	return s == StateExitFilled
}

// IsOpen returns true while the position holds a filled entry that has not
// been fully exited.
func (s OrderState) IsOpen() bool {
	return s >= StateEntryFilled && s < StateExitFilled
}

// IsPending returns true for states waiting on a venue acknowledgement or fill.
func (s OrderState) IsPending() bool {
	switch s {
	case StateEntryInitiated, StateExitInitiated, StateExitSentToExchange:
		return true
	default:
		return false
	}
}

// CanAdvanceTo reports whether next is the immediate successor of s.
func (s OrderState) CanAdvanceTo(next OrderState) bool {
	if s == StateUnknown || s.IsTerminal() {
		return false
	}
	return next == s+1
}

// OrderKind distinguishes entry orders from exit orders.
type OrderKind int

const (
	OrderKindEntry OrderKind = iota
	OrderKindExit
)

func (k OrderKind) String() string {
	if k == OrderKindExit {
		return "exit"
	}
	return "entry"
}

// OrderStyle is the order type sent to the venue.
type OrderStyle int

const (
	OrderStyleMarket OrderStyle = iota
	OrderStyleRelative
)

func (s OrderStyle) String() string {
	if s == OrderStyleRelative {
		return "REL"
	}
	return "MKT"
}
