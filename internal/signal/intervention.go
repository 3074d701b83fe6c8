package signal

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Level is the scope of an operator command.
type Level string

const (
	LevelStrategy Level = "strategy"
	LevelTrade    Level = "trade"
)

// Action names an operator command.
type Action string

// Trade level actions.
const (
	ActionSquareOff        Action = "square-off"
	ActionUpdateStopLoss   Action = "update-stop-loss"
	ActionUpdateTakeProfit Action = "update-take-profit"
	ActionStopMonitor      Action = "stop-monitor"
)

// Strategy level actions.
const (
	ActionSquareOffAll    Action = "square-off-all"
	ActionSetMaxPositions Action = "set-max-positions"
	ActionSetMinZScore    Action = "set-min-zscore"
	ActionSetMaxZScore    Action = "set-max-zscore"
	ActionSetMinHalfLife  Action = "set-min-half-life"
	ActionSetMaxHalfLife  Action = "set-max-half-life"
	ActionSetMaxSpread    Action = "set-max-spread"
)

// Intervention is an operator command.
type Intervention struct {
	Level  Level
	Action Action
	// Slot is zero for strategy level commands.
	Slot int
	// Target is the raw target value; TargetValue parses it.
	Target    string
	Timestamp time.Time
}

// TargetValue parses the target as a number.
func (i Intervention) TargetValue() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(i.Target)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Encode renders the command in wire form.
func (i Intervention) Encode(loc *time.Location) string {
	pairs := []kv{
		{"level", string(i.Level)},
		{"action", string(i.Action)},
	}
	if i.Slot > 0 {
		pairs = append(pairs, kv{"slot", strconv.Itoa(i.Slot)})
	}
	if i.Target != "" {
		pairs = append(pairs, kv{"target", i.Target})
	}
	pairs = append(pairs, kv{"timestamp", i.Timestamp.In(loc).Format(TimestampLayout)})
	return join(pairs)
}

// ParseIntervention decodes an operator command. A level that is neither
// strategy nor trade is inferred from the presence of a slot.
func ParseIntervention(raw string, d Defaults) Intervention {
	f := fields(raw)
	i := Intervention{
		Level:     Level(f["level"]),
		Action:    Action(f["action"]),
		Slot:      integer(f["slot"]),
		Target:    f["target"],
		Timestamp: timestamp(f["timestamp"], d),
	}
	if i.Level != LevelStrategy && i.Level != LevelTrade {
		if i.Slot > 0 {
			i.Level = LevelTrade
		} else {
			i.Level = LevelStrategy
		}
	}
	return i
}
