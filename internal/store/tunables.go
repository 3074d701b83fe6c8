package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

// Tunable names mutable at runtime by strategy-level commands.
const (
	TunableMaxPositions = "max_positions"
	TunableMinZScore    = "min_zscore"
	TunableMaxZScore    = "max_zscore"
	TunableMinHalfLife  = "min_half_life"
	TunableMaxHalfLife  = "max_half_life"
	TunableMaxSpread    = "max_spread"
)

// TunableSet is a snapshot of every tunable.
type TunableSet struct {
	MaxPositions int
	MinZScore    decimal.Decimal
	MaxZScore    decimal.Decimal
	MinHalfLife  decimal.Decimal
	MaxHalfLife  decimal.Decimal
	MaxSpread    decimal.Decimal
}

func (s TunableSet) byName() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		TunableMaxPositions: decimal.NewFromInt(int64(s.MaxPositions)),
		TunableMinZScore:    s.MinZScore,
		TunableMaxZScore:    s.MaxZScore,
		TunableMinHalfLife:  s.MinHalfLife,
		TunableMaxHalfLife:  s.MaxHalfLife,
		TunableMaxSpread:    s.MaxSpread,
	}
}

// Tunables reads and writes tunables in the store, falling back to the
// configured defaults when a key is missing or malformed.
type Tunables struct {
	st       Store
	keys     Keys
	defaults TunableSet
}

// NewTunables creates a tunables accessor.
func NewTunables(st Store, keys Keys, defaults TunableSet) *Tunables {
	return &Tunables{st: st, keys: keys, defaults: defaults}
}

// Known reports whether name is a tunable.
func Known(name string) bool {
	_, ok := TunableSet{}.byName()[name]
	return ok
}

// Snapshot reads every tunable. Store failures fall back to defaults.
func (t *Tunables) Snapshot(ctx context.Context) TunableSet {
	defs := t.defaults.byName()
	get := func(name string) decimal.Decimal {
		raw, err := t.st.Get(ctx, t.keys.Tunable(name))
		if err != nil {
			return defs[name]
		}
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			return defs[name]
		}
		return v
	}

	return TunableSet{
		MaxPositions: int(get(TunableMaxPositions).IntPart()),
		MinZScore:    get(TunableMinZScore),
		MaxZScore:    get(TunableMaxZScore),
		MinHalfLife:  get(TunableMinHalfLife),
		MaxHalfLife:  get(TunableMaxHalfLife),
		MaxSpread:    get(TunableMaxSpread),
	}
}

// Set writes a tunable. Unknown names and negative values are rejected.
func (t *Tunables) Set(ctx context.Context, name string, v decimal.Decimal) error {
	if !Known(name) {
		return fmt.Errorf("tunable %q: %w", name, types.ErrInvalidConfig)
	}
	if v.IsNegative() {
		return fmt.Errorf("tunable %s=%s: %w", name, v, types.ErrInvalidConfig)
	}
	if name == TunableMaxPositions && !v.Equal(v.Truncate(0)) {
		return fmt.Errorf("tunable %s=%s not a whole number: %w", name, v, types.ErrInvalidConfig)
	}
	return t.st.Set(ctx, t.keys.Tunable(name), v.String())
}
