package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/tathienbao/signal-executor/internal/position"
)

// Book gives typed access to the open-position hash and the closed list.
type Book struct {
	st     Store
	keys   Keys
	codec  position.Codec
	logger *slog.Logger
}

// NewBook creates a position book over st.
func NewBook(st Store, keys Keys, codec position.Codec, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{st: st, keys: keys, codec: codec, logger: logger}
}

// Keys returns the key namespace of the book.
func (b *Book) Keys() Keys { return b.keys }

// Store returns the underlying store.
func (b *Book) Store() Store { return b.st }

// Codec returns the record codec.
func (b *Book) Codec() position.Codec { return b.codec }

// Get loads the record in slot. Returns ErrNil when the slot is free.
func (b *Book) Get(ctx context.Context, slot int) (*position.Record, error) {
	raw, err := b.st.HGet(ctx, b.keys.Open(), strconv.Itoa(slot))
	if err != nil {
		return nil, err
	}
	r, err := b.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", slot, err)
	}
	return r, nil
}

// Put writes the record into slot.
func (b *Book) Put(ctx context.Context, slot int, r *position.Record) error {
	raw, err := b.codec.Encode(r)
	if err != nil {
		return fmt.Errorf("slot %d: %w", slot, err)
	}
	if err := b.st.HSet(ctx, b.keys.Open(), strconv.Itoa(slot), raw); err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}
	return nil
}

// Exists reports whether slot is occupied.
func (b *Book) Exists(ctx context.Context, slot int) (bool, error) {
	return b.st.HExists(ctx, b.keys.Open(), strconv.Itoa(slot))
}

// Delete frees slot.
func (b *Book) Delete(ctx context.Context, slot int) error {
	if err := b.st.HDel(ctx, b.keys.Open(), strconv.Itoa(slot)); err != nil {
		return fmt.Errorf("free slot %d: %w", slot, err)
	}
	return nil
}

// Open returns every occupied slot. Malformed records are logged and
// skipped; their slots stay occupied in the store.
func (b *Book) Open(ctx context.Context) (map[int]*position.Record, error) {
	all, err := b.st.HGetAll(ctx, b.keys.Open())
	if err != nil {
		return nil, fmt.Errorf("read open positions: %w", err)
	}

	out := make(map[int]*position.Record, len(all))
	for field, raw := range all {
		slot, err := strconv.Atoi(field)
		if err != nil {
			b.logger.Warn("skipping non-numeric slot", "field", field)
			continue
		}
		r, err := b.codec.Decode(raw)
		if err != nil {
			b.logger.Warn("skipping malformed record", "slot", slot, "err", err)
			continue
		}
		out[slot] = r
	}
	return out, nil
}

// OccupiedSlots returns the sorted slot numbers present in the open hash,
// including those holding malformed records.
func (b *Book) OccupiedSlots(ctx context.Context) ([]int, error) {
	all, err := b.st.HGetAll(ctx, b.keys.Open())
	if err != nil {
		return nil, fmt.Errorf("read open positions: %w", err)
	}
	slots := make([]int, 0, len(all))
	for field := range all {
		if slot, err := strconv.Atoi(field); err == nil {
			slots = append(slots, slot)
		}
	}
	sort.Ints(slots)
	return slots, nil
}

// AppendClosed pushes r onto the closed list.
func (b *Book) AppendClosed(ctx context.Context, r *position.Record) error {
	raw, err := b.codec.Encode(r)
	if err != nil {
		return err
	}
	if err := b.st.RPush(ctx, b.keys.Closed(), raw); err != nil {
		return fmt.Errorf("append closed: %w", err)
	}
	return nil
}

// Retire appends the terminal record to the closed list and frees its slot.
func (b *Book) Retire(ctx context.Context, slot int, r *position.Record) error {
	if err := b.AppendClosed(ctx, r); err != nil {
		return err
	}
	return b.Delete(ctx, slot)
}

// Closed returns every closed record, oldest first.
func (b *Book) Closed(ctx context.Context) ([]*position.Record, error) {
	raws, err := b.st.LRange(ctx, b.keys.Closed(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read closed positions: %w", err)
	}

	out := make([]*position.Record, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		r, err := b.codec.Decode(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	if len(errs) > 0 {
		b.logger.Warn("skipped malformed closed records", "count", len(errs), "err", errors.Join(errs...))
	}
	return out, nil
}
