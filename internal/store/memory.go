package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and paper runs.
type Memory struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	lists   map[string][]string
	scalars map[string]string
	pushed  chan struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		scalars: make(map[string]string),
		pushed:  make(chan struct{}),
	}
}

func (m *Memory) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Memory) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HDel(ctx context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes[key], field)
	return nil
}

func (m *Memory) HExists(ctx context.Context, key, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hashes[key][field]
	return ok, nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) RPush(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], value)
	close(m.pushed)
	m.pushed = make(chan struct{})
	return nil
}

func (m *Memory) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if l := m.lists[key]; len(l) > 0 {
			v := l[0]
			m.lists[key] = l[1:]
			m.mu.Unlock()
			return v, nil
		}
		pushed := m.pushed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", ErrTimeout
		case <-pushed:
		}
	}
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	start = max(start, 0)
	stop = min(stop, n-1)
	if start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if v, ok := m.scalars[key]; ok {
		var err error
		if n, err = strconv.ParseInt(v, 10, 64); err != nil {
			return 0, err
		}
	}
	n++
	m.scalars[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scalars[key]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scalars[key] = value
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)
