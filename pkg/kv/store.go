// Package kv defines the namespaced key-value interface shared by the
// rate-limit buckets, idempotency records, and export job runner, plus an
// in-memory reference implementation for tests and a Redis-backed one for
// production.
package kv

import (
	"context"
	"sync"
	"time"

	"github.com/sabt-export/core/pkg/clock"
)

// Store is the namespaced key-value interface every backend implements.
// Implementations prefix every key with the deployment namespace supplied
// at construction time.
type Store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type entry struct {
	value   string
	expires time.Time
	noTTL   bool
}

// Memory is an in-memory Store safe for concurrent use, honoring per-key
// TTL via an injected clock. Intended as the reference implementation for
// tests and single-process deployments.
type Memory struct {
	mu        sync.Mutex
	namespace string
	clk       clock.Clock
	data      map[string]entry
}

// NewMemory creates an in-memory store scoped to namespace.
func NewMemory(namespace string, clk clock.Clock) *Memory {
	return &Memory{namespace: namespace, clk: clk, data: make(map[string]entry)}
}

func (m *Memory) nsKey(key string) string { return m.namespace + ":" + key }

func (m *Memory) expired(e entry, now time.Time) bool {
	return !e.noTTL && now.After(e.expires)
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	k := m.nsKey(key)
	e, ok := m.data[k]
	if !ok || m.expired(e, now) {
		e = entry{value: "0", expires: now.Add(ttl)}
	}
	var n int64
	for _, r := range e.value {
		n = n*10 + int64(r-'0')
	}
	n++
	e.value = itoa(n)
	m.data[k] = e
	return n, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	k := m.nsKey(key)
	e, ok := m.data[k]
	if !ok || m.expired(e, now) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	k := m.nsKey(key)
	if ttl <= 0 {
		m.data[k] = entry{value: value, noTTL: true}
		return nil
	}
	m.data[k] = entry{value: value, expires: now.Add(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	k := m.nsKey(key)
	if e, ok := m.data[k]; ok && !m.expired(e, now) {
		return false, nil
	}
	if ttl <= 0 {
		m.data[k] = entry{value: value, noTTL: true}
	} else {
		m.data[k] = entry{value: value, expires: now.Add(ttl)}
	}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.nsKey(key))
	return nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
