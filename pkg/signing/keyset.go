// Package signing implements HMAC-signed, time-limited download URLs and
// their rotation lifecycle: exactly two named HMAC-SHA256 slots (active,
// next) are live at once, so verifiers keep accepting URLs minted under
// the outgoing key during a rotation overlap.
package signing

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Key is one named HMAC secret.
type Key struct {
	Kid    string `yaml:"kid"`
	Secret string `yaml:"secret"`
}

// KeySetFile is the on-disk YAML shape the rotation tooling reads and
// writes.
type KeySetFile struct {
	Active Key  `yaml:"active"`
	Next   *Key `yaml:"next,omitempty"`
}

// KeySet holds the active signing key and an optional next key accepted
// during rotation overlap. Verification accepts signatures from either.
type KeySet struct {
	mu     sync.RWMutex
	active Key
	next   *Key
	path   string
}

// NewKeySet constructs a KeySet from an initial active key.
func NewKeySet(active Key) *KeySet {
	return &KeySet{active: active}
}

// LoadKeySetFile reads a KeySet from a YAML file.
func LoadKeySetFile(path string) (*KeySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing: read key set file: %w", err)
	}
	var file KeySetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("signing: parse key set file: %w", err)
	}
	return &KeySet{active: file.Active, next: file.Next, path: path}, nil
}

// Save persists the key set to its originating path (or to path if given).
func (ks *KeySet) Save(path string) error {
	ks.mu.RLock()
	file := KeySetFile{Active: ks.active, Next: ks.next}
	ks.mu.RUnlock()

	encoded, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("signing: marshal key set: %w", err)
	}
	target := path
	if target == "" {
		target = ks.path
	}
	return os.WriteFile(target, encoded, 0o600)
}

// Active returns the current active key.
func (ks *KeySet) Active() Key {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.active
}

// lookup finds the key matching kid among active/next, for verification.
func (ks *KeySet) lookup(kid string) (Key, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.active.Kid == kid {
		return ks.active, true
	}
	if ks.next != nil && ks.next.Kid == kid {
		return *ks.next, true
	}
	return Key{}, false
}

// Generate installs a new key as "next". The token_rotation_total
// event="generate" counter is emitted by the caller (Rotator.Generate).
func (ks *KeySet) Generate(next Key) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.next = &next
}

// Promote makes "next" the new active key, discarding the previous active
// key. It is a no-op if there is no pending next key. Emits
// token_rotation_total{event="promote"} via the caller.
func (ks *KeySet) Promote() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.next == nil {
		return false
	}
	ks.active = *ks.next
	ks.next = nil
	return true
}
