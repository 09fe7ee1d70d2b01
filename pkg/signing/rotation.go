package signing

import "github.com/sabt-export/core/pkg/metrics"

// Rotator performs the offline admin key-rotation operations, persisting
// the mutated key set and emitting token_rotation_total{event}.
type Rotator struct {
	keys *KeySet
	reg  *metrics.Registry
	path string
}

// NewRotator binds a Rotator to a persisted key-set file.
func NewRotator(keys *KeySet, reg *metrics.Registry, path string) *Rotator {
	return &Rotator{keys: keys, reg: reg, path: path}
}

// Generate installs next as the pending key and persists the file.
func (r *Rotator) Generate(next Key) error {
	r.keys.Generate(next)
	if r.reg != nil {
		r.reg.TokenRotation("generate").Inc()
	}
	return r.keys.Save(r.path)
}

// Promote makes the pending "next" key active and persists the file.
func (r *Rotator) Promote() error {
	if !r.keys.Promote() {
		return nil
	}
	if r.reg != nil {
		r.reg.TokenRotation("promote").Inc()
	}
	return r.keys.Save(r.path)
}
