package clock

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Jitter computes the deterministic backoff delay for attempt (1-indexed)
// given a base delay in seconds and a seed string. It is the only
// sanctioned source of sleep durations in the core: the retry engine calls
// this instead of reading any randomness source.
//
//	J(base, attempt, seed) = base * 2^(attempt-1) * (0.9 + 0.2*u)
//
// where u is derived from the first 8 bytes of BLAKE2b-256(seed:attempt),
// interpreted as an unsigned 64-bit integer scaled into [0, 1).
func Jitter(baseSeconds float64, attempt int, seed string) float64 {
	if attempt < 1 {
		attempt = 1
	}
	u := jitterUnit(seed, attempt)
	factor := 1.0
	for i := 1; i < attempt; i++ {
		factor *= 2
	}
	return baseSeconds * factor * (0.9 + 0.2*u)
}

// JitterBounded is Jitter clamped to maxSeconds, matching the retry
// policy's max_delay ceiling.
func JitterBounded(baseSeconds float64, attempt int, seed string, maxSeconds float64) float64 {
	d := Jitter(baseSeconds, attempt, seed)
	if maxSeconds > 0 && d > maxSeconds {
		return maxSeconds
	}
	return d
}

func jitterUnit(seed string, attempt int) float64 {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key never errors; keep a safe fallback.
		return 0
	}
	fmt.Fprintf(h, "%s:%d", seed, attempt)
	sum := h.Sum(nil)
	raw := binary.BigEndian.Uint64(sum[:8])
	return float64(raw) / float64(^uint64(0))
}
