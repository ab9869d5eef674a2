// Package seed provides the run seed and the per-scenario random streams
// derived from it.
//
// A run seed is 32 bytes from the OS, a TPM, or the configuration. Each
// scenario draws from its own ChaCha stream keyed by the run seed and the
// scenario name, so rerunning with the same seed replays every scenario
// bit for bit regardless of which subset runs.
package seed

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/frand"
)

// Size is the run seed length in bytes.
const Size = 32

// Errors
var (
	ErrSeedLength    = errors.New("seed: run seed must be 32 bytes")
	ErrUnknownSource = errors.New("seed: unknown source")
	ErrShortRead     = errors.New("seed: short read from entropy source")
)

// Source yields a run seed.
type Source interface {
	Name() string
	Seed(ctx context.Context) ([]byte, error)
}

// OSSource draws the run seed from system entropy.
type OSSource struct{}

func (OSSource) Name() string { return "os" }

func (OSSource) Seed(context.Context) ([]byte, error) {
	e := frand.Entropy256()
	return e[:], nil
}

// FixedSource returns a configured seed.
type FixedSource struct {
	Value []byte
}

func (FixedSource) Name() string { return "fixed" }

func (f FixedSource) Seed(context.Context) ([]byte, error) {
	if len(f.Value) != Size {
		return nil, ErrSeedLength
	}
	return append([]byte(nil), f.Value...), nil
}

// ParseHex decodes a hex run seed, with or without a 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if len(b) != Size {
		return nil, ErrSeedLength
	}
	return b, nil
}

// Open returns the source named by kind. A non-empty fixed value wins
// over kind.
func Open(kind, tpmPath, fixed string) (Source, error) {
	if fixed != "" {
		b, err := ParseHex(fixed)
		if err != nil {
			return nil, err
		}
		return FixedSource{Value: b}, nil
	}
	switch kind {
	case "", "os":
		return OSSource{}, nil
	case "tpm":
		return &TPMSource{Path: tpmPath}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
}

// Stream is a deterministic random stream for one scenario.
type Stream struct {
	rng *frand.RNG
}

// NewStream derives the stream of scenario name from the run seed.
func NewStream(runSeed []byte, name string) *Stream {
	h := sha512.New()
	h.Write(runSeed)
	h.Write([]byte{0})
	h.Write([]byte(name))
	key := h.Sum(nil)[:32]
	return &Stream{rng: frand.NewCustom(key, 1024, 20)}
}

// Intn returns a value in [0, n).
func (s *Stream) Intn(n int) int {
	return s.rng.Intn(n)
}

// IntRange returns a value in [lo, hi).
func (s *Stream) IntRange(lo, hi int) int {
	return lo + s.rng.Intn(hi-lo)
}

// Bool returns a fair coin flip.
func (s *Stream) Bool() bool {
	return s.rng.Intn(2) == 1
}

// Bytes returns n random bytes.
func (s *Stream) Bytes(n int) []byte {
	return s.rng.Bytes(n)
}

// Below returns a value in [0, n).
func (s *Stream) Below(n *big.Int) *big.Int {
	return s.rng.BigIntn(n)
}

// Uint256 returns a 256-bit value.
func (s *Stream) Uint256() *big.Int {
	return new(big.Int).SetBytes(s.rng.Bytes(32))
}

// Values returns n 256-bit values for seeding the DUT's random source.
func (s *Stream) Values(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = s.Uint256()
	}
	return out
}
