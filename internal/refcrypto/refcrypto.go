// Package refcrypto computes the ground-truth values DUT outputs are
// compared against: SHA-512 digests, Ed25519 key expansion and signing
// with the salted nonce construction the firmware uses, P-256 key
// derivation, and the Ed25519 constant table of the boot verifier.
//
// Integers follow the key-memory convention: 256-bit values are plain
// non-negative big.Ints, byte strings derived from them are big-endian
// unless a function says otherwise.
package refcrypto

import (
	"crypto/sha512"
	"errors"
	"math/big"
)

// Errors
var (
	ErrSeedSize   = errors.New("refcrypto: seed must be 32 bytes")
	ErrPublicKey  = errors.New("refcrypto: invalid public key")
	ErrSignature  = errors.New("refcrypto: invalid signature")
	ErrSaltLength = errors.New("refcrypto: invalid salt length")
)

// Sizes.
const (
	SeedSize      = 32
	PublicSize    = 32
	SignatureSize = 64
	DigestSize    = sha512.Size
	SaltCHSize    = 32
	SaltCNSize    = 4
)

// SHA512 returns the SHA-512 digest of data.
func SHA512(data []byte) []byte {
	h := sha512.Sum512(data)
	return h[:]
}

// IntBytes renders v as an n-byte big-endian string.
func IntBytes(v *big.Int, n int) []byte {
	out := make([]byte, n)
	v.FillBytes(out)
	return out
}

// IntBytesLE renders v as an n-byte little-endian string.
func IntBytesLE(v *big.Int, n int) []byte {
	return reverse(IntBytes(v, n))
}

// BytesInt reads a big-endian integer.
func BytesInt(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// BytesIntLE reads a little-endian integer.
func BytesIntLE(b []byte) *big.Int {
	return new(big.Int).SetBytes(reverse(b))
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
