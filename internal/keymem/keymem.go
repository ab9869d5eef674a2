// Package keymem models the DUT key store: typed, slotted storage with a
// metadata word on every public half.
//
// Memory is organised as Types key-type regions of Slots slots each. A
// slot is SlotWords 32-bit words. Words are little-endian; a 256-bit
// value spans eight words, least significant word first. A raw dump is
// the concatenation of every region in key-type order.
package keymem

import (
	"errors"
	"fmt"
	"math/big"
)

// Errors
var (
	ErrDumpSize    = errors.New("keymem: dump has wrong size")
	ErrOutOfRange  = errors.New("keymem: address outside key memory")
	ErrSlotPair    = errors.New("keymem: slots are not a private/public pair")
	ErrPartialPair = errors.New("keymem: slot pair partially populated")
)

// Geometry.
const (
	Types     = 8
	Slots     = 256
	SlotWords = 32
	SlotBytes = SlotWords * 4
	KeyWords  = 8
	DumpSize  = Types * Slots * SlotBytes
	// Pairs is the number of logical slots.
	Pairs = Slots / 2
)

// KeyType tags a key-memory region.
type KeyType uint8

// KeyTypeECC holds elliptic-curve key pairs.
const KeyTypeECC KeyType = 0x04

// Curve identifies the curve a key pair belongs to.
type Curve uint8

const (
	CurveP256    Curve = 0x01
	CurveEd25519 Curve = 0x02
)

func (c Curve) String() string {
	switch c {
	case CurveP256:
		return "p256"
	case CurveEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("curve(0x%02x)", uint8(c))
	}
}

// Valid reports whether c is a supported curve.
func (c Curve) Valid() bool {
	return c == CurveP256 || c == CurveEd25519
}

// Origin records how a key entered the slot.
type Origin uint8

const (
	OriginGenerated Origin = 0x01
	OriginStored    Origin = 0x02
)

// Private-half sub-field offsets, in words.
const (
	K1 = 0
	K2 = 8
	K3 = 16
	K4 = 24
)

// Public-half sub-field offsets, in words.
const (
	MetadataOffset = 0
	X              = 8
	Y              = 16
)

// Metadata is the public-half descriptor word.
type Metadata struct {
	Curve  Curve
	Origin Origin
}

// Word packs m: curve in the low byte, origin in the next.
func (m Metadata) Word() uint32 {
	return uint32(m.Curve) | uint32(m.Origin)<<8
}

// ParseMetadata unpacks a metadata word.
func ParseMetadata(w uint32) Metadata {
	return Metadata{Curve: Curve(w & 0xFF), Origin: Origin(w >> 8 & 0xFF)}
}

// SlotPair is the private/public slot indices of one logical key slot.
type SlotPair struct {
	Private int
	Public  int
}

// LogicalPair returns the pair of logical slot n.
func LogicalPair(n int) (SlotPair, error) {
	if n < 0 || n >= Pairs {
		return SlotPair{}, fmt.Errorf("%w: logical slot %d", ErrSlotPair, n)
	}
	return SlotPair{Private: 2 * n, Public: 2*n + 1}, nil
}

// NewSlotPair is LogicalPair for indices known to be in range. It panics
// otherwise.
func NewSlotPair(n int) SlotPair {
	p, err := LogicalPair(n)
	if err != nil {
		panic(err)
	}
	return p
}

// PairOf validates that private and public form a pair.
func PairOf(private, public int) (SlotPair, error) {
	if private < 0 || private%2 != 0 || public != private+1 || public >= Slots {
		return SlotPair{}, fmt.Errorf("%w: %d/%d", ErrSlotPair, private, public)
	}
	return SlotPair{Private: private, Public: public}, nil
}

// Logical returns the logical slot index of p.
func (p SlotPair) Logical() int {
	return p.Private / 2
}

func (p SlotPair) String() string {
	return fmt.Sprintf("slot %d (%d/%d)", p.Logical(), p.Private, p.Public)
}

func wordIndex(kt KeyType, slot, offset int) (int, error) {
	if int(kt) >= Types || slot < 0 || slot >= Slots || offset < 0 || offset >= SlotWords {
		return 0, fmt.Errorf("%w: type 0x%02x slot %d offset %d", ErrOutOfRange, uint8(kt), slot, offset)
	}
	return (int(kt)*Slots+slot)*SlotWords + offset, nil
}

// EncodeKey renders v as KeyWords little-endian words.
func EncodeKey(v *big.Int) []uint32 {
	var le [KeyWords * 4]byte
	b := v.Bytes()
	for i := 0; i < len(b) && i < len(le); i++ {
		le[i] = b[len(b)-1-i]
	}
	words := make([]uint32, KeyWords)
	for i := range words {
		words[i] = uint32(le[4*i]) | uint32(le[4*i+1])<<8 | uint32(le[4*i+2])<<16 | uint32(le[4*i+3])<<24
	}
	return words
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(words []uint32) *big.Int {
	be := make([]byte, 4*len(words))
	for i, w := range words {
		j := len(be) - 4*i
		be[j-1] = byte(w)
		be[j-2] = byte(w >> 8)
		be[j-3] = byte(w >> 16)
		be[j-4] = byte(w >> 24)
	}
	return new(big.Int).SetBytes(be)
}
