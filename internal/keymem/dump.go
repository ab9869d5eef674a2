package keymem

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Dump is a parsed key memory. It is also the live memory of the
// software DUT, hence the setters.
type Dump struct {
	data []byte
}

// New returns a blank key memory.
func New() *Dump {
	return &Dump{data: make([]byte, DumpSize)}
}

// Parse wraps a raw dump read back from the DUT.
func Parse(raw []byte) (*Dump, error) {
	if len(raw) != DumpSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrDumpSize, len(raw), DumpSize)
	}
	data := make([]byte, DumpSize)
	copy(data, raw)
	return &Dump{data: data}, nil
}

// Bytes returns the raw dump.
func (d *Dump) Bytes() []byte {
	return d.data
}

// Word reads one word. Out-of-range addresses read as zero.
func (d *Dump) Word(kt KeyType, slot, offset int) uint32 {
	i, err := wordIndex(kt, slot, offset)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(d.data[4*i:])
}

// SetWord writes one word.
func (d *Dump) SetWord(kt KeyType, slot, offset int, w uint32) error {
	i, err := wordIndex(kt, slot, offset)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(d.data[4*i:], w)
	return nil
}

// Key reads the 256-bit sub-field at (kt, slot, offset).
func (d *Dump) Key(kt KeyType, slot, offset int) *big.Int {
	words := make([]uint32, KeyWords)
	for i := range words {
		words[i] = d.Word(kt, slot, offset+i)
	}
	return DecodeKey(words)
}

// SetKey writes a 256-bit sub-field.
func (d *Dump) SetKey(kt KeyType, slot, offset int, v *big.Int) error {
	if offset+KeyWords > SlotWords {
		return fmt.Errorf("%w: key at offset %d", ErrOutOfRange, offset)
	}
	for i, w := range EncodeKey(v) {
		if err := d.SetWord(kt, slot, offset+i, w); err != nil {
			return err
		}
	}
	return nil
}

// Erase zeroes a slot.
func (d *Dump) Erase(kt KeyType, slot int) error {
	for off := 0; off < SlotWords; off++ {
		if err := d.SetWord(kt, slot, off, 0); err != nil {
			return err
		}
	}
	return nil
}

// Present reports whether any word of the slot is non-zero.
func (d *Dump) Present(kt KeyType, slot int) bool {
	base, err := wordIndex(kt, slot, 0)
	if err != nil {
		return false
	}
	for _, b := range d.data[4*base : 4*(base+SlotWords)] {
		if b != 0 {
			return true
		}
	}
	return false
}

// Presence classifies every slot of kt as populated or empty.
func (d *Dump) Presence(kt KeyType) []bool {
	out := make([]bool, Slots)
	for slot := range out {
		out[slot] = d.Present(kt, slot)
	}
	return out
}

// Metadata reads the metadata word of pair's public half.
func (d *Dump) Metadata(pair SlotPair) Metadata {
	return ParseMetadata(d.Word(KeyTypeECC, pair.Public, MetadataOffset))
}

// CheckPair fails when exactly one half of pair is populated.
func (d *Dump) CheckPair(kt KeyType, pair SlotPair) error {
	priv, pub := d.Present(kt, pair.Private), d.Present(kt, pair.Public)
	if priv != pub {
		return fmt.Errorf("%w: %s private=%t public=%t", ErrPartialPair, pair, priv, pub)
	}
	return nil
}

// Clone returns an independent copy of d.
func (d *Dump) Clone() *Dump {
	data := make([]byte, len(d.data))
	copy(data, d.data)
	return &Dump{data: data}
}
