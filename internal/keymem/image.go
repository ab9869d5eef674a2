package keymem

import "math/big"

// Corruption selects a deliberate metadata fault.
type Corruption int

const (
	CorruptNone Corruption = iota
	// CorruptCurve inverts the curve-id byte of the metadata word.
	CorruptCurve
)

// Write is one pre-state write into key memory.
type Write struct {
	Type   KeyType
	Slot   int
	Offset int
	Words  []uint32
}

// Image is the key-memory pre-state a command carries. Writes are kept in
// order and applied to a blank memory when the command runs.
type Image struct {
	writes []Write
}

// NewImage returns an empty pre-state.
func NewImage() *Image {
	return &Image{}
}

// SetKey writes a 256-bit value at (kt, slot, offset).
func (im *Image) SetKey(kt KeyType, slot, offset int, v *big.Int) {
	im.writes = append(im.writes, Write{Type: kt, Slot: slot, Offset: offset, Words: EncodeKey(v)})
}

// SetWord writes a single word at (kt, slot, offset).
func (im *Image) SetWord(kt KeyType, slot, offset int, w uint32) {
	im.writes = append(im.writes, Write{Type: kt, Slot: slot, Offset: offset, Words: []uint32{w}})
}

// SetMetadata writes the metadata word of pair's public half.
func (im *Image) SetMetadata(pair SlotPair, curve Curve, origin Origin, c Corruption) {
	if c == CorruptCurve {
		curve = ^curve
	}
	md := Metadata{Curve: curve, Origin: origin}
	im.SetWord(KeyTypeECC, pair.Public, MetadataOffset, md.Word())
}

// Writes returns a copy of the pending writes in order.
func (im *Image) Writes() []Write {
	if im == nil {
		return nil
	}
	out := make([]Write, len(im.writes))
	copy(out, im.writes)
	return out
}

// Len returns the number of pending writes.
func (im *Image) Len() int {
	if im == nil {
		return 0
	}
	return len(im.writes)
}

// Add appends an already-built write.
func (im *Image) Add(w Write) {
	im.writes = append(im.writes, w)
}

// Apply performs the writes on d.
func (im *Image) Apply(d *Dump) error {
	if im == nil {
		return nil
	}
	for _, w := range im.writes {
		for i, v := range w.Words {
			if err := d.SetWord(w.Type, w.Slot, w.Offset+i, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Dump materialises the image into a fresh key memory.
func (im *Image) Dump() (*Dump, error) {
	d := New()
	if err := im.Apply(d); err != nil {
		return nil, err
	}
	return d, nil
}
