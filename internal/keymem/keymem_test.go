package keymem

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 16)
	require.True(t, ok)
	return v
}

func TestSlotPair(t *testing.T) {
	p := NewSlotPair(7)
	assert.Equal(t, 14, p.Private)
	assert.Equal(t, 15, p.Public)
	assert.Equal(t, 7, p.Logical())

	got, err := PairOf(14, 15)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	for _, bad := range [][2]int{{15, 16}, {14, 16}, {-2, -1}, {254, 256}} {
		_, err := PairOf(bad[0], bad[1])
		assert.True(t, errors.Is(err, ErrSlotPair), "%v", bad)
	}
}

func TestLogicalPairRange(t *testing.T) {
	last, err := LogicalPair(Pairs - 1)
	require.NoError(t, err)
	assert.Equal(t, Slots-1, last.Public)

	for _, n := range []int{-1, Pairs, 200} {
		_, err := LogicalPair(n)
		assert.ErrorIs(t, err, ErrSlotPair, "n=%d", n)
	}
	assert.Panics(t, func() { NewSlotPair(Pairs) })
}

func TestMetadataWord(t *testing.T) {
	md := Metadata{Curve: CurveEd25519, Origin: OriginStored}
	assert.Equal(t, uint32(0x0202), md.Word())
	assert.Equal(t, md, ParseMetadata(md.Word()))
	assert.Equal(t, Metadata{Curve: CurveP256, Origin: OriginGenerated}, ParseMetadata(0xFFFF0101))
}

func TestEncodeKeyWordOrder(t *testing.T) {
	v := mustHex(t, "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	words := EncodeKey(v)
	require.Len(t, words, KeyWords)
	assert.Equal(t, uint32(0x1d1e1f20), words[0])
	assert.Equal(t, uint32(0x01020304), words[7])
	assert.Equal(t, 0, v.Cmp(DecodeKey(words)))

	assert.Equal(t, 0, DecodeKey(EncodeKey(big.NewInt(0))).Sign())
}

func TestImageApplyAndParse(t *testing.T) {
	pair := NewSlotPair(3)
	s := mustHex(t, "deadbeef00000000000000000000000000000000000000000000000000000001")
	a := mustHex(t, "42")

	im := NewImage()
	im.SetKey(KeyTypeECC, pair.Private, K1, s)
	im.SetKey(KeyTypeECC, pair.Public, X, a)
	im.SetMetadata(pair, CurveEd25519, OriginGenerated, CorruptNone)
	assert.Equal(t, 3, im.Len())

	d, err := im.Dump()
	require.NoError(t, err)

	parsed, err := Parse(d.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 0, s.Cmp(parsed.Key(KeyTypeECC, pair.Private, K1)))
	assert.Equal(t, 0, a.Cmp(parsed.Key(KeyTypeECC, pair.Public, X)))
	assert.Equal(t, Metadata{Curve: CurveEd25519, Origin: OriginGenerated}, parsed.Metadata(pair))

	presence := parsed.Presence(KeyTypeECC)
	for slot, present := range presence {
		want := slot == pair.Private || slot == pair.Public
		assert.Equal(t, want, present, "slot %d", slot)
	}
	assert.NoError(t, parsed.CheckPair(KeyTypeECC, pair))
}

func TestCorruptCurve(t *testing.T) {
	pair := NewSlotPair(0)
	im := NewImage()
	im.SetMetadata(pair, CurveEd25519, OriginGenerated, CorruptCurve)

	d, err := im.Dump()
	require.NoError(t, err)

	md := d.Metadata(pair)
	assert.Equal(t, Curve(0xFD), md.Curve)
	assert.False(t, md.Curve.Valid())
	assert.Equal(t, OriginGenerated, md.Origin)
}

func TestCheckPairPartial(t *testing.T) {
	d := New()
	pair := NewSlotPair(5)
	require.NoError(t, d.SetKey(KeyTypeECC, pair.Private, K1, big.NewInt(1)))

	err := d.CheckPair(KeyTypeECC, pair)
	assert.True(t, errors.Is(err, ErrPartialPair))

	require.NoError(t, d.Erase(KeyTypeECC, pair.Private))
	assert.False(t, d.Present(KeyTypeECC, pair.Private))
	assert.NoError(t, d.CheckPair(KeyTypeECC, pair))
}

func TestParseWrongSize(t *testing.T) {
	_, err := Parse(make([]byte, DumpSize-4))
	assert.True(t, errors.Is(err, ErrDumpSize))
}

func TestOutOfRange(t *testing.T) {
	d := New()
	assert.True(t, errors.Is(d.SetWord(KeyTypeECC, Slots, 0, 1), ErrOutOfRange))
	assert.True(t, errors.Is(d.SetKey(KeyTypeECC, 0, K4+1, big.NewInt(1)), ErrOutOfRange))

	im := NewImage()
	im.SetWord(KeyType(Types), 0, 0, 1)
	_, err := im.Dump()
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestCloneIsIndependent(t *testing.T) {
	d := New()
	c := d.Clone()
	require.NoError(t, c.SetWord(KeyTypeECC, 0, 0, 7))
	assert.Equal(t, uint32(0), d.Word(KeyTypeECC, 0, 0))
	assert.Equal(t, uint32(7), c.Word(KeyTypeECC, 0, 0))
}
