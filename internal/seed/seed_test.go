package seed

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamIsDeterministic(t *testing.T) {
	runSeed := bytes.Repeat([]byte{7}, Size)
	a := NewStream(runSeed, "eddsa_sequence/big")
	b := NewStream(runSeed, "eddsa_sequence/big")
	c := NewStream(runSeed, "eddsa_sequence/small")

	x := a.Bytes(64)
	assert.Equal(t, x, b.Bytes(64))
	assert.NotEqual(t, x, c.Bytes(64))
	assert.Equal(t, a.Uint256(), b.Uint256())
}

func TestStreamRanges(t *testing.T) {
	s := NewStream(make([]byte, Size), "ranges")
	q := new(big.Int).Lsh(big.NewInt(1), 252)
	for i := 0; i < 200; i++ {
		v := s.IntRange(3, 8)
		assert.GreaterOrEqual(t, v, 3)
		assert.Less(t, v, 8)

		b := s.Below(q)
		assert.Equal(t, -1, b.Cmp(q))
		assert.LessOrEqual(t, s.Uint256().BitLen(), 256)
	}
	assert.Len(t, s.Values(5), 5)
}

func TestParseHex(t *testing.T) {
	want := bytes.Repeat([]byte{0xAB}, Size)
	got, err := ParseHex("0x" + string(bytes.Repeat([]byte("ab"), Size)))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseHex("abcd")
	assert.ErrorIs(t, err, ErrSeedLength)
	_, err = ParseHex("zz")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	src, err := Open("os", "", "")
	require.NoError(t, err)
	assert.Equal(t, "os", src.Name())
	s, err := src.Seed(context.Background())
	require.NoError(t, err)
	assert.Len(t, s, Size)

	src, err = Open("tpm", "/dev/null", "")
	require.NoError(t, err)
	assert.Equal(t, "tpm", src.Name())

	fixed := string(bytes.Repeat([]byte("01"), Size))
	src, err = Open("tpm", "", fixed)
	require.NoError(t, err)
	s, err = src.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, Size), s)

	_, err = Open("dice", "", "")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestFixedSourceLength(t *testing.T) {
	_, err := FixedSource{Value: []byte{1}}.Seed(context.Background())
	assert.ErrorIs(t, err, ErrSeedLength)
}
