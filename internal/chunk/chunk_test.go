package chunk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(n int) []byte {
	m := make([]byte, n)
	for i := range m {
		m[i] = byte(i*7 + 3)
	}
	return m
}

func TestPadSHA512(t *testing.T) {
	lengths := []int{0, 1, 63, 111, 112, 113, 127, 128, 129, 239, 240, 256, 640}
	for _, n := range lengths {
		msg := message(n)
		padded := PadSHA512(msg)

		require.Zero(t, len(padded)%HashBlock, "len=%d", n)
		assert.True(t, bytes.HasPrefix(padded, msg))
		assert.Equal(t, byte(0x80), padded[n])

		suffix := padded[len(padded)-16:]
		assert.Equal(t, uint64(0), binary.BigEndian.Uint64(suffix[:8]))
		assert.Equal(t, uint64(n)*8, binary.BigEndian.Uint64(suffix[8:]))

		for _, b := range padded[n+1 : len(padded)-16] {
			if b != 0 {
				t.Fatalf("len=%d: non-zero padding byte", n)
			}
		}
	}
}

func TestPadSHA512SpillsIntoExtraBlock(t *testing.T) {
	// 112 bytes leave no room for 0x80 plus the length suffix.
	assert.Len(t, PadSHA512(message(111)), 128)
	assert.Len(t, PadSHA512(message(112)), 256)
}

func TestHashBlocks(t *testing.T) {
	for _, n := range []int{0, 100, 128, 300, 640} {
		msg := message(n)
		p := HashBlocks(msg)

		assert.Len(t, p.Final, HashBlock)
		for _, b := range p.Updates {
			assert.Len(t, b, HashBlock)
		}
		assert.Equal(t, PadSHA512(msg), p.Join())
		assert.Equal(t, len(PadSHA512(msg))/HashBlock, p.Calls())
	}
}

func TestNonceBlocks(t *testing.T) {
	tests := []struct {
		n       int
		updates int
		final   int
	}{
		{0, 0, 0},
		{143, 0, 143},
		{144, 1, 0},
		{145, 1, 1},
		{300, 2, 12},
		{288, 2, 0},
	}

	for _, test := range tests {
		msg := message(test.n)
		p := NonceBlocks(msg)
		assert.Len(t, p.Updates, test.updates, "n=%d", test.n)
		assert.Len(t, p.Final, test.final, "n=%d", test.n)
		for _, b := range p.Updates {
			assert.Len(t, b, NonceBlock)
		}
		assert.Equal(t, msg, p.Join())
	}
}

func TestSecondHashBlocks(t *testing.T) {
	tests := []struct {
		n       int
		single  bool
		updates int
		finish  int
	}{
		{0, true, 0, 0},
		{1, true, 0, 0},
		{63, true, 0, 0},
		{64, false, 0, 0},
		{65, false, 0, 1},
		{191, false, 0, 127},
		{192, false, 1, 0},
		{300, false, 1, 108},
	}

	for _, test := range tests {
		msg := message(test.n)
		p := SecondHashBlocks(msg)
		assert.Equal(t, test.single, p.Single, "n=%d", test.n)
		if test.single {
			assert.Equal(t, msg, p.AtOnce)
			assert.Equal(t, msg, p.Join())
			assert.Equal(t, 1, p.Calls())
			continue
		}
		assert.Len(t, p.Prep, PrepBlock)
		assert.Len(t, p.Updates, test.updates, "n=%d", test.n)
		assert.Len(t, p.Finish, test.finish, "n=%d", test.n)
		assert.Equal(t, msg, p.Join())
		assert.Equal(t, test.updates+2, p.Calls())
	}
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "nonce_hash", NonceHash.String())
	assert.Equal(t, "Policy(9)", Policy(9).String())
}

func TestPlanByPolicy(t *testing.T) {
	msg := message(300)

	p, err := Blocks(Hash, msg)
	require.NoError(t, err)
	assert.Equal(t, HashBlocks(msg), p)
	p, err = Blocks(NonceHash, msg)
	require.NoError(t, err)
	assert.Equal(t, NonceBlocks(msg), p)
	sp, err := SecondBlocks(SecondHash, msg)
	require.NoError(t, err)
	assert.Equal(t, SecondHashBlocks(msg), sp)

	for _, bad := range []Policy{None, SecondHash, Policy(9)} {
		_, err := Blocks(bad, msg)
		assert.ErrorIs(t, err, ErrPolicy, "%s", bad)
	}
	for _, bad := range []Policy{None, Hash, NonceHash} {
		_, err := SecondBlocks(bad, msg)
		assert.ErrorIs(t, err, ErrPolicy, "%s", bad)
	}

	assert.Equal(t, HashBlock, BlockSize(Hash))
	assert.Equal(t, NonceBlock, BlockSize(NonceHash))
	assert.Equal(t, SecondBlock, BlockSize(SecondHash))
	assert.Zero(t, BlockSize(None))
}
