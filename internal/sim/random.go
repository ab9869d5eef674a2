package sim

import (
	"crypto/sha512"
	"encoding/binary"
	"math/big"
)

var mask256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// randomStream hands out the seeded 256-bit values in order, then
// continues with SHA-512(counter || last value) truncated to 256 bits.
type randomStream struct {
	values []*big.Int
	next   int
	last   [32]byte
	ctr    uint64
}

func newRandomStream(values []*big.Int) *randomStream {
	return &randomStream{values: values}
}

func (r *randomStream) uint256() *big.Int {
	if r.next < len(r.values) {
		v := new(big.Int).And(r.values[r.next], mask256)
		r.next++
		v.FillBytes(r.last[:])
		return v
	}

	var buf [40]byte
	binary.BigEndian.PutUint64(buf[:8], r.ctr)
	copy(buf[8:], r.last[:])
	r.ctr++
	h := sha512.Sum512(buf[:])
	copy(r.last[:], h[:32])
	return new(big.Int).SetBytes(r.last[:])
}

// below returns a value in [0, n).
func (r *randomStream) below(n *big.Int) *big.Int {
	return new(big.Int).Mod(r.uint256(), n)
}
