// Package chunk splits variable-length inputs across successive DUT calls.
//
// Each operation family has its own block size and padding rule. The DUT
// reads fixed-size blocks on update calls, so an off-by-one here corrupts
// its hash state without any chance of recovery.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrPolicy is returned when a payload is planned under a policy that
// does not produce the requested plan shape.
var ErrPolicy = errors.New("chunk: policy does not apply")

// Policy selects a chunking rule.
type Policy int

const (
	// None means the operation carries no chunked payload.
	None Policy = iota
	// Hash is SHA-512 block chunking with explicit padding.
	Hash
	// NonceHash is the first hash pass of the signing protocol.
	NonceHash
	// SecondHash is the message re-hash behind a 64-byte pre-image prefix.
	SecondHash
)

func (p Policy) String() string {
	switch p {
	case None:
		return "none"
	case Hash:
		return "hash"
	case NonceHash:
		return "nonce_hash"
	case SecondHash:
		return "second_hash"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Block sizes.
const (
	HashBlock      = 128
	hashLengthSize = 16
	NonceBlock     = 144
	PrepBlock      = 64
	SecondBlock    = 128
)

// Plan is a chunked input: full blocks for update calls, then the block
// for the closing call.
type Plan struct {
	Updates [][]byte
	Final   []byte
}

// Join concatenates the plan's blocks.
func (p Plan) Join() []byte {
	out := []byte{}
	for _, b := range p.Updates {
		out = append(out, b...)
	}
	return append(out, p.Final...)
}

// Calls returns the number of DUT calls the plan needs.
func (p Plan) Calls() int {
	return len(p.Updates) + 1
}

// PadSHA512 appends SHA-512 padding: a single 0x80, zeros until the
// length is 112 mod 128, then the 16-byte big-endian bit length.
func PadSHA512(msg []byte) []byte {
	padded := make([]byte, 0, len(msg)+2*HashBlock)
	padded = append(padded, msg...)
	padded = append(padded, 0x80)
	for len(padded)%HashBlock != HashBlock-hashLengthSize {
		padded = append(padded, 0x00)
	}

	var length [hashLengthSize]byte
	bits := uint64(len(msg)) * 8
	binary.BigEndian.PutUint64(length[8:], bits)
	binary.BigEndian.PutUint64(length[:8], uint64(len(msg))>>61)
	return append(padded, length[:]...)
}

// HashBlocks pads msg and cuts it into 128-byte blocks. All blocks but
// the last go through update calls; the last goes through the final call.
func HashBlocks(msg []byte) Plan {
	padded := PadSHA512(msg)
	n := len(padded) / HashBlock

	p := Plan{Updates: make([][]byte, 0, n-1)}
	for i := 0; i < n-1; i++ {
		p.Updates = append(p.Updates, padded[i*HashBlock:(i+1)*HashBlock])
	}
	p.Final = padded[(n-1)*HashBlock:]
	return p
}

// NonceBlocks cuts msg into 144-byte update blocks. The remainder, which
// may be empty, is sent unpadded to the finish call.
func NonceBlocks(msg []byte) Plan {
	n := len(msg) / NonceBlock
	p := Plan{Updates: make([][]byte, 0, n)}
	for i := 0; i < n; i++ {
		p.Updates = append(p.Updates, msg[i*NonceBlock:(i+1)*NonceBlock])
	}
	p.Final = msg[n*NonceBlock:]
	return p
}

// SecondPlan is the chunked message of the second hash pass. Exactly one
// of AtOnce or Prep is set.
type SecondPlan struct {
	AtOnce  []byte
	Prep    []byte
	Updates [][]byte
	Finish  []byte
	Single  bool
}

// Join concatenates the plan's blocks.
func (p SecondPlan) Join() []byte {
	if p.Single {
		return append([]byte{}, p.AtOnce...)
	}
	out := append([]byte{}, p.Prep...)
	for _, b := range p.Updates {
		out = append(out, b...)
	}
	return append(out, p.Finish...)
}

// Calls returns the number of DUT calls the plan needs.
func (p SecondPlan) Calls() int {
	if p.Single {
		return 1
	}
	return len(p.Updates) + 2
}

// SecondHashBlocks plans the message re-hash. Messages shorter than 64
// bytes go in a single at-once call. Otherwise the first 64 bytes go to
// prep, full 128-byte blocks to update, and the 0..127 byte remainder
// to finish.
func SecondHashBlocks(msg []byte) SecondPlan {
	if len(msg) < PrepBlock {
		return SecondPlan{AtOnce: msg, Single: true}
	}

	rest := msg[PrepBlock:]
	n := len(rest) / SecondBlock
	p := SecondPlan{
		Prep:    msg[:PrepBlock],
		Updates: make([][]byte, 0, n),
	}
	for i := 0; i < n; i++ {
		p.Updates = append(p.Updates, rest[i*SecondBlock:(i+1)*SecondBlock])
	}
	p.Finish = rest[n*SecondBlock:]
	return p
}

// Blocks plans msg under p, which must be Hash or NonceHash.
func Blocks(p Policy, msg []byte) (Plan, error) {
	switch p {
	case Hash:
		return HashBlocks(msg), nil
	case NonceHash:
		return NonceBlocks(msg), nil
	default:
		return Plan{}, fmt.Errorf("%w: %s has no block plan", ErrPolicy, p)
	}
}

// SecondBlocks plans msg under p, which must be SecondHash.
func SecondBlocks(p Policy, msg []byte) (SecondPlan, error) {
	if p != SecondHash {
		return SecondPlan{}, fmt.Errorf("%w: %s has no second-hash plan", ErrPolicy, p)
	}
	return SecondHashBlocks(msg), nil
}

// BlockSize returns the size of p's update blocks, 0 for None.
func BlockSize(p Policy) int {
	switch p {
	case Hash:
		return HashBlock
	case NonceHash:
		return NonceBlock
	case SecondHash:
		return SecondBlock
	default:
		return 0
	}
}
