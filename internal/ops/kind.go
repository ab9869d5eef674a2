// Package ops holds the DUT operation descriptor table.
//
// The set of operations the harness drives is closed: Kind enumerates
// them and carries each operation's chain role, chunking policy and
// successful result shape. The numeric opcodes come from a YAML table
// that is loaded and validated once per session and is read-only
// afterwards.
package ops

import (
	"fmt"

	"spectverify/internal/chunk"
	"spectverify/internal/status"
)

// Kind is one DUT operation.
type Kind int

const (
	SHA512Init Kind = iota + 1
	SHA512Update
	SHA512Final
	ECCKeyGen
	ECCKeyStore
	ECCKeyErase
	EdDSASetContext
	EdDSANonceInit
	EdDSANonceUpdate
	EdDSANonceFinish
	EdDSARPart
	EdDSAEAtOnce
	EdDSAEPrep
	EdDSAEUpdate
	EdDSAEFinish
	EdDSAFinish
	EdDSAVerify

	kindEnd
)

// Role is the position of an operation in a continuation chain.
type Role int

const (
	// Standalone operations neither consume nor produce a context.
	Standalone Role = iota
	// Start opens a chain and yields the first context.
	Start
	// Continue consumes a context and yields the next one.
	Continue
	// Final consumes a context and yields the final output.
	Final
)

func (r Role) String() string {
	switch r {
	case Standalone:
		return "standalone"
	case Start:
		return "start"
	case Continue:
		return "continue"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

type kindInfo struct {
	name   string
	role   Role
	policy chunk.Policy
	expect status.Expect
}

var kinds = map[Kind]kindInfo{
	SHA512Init:       {"sha512_init", Start, chunk.None, status.Success(0, status.MarkerNone)},
	SHA512Update:     {"sha512_update", Continue, chunk.Hash, status.Success(0, status.MarkerNone)},
	SHA512Final:      {"sha512_final", Final, chunk.Hash, status.Success(80, status.MarkerSuccess)},
	ECCKeyGen:        {"ecc_key_gen", Standalone, chunk.None, status.Success(1, status.MarkerSuccess)},
	ECCKeyStore:      {"ecc_key_store", Standalone, chunk.None, status.Success(1, status.MarkerSuccess)},
	ECCKeyErase:      {"ecc_key_erase", Standalone, chunk.None, status.Success(1, status.MarkerSuccess)},
	EdDSASetContext:  {"eddsa_set_context", Start, chunk.None, status.Success(0, status.MarkerNone)},
	EdDSANonceInit:   {"eddsa_nonce_init", Continue, chunk.None, status.Success(0, status.MarkerNone)},
	EdDSANonceUpdate: {"eddsa_nonce_update", Continue, chunk.NonceHash, status.Success(0, status.MarkerNone)},
	EdDSANonceFinish: {"eddsa_nonce_finish", Continue, chunk.NonceHash, status.Success(0, status.MarkerNone)},
	EdDSARPart:       {"eddsa_R_part", Continue, chunk.None, status.Success(0, status.MarkerNone)},
	EdDSAEAtOnce:     {"eddsa_e_at_once", Continue, chunk.SecondHash, status.Success(0, status.MarkerNone)},
	EdDSAEPrep:       {"eddsa_e_prep", Continue, chunk.SecondHash, status.Success(0, status.MarkerNone)},
	EdDSAEUpdate:     {"eddsa_e_update", Continue, chunk.SecondHash, status.Success(0, status.MarkerNone)},
	EdDSAEFinish:     {"eddsa_e_finish", Continue, chunk.SecondHash, status.Success(0, status.MarkerNone)},
	EdDSAFinish:      {"eddsa_finish", Final, chunk.None, status.Success(80, status.MarkerSuccess)},
	EdDSAVerify:      {"eddsa_verify", Standalone, chunk.None, status.Success(1, status.MarkerNone)},
}

// Kinds returns every operation kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := SHA512Init; k < kindEnd; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind resolves a canonical operation name.
func ParseKind(name string) (Kind, bool) {
	for k, info := range kinds {
		if info.name == name {
			return k, true
		}
	}
	return 0, false
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Role returns the chain role of k.
func (k Kind) Role() Role {
	return kinds[k].role
}

// Policy returns the chunking policy of k's payload.
func (k Kind) Policy() chunk.Policy {
	return kinds[k].policy
}

// Expect returns the result shape of a successful k call.
func (k Kind) Expect() status.Expect {
	return kinds[k].expect
}
