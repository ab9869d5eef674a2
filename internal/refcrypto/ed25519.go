package refcrypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

var (
	// fieldP is 2^255 - 19.
	fieldP = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

	// groupQ is 2^252 + 27742317777372353535851937790883648493.
	groupQ = func() *big.Int {
		c, _ := new(big.Int).SetString("27742317777372353535851937790883648493", 10)
		return c.Add(c, new(big.Int).Lsh(big.NewInt(1), 252))
	}()

	curveD = mustHex("52036cee2b6ffe738cc740797779e89800700a4d4141d8ab75eb4dca135978a3")
	baseX  = mustHex("216936d3cd6e53fec0a4e231fdd6dc5c692cc7609525a7b2c9562d608f25d51a")
	baseY  = mustHex("6666666666666666666666666666666666666666666666666666666666666658")
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("refcrypto: bad constant " + s)
	}
	return v
}

// GroupOrder returns q, the order of the Ed25519 base point.
func GroupOrder() *big.Int {
	return new(big.Int).Set(groupQ)
}

// Ed25519Key is an expanded Ed25519 key.
type Ed25519Key struct {
	// Scalar is the clamped secret scalar s (not reduced mod q).
	Scalar *big.Int
	// Prefix is the nonce-derivation prefix, upper half of SHA-512(seed),
	// read as a big-endian integer.
	Prefix *big.Int
	// Public is the 32-byte encoded point A = sB.
	Public []byte
}

// Ed25519SecretExpand returns the clamped scalar and the prefix of seed.
func Ed25519SecretExpand(seed []byte) (*big.Int, []byte, error) {
	if len(seed) != SeedSize {
		return nil, nil, ErrSeedSize
	}
	h := SHA512(seed)
	a := make([]byte, 32)
	copy(a, h[:32])
	a[0] &= 248
	a[31] &= 127
	a[31] |= 64
	return BytesIntLE(a), h[32:], nil
}

// Ed25519SecretToPublic returns the encoded public key of seed.
func Ed25519SecretToPublic(seed []byte) ([]byte, error) {
	if len(seed) != SeedSize {
		return nil, ErrSeedSize
	}
	h := SHA512(seed)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Point).ScalarBaseMult(s).Bytes(), nil
}

// Ed25519KeyGen expands seed into scalar, prefix and public key.
func Ed25519KeyGen(seed []byte) (Ed25519Key, error) {
	s, prefix, err := Ed25519SecretExpand(seed)
	if err != nil {
		return Ed25519Key{}, err
	}
	pub, err := Ed25519SecretToPublic(seed)
	if err != nil {
		return Ed25519Key{}, err
	}
	return Ed25519Key{Scalar: s, Prefix: BytesInt(prefix), Public: pub}, nil
}

// ScalarPublic returns the encoding of (s mod q)B.
func ScalarPublic(s *big.Int) ([]byte, error) {
	sc, err := scalarOf(s)
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Point).ScalarBaseMult(sc).Bytes(), nil
}

func scalarOf(v *big.Int) (*edwards25519.Scalar, error) {
	r := new(big.Int).Mod(v, groupQ)
	return edwards25519.NewScalar().SetCanonicalBytes(IntBytesLE(r, 32))
}

// Ed25519Nonce derives the per-signature nonce r from the masked-key
// prefix, the hash-construction salt sch, the salt counter scn, and the
// message: r = SHAKE256(prefix || sch || scn || msg) mod q.
func Ed25519Nonce(prefix *big.Int, sch, scn, msg []byte) (*edwards25519.Scalar, error) {
	if len(sch) != SaltCHSize || len(scn) != SaltCNSize {
		return nil, fmt.Errorf("%w: sch=%d scn=%d", ErrSaltLength, len(sch), len(scn))
	}
	sh := sha3.NewShake256()
	sh.Write(IntBytes(prefix, 32))
	sh.Write(sch)
	sh.Write(scn)
	sh.Write(msg)
	var wide [64]byte
	if _, err := sh.Read(wide[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(wide[:])
}

// Ed25519Sign signs msg with scalar s and public key pub. The nonce comes
// from Ed25519Nonce; the challenge is the standard SHA-512(R || A || M),
// so the result verifies as an ordinary Ed25519 signature under pub.
func Ed25519Sign(s, prefix *big.Int, pub, sch, scn, msg []byte) ([]byte, error) {
	return Ed25519SignTwoPass(s, prefix, pub, sch, scn, msg, msg)
}

// Ed25519SignTwoPass is Ed25519Sign with the nonce derived over nonceMsg
// and the challenge computed over msg. A device that hashes the message
// twice produces this when its two passes disagree.
func Ed25519SignTwoPass(s, prefix *big.Int, pub, sch, scn, nonceMsg, msg []byte) ([]byte, error) {
	if len(pub) != PublicSize {
		return nil, ErrPublicKey
	}
	r, err := Ed25519Nonce(prefix, sch, scn, nonceMsg)
	if err != nil {
		return nil, err
	}
	sc, err := scalarOf(s)
	if err != nil {
		return nil, err
	}

	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	h := sha512.New()
	h.Write(R)
	h.Write(pub)
	h.Write(msg)
	k, err := edwards25519.NewScalar().SetUniformBytes(h.Sum(nil))
	if err != nil {
		return nil, err
	}

	S := edwards25519.NewScalar().MultiplyAdd(k, sc, r)

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, R...)
	return append(sig, S.Bytes()...), nil
}

// Ed25519SignStandard signs msg with a plain RFC 8032 key derived from
// secret and returns the signature and public key.
func Ed25519SignStandard(secret, msg []byte) (sig, pub []byte, err error) {
	if len(secret) != SeedSize {
		return nil, nil, ErrSeedSize
	}
	priv := ed25519.NewKeyFromSeed(secret)
	return ed25519.Sign(priv, msg), priv.Public().(ed25519.PublicKey), nil
}

// Ed25519Verify reports whether sig is a valid signature of msg by pub.
func Ed25519Verify(pub, msg, sig []byte) bool {
	if len(pub) != PublicSize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Ed25519Constants returns the boot verifier's constant table: p, d, q,
// and the base point x and y, each as eight little-endian words, least
// significant word first.
func Ed25519Constants() []uint32 {
	var out []uint32
	for _, v := range []*big.Int{fieldP, curveD, groupQ, baseX, baseY} {
		out = append(out, words(v)...)
	}
	return out
}

func words(v *big.Int) []uint32 {
	le := IntBytesLE(v, 32)
	out := make([]uint32, 8)
	for i := range out {
		out[i] = uint32(le[4*i]) | uint32(le[4*i+1])<<8 | uint32(le[4*i+2])<<16 | uint32(le[4*i+3])<<24
	}
	return out
}
