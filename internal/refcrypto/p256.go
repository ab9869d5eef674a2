package refcrypto

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"math/big"
)

// P256Key is a derived P-256 key.
type P256Key struct {
	D  *big.Int
	W  []byte
	Ax *big.Int
	Ay *big.Int
}

// P256KeyGen derives a P-256 key from a 32-byte seed: h = SHA-512(seed),
// d = (h[:32] mod (n-1)) + 1, w = h[32:], A = dG.
func P256KeyGen(seed []byte) (P256Key, error) {
	if len(seed) != SeedSize {
		return P256Key{}, ErrSeedSize
	}
	h := SHA512(seed)

	nm1 := new(big.Int).Sub(elliptic.P256().Params().N, big.NewInt(1))
	d := new(big.Int).Mod(BytesInt(h[:32]), nm1)
	d.Add(d, big.NewInt(1))

	priv, err := ecdh.P256().NewPrivateKey(IntBytes(d, 32))
	if err != nil {
		return P256Key{}, err
	}
	pub := priv.PublicKey().Bytes()

	return P256Key{
		D:  d,
		W:  h[32:],
		Ax: BytesInt(pub[1:33]),
		Ay: BytesInt(pub[33:65]),
	}, nil
}
