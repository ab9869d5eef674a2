package eddsa

import (
	"math/big"

	"spectverify/internal/keymem"
	"spectverify/internal/refcrypto"
	"spectverify/internal/status"
)

// Rand is the randomness a share split draws from.
type Rand interface {
	Below(n *big.Int) *big.Int
	Uint256() *big.Int
}

// ShareSet is a masked Ed25519 secret: (S1 + S2) mod q is the scalar and
// PrefixMasked XOR PrefixMask is the nonce prefix.
type ShareSet struct {
	S1           *big.Int
	S2           *big.Int
	PrefixMasked *big.Int
	PrefixMask   *big.Int
}

// Split masks scalar and prefix with fresh randomness.
func Split(scalar, prefix *big.Int, rng Rand) ShareSet {
	q := refcrypto.GroupOrder()
	s1 := rng.Below(q)
	s2 := new(big.Int).Sub(scalar, s1)
	s2.Mod(s2, q)
	mask := rng.Uint256()
	return ShareSet{
		S1:           s1,
		S2:           s2,
		PrefixMasked: new(big.Int).Xor(prefix, mask),
		PrefixMask:   mask,
	}
}

// Scalar reconstructs the secret scalar mod q.
func (s ShareSet) Scalar() *big.Int {
	v := new(big.Int).Add(s.S1, s.S2)
	return v.Mod(v, refcrypto.GroupOrder())
}

// Prefix reconstructs the nonce prefix.
func (s ShareSet) Prefix() *big.Int {
	return new(big.Int).Xor(s.PrefixMasked, s.PrefixMask)
}

// Write places the shares into the private half of pair.
func (s ShareSet) Write(im *keymem.Image, pair keymem.SlotPair) {
	im.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K1, s.S1)
	im.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K2, s.PrefixMasked)
	im.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K3, s.S2)
	im.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K4, s.PrefixMask)
}

// ReadShares extracts the masked shares of pair from a key-memory dump.
func ReadShares(d *keymem.Dump, pair keymem.SlotPair) ShareSet {
	return ShareSet{
		S1:           d.Key(keymem.KeyTypeECC, pair.Private, keymem.K1),
		PrefixMasked: d.Key(keymem.KeyTypeECC, pair.Private, keymem.K2),
		S2:           d.Key(keymem.KeyTypeECC, pair.Private, keymem.K3),
		PrefixMask:   d.Key(keymem.KeyTypeECC, pair.Private, keymem.K4),
	}
}

// CheckRerandomized verifies that after carries the same secret as
// before while every share and mask changed. Only inequality is checked;
// it says nothing about statistical independence.
func CheckRerandomized(step string, before, after ShareSet) error {
	if before.Scalar().Cmp(after.Scalar()) != 0 {
		return status.Invariant(step, "share_sum", after.Scalar(), before.Scalar())
	}
	if before.Prefix().Cmp(after.Prefix()) != 0 {
		return status.Invariant(step, "prefix_xor", after.Prefix(), before.Prefix())
	}

	changed := []struct {
		check         string
		before, after *big.Int
	}{
		{"s1_changed", before.S1, after.S1},
		{"s2_changed", before.S2, after.S2},
		{"prefix_masked_changed", before.PrefixMasked, after.PrefixMasked},
		{"prefix_mask_changed", before.PrefixMask, after.PrefixMask},
	}
	for _, c := range changed {
		if c.before.Cmp(c.after) == 0 {
			return status.Invariant(step, c.check, c.after, "any other value")
		}
	}
	return nil
}
