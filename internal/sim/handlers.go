package sim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"spectverify/internal/chunk"
	"spectverify/internal/keymem"
	"spectverify/internal/ops"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

type family int

const (
	familyHash family = iota
	familyEdDSA
)

type stage int

const (
	stageContext stage = iota
	stageNonce
	stageNonceDone
	stageR
	stageE
	stageEDone
)

// chain is the firmware state behind one continuation token.
type chain struct {
	family family
	blocks []byte

	stage    stage
	s        *big.Int
	prefix   *big.Int
	pub      []byte
	sch      []byte
	scn      []byte
	nonceMsg []byte
	eMsg     []byte
}

type keyField struct {
	slot, off int
	v         *big.Int
}

func selectorSlot(w uint32) int {
	return int(w >> 8 & 0xFF)
}

func (d *Device) keyGenStore(c *call) (reply, error) {
	w := c.word(c.in)
	slot := selectorSlot(w)
	curve := keymem.Curve(w >> 24)
	pair, err := keymem.LogicalPair(slot)
	if err != nil {
		return reply{}, fmt.Errorf("%w: %v", ErrAddress, err)
	}
	if !curve.Valid() {
		return c.reject(status.InvalidCurve), nil
	}

	var seed []byte
	origin := keymem.OriginStored
	if c.desc.Kind == ops.ECCKeyGen {
		seed = refcrypto.IntBytesLE(d.rng.uint256(), refcrypto.SeedSize)
		origin = keymem.OriginGenerated
	} else {
		seed = c.read(c.in+region.KeyInput, refcrypto.SeedSize)
	}

	kt := keymem.KeyTypeECC
	var fields []keyField
	add := func(slot, off int, v *big.Int) {
		fields = append(fields, keyField{slot, off, v})
	}

	switch curve {
	case keymem.CurveEd25519:
		key, err := refcrypto.Ed25519KeyGen(seed)
		if err != nil {
			return reply{}, err
		}
		add(pair.Private, keymem.K1, key.Scalar)
		add(pair.Private, keymem.K2, key.Prefix)
		add(pair.Private, keymem.K3, new(big.Int).Mod(key.Scalar, refcrypto.GroupOrder()))
		add(pair.Public, keymem.X, refcrypto.BytesInt(key.Public))
	case keymem.CurveP256:
		key, err := refcrypto.P256KeyGen(seed)
		if err != nil {
			return reply{}, err
		}
		add(pair.Private, keymem.K1, key.D)
		add(pair.Private, keymem.K2, refcrypto.BytesInt(key.W))
		add(pair.Public, keymem.X, key.Ax)
		add(pair.Public, keymem.Y, key.Ay)
	}

	for _, f := range fields {
		if err := c.keys.SetKey(kt, f.slot, f.off, f.v); err != nil {
			return reply{}, err
		}
	}
	md := keymem.Metadata{Curve: curve, Origin: origin}
	if err := c.keys.SetWord(kt, pair.Public, keymem.MetadataOffset, md.Word()); err != nil {
		return reply{}, err
	}

	c.marker(status.MarkerSuccess)
	return reply{size: 1}, nil
}

func (d *Device) keyErase(c *call) (reply, error) {
	slot := selectorSlot(c.word(c.in))
	pair, err := keymem.LogicalPair(slot)
	if err != nil {
		return reply{}, fmt.Errorf("%w: %v", ErrAddress, err)
	}
	for _, s := range []int{pair.Private, pair.Public} {
		if err := c.keys.Erase(keymem.KeyTypeECC, s); err != nil {
			return reply{}, err
		}
	}
	c.marker(status.MarkerSuccess)
	return reply{size: 1}, nil
}

func (d *Device) hashStep(c *call, prev *chain) (reply, error) {
	if prev.family != familyHash {
		return reply{}, fmt.Errorf("%w: %s on signing context", ErrSequence, c.desc.Name)
	}
	next := &chain{family: familyHash, blocks: append(prev.blocks, c.read(c.in+region.HashInput, chunk.HashBlock)...)}
	if c.desc.Kind == ops.SHA512Update {
		return reply{context: next}, nil
	}

	c.marker(status.MarkerSuccess)
	c.emit(c.out+region.Payload, paddedDigest(next.blocks))
	return reply{size: 16 + refcrypto.DigestSize}, nil
}

// paddedDigest hashes a padded stream. A stream whose padding does not
// match its own length suffix hashes as-is, so it never equals the digest
// of any message padded correctly.
func paddedDigest(padded []byte) []byte {
	n := len(padded)
	if n >= chunk.HashBlock && n%chunk.HashBlock == 0 && binary.BigEndian.Uint64(padded[n-16:]) == 0 {
		bits := binary.BigEndian.Uint64(padded[n-8:])
		if bits%8 == 0 && bits/8 < uint64(n) {
			msg := padded[:bits/8]
			if bytes.Equal(chunk.PadSHA512(msg), padded) {
				return refcrypto.SHA512(msg)
			}
		}
	}
	return refcrypto.SHA512(padded)
}

func (d *Device) setContext(c *call) (reply, error) {
	slot := selectorSlot(c.word(c.in))
	pair, err := keymem.LogicalPair(slot)
	if err != nil {
		return reply{}, fmt.Errorf("%w: %v", ErrAddress, err)
	}
	kt := keymem.KeyTypeECC

	if !c.keys.Present(kt, pair.Private) || !c.keys.Present(kt, pair.Public) {
		return c.reject(status.SlotEmpty), nil
	}
	if c.keys.Metadata(pair).Curve != keymem.CurveEd25519 {
		return c.reject(status.InvalidCurve), nil
	}

	q := refcrypto.GroupOrder()
	s1 := c.keys.Key(kt, pair.Private, keymem.K1)
	prefixMasked := c.keys.Key(kt, pair.Private, keymem.K2)
	s2 := c.keys.Key(kt, pair.Private, keymem.K3)
	prefixMask := c.keys.Key(kt, pair.Private, keymem.K4)

	s := new(big.Int).Add(s1, s2)
	s.Mod(s, q)
	prefix := new(big.Int).Xor(prefixMasked, prefixMask)

	if d.opts.Rerandomize {
		r := d.rng.below(q)
		for r.Sign() == 0 {
			r = d.rng.below(q)
		}
		m := d.rng.uint256()
		for m.Sign() == 0 {
			m = d.rng.uint256()
		}

		s1 = new(big.Int).Add(s1, r)
		s1.Mod(s1, q)
		s2 = new(big.Int).Sub(s2, r)
		s2.Mod(s2, q)
		prefixMasked = new(big.Int).Xor(prefixMasked, m)
		prefixMask = new(big.Int).Xor(prefixMask, m)

		for off, v := range map[int]*big.Int{keymem.K1: s1, keymem.K2: prefixMasked, keymem.K3: s2, keymem.K4: prefixMask} {
			if err := c.keys.SetKey(kt, pair.Private, off, v); err != nil {
				return reply{}, err
			}
		}
		d.logger.Debug("sim remasked shares", "slot", slot)
	}

	return reply{context: &chain{
		family: familyEdDSA,
		stage:  stageContext,
		s:      s,
		prefix: prefix,
		pub:    refcrypto.IntBytes(c.keys.Key(kt, pair.Public, keymem.X), refcrypto.PublicSize),
		sch:    c.read(region.SaltCH, refcrypto.SaltCHSize),
		scn:    c.read(region.SaltCN, refcrypto.SaltCNSize),
	}}, nil
}

func (d *Device) signStep(c *call, prev *chain) (reply, error) {
	if prev.family != familyEdDSA {
		return reply{}, fmt.Errorf("%w: %s on hash context", ErrSequence, c.desc.Name)
	}
	if c.Len < 0 || c.Len > region.Size {
		return reply{}, fmt.Errorf("%w: payload of %d bytes", ErrAddress, c.Len)
	}

	next := *prev
	need := func(want stage) error {
		if prev.stage != want {
			return fmt.Errorf("%w: %s in stage %d", ErrSequence, c.desc.Name, prev.stage)
		}
		return nil
	}

	var err error
	switch c.desc.Kind {
	case ops.EdDSANonceInit:
		err = need(stageContext)
		next.stage = stageNonce
	case ops.EdDSANonceUpdate:
		err = need(stageNonce)
		next.nonceMsg = append(prev.nonceMsg, c.read(c.in, chunk.NonceBlock)...)
	case ops.EdDSANonceFinish:
		err = need(stageNonce)
		next.nonceMsg = append(prev.nonceMsg, c.read(c.in, c.Len)...)
		next.stage = stageNonceDone
	case ops.EdDSARPart:
		err = need(stageNonceDone)
		next.stage = stageR
	case ops.EdDSAEAtOnce:
		err = need(stageR)
		next.eMsg = c.read(c.in, c.Len)
		next.stage = stageEDone
	case ops.EdDSAEPrep:
		err = need(stageR)
		next.eMsg = c.read(c.in, chunk.PrepBlock)
		next.stage = stageE
	case ops.EdDSAEUpdate:
		err = need(stageE)
		next.eMsg = append(prev.eMsg, c.read(c.in, chunk.SecondBlock)...)
	case ops.EdDSAEFinish:
		err = need(stageE)
		next.eMsg = append(prev.eMsg, c.read(c.in, c.Len)...)
		next.stage = stageEDone
	case ops.EdDSAFinish:
		if err := need(stageEDone); err != nil {
			return reply{}, err
		}
		sig, err := refcrypto.Ed25519SignTwoPass(prev.s, prev.prefix, prev.pub, prev.sch, prev.scn, prev.nonceMsg, prev.eMsg)
		if err != nil {
			return reply{}, err
		}
		c.marker(status.MarkerSuccess)
		c.emit(c.out+region.Payload, sig)
		return reply{size: 16 + refcrypto.SignatureSize}, nil
	default:
		return reply{}, fmt.Errorf("%w: %s", ErrUnknownOp, c.desc.Name)
	}
	if err != nil {
		return reply{}, err
	}
	return reply{context: &next}, nil
}

func (d *Device) verify(c *call) (reply, error) {
	sig := c.read(c.in+region.VerifySignature, refcrypto.SignatureSize)
	pub := c.read(c.in+region.VerifyPublic, refcrypto.PublicSize)
	digest := c.read(c.in+region.VerifyDigest, refcrypto.DigestSize)

	constantsOK := true
	for i, w := range refcrypto.Ed25519Constants() {
		if c.word(c.in+region.VerifyConstants+uint32(4*i)) != w {
			constantsOK = false
			break
		}
	}

	result := byte(1)
	if constantsOK && refcrypto.Ed25519Verify(pub, digest, sig) {
		result = 0
	}
	c.mem[c.out] = result
	return reply{size: 1}, nil
}
