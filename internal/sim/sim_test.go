package sim

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectverify/internal/chunk"
	"spectverify/internal/dut"
	"spectverify/internal/keymem"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

type harness struct {
	t     *testing.T
	dev   *Device
	table *ops.Table
}

func newHarness(t *testing.T, rerandomize bool) *harness {
	t.Helper()
	table := ops.MustDefault()
	dev, err := New(Options{Rerandomize: rerandomize, Table: table, Logger: logging.Discard().Logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return &harness{t: t, dev: dev, table: table}
}

func (h *harness) call(k ops.Kind, cmd *dut.Command, n int, token []byte) (*dut.Result, error) {
	d := h.table.Get(k)
	return h.dev.Invoke(context.Background(), cmd, dut.Call{
		Opcode:  d.Opcode,
		In:      region.CmdBuffer,
		Out:     region.ResBuffer,
		Len:     n,
		Context: token,
	})
}

func (h *harness) must(k ops.Kind, cmd *dut.Command, n int, token []byte) *dut.Result {
	h.t.Helper()
	res, err := h.call(k, cmd, n, token)
	require.NoError(h.t, err, k.String())
	return res
}

var inBase = region.Address(region.CmdBuffer)

// storeEd25519 places a masked Ed25519 key into slot pair n of cmd.
func storeEd25519(cmd *dut.Command, n int, key refcrypto.Ed25519Key) {
	q := refcrypto.GroupOrder()
	s1 := big.NewInt(12345)
	s2 := new(big.Int).Sub(key.Scalar, s1)
	s2.Mod(s2, q)
	mask := new(big.Int).SetBytes(bytes.Repeat([]byte{0x5C}, 32))
	pair := keymem.NewSlotPair(n)

	cmd.Keys.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K1, s1)
	cmd.Keys.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K2, new(big.Int).Xor(key.Prefix, mask))
	cmd.Keys.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K3, s2)
	cmd.Keys.SetKey(keymem.KeyTypeECC, pair.Private, keymem.K4, mask)
	cmd.Keys.SetMetadata(pair, keymem.CurveEd25519, keymem.OriginStored, keymem.CorruptNone)
	cmd.Keys.SetKey(keymem.KeyTypeECC, pair.Public, keymem.X, refcrypto.BytesInt(key.Public))
}

func contextCommand(slot int, sch, scn []byte) *dut.Command {
	cmd := dut.NewCommand()
	cmd.WriteWord(inBase, ops.Selector(0xA0, uint16(slot), 0))
	cmd.WriteBytes(region.SaltCH, sch)
	cmd.WriteBytes(region.SaltCN, scn)
	return cmd
}

func block(b []byte) *dut.Command {
	cmd := dut.NewCommand()
	cmd.WriteBytes(inBase, b)
	return cmd
}

// sign drives the full signing chain. nonceBlock and eBlock choose the
// block sizes, so a caller can mis-chunk on purpose.
func (h *harness) sign(n int, key refcrypto.Ed25519Key, sch, scn, msg []byte, nonceBlock, eBlock int) []byte {
	h.t.Helper()
	cmd := contextCommand(n, sch, scn)
	storeEd25519(cmd, n, key)
	res := h.must(ops.EdDSASetContext, cmd, 36, nil)
	tok := res.Context

	tok = h.must(ops.EdDSANonceInit, nil, 36, tok).Context
	rest := msg
	for len(rest) >= nonceBlock {
		tok = h.must(ops.EdDSANonceUpdate, block(rest[:nonceBlock]), 144, tok).Context
		rest = rest[nonceBlock:]
	}
	tok = h.must(ops.EdDSANonceFinish, block(rest), len(rest), tok).Context
	tok = h.must(ops.EdDSARPart, nil, 0, tok).Context

	if len(msg) < 64 {
		tok = h.must(ops.EdDSAEAtOnce, block(msg), len(msg), tok).Context
	} else {
		tok = h.must(ops.EdDSAEPrep, block(msg[:64]), 64, tok).Context
		rest = msg[64:]
		for len(rest) >= eBlock {
			tok = h.must(ops.EdDSAEUpdate, block(rest[:eBlock]), 128, tok).Context
			rest = rest[eBlock:]
		}
		tok = h.must(ops.EdDSAEFinish, block(rest), len(rest), tok).Context
	}

	res = h.must(ops.EdDSAFinish, nil, 0, tok)
	require.NoError(h.t, status.Success(80, status.MarkerSuccess).Verify("finish", res.Header, res.Marker()))
	assert.Nil(h.t, res.Context)
	sig, err := res.ReadBytes(res.OutBase+region.Payload, refcrypto.SignatureSize)
	require.NoError(h.t, err)
	return sig
}

func testKey(t *testing.T) refcrypto.Ed25519Key {
	key, err := refcrypto.Ed25519KeyGen(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return key
}

func TestSignMatchesReference(t *testing.T) {
	h := newHarness(t, false)
	key := testKey(t)
	sch := bytes.Repeat([]byte{0xA5}, 32)
	scn := []byte{7, 0, 0, 0}

	for _, n := range []int{0, 10, 64, 143, 144, 300} {
		msg := bytes.Repeat([]byte{byte(n + 1)}, n)
		got := h.sign(3, key, sch, scn, msg, chunk.NonceBlock, chunk.SecondBlock)
		want, err := refcrypto.Ed25519Sign(key.Scalar, key.Prefix, key.Public, sch, scn, msg)
		require.NoError(t, err)
		assert.Equal(t, want, got, "len %d", n)
		assert.True(t, refcrypto.Ed25519Verify(key.Public, msg, got))
	}
}

func TestMisChunkedSignatureDiffers(t *testing.T) {
	h := newHarness(t, false)
	key := testKey(t)
	sch, scn := make([]byte, 32), make([]byte, 4)
	msg := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 100)

	want, err := refcrypto.Ed25519Sign(key.Scalar, key.Prefix, key.Public, sch, scn, msg)
	require.NoError(t, err)

	got := h.sign(0, key, sch, scn, msg, chunk.NonceBlock-1, chunk.SecondBlock)
	assert.NotEqual(t, want, got)
}

func TestSetContextRejections(t *testing.T) {
	h := newHarness(t, false)

	res := h.must(ops.EdDSASetContext, contextCommand(5, nil, nil), 36, nil)
	assert.Equal(t, status.SlotEmpty, res.Header.Status)
	assert.Nil(t, res.Context)
	assert.NoError(t, status.Rejection(status.SlotEmpty).Verify("ctx", res.Header, res.Marker()))

	cmd := contextCommand(5, nil, nil)
	storeEd25519(cmd, 5, testKey(t))
	cmd.Keys.SetMetadata(keymem.NewSlotPair(5), keymem.CurveEd25519, keymem.OriginStored, keymem.CorruptCurve)
	res = h.must(ops.EdDSASetContext, cmd, 36, nil)
	assert.Equal(t, status.InvalidCurve, res.Header.Status)
	assert.Nil(t, res.Context)
}

func TestRerandomizePreservesSecret(t *testing.T) {
	h := newHarness(t, true)
	key := testKey(t)
	cmd := contextCommand(2, make([]byte, 32), make([]byte, 4))
	storeEd25519(cmd, 2, key)
	before, err := cmd.Keys.Dump()
	require.NoError(t, err)

	res := h.must(ops.EdDSASetContext, cmd, 36, nil)
	require.NotNil(t, res.Context)
	after, err := res.Keys()
	require.NoError(t, err)

	q := refcrypto.GroupOrder()
	priv := keymem.NewSlotPair(2).Private
	kt := keymem.KeyTypeECC
	sum := func(d *keymem.Dump) *big.Int {
		s := new(big.Int).Add(d.Key(kt, priv, keymem.K1), d.Key(kt, priv, keymem.K3))
		return s.Mod(s, q)
	}
	xor := func(d *keymem.Dump) *big.Int {
		return new(big.Int).Xor(d.Key(kt, priv, keymem.K2), d.Key(kt, priv, keymem.K4))
	}

	assert.Equal(t, 0, sum(before).Cmp(sum(after)))
	assert.Equal(t, 0, xor(before).Cmp(xor(after)))
	for _, off := range []int{keymem.K1, keymem.K2, keymem.K3, keymem.K4} {
		assert.NotEqual(t, 0, before.Key(kt, priv, off).Cmp(after.Key(kt, priv, off)), "offset %d", off)
	}
}

func TestContextIsSingleUse(t *testing.T) {
	h := newHarness(t, false)
	res := h.must(ops.SHA512Init, nil, 0, nil)
	tok := res.Context
	require.NotNil(t, tok)

	_ = h.must(ops.SHA512Update, block(make([]byte, 128)), 0, tok)
	_, err := h.call(ops.SHA512Update, nil, 0, tok)
	assert.ErrorIs(t, err, ErrStaleContext)

	_, err = h.call(ops.SHA512Update, nil, 0, []byte{1, 2})
	assert.ErrorIs(t, err, ErrStaleContext)
}

func TestOutOfSequence(t *testing.T) {
	h := newHarness(t, false)
	cmd := contextCommand(1, nil, nil)
	storeEd25519(cmd, 1, testKey(t))
	tok := h.must(ops.EdDSASetContext, cmd, 36, nil).Context

	_, err := h.call(ops.EdDSARPart, nil, 0, tok)
	assert.ErrorIs(t, err, ErrSequence)

	hashTok := h.must(ops.SHA512Init, nil, 0, nil).Context
	_, err = h.call(ops.EdDSANonceInit, nil, 36, hashTok)
	assert.ErrorIs(t, err, ErrSequence)
}

func hashCommand(b []byte) *dut.Command {
	cmd := dut.NewCommand()
	cmd.WriteBytes(inBase+region.HashInput, b)
	return cmd
}

func (h *harness) digest(padded []byte) []byte {
	h.t.Helper()
	tok := h.must(ops.SHA512Init, nil, 0, nil).Context
	for len(padded) > chunk.HashBlock {
		tok = h.must(ops.SHA512Update, hashCommand(padded[:chunk.HashBlock]), 0, tok).Context
		padded = padded[chunk.HashBlock:]
	}
	res := h.must(ops.SHA512Final, hashCommand(padded), 0, tok)
	require.NoError(h.t, ops.SHA512Final.Expect().Verify("final", res.Header, res.Marker()))
	out, err := res.ReadBytes(res.OutBase+region.Payload, refcrypto.DigestSize)
	require.NoError(h.t, err)
	return out
}

func TestHashChain(t *testing.T) {
	h := newHarness(t, false)
	for _, n := range []int{0, 111, 112, 300} {
		msg := bytes.Repeat([]byte{0x3C}, n)
		assert.Equal(t, refcrypto.SHA512(msg), h.digest(chunk.PadSHA512(msg)), "len %d", n)
	}

	msg := []byte("image")
	padded := chunk.PadSHA512(append(append([]byte(nil), msg...), 0xAA))
	assert.NotEqual(t, refcrypto.SHA512(msg), h.digest(padded))

	bad := chunk.PadSHA512(msg)
	bad[len(bad)-1] ^= 0x08
	assert.NotEqual(t, refcrypto.SHA512(msg), h.digest(bad))
}

func TestKeyGenStoreErase(t *testing.T) {
	h := newHarness(t, false)
	gen := h.table.Get(ops.ECCKeyGen)

	cmd := dut.NewCommand()
	cmd.WriteWord(inBase, gen.Selector(4, uint8(keymem.CurveEd25519)))
	require.NoError(t, h.dev.SeedRandom([]*big.Int{big.NewInt(99)}))
	res := h.must(ops.ECCKeyGen, cmd, 3, nil)
	require.NoError(t, ops.ECCKeyGen.Expect().Verify("gen", res.Header, res.Marker()))

	keys, err := res.Keys()
	require.NoError(t, err)
	pair := keymem.NewSlotPair(4)
	seed := refcrypto.IntBytesLE(big.NewInt(99), 32)
	want, err := refcrypto.Ed25519KeyGen(seed)
	require.NoError(t, err)
	assert.Equal(t, 0, want.Scalar.Cmp(keys.Key(keymem.KeyTypeECC, pair.Private, keymem.K1)))
	assert.Equal(t, 0, refcrypto.BytesInt(want.Public).Cmp(keys.Key(keymem.KeyTypeECC, pair.Public, keymem.X)))
	assert.Equal(t, keymem.Metadata{Curve: keymem.CurveEd25519, Origin: keymem.OriginGenerated}, keys.Metadata(pair))

	store := h.table.Get(ops.ECCKeyStore)
	cmd = dut.NewCommand()
	cmd.WriteWord(inBase, store.Selector(9, uint8(keymem.CurveP256)))
	cmd.WriteBytes(inBase+region.KeyInput, bytes.Repeat([]byte{0x17}, 32))
	res = h.must(ops.ECCKeyStore, cmd, 3, nil)
	keys, err = res.Keys()
	require.NoError(t, err)
	p256, err := refcrypto.P256KeyGen(bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)
	pair = keymem.NewSlotPair(9)
	assert.Equal(t, 0, p256.D.Cmp(keys.Key(keymem.KeyTypeECC, pair.Private, keymem.K1)))
	assert.Equal(t, 0, p256.Ay.Cmp(keys.Key(keymem.KeyTypeECC, pair.Public, keymem.Y)))

	cmd = dut.NewCommand()
	cmd.WriteWord(inBase, store.Selector(9, 0x7F))
	res = h.must(ops.ECCKeyStore, cmd, 3, nil)
	assert.Equal(t, status.InvalidCurve, res.Header.Status)

	erase := h.table.Get(ops.ECCKeyErase)
	cmd = dut.NewCommand()
	storeEd25519(cmd, 6, testKey(t))
	cmd.WriteWord(inBase, erase.Selector(6, 0))
	res = h.must(ops.ECCKeyErase, cmd, 2, nil)
	keys, err = res.Keys()
	require.NoError(t, err)
	assert.False(t, keys.Present(keymem.KeyTypeECC, keymem.NewSlotPair(6).Private))
	assert.False(t, keys.Present(keymem.KeyTypeECC, keymem.NewSlotPair(6).Public))
}

func TestVerify(t *testing.T) {
	h := newHarness(t, false)
	digest := refcrypto.SHA512([]byte("firmware"))
	sig, pub, err := refcrypto.Ed25519SignStandard(bytes.Repeat([]byte{9}, 32), digest)
	require.NoError(t, err)

	run := func(sig []byte, constants []uint32) byte {
		cmd := dut.NewCommand()
		cmd.WriteBytes(inBase+region.VerifySignature, sig)
		cmd.WriteBytes(inBase+region.VerifyPublic, pub)
		cmd.WriteBytes(inBase+region.VerifyDigest, digest)
		for i, w := range constants {
			cmd.WriteWord(inBase+region.VerifyConstants+uint32(4*i), w)
		}
		res := h.must(ops.EdDSAVerify, cmd, 160, nil)
		require.Equal(t, 1, res.Header.Size)
		b, err := res.ReadByte(res.OutBase)
		require.NoError(t, err)
		return b
	}

	assert.Equal(t, byte(0), run(sig, refcrypto.Ed25519Constants()))

	bad := append([]byte(nil), sig...)
	bad[5] ^= 1
	assert.NotEqual(t, byte(0), run(bad, refcrypto.Ed25519Constants()))
	assert.NotEqual(t, byte(0), run(sig, nil))
}

func TestClosedDevice(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.dev.Close())
	_, err := h.call(ops.SHA512Init, nil, 0, nil)
	assert.ErrorIs(t, err, dut.ErrClosed)
	assert.ErrorIs(t, h.dev.SeedRandom(nil), dut.ErrClosed)
}

func TestUnknownOpcode(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.dev.Invoke(context.Background(), nil, dut.Call{Opcode: 0xEE, In: region.CmdBuffer, Out: region.ResBuffer})
	assert.ErrorIs(t, err, ErrUnknownOp)
}
