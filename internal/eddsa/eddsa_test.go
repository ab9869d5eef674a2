package eddsa

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectverify/internal/dut"
	"spectverify/internal/keymem"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/protocol"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/seed"
	"spectverify/internal/sim"
	"spectverify/internal/status"
)

func newSim(t *testing.T, rerandomize bool) *sim.Device {
	t.Helper()
	dev, err := sim.New(sim.Options{Rerandomize: rerandomize, Logger: logging.Discard().Logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func newSequencer(dev dut.Device, banks region.Pair, rerandomize bool) *Sequencer {
	s := protocol.NewSession(dev, ops.MustDefault(), logging.Discard().Logger)
	q := NewSequencer(s, banks, rerandomize)
	q.Logger = logging.Discard().Logger
	return q
}

func request(t *testing.T, name string, n int) Request {
	t.Helper()
	rng := seed.NewStream(make([]byte, seed.Size), name)
	key, err := refcrypto.Ed25519KeyGen(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return Request{
		Pair:    keymem.NewSlotPair(rng.Intn(8)),
		Public:  key.Public,
		Shares:  Split(key.Scalar, key.Prefix, rng),
		SaltCH:  rng.Bytes(refcrypto.SaltCHSize),
		SaltCN:  rng.Bytes(refcrypto.SaltCNSize),
		Message: rng.Bytes(n),
	}
}

func TestSplitReconstructs(t *testing.T) {
	rng := seed.NewStream(make([]byte, seed.Size), "split")
	key, err := refcrypto.Ed25519KeyGen(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	a := Split(key.Scalar, key.Prefix, rng)
	b := Split(key.Scalar, key.Prefix, rng)
	q := refcrypto.GroupOrder()
	assert.Equal(t, 0, a.Scalar().Cmp(new(big.Int).Mod(key.Scalar, q)))
	assert.Equal(t, 0, a.Prefix().Cmp(key.Prefix))
	assert.NoError(t, CheckRerandomized("split", a, b))
}

func TestCheckRerandomizedFailures(t *testing.T) {
	rng := seed.NewStream(make([]byte, seed.Size), "checks")
	key, err := refcrypto.Ed25519KeyGen(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	before := Split(key.Scalar, key.Prefix, rng)
	after := Split(key.Scalar, key.Prefix, rng)

	check := func(mut func(*ShareSet)) string {
		s := after
		mut(&s)
		err := CheckRerandomized("step", before, s)
		require.Error(t, err)
		assert.ErrorIs(t, err, status.ErrInvariantViolation)
		f, ok := status.AsFailure(err)
		require.True(t, ok)
		return f.Check
	}

	assert.Equal(t, "share_sum", check(func(s *ShareSet) { s.S1 = new(big.Int).Add(s.S1, big.NewInt(1)) }))
	assert.Equal(t, "prefix_xor", check(func(s *ShareSet) { s.PrefixMask = new(big.Int).Xor(s.PrefixMask, big.NewInt(1)) }))
	assert.Equal(t, "s1_changed", check(func(s *ShareSet) { *s = before }))
	assert.Equal(t, "prefix_masked_changed", check(func(s *ShareSet) {
		s.PrefixMasked, s.PrefixMask = before.PrefixMasked, before.PrefixMask
	}))
}

func TestSignEndToEnd(t *testing.T) {
	for _, tc := range []struct {
		name  string
		n     int
		banks region.Pair
	}{
		{"300 bytes", 300, region.Default},
		{"empty", 0, region.Default},
		{"small", 17, region.RAM},
		{"prep only", 64, region.Default},
		{"big", 1000, region.RAM},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := request(t, tc.name, tc.n)
			sig, err := newSequencer(newSim(t, false), tc.banks, false).Sign(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, sig.Bytes, refcrypto.SignatureSize)
			assert.True(t, refcrypto.Ed25519Verify(req.Public, req.Message, sig.Bytes))
		})
	}
}

func TestSignCallCount(t *testing.T) {
	req := request(t, "count", 300)
	sig, err := newSequencer(newSim(t, false), region.Default, false).Sign(context.Background(), req)
	require.NoError(t, err)
	// set_context, init, 2 updates, finish, R, prep, 1 update, e finish, finish.
	assert.Equal(t, 10, sig.Calls)
}

func TestRejectionVariants(t *testing.T) {
	for v, code := range map[Variant]status.Code{EmptySlot: status.SlotEmpty, InvalidCurve: status.InvalidCurve} {
		t.Run(v.String(), func(t *testing.T) {
			req := request(t, v.String(), 40)
			req.Variant = v
			sig, err := newSequencer(newSim(t, false), region.Default, false).Sign(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, code, sig.Rejected)
			assert.Nil(t, sig.Bytes)
			assert.Equal(t, 1, sig.Calls)
		})
	}
}

func TestRerandomize(t *testing.T) {
	req := request(t, "rerandomize", 100)
	_, err := newSequencer(newSim(t, true), region.Default, true).Sign(context.Background(), req)
	require.NoError(t, err)

	// A DUT that keeps its shares fails the check.
	_, err = newSequencer(newSim(t, false), region.Default, true).Sign(context.Background(), req)
	assert.ErrorIs(t, err, status.ErrInvariantViolation)
}

// truncating drops the last byte of every nonce update block, the way an
// off-by-one chunker would.
type truncating struct {
	dut.Device
	opcode uint8
}

func (d *truncating) Invoke(ctx context.Context, cmd *dut.Command, c dut.Call) (*dut.Result, error) {
	if c.Opcode == d.opcode {
		mangled := dut.NewCommand()
		for _, w := range cmd.Writes() {
			mangled.WriteBytes(w.Addr, w.Data[:len(w.Data)-1])
		}
		cmd = mangled
	}
	return d.Device.Invoke(ctx, cmd, c)
}

func TestMisChunkIsDetected(t *testing.T) {
	req := request(t, "mischunk", 300)
	dev := &truncating{Device: newSim(t, false), opcode: ops.MustDefault().Get(ops.EdDSANonceUpdate).Opcode}
	_, err := newSequencer(dev, region.Default, false).Sign(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrReferenceMismatch)
}

// wrongStatus fails one opcode with a non-zero status.
type wrongStatus struct {
	dut.Device
	opcode uint8
}

func (d *wrongStatus) Invoke(ctx context.Context, cmd *dut.Command, c dut.Call) (*dut.Result, error) {
	res, err := d.Device.Invoke(ctx, cmd, c)
	if err == nil && c.Opcode == d.opcode {
		res.Header.Status = 0x01
	}
	return res, err
}

func TestStatusAbortsSequence(t *testing.T) {
	req := request(t, "abort", 300)
	dev := &wrongStatus{Device: newSim(t, false), opcode: ops.MustDefault().Get(ops.EdDSARPart).Opcode}
	_, err := newSequencer(dev, region.Default, false).Sign(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrProtocolViolation)
	f, ok := status.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "eddsa R part", f.Step)
	assert.Equal(t, "status", f.Check)
}

// fixedRemask reports the same remasked shares after every set_context,
// whatever the DUT actually stored.
type fixedRemask struct {
	dut.Device
	opcode uint8
}

func (d *fixedRemask) Invoke(ctx context.Context, cmd *dut.Command, c dut.Call) (*dut.Result, error) {
	res, err := d.Device.Invoke(ctx, cmd, c)
	if err != nil || c.Opcode != d.opcode || res.Header.Status != status.OK {
		return res, err
	}
	keys, err := res.Keys()
	if err != nil {
		return nil, err
	}
	for n := 0; n < keymem.Pairs; n++ {
		pair := keymem.NewSlotPair(n)
		if !keys.Present(keymem.KeyTypeECC, pair.Private) {
			continue
		}
		got := ReadShares(keys, pair)
		s2 := new(big.Int).Sub(got.Scalar(), big.NewInt(7))
		fixed := ShareSet{
			S1:           big.NewInt(7),
			S2:           s2.Mod(s2, refcrypto.GroupOrder()),
			PrefixMasked: new(big.Int).Xor(got.Prefix(), big.NewInt(9)),
			PrefixMask:   big.NewInt(9),
		}
		im := keymem.NewImage()
		fixed.Write(im, pair)
		if err := im.Apply(keys); err != nil {
			return nil, err
		}
	}
	res.KeyMemory = keys.Bytes()
	return res, nil
}

func TestRerandomizeAcrossSigns(t *testing.T) {
	ctx := context.Background()
	req := request(t, "chained", 80)
	q := newSequencer(newSim(t, true), region.Default, true)

	first, err := q.Sign(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Shares.Scalar().Cmp(req.Shares.Scalar()))
	assert.NotEqual(t, 0, first.Shares.S1.Cmp(req.Shares.S1))

	req.Shares = first.Shares
	second, err := q.Sign(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, 0, second.Shares.S1.Cmp(first.Shares.S1))
}

func TestRerandomizeCatchesReusedShares(t *testing.T) {
	ctx := context.Background()
	dev := &fixedRemask{Device: newSim(t, true), opcode: ops.MustDefault().Get(ops.EdDSASetContext).Opcode}
	q := newSequencer(dev, region.Default, true)

	// The first read-back differs from the fresh split it was written from.
	req := request(t, "reused", 80)
	first, err := q.Sign(ctx, req)
	require.NoError(t, err)

	req.Shares = first.Shares
	_, err = q.Sign(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrInvariantViolation)
	f, ok := status.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "s1_changed", f.Check)
}

func TestSignatureSharesWithoutRerandomize(t *testing.T) {
	req := request(t, "plain", 10)
	sig, err := newSequencer(newSim(t, false), region.Default, false).Sign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Shares, sig.Shares)
}
