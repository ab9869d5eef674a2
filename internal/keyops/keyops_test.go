package keyops

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
	"spectverify/internal/region"
	"spectverify/internal/sim"
	"spectverify/internal/status"
)

func newKeyOps(t *testing.T, dev dut.Device) *KeyOps {
	t.Helper()
	k := New(protocol.NewSession(dev, ops.MustDefault(), logging.Discard().Logger))
	k.Logger = logging.Discard().Logger
	return k
}

func newSim(t *testing.T) *sim.Device {
	t.Helper()
	dev, err := sim.New(sim.Options{Logger: logging.Discard().Logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func TestGenerateAndStore(t *testing.T) {
	k := newKeyOps(t, newSim(t))
	ctx := context.Background()

	for _, curve := range []keymem.Curve{keymem.CurveEd25519, keymem.CurveP256} {
		for _, banks := range []region.Pair{region.Default, region.RAM} {
			require.NoError(t, k.GenerateOrStore(ctx, Request{
				Kind:   ops.ECCKeyGen,
				Curve:  curve,
				Banks:  banks,
				Slot:   3,
				Random: []*big.Int{big.NewInt(0x1234567)},
			}), "gen %s", curve)

			require.NoError(t, k.GenerateOrStore(ctx, Request{
				Kind:  ops.ECCKeyStore,
				Curve: curve,
				Banks: banks,
				Slot:  31,
				Seed:  bytes.Repeat([]byte{0x9E}, 32),
			}), "store %s", curve)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	k := newKeyOps(t, newSim(t))
	err := k.GenerateOrStore(context.Background(), Request{Kind: ops.ECCKeyGen, Curve: keymem.CurveP256})
	assert.ErrorIs(t, err, ErrNoRandom)
	err = k.GenerateOrStore(context.Background(), Request{Kind: ops.EdDSAVerify})
	assert.ErrorIs(t, err, ErrKind)
	err = k.GenerateOrStore(context.Background(), Request{
		Kind:  ops.ECCKeyStore,
		Curve: keymem.CurveEd25519,
		Banks: region.Default,
		Slot:  keymem.Pairs,
		Seed:  bytes.Repeat([]byte{0x01}, 32),
	})
	assert.ErrorIs(t, err, keymem.ErrSlotPair)
}

func TestEraseRejectsOutOfRangeSlot(t *testing.T) {
	k := newKeyOps(t, newSim(t))
	for _, slot := range []int{-1, keymem.Pairs} {
		err := k.Erase(context.Background(), slot, region.Default, nil)
		assert.ErrorIs(t, err, keymem.ErrSlotPair, "slot %d", slot)
	}
}

// flipKey corrupts one key-memory byte of every result.
type flipKey struct {
	dut.Device
	offset int
}

func (d *flipKey) Invoke(ctx context.Context, cmd *dut.Command, c dut.Call) (*dut.Result, error) {
	res, err := d.Device.Invoke(ctx, cmd, c)
	if err == nil {
		res.KeyMemory[d.offset] ^= 0x01
	}
	return res, err
}

func TestReferenceMismatch(t *testing.T) {
	// Type 4, slot 6 (pair 3 private), byte 4 of K1.
	off := ((int(keymem.KeyTypeECC)*keymem.Slots+6)*keymem.SlotWords)*4 + 4
	k := newKeyOps(t, &flipKey{Device: newSim(t), offset: off})
	err := k.GenerateOrStore(context.Background(), Request{
		Kind:  ops.ECCKeyStore,
		Curve: keymem.CurveEd25519,
		Banks: region.Default,
		Slot:  3,
		Seed:  bytes.Repeat([]byte{1}, 32),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrReferenceMismatch)
	f, ok := status.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "scalar", f.Check)
}

func TestErase(t *testing.T) {
	k := newKeyOps(t, newSim(t))
	filler := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5), big.NewInt(6), big.NewInt(7), big.NewInt(8)}
	for _, slot := range []int{0, 64, 127} {
		assert.NoError(t, k.Erase(context.Background(), slot, region.Default, filler), "slot %d", slot)
	}
}

// noErase ignores erase calls and echoes the pre-state.
type noErase struct {
	dut.Device
	opcode uint8
}

func (d *noErase) Invoke(ctx context.Context, cmd *dut.Command, c dut.Call) (*dut.Result, error) {
	res, err := d.Device.Invoke(ctx, cmd, c)
	if err != nil || c.Opcode != d.opcode {
		return res, err
	}
	pre, err := cmd.Keys.Dump()
	if err != nil {
		return nil, err
	}
	res.KeyMemory = pre.Bytes()
	return res, nil
}

func TestEraseInvariant(t *testing.T) {
	dev := &noErase{Device: newSim(t), opcode: ops.MustDefault().Get(ops.ECCKeyErase).Opcode}
	err := newKeyOps(t, dev).Erase(context.Background(), 5, region.Default, []*big.Int{big.NewInt(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrInvariantViolation)
}
