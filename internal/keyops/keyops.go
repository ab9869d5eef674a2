// Package keyops checks the key generate, store and erase operations
// against the reference key derivation.
package keyops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"spectverify/internal/dut"
	"spectverify/internal/keymem"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/protocol"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Errors
var (
	ErrKind     = errors.New("keyops: kind must be ecc_key_gen or ecc_key_store")
	ErrNoRandom = errors.New("keyops: key generation needs a random value")
)

// Request is one generate or store call.
type Request struct {
	Kind  ops.Kind
	Curve keymem.Curve
	Banks region.Pair
	Slot  int
	// Seed is the key seed a store call carries.
	Seed []byte
	// Random seeds the DUT before a generate call. The first value is the
	// key seed, little-endian.
	Random []*big.Int
}

// KeyOps runs key operations over a session.
type KeyOps struct {
	Session *protocol.Session
	Logger  *slog.Logger
}

// New returns a KeyOps.
func New(s *protocol.Session) *KeyOps {
	return &KeyOps{Session: s, Logger: logging.Default().WithComponent("keyops").Logger}
}

type field struct {
	name   string
	slot   int
	offset int
	want   *big.Int
}

// reference returns the sub-fields the DUT must have written.
func reference(curve keymem.Curve, pair keymem.SlotPair, seed []byte) ([]field, error) {
	switch curve {
	case keymem.CurveEd25519:
		key, err := refcrypto.Ed25519KeyGen(seed)
		if err != nil {
			return nil, err
		}
		return []field{
			{"scalar", pair.Private, keymem.K1, key.Scalar},
			{"prefix", pair.Private, keymem.K2, key.Prefix},
			{"scalar_mod_q", pair.Private, keymem.K3, new(big.Int).Mod(key.Scalar, refcrypto.GroupOrder())},
			{"public", pair.Public, keymem.X, refcrypto.BytesInt(key.Public)},
		}, nil
	case keymem.CurveP256:
		key, err := refcrypto.P256KeyGen(seed)
		if err != nil {
			return nil, err
		}
		return []field{
			{"d", pair.Private, keymem.K1, key.D},
			{"w", pair.Private, keymem.K2, refcrypto.BytesInt(key.W)},
			{"public_x", pair.Public, keymem.X, key.Ax},
			{"public_y", pair.Public, keymem.Y, key.Ay},
		}, nil
	default:
		return nil, fmt.Errorf("keyops: unsupported curve %s", curve)
	}
}

// GenerateOrStore runs req and checks the resulting slot pair.
func (k *KeyOps) GenerateOrStore(ctx context.Context, req Request) error {
	var (
		keySeed []byte
		origin  keymem.Origin
	)
	switch req.Kind {
	case ops.ECCKeyGen:
		if len(req.Random) == 0 {
			return ErrNoRandom
		}
		keySeed = refcrypto.IntBytesLE(req.Random[0], refcrypto.SeedSize)
		origin = keymem.OriginGenerated
	case ops.ECCKeyStore:
		keySeed = req.Seed
		origin = keymem.OriginStored
	default:
		return ErrKind
	}

	pair, err := keymem.LogicalPair(req.Slot)
	if err != nil {
		return err
	}

	label := fmt.Sprintf("%s %s slot %d", req.Kind, req.Curve, req.Slot)
	in := region.Address(req.Banks.In)
	desc := k.Session.Table.Get(req.Kind)

	cmd := dut.NewCommand()
	cmd.WriteWord(in, desc.Selector(uint16(req.Slot), uint8(req.Curve)))
	if req.Kind == ops.ECCKeyStore {
		cmd.WriteBytes(in+region.KeyInput, req.Seed)
	}

	st := protocol.Step{Kind: req.Kind, Label: label, Command: cmd, Banks: req.Banks}
	if req.Kind == ops.ECCKeyGen {
		st.Random = req.Random
	}
	_, res, err := k.Session.Do(ctx, protocol.Chain{}, st)
	if err != nil {
		return err
	}

	keys, err := res.Keys()
	if err != nil {
		return status.Transport(label, err)
	}
	kt := keymem.KeyTypeECC
	if !keys.Present(kt, pair.Private) || !keys.Present(kt, pair.Public) {
		return status.Invariant(label, "populated", presence(keys, pair), "private+public")
	}

	fields, err := reference(req.Curve, pair, keySeed)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if got := keys.Key(kt, f.slot, f.offset); got.Cmp(f.want) != 0 {
			return status.Reference(label, f.name, got, f.want)
		}
	}

	want := keymem.Metadata{Curve: req.Curve, Origin: origin}
	if got := keys.Metadata(pair); got != want {
		return status.Reference(label, "metadata", got, want)
	}

	k.Logger.Debug("key matches reference", "step", label)
	return nil
}

// Erase fills slot with filler, erases it and checks both halves are
// empty afterwards.
func (k *KeyOps) Erase(ctx context.Context, slot int, banks region.Pair, filler []*big.Int) error {
	pair, err := keymem.LogicalPair(slot)
	if err != nil {
		return err
	}
	label := fmt.Sprintf("ecc_key_erase slot %d", slot)
	kt := keymem.KeyTypeECC

	cmd := dut.NewCommand()
	cmd.WriteWord(region.Address(banks.In), k.Session.Table.Get(ops.ECCKeyErase).Selector(uint16(slot), 0))
	for i, v := range filler {
		half := pair.Private
		if i%2 == 1 {
			half = pair.Public
		}
		cmd.Keys.SetKey(kt, half, (i/2%4)*keymem.KeyWords, v)
	}
	cmd.Keys.SetMetadata(pair, keymem.CurveEd25519, keymem.OriginGenerated, keymem.CorruptNone)

	_, res, err := k.Session.Do(ctx, protocol.Chain{}, protocol.Step{
		Kind:    ops.ECCKeyErase,
		Label:   label,
		Command: cmd,
		Banks:   banks,
	})
	if err != nil {
		return err
	}

	keys, err := res.Keys()
	if err != nil {
		return status.Transport(label, err)
	}
	if keys.Present(kt, pair.Private) || keys.Present(kt, pair.Public) {
		return status.Invariant(label, "erased", presence(keys, pair), "empty")
	}
	return nil
}

func presence(d *keymem.Dump, pair keymem.SlotPair) string {
	return fmt.Sprintf("private=%t public=%t",
		d.Present(keymem.KeyTypeECC, pair.Private), d.Present(keymem.KeyTypeECC, pair.Public))
}
