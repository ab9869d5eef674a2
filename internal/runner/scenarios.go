package runner

import (
	"context"
	"fmt"
	"math/big"

	"spectverify/internal/boot"
	"spectverify/internal/eddsa"
	"spectverify/internal/keymem"
	"spectverify/internal/keyops"
	"spectverify/internal/ops"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Registry lists every scenario in execution order.
func Registry() []Scenario {
	var all []Scenario
	for _, kind := range []ops.Kind{ops.ECCKeyGen, ops.ECCKeyStore} {
		for _, curve := range []keymem.Curve{keymem.CurveEd25519, keymem.CurveP256} {
			for _, b := range []struct {
				name  string
				banks region.Pair
			}{{"ram", region.RAM}, {"cpb", region.Default}} {
				all = append(all, Scenario{
					Name: fmt.Sprintf("%s/%s_%s", kind, curve, b.name),
					Run:  keyScenario(kind, curve, b.banks),
				})
			}
		}
	}

	all = append(all,
		Scenario{Name: "ecc_key_erase/full_slot", Run: eraseFullSlot},
		Scenario{Name: "eddsa_sequence/big", Run: signScenario(eddsa.Normal, 64, 201)},
		Scenario{Name: "eddsa_sequence/small", Run: signScenario(eddsa.Normal, 1, 64)},
		Scenario{Name: "eddsa_sequence/empty_slot", Run: signScenario(eddsa.EmptySlot, 1, 64)},
		Scenario{Name: "eddsa_sequence/invalid_curve", Run: signScenario(eddsa.InvalidCurve, 1, 64)},
		Scenario{Name: "eddsa_sequence/rerandomize", Run: rerandomizeScenario},
		Scenario{Name: "boot_sequence/valid", Run: bootScenario(nil, boot.Accept)},
		Scenario{Name: "boot_sequence/corrupted_append", Run: bootScenario(appendByte, boot.Reject)},
		Scenario{Name: "boot_sequence/corrupted_flip", Run: bootScenario(flipBit, boot.Reject)},
	)
	return all
}

func newKeyOps(env *Env) *keyops.KeyOps {
	k := keyops.New(env.Session)
	k.Logger = env.Logger
	return k
}

func keyScenario(kind ops.Kind, curve keymem.Curve, banks region.Pair) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		req := keyops.Request{
			Kind:  kind,
			Curve: curve,
			Banks: banks,
			Slot:  env.Rand.Intn(32),
		}
		if kind == ops.ECCKeyGen {
			req.Random = env.Rand.Values(8)
		} else {
			req.Seed = env.Rand.Bytes(refcrypto.SeedSize)
		}
		return newKeyOps(env).GenerateOrStore(ctx, req)
	}
}

func eraseFullSlot(ctx context.Context, env *Env) error {
	slot := env.Rand.Intn(keymem.Pairs)
	one := big.NewInt(1)
	return newKeyOps(env).Erase(ctx, slot, env.Banks, []*big.Int{one, one})
}

// signKey is the key material one signing scenario works with.
type signKey struct {
	key    refcrypto.Ed25519Key
	pair   keymem.SlotPair
	saltCH []byte
	saltCN []byte
}

func newSignKey(env *Env) (signKey, error) {
	key, err := refcrypto.Ed25519KeyGen(env.Rand.Bytes(refcrypto.SeedSize))
	if err != nil {
		return signKey{}, err
	}
	return signKey{
		key:    key,
		saltCH: env.Rand.Bytes(refcrypto.SaltCHSize),
		saltCN: env.Rand.Bytes(refcrypto.SaltCNSize),
		pair:   keymem.NewSlotPair(env.Rand.Intn(8)),
	}, nil
}

func (k signKey) request(env *Env, v eddsa.Variant, msg []byte) eddsa.Request {
	return eddsa.Request{
		Variant: v,
		Pair:    k.pair,
		Public:  k.key.Public,
		Shares:  eddsa.Split(k.key.Scalar, k.key.Prefix, env.Rand),
		SaltCH:  k.saltCH,
		SaltCN:  k.saltCN,
		Message: msg,
	}
}

func newSequencer(env *Env, rerandomize bool) *eddsa.Sequencer {
	q := eddsa.NewSequencer(env.Session, env.Banks, rerandomize)
	q.Logger = env.Logger
	return q
}

// signScenario signs a message of [minLen, maxLen) bytes.
func signScenario(v eddsa.Variant, minLen, maxLen int) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		k, err := newSignKey(env)
		if err != nil {
			return err
		}
		msg := env.Rand.Bytes(env.Rand.IntRange(minLen, maxLen))
		_, err = newSequencer(env, env.Rerandomize).Sign(ctx, k.request(env, v, msg))
		return err
	}
}

// rerandomizeScenario signs three messages with one key. Each sign
// starts from the shares the previous set_context left in the slot, so
// every read-back is compared with the one before it.
func rerandomizeScenario(ctx context.Context, env *Env) error {
	if !env.Rerandomize {
		return ErrSkipped
	}
	k, err := newSignKey(env)
	if err != nil {
		return err
	}
	q := newSequencer(env, true)
	var prev *eddsa.ShareSet
	for _, n := range []int{0, env.Rand.IntRange(1, 64), env.Rand.IntRange(64, 300)} {
		req := k.request(env, eddsa.Normal, env.Rand.Bytes(n))
		if prev != nil {
			req.Shares = *prev
		}
		sig, err := q.Sign(ctx, req)
		if err != nil {
			return err
		}
		prev = &sig.Shares
	}
	return nil
}

func appendByte(env *Env, image []byte) []byte {
	return append(append([]byte(nil), image...), 0xAA)
}

func flipBit(env *Env, image []byte) []byte {
	out := append([]byte(nil), image...)
	out[env.Rand.Intn(len(out))] ^= 1 << env.Rand.Intn(8)
	return out
}

// bootScenario signs a random image, optionally corrupts it, and checks
// the gate decides want.
func bootScenario(corrupt func(*Env, []byte) []byte, want boot.Decision) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		image := env.Rand.Bytes(env.Rand.IntRange(2*128, 5*128+1))
		sig, pub, err := refcrypto.Ed25519SignStandard(env.Rand.Bytes(32), refcrypto.SHA512(image))
		if err != nil {
			return err
		}
		if corrupt != nil {
			image = corrupt(env, image)
		}

		g := boot.NewGate(env.Session, env.Constants)
		g.Logger = env.Logger
		got, err := g.Check(ctx, image, sig, pub)
		if err != nil {
			return err
		}
		if got != want {
			return status.Reference("boot decision", "decision", got.String(), want.String())
		}
		return nil
	}
}
