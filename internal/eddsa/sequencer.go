// Package eddsa drives the masked-scalar EdDSA signing sequence through
// the DUT and checks its result against the reference signature.
//
// The sequence is set_context, nonce init, nonce updates and finish, the
// R part, the E stage (at-once, or prep, updates and finish) and finish.
// Every call runs through a protocol.Session, so any unexpected status,
// size or marker aborts the chain at the step that produced it.
package eddsa

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"spectverify/internal/chunk"
	"spectverify/internal/dut"
	"spectverify/internal/keymem"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/protocol"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Variant selects the set_context fault a run injects.
type Variant int

const (
	Normal Variant = iota
	// EmptySlot leaves the key slot unpopulated.
	EmptySlot
	// InvalidCurve populates the slot with corrupted curve metadata.
	InvalidCurve
)

func (v Variant) String() string {
	switch v {
	case Normal:
		return "normal"
	case EmptySlot:
		return "empty_slot"
	case InvalidCurve:
		return "invalid_curve"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// expect returns the set_context expectation of v, nil for the default
// success shape.
func (v Variant) expect() *status.Expect {
	var e status.Expect
	switch v {
	case EmptySlot:
		e = status.Rejection(status.SlotEmpty)
	case InvalidCurve:
		e = status.Rejection(status.InvalidCurve)
	default:
		return nil
	}
	return &e
}

// Request is one signing run.
type Request struct {
	Variant Variant
	Pair    keymem.SlotPair
	Public  []byte
	Shares  ShareSet
	SaltCH  []byte
	SaltCN  []byte
	Message []byte
}

// Signature is the outcome of a signing run. Bytes is nil when the
// request was an expected rejection.
type Signature struct {
	Bytes    []byte
	Rejected status.Code
	Calls    int
	// Shares is the slot content after set_context: the read-back when
	// the sequencer checks remasking, the request's shares otherwise.
	Shares ShareSet
}

// Sequencer runs signing requests over a session.
type Sequencer struct {
	Session *protocol.Session
	Banks   region.Pair
	// Rerandomize expects set_context to remask the stored shares.
	Rerandomize bool
	Logger      *slog.Logger
}

// NewSequencer returns a sequencer using banks for every call.
func NewSequencer(s *protocol.Session, banks region.Pair, rerandomize bool) *Sequencer {
	return &Sequencer{
		Session:     s,
		Banks:       banks,
		Rerandomize: rerandomize,
		Logger:      logging.Default().WithComponent("eddsa").Logger,
	}
}

type run struct {
	q     *Sequencer
	ctx   context.Context
	chain protocol.Chain
	calls int
}

func (r *run) do(st protocol.Step) (*dut.Result, error) {
	st.Banks = r.q.Banks
	ch, res, err := r.q.Session.Do(r.ctx, r.chain, st)
	r.chain = ch
	r.calls++
	return res, err
}

func (r *run) block(k ops.Kind, label string, b []byte, n int) error {
	cmd := dut.NewCommand()
	cmd.WriteBytes(region.Address(r.q.Banks.In), b)
	_, err := r.do(protocol.Step{Kind: k, Label: label, Command: cmd, Len: n})
	return err
}

// Sign runs req through the DUT.
func (q *Sequencer) Sign(ctx context.Context, req Request) (*Signature, error) {
	r := &run{q: q, ctx: ctx}
	in := region.Address(q.Banks.In)

	// Set context.
	desc := q.Session.Table.Get(ops.EdDSASetContext)
	cmd := dut.NewCommand()
	cmd.WriteWord(in, desc.Selector(uint16(req.Pair.Logical()), 0))
	cmd.WriteBytes(region.SaltCH, req.SaltCH)
	cmd.WriteBytes(region.SaltCN, req.SaltCN)
	if req.Variant != EmptySlot {
		corrupt := keymem.CorruptNone
		if req.Variant == InvalidCurve {
			corrupt = keymem.CorruptCurve
		}
		req.Shares.Write(cmd.Keys, req.Pair)
		cmd.Keys.SetMetadata(req.Pair, keymem.CurveEd25519, keymem.OriginStored, corrupt)
		cmd.Keys.SetKey(keymem.KeyTypeECC, req.Pair.Public, keymem.X, refcrypto.BytesInt(req.Public))
	}

	expect := req.Variant.expect()
	res, err := r.do(protocol.Step{Kind: ops.EdDSASetContext, Label: "eddsa set context", Command: cmd, Expect: expect})
	if err != nil {
		return nil, err
	}
	if expect != nil {
		q.Logger.Debug("set_context rejected as expected", "variant", req.Variant.String(), "status", res.Header.Status.String())
		return &Signature{Rejected: res.Header.Status, Calls: r.calls}, nil
	}

	shares := req.Shares
	if q.Rerandomize {
		if shares, err = q.checkRemasked(res, req); err != nil {
			return nil, err
		}
	}

	if _, err := r.do(protocol.Step{Kind: ops.EdDSANonceInit, Label: "eddsa nonce init"}); err != nil {
		return nil, err
	}

	nonce, err := chunk.Blocks(ops.EdDSANonceUpdate.Policy(), req.Message)
	if err != nil {
		return nil, err
	}
	nonceBlock := chunk.BlockSize(ops.EdDSANonceUpdate.Policy())
	for i, b := range nonce.Updates {
		if err := r.block(ops.EdDSANonceUpdate, fmt.Sprintf("eddsa nonce update %d", i), b, nonceBlock); err != nil {
			return nil, err
		}
	}
	if err := r.block(ops.EdDSANonceFinish, "eddsa nonce finish", nonce.Final, len(nonce.Final)); err != nil {
		return nil, err
	}

	if _, err := r.do(protocol.Step{Kind: ops.EdDSARPart, Label: "eddsa R part"}); err != nil {
		return nil, err
	}

	e, err := chunk.SecondBlocks(ops.EdDSAEUpdate.Policy(), req.Message)
	if err != nil {
		return nil, err
	}
	if e.Single {
		if err := r.block(ops.EdDSAEAtOnce, "eddsa e at once", e.AtOnce, len(e.AtOnce)); err != nil {
			return nil, err
		}
	} else {
		if err := r.block(ops.EdDSAEPrep, "eddsa e prep", e.Prep, chunk.PrepBlock); err != nil {
			return nil, err
		}
		for i, b := range e.Updates {
			if err := r.block(ops.EdDSAEUpdate, fmt.Sprintf("eddsa e update %d", i), b, len(b)); err != nil {
				return nil, err
			}
		}
		if err := r.block(ops.EdDSAEFinish, "eddsa e finish", e.Finish, len(e.Finish)); err != nil {
			return nil, err
		}
	}

	const finish = "eddsa finish"
	res, err = r.do(protocol.Step{Kind: ops.EdDSAFinish, Label: finish})
	if err != nil {
		return nil, err
	}
	sig, err := res.ReadBytes(res.OutBase+region.Payload, refcrypto.SignatureSize)
	if err != nil {
		return nil, status.Transport(finish, err)
	}

	want, err := refcrypto.Ed25519Sign(req.Shares.Scalar(), req.Shares.Prefix(), req.Public, req.SaltCH, req.SaltCN, req.Message)
	if err != nil {
		return nil, fmt.Errorf("eddsa: reference signature: %w", err)
	}
	if !bytes.Equal(sig, want) {
		return nil, status.Reference(finish, "signature", sig, want)
	}

	q.Logger.Debug("signature matches reference", "message_len", len(req.Message), "calls", r.calls)
	return &Signature{Bytes: sig, Calls: r.calls, Shares: shares}, nil
}

// checkRemasked reads the shares set_context left in the slot and checks
// they are a remasking of the shares the command carried.
func (q *Sequencer) checkRemasked(res *dut.Result, req Request) (ShareSet, error) {
	const step = "eddsa set context"
	keys, err := res.Keys()
	if err != nil {
		return ShareSet{}, status.Transport(step, err)
	}
	if err := keys.CheckPair(keymem.KeyTypeECC, req.Pair); err != nil {
		return ShareSet{}, &status.Failure{Kind: status.KindInvariant, Step: step, Check: "slot_pair", Err: err}
	}
	after := ReadShares(keys, req.Pair)
	if err := CheckRerandomized(step, req.Shares, after); err != nil {
		return ShareSet{}, err
	}
	return after, nil
}
