// Package boot composes the DUT's incremental SHA-512 and its signature
// verification into a secure-boot accept/reject decision.
package boot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"spectverify/internal/chunk"
	"spectverify/internal/dut"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/protocol"
	"spectverify/internal/refcrypto"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Errors
var (
	ErrConstants = errors.New("boot: invalid constant table")
)

// Constants is the curve constant table the verify call reads.
type Constants []uint32

// DefaultConstants returns the Ed25519 table: p, d, q and the base point.
func DefaultConstants() Constants {
	return Constants(refcrypto.Ed25519Constants())
}

// LoadConstants reads a table of hex words, one per line. Blank lines and
// lines starting with # are skipped. An empty path returns the default
// table.
func LoadConstants(path string) (Constants, error) {
	if path == "" {
		return DefaultConstants(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boot: failed to read constants: %w", err)
	}

	var out Constants
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w, err := strconv.ParseUint(strings.TrimPrefix(line, "0x"), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrConstants, n, err)
		}
		out = append(out, uint32(w))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrConstants, path)
	}
	return out, nil
}

// Decision is the outcome of a boot check.
type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// Gate runs boot checks over a session. Hashing and verification use the
// data RAM banks.
type Gate struct {
	Session   *protocol.Session
	Constants Constants
	Banks     region.Pair
	Logger    *slog.Logger
}

// NewGate returns a gate with the given constant table.
func NewGate(s *protocol.Session, c Constants) *Gate {
	return &Gate{
		Session:   s,
		Constants: c,
		Banks:     region.RAM,
		Logger:    logging.Default().WithComponent("boot").Logger,
	}
}

// Digest hashes image on the DUT and checks the result against the
// reference digest.
func (g *Gate) Digest(ctx context.Context, image []byte) ([]byte, error) {
	plan, err := chunk.Blocks(ops.SHA512Update.Policy(), image)
	if err != nil {
		return nil, err
	}
	at := region.Address(g.Banks.In) + region.HashInput

	hashStep := func(ch protocol.Chain, k ops.Kind, label string, b []byte) (protocol.Chain, *dut.Result, error) {
		var cmd *dut.Command
		if b != nil {
			cmd = dut.NewCommand()
			cmd.WriteBytes(at, b)
		}
		return g.Session.Do(ctx, ch, protocol.Step{Kind: k, Label: label, Command: cmd, Banks: g.Banks, Len: len(b)})
	}

	ch, _, err := hashStep(protocol.Chain{}, ops.SHA512Init, "boot sha512 init", nil)
	if err != nil {
		return nil, err
	}
	for i, b := range plan.Updates {
		if ch, _, err = hashStep(ch, ops.SHA512Update, fmt.Sprintf("boot sha512 update %d", i), b); err != nil {
			return nil, err
		}
	}
	const final = "boot sha512 final"
	_, res, err := hashStep(ch, ops.SHA512Final, final, plan.Final)
	if err != nil {
		return nil, err
	}

	digest, err := res.ReadBytes(res.OutBase+region.Payload, refcrypto.DigestSize)
	if err != nil {
		return nil, status.Transport(final, err)
	}
	if want := refcrypto.SHA512(image); !bytes.Equal(digest, want) {
		return nil, status.Reference(final, "digest", digest, want)
	}
	return digest, nil
}

// Verify runs one verify call and returns its result byte; 0 means the
// signature is valid for digest.
func (g *Gate) Verify(ctx context.Context, sig, pub, digest []byte) (byte, error) {
	const label = "boot eddsa verify"
	in := region.Address(g.Banks.In)

	cmd := dut.NewCommand()
	cmd.WriteBytes(in+region.VerifySignature, sig)
	cmd.WriteBytes(in+region.VerifyPublic, pub)
	cmd.WriteBytes(in+region.VerifyDigest, digest)
	for i, w := range g.Constants {
		cmd.WriteWord(in+region.VerifyConstants+uint32(4*i), w)
	}

	_, res, err := g.Session.Do(ctx, protocol.Chain{}, protocol.Step{
		Kind:    ops.EdDSAVerify,
		Label:   label,
		Command: cmd,
		Banks:   g.Banks,
	})
	if err != nil {
		return 0, err
	}
	b, err := res.ReadByte(res.OutBase)
	if err != nil {
		return 0, status.Transport(label, err)
	}
	return b, nil
}

// Check hashes image and verifies sig over the digest. It accepts iff
// the verify result byte is 0.
func (g *Gate) Check(ctx context.Context, image, sig, pub []byte) (Decision, error) {
	digest, err := g.Digest(ctx, image)
	if err != nil {
		return Reject, err
	}
	result, err := g.Verify(ctx, sig, pub, digest)
	if err != nil {
		return Reject, err
	}
	d := Reject
	if result == 0 {
		d = Accept
	}
	g.Logger.Debug("boot decision", "image_len", len(image), "result", result, "decision", d.String())
	return d, nil
}
