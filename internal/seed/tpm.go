package seed

import (
	"context"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// TPMSource draws the run seed from a TPM 2.0 random number generator.
type TPMSource struct {
	// Path is the device node. Empty selects the platform default.
	Path string
}

func (t *TPMSource) Name() string { return "tpm" }

// Seed issues TPM2_GetRandom until Size bytes are collected. A TPM may
// return fewer bytes than requested per command.
func (t *TPMSource) Seed(ctx context.Context) ([]byte, error) {
	tpm, err := openTPM(t.Path)
	if err != nil {
		return nil, fmt.Errorf("seed: failed to open tpm: %w", err)
	}
	defer tpm.Close()

	out := make([]byte, 0, Size)
	for len(out) < Size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(Size - len(out))}.Execute(tpm)
		if err != nil {
			return nil, fmt.Errorf("seed: tpm GetRandom: %w", err)
		}
		if len(rsp.RandomBytes.Buffer) == 0 {
			return nil, ErrShortRead
		}
		out = append(out, rsp.RandomBytes.Buffer...)
	}
	return out[:Size], nil
}
