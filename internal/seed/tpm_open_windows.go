//go:build windows

package seed

import "github.com/google/go-tpm/tpm2/transport"

// Windows exposes the TPM through TBS only; path is ignored.
func openTPM(string) (transport.TPMCloser, error) {
	return transport.OpenTPM()
}
