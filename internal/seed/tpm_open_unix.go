//go:build !windows

package seed

import "github.com/google/go-tpm/tpm2/transport"

// An empty path tries /dev/tpmrm0, then /dev/tpm0.
func openTPM(path string) (transport.TPMCloser, error) {
	if path == "" {
		return transport.OpenTPM()
	}
	return transport.OpenTPM(path)
}
