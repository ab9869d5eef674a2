// Package link connects the harness to a device under test.
//
// Three transports exist: the in-process simulator, a serial-attached
// board and a file exchange with an external simulator. The last two
// carry the frame codec of package dut.
package link

import (
	"errors"
	"fmt"
	"log/slog"

	"spectverify/internal/config"
	"spectverify/internal/dut"
	"spectverify/internal/ops"
	"spectverify/internal/sim"
)

// Errors
var (
	ErrUnknownTransport = errors.New("link: unknown transport")
	ErrTimeout          = errors.New("link: timed out waiting for the device")
	ErrBusy             = errors.New("link: exchange directory in use")
)

// Open connects to the device cfg selects. table is handed to the
// simulator; other transports ignore it.
func Open(cfg *config.Config, table *ops.Table, logger *slog.Logger) (dut.Device, error) {
	switch cfg.Transport.Kind {
	case config.TransportSim:
		return sim.New(sim.Options{Rerandomize: cfg.DUT.Rerandomize, Table: table, Logger: logger})
	case config.TransportSerial:
		return OpenSerial(cfg.Transport.Serial, logger)
	case config.TransportFile:
		return OpenFileExchange(cfg.Transport.File, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport.Kind)
	}
}
