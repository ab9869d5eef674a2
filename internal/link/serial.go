package link

import (
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"spectverify/internal/config"
)

// timeoutPort turns the zero-byte read a serial port returns on timeout
// into ErrTimeout.
type timeoutPort struct {
	serial.Port
}

func (p timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}

// OpenSerial opens a board attached at cfg.Port. The port runs 8N1.
func OpenSerial(cfg config.SerialConfig, logger *slog.Logger) (*Stream, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", cfg.Port, err)
	}
	if cfg.TimeoutMs > 0 {
		if err := port.SetReadTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond); err != nil {
			port.Close()
			return nil, err
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	logger.Info("serial link open", "port", cfg.Port, "baud", cfg.BaudRate)
	return NewStream(timeoutPort{port}, logger), nil
}
