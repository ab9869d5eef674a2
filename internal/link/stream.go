package link

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"spectverify/internal/dut"
)

// Stream is a device reached over a byte stream that carries one request
// frame and one response frame per call.
type Stream struct {
	rw      io.ReadWriter
	closer  io.Closer
	pending []*big.Int
	closed  bool
	logger  *slog.Logger
}

var _ dut.Device = (*Stream)(nil)

// NewStream wraps rw. Close closes rw when it is an io.Closer.
func NewStream(rw io.ReadWriter, logger *slog.Logger) *Stream {
	s := &Stream{rw: rw, logger: logger}
	if c, ok := rw.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// SeedRandom queues values for the next request.
func (s *Stream) SeedRandom(values []*big.Int) error {
	if s.closed {
		return dut.ErrClosed
	}
	s.pending = values
	return nil
}

// Invoke sends one request frame and waits for its response.
func (s *Stream) Invoke(ctx context.Context, cmd *dut.Command, call dut.Call) (*dut.Result, error) {
	if s.closed {
		return nil, dut.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := dut.NewRequest(cmd, call, s.pending)
	s.pending = nil

	frame := dut.EncodeRequest(req)
	if _, err := s.rw.Write(frame); err != nil {
		return nil, fmt.Errorf("link: write request: %w", err)
	}
	s.logger.Debug("request sent", "call", call.String(), "bytes", len(frame))

	resp, err := dut.ReadFrame(s.rw)
	if err != nil {
		return nil, fmt.Errorf("link: read response: %w", err)
	}
	return dut.DecodeResponse(resp)
}

// Close releases the stream.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
