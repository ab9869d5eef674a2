package link

import (
	"context"
	"errors"
	"fmt"
	"io"

	"spectverify/internal/dut"
)

// Handle executes one request frame on dev and returns the response
// frame.
func Handle(ctx context.Context, dev dut.Device, frame []byte) ([]byte, error) {
	req, err := dut.DecodeRequest(frame)
	if err != nil {
		return nil, err
	}
	if len(req.Random) > 0 {
		if err := dev.SeedRandom(req.Random); err != nil {
			return nil, err
		}
	}
	res, err := dev.Invoke(ctx, req.Command(), req.Call)
	if err != nil {
		return nil, fmt.Errorf("link: %s: %w", req.Call, err)
	}
	return dut.EncodeResponse(res), nil
}

// Serve answers request frames read from rw with dev until rw reaches
// EOF or ctx ends. A device error ends the session.
func Serve(ctx context.Context, rw io.ReadWriter, dev dut.Device) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := dut.ReadFrame(rw)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		resp, err := Handle(ctx, dev, frame)
		if err != nil {
			return err
		}
		if _, err := rw.Write(resp); err != nil {
			return err
		}
	}
}
