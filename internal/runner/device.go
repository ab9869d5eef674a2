package runner

import (
	"context"

	"spectverify/internal/dut"
)

// countingDevice counts the calls a scenario makes.
type countingDevice struct {
	dut.Device
	calls int
}

func (d *countingDevice) Invoke(ctx context.Context, cmd *dut.Command, call dut.Call) (*dut.Result, error) {
	d.calls++
	return d.Device.Invoke(ctx, cmd, call)
}

// Close is a no-op; the runner's caller owns the device.
func (d *countingDevice) Close() error { return nil }
