// Package dut defines the contract between the harness and the device
// under test: the command a call carries, the call itself, the result it
// returns, and the Device that executes it.
//
// A Device may be the in-process simulator, a serial-attached board, or
// an external simulator reached through a file exchange. Out-of-process
// devices speak the frame codec in wire.go.
package dut

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"spectverify/internal/keymem"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Errors
var (
	ErrOutOfWindow = errors.New("dut: read outside the output window")
	ErrClosed      = errors.New("dut: device closed")
)

// Device executes DUT calls. Calls are strictly sequential; a Device is
// not safe for concurrent use.
type Device interface {
	// SeedRandom sets the random values the DUT draws from on its next
	// call. Values are 256-bit.
	SeedRandom(values []*big.Int) error

	// Invoke runs one call with the memory writes and key pre-state cmd
	// carries.
	Invoke(ctx context.Context, cmd *Command, call Call) (*Result, error)

	// Close releases the device.
	Close() error
}

// Write is one memory write of a command.
type Write struct {
	Addr uint32
	Data []byte
}

// Command is the memory setup of one call: data writes into the bank
// address space and the key-memory pre-state.
type Command struct {
	writes []Write
	Keys   *keymem.Image
}

// NewCommand starts an empty command.
func NewCommand() *Command {
	return &Command{Keys: keymem.NewImage()}
}

// WriteWord writes a little-endian 32-bit word at addr.
func (c *Command) WriteWord(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.writes = append(c.writes, Write{Addr: addr, Data: b[:]})
}

// WriteBytes writes b at addr. Empty writes are dropped.
func (c *Command) WriteBytes(addr uint32, b []byte) {
	if len(b) == 0 {
		return
	}
	data := make([]byte, len(b))
	copy(data, b)
	c.writes = append(c.writes, Write{Addr: addr, Data: data})
}

// Writes returns the memory writes in order.
func (c *Command) Writes() []Write {
	if c == nil {
		return nil
	}
	return c.writes
}

// Call is one DUT invocation.
type Call struct {
	Opcode  uint8
	In      region.Bank
	Out     region.Bank
	Len     int
	Context []byte
}

func (c Call) String() string {
	return fmt.Sprintf("op=0x%02x in=%s out=%s len=%d ctx=%t", c.Opcode, c.In, c.Out, c.Len, c.Context != nil)
}

// Result is what a call returns.
type Result struct {
	Header status.Header
	// Context is the continuation token, nil when the call yields none.
	Context []byte
	// OutBase is the absolute address of Output[0].
	OutBase uint32
	Output  []byte
	// KeyMemory is the raw key-memory dump after the call.
	KeyMemory []byte
}

// ReadBytes reads n bytes at absolute address addr.
func (r *Result) ReadBytes(addr uint32, n int) ([]byte, error) {
	if addr < r.OutBase || n < 0 || int(addr-r.OutBase)+n > len(r.Output) {
		return nil, fmt.Errorf("%w: 0x%04x+%d in %s, window is %s", ErrOutOfWindow, addr, n, region.Of(addr), region.Of(r.OutBase))
	}
	off := int(addr - r.OutBase)
	out := make([]byte, n)
	copy(out, r.Output[off:off+n])
	return out, nil
}

// ReadWord reads a little-endian word at addr.
func (r *Result) ReadWord(addr uint32) (uint32, error) {
	b, err := r.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadByte reads the byte at addr.
func (r *Result) ReadByte(addr uint32) (byte, error) {
	b, err := r.ReadBytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Marker returns a reader for the marker byte at the output base.
func (r *Result) Marker() status.MarkerReader {
	return func() (byte, error) {
		return r.ReadByte(r.OutBase)
	}
}

// Keys parses the key-memory dump.
func (r *Result) Keys() (*keymem.Dump, error) {
	return keymem.Parse(r.KeyMemory)
}
