// Package sim is an in-process software model of the DUT firmware.
//
// It honours the same contract as the hardware: every call starts from a
// fresh address space populated only by the command's writes, key memory
// starts from the command's pre-state image, and continuation state lives
// behind opaque tokens that are invalidated once consumed. Update calls
// read fixed-size blocks regardless of the payload length they are told,
// so a mis-chunked input corrupts the result instead of being repaired.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"spectverify/internal/dut"
	"spectverify/internal/keymem"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Errors
var (
	ErrUnknownOp    = errors.New("sim: unknown opcode")
	ErrAddress      = errors.New("sim: write outside the address space")
	ErrStaleContext = errors.New("sim: unknown or consumed context")
	ErrSequence     = errors.New("sim: call out of sequence")
)

// Options configure the simulated firmware.
type Options struct {
	// Rerandomize makes set_context remask the stored shares.
	Rerandomize bool
	// Table maps opcodes to operations. Defaults to the embedded table.
	Table  *ops.Table
	Logger *slog.Logger
}

// Device is the software DUT. Not safe for concurrent use.
type Device struct {
	opts   Options
	table  *ops.Table
	logger *slog.Logger

	mu     sync.Mutex
	rng    *randomStream
	chains map[uuid.UUID]*chain
	closed bool
}

var _ dut.Device = (*Device)(nil)

// New returns a simulator.
func New(opts Options) (*Device, error) {
	table := opts.Table
	if table == nil {
		var err error
		if table, err = ops.Default(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("sim").Logger
	}
	return &Device{
		opts:   opts,
		table:  table,
		logger: logger,
		rng:    newRandomStream(nil),
		chains: make(map[uuid.UUID]*chain),
	}, nil
}

// SeedRandom replaces the random stream with values, extended by hashing
// once they run out.
func (d *Device) SeedRandom(values []*big.Int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return dut.ErrClosed
	}
	d.rng = newRandomStream(values)
	return nil
}

// Close drops all pending chains.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.chains = nil
	return nil
}

// call is the execution state of one Invoke.
type call struct {
	dut.Call
	desc ops.Descriptor
	mem  []byte
	keys *keymem.Dump
	in   uint32
	out  uint32
}

func (c *call) read(addr uint32, n int) []byte {
	out := make([]byte, n)
	if int(addr) < len(c.mem) {
		copy(out, c.mem[addr:])
	}
	return out
}

func (c *call) word(addr uint32) uint32 {
	b := c.read(addr, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (c *call) emit(addr uint32, b []byte) {
	copy(c.mem[addr:], b)
}

// reply is what an operation handler produces.
type reply struct {
	status  status.Code
	size    int
	context *chain
}

func (c *call) marker(m status.Marker) {
	c.mem[c.out] = byte(m)
}

func (c *call) reject(code status.Code) reply {
	c.marker(status.MarkerFailure)
	return reply{status: code, size: 1}
}

// Invoke runs one call.
func (d *Device) Invoke(ctx context.Context, cmd *dut.Command, dc dut.Call) (*dut.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, dut.ErrClosed
	}

	if cmd == nil {
		cmd = dut.NewCommand()
	}
	desc, ok := d.table.ByOpcode(dc.Opcode)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOp, dc.Opcode)
	}

	c := &call{
		Call: dc,
		desc: desc,
		mem:  make([]byte, region.Size*region.Count),
		in:   region.Address(dc.In),
		out:  region.Address(dc.Out),
	}
	for _, w := range cmd.Writes() {
		if int(w.Addr)+len(w.Data) > len(c.mem) {
			return nil, fmt.Errorf("%w: 0x%04x+%d", ErrAddress, w.Addr, len(w.Data))
		}
		copy(c.mem[w.Addr:], w.Data)
	}
	if int(c.out) >= len(c.mem) || int(c.in) >= len(c.mem) {
		return nil, fmt.Errorf("%w: banks %s/%s", ErrAddress, dc.In, dc.Out)
	}
	keys, err := cmd.Keys.Dump()
	if err != nil {
		return nil, err
	}
	c.keys = keys

	var prev *chain
	role := desc.Kind.Role()
	if role == ops.Continue || role == ops.Final {
		prev, err = d.take(dc.Context)
		if err != nil {
			return nil, err
		}
	}

	d.logger.Debug("sim call", "op", desc.Name, "in", dc.In.String(), "out", dc.Out.String(), "len", dc.Len)

	rep, err := d.dispatch(c, prev)
	if err != nil {
		return nil, err
	}

	res := &dut.Result{
		Header:    status.Header{Status: rep.status, Size: rep.size},
		OutBase:   c.out,
		Output:    append([]byte(nil), c.mem[c.out:c.out+region.Size]...),
		KeyMemory: c.keys.Bytes(),
	}
	if rep.context != nil {
		id := uuid.New()
		d.chains[id] = rep.context
		res.Context = id[:]
	}
	return res, nil
}

func (d *Device) take(token []byte) (*chain, error) {
	id, err := uuid.FromBytes(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStaleContext, err)
	}
	ch, ok := d.chains[id]
	if !ok {
		return nil, ErrStaleContext
	}
	delete(d.chains, id)
	return ch, nil
}

func (d *Device) dispatch(c *call, prev *chain) (reply, error) {
	switch c.desc.Kind {
	case ops.ECCKeyGen, ops.ECCKeyStore:
		return d.keyGenStore(c)
	case ops.ECCKeyErase:
		return d.keyErase(c)
	case ops.SHA512Init:
		return reply{context: &chain{family: familyHash}}, nil
	case ops.SHA512Update, ops.SHA512Final:
		return d.hashStep(c, prev)
	case ops.EdDSASetContext:
		return d.setContext(c)
	case ops.EdDSAVerify:
		return d.verify(c)
	default:
		return d.signStep(c, prev)
	}
}
