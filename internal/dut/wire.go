package dut

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math/big"

	"spectverify/internal/keymem"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Frame constants.
const (
	Magic      = "SPCT"
	Version    = 1
	HeaderSize = 12
	// MaxBody bounds a frame body: one output window plus a full key
	// memory dump and headroom for command writes.
	MaxBody = 4 * (region.Size*region.Count + keymem.DumpSize)
)

// Frame types.
const (
	FrameRequest  uint8 = 0x01
	FrameResponse uint8 = 0x02
)

// Errors
var (
	ErrInvalidMagic   = errors.New("dut: invalid frame magic")
	ErrInvalidVersion = errors.New("dut: unsupported frame version")
	ErrFrameType      = errors.New("dut: unexpected frame type")
	ErrCorruptedFrame = errors.New("dut: corrupted frame (CRC mismatch)")
	ErrShortFrame     = errors.New("dut: frame truncated")
)

// Request is everything an out-of-process device needs for one call.
type Request struct {
	Call   Call
	Random []*big.Int
	Writes []Write
	Keys   []keymem.Write
}

// NewRequest bundles a call with its command and pending random values.
func NewRequest(cmd *Command, call Call, random []*big.Int) *Request {
	if cmd == nil {
		cmd = NewCommand()
	}
	return &Request{Call: call, Random: random, Writes: cmd.Writes(), Keys: cmd.Keys.Writes()}
}

// Command rebuilds the command a request carries.
func (r *Request) Command() *Command {
	cmd := NewCommand()
	for _, w := range r.Writes {
		cmd.WriteBytes(w.Addr, w.Data)
	}
	for _, w := range r.Keys {
		cmd.Keys.Add(w)
	}
	return cmd
}

// Frame layout: magic(4) version(1) type(1) reserved(2) length(4) body crc32(4).
func frame(typ uint8, body []byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(body)+4)
	copy(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = typ
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(body)))
	buf = append(buf, body...)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(body))
}

func parseHeader(hdr []byte) (typ uint8, length int, err error) {
	if string(hdr[0:4]) != Magic {
		return 0, 0, ErrInvalidMagic
	}
	if hdr[4] != Version {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidVersion, hdr[4])
	}
	length = int(binary.BigEndian.Uint32(hdr[8:12]))
	if length > MaxBody {
		return 0, 0, fmt.Errorf("%w: body of %d bytes", ErrShortFrame, length)
	}
	return hdr[5], length, nil
}

func unframe(want uint8, data []byte) ([]byte, error) {
	if len(data) < HeaderSize+4 {
		return nil, ErrShortFrame
	}
	typ, length, err := parseHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if typ != want {
		return nil, fmt.Errorf("%w: 0x%02x", ErrFrameType, typ)
	}
	if len(data) != HeaderSize+length+4 {
		return nil, ErrShortFrame
	}
	body := data[HeaderSize : HeaderSize+length]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[HeaderSize+length:]) {
		return nil, ErrCorruptedFrame
	}
	return body, nil
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	_, length, err := parseHeader(hdr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize+length+4)
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeRequest serializes a request frame.
func EncodeRequest(req *Request) []byte {
	var e encoder
	e.u8(req.Call.Opcode)
	e.u8(uint8(req.Call.In))
	e.u8(uint8(req.Call.Out))
	e.u32(uint32(req.Call.Len))
	e.blob16(req.Call.Context)
	e.u8(boolByte(req.Call.Context != nil))

	e.u16(uint16(len(req.Random)))
	for _, v := range req.Random {
		var b [32]byte
		v.FillBytes(b[:])
		e.raw(b[:])
	}

	e.u32(uint32(len(req.Writes)))
	for _, w := range req.Writes {
		e.u32(w.Addr)
		e.blob32(w.Data)
	}

	e.u32(uint32(len(req.Keys)))
	for _, w := range req.Keys {
		e.u8(uint8(w.Type))
		e.u16(uint16(w.Slot))
		e.u8(uint8(w.Offset))
		e.u8(uint8(len(w.Words)))
		for _, word := range w.Words {
			e.u32(word)
		}
	}
	return frame(FrameRequest, e.buf)
}

// DecodeRequest parses a request frame.
func DecodeRequest(data []byte) (*Request, error) {
	body, err := unframe(FrameRequest, data)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: body}
	req := &Request{}
	req.Call.Opcode = d.u8()
	req.Call.In = region.Bank(d.u8())
	req.Call.Out = region.Bank(d.u8())
	req.Call.Len = int(d.u32())
	ctx := d.blob16()
	if d.u8() == 1 {
		req.Call.Context = ctx
	}

	n := int(d.u16())
	for i := 0; i < n && d.err == nil; i++ {
		req.Random = append(req.Random, new(big.Int).SetBytes(d.raw(32)))
	}

	n = int(d.u32())
	for i := 0; i < n && d.err == nil; i++ {
		addr := d.u32()
		req.Writes = append(req.Writes, Write{Addr: addr, Data: d.blob32()})
	}

	n = int(d.u32())
	for i := 0; i < n && d.err == nil; i++ {
		w := keymem.Write{
			Type:   keymem.KeyType(d.u8()),
			Slot:   int(d.u16()),
			Offset: int(d.u8()),
		}
		words := int(d.u8())
		for j := 0; j < words && d.err == nil; j++ {
			w.Words = append(w.Words, d.u32())
		}
		req.Keys = append(req.Keys, w)
	}

	if err := d.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeResponse serializes a result frame.
func EncodeResponse(res *Result) []byte {
	var e encoder
	e.u32(res.Header.Word())
	e.blob16(res.Context)
	e.u8(boolByte(res.Context != nil))
	e.u32(res.OutBase)
	e.blob32(res.Output)
	e.blob32(res.KeyMemory)
	return frame(FrameResponse, e.buf)
}

// DecodeResponse parses a result frame.
func DecodeResponse(data []byte) (*Result, error) {
	body, err := unframe(FrameResponse, data)
	if err != nil {
		return nil, err
	}
	d := decoder{buf: body}
	res := &Result{Header: status.ParseWord(d.u32())}
	ctx := d.blob16()
	if d.u8() == 1 {
		res.Context = ctx
	}
	res.OutBase = d.u32()
	res.Output = d.blob32()
	res.KeyMemory = d.blob32()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return res, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }

func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }

func (e *encoder) raw(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) blob16(b []byte) {
	e.u16(uint16(len(b)))
	e.raw(b)
}

func (e *encoder) blob32(b []byte) {
	e.u32(uint32(len(b)))
	e.raw(b)
}

// decoder reads big-endian fields; the first short read sticks in err.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = ErrShortFrame
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.raw(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.raw(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) blob16() []byte {
	return d.copy(int(d.u16()))
}

func (d *decoder) blob32() []byte {
	return d.copy(int(d.u32()))
}

func (d *decoder) copy(n int) []byte {
	b := d.raw(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrShortFrame, len(d.buf)-d.off)
	}
	return nil
}
