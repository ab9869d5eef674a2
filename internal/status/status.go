// Package status defines the DUT result vocabulary and the shared
// assertion logic every call site uses to decide pass or fail.
//
// Checks run in a fixed order: status code first, then output size, then
// (where the operation defines one) the marker byte at the output base.
package status

import "fmt"

// Code is the one-byte status class reported by every DUT call.
type Code uint8

// Canonical status codes.
const (
	OK           Code = 0x00
	SlotEmpty    Code = 0xF2
	InvalidCurve Code = 0xF4
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case SlotEmpty:
		return "slot_empty"
	case InvalidCurve:
		return "invalid_curve"
	default:
		return fmt.Sprintf("status(0x%02x)", uint8(c))
	}
}

// Marker is an operation-level result byte embedded in the output payload.
type Marker uint8

// Marker values. MarkerNone means the output carries no marker to check.
const (
	MarkerNone    Marker = 0x00
	MarkerSuccess Marker = 0xC3
	MarkerFailure Marker = 0x12
)

func (m Marker) String() string {
	switch m {
	case MarkerNone:
		return "none"
	case MarkerSuccess:
		return "success"
	case MarkerFailure:
		return "failure"
	default:
		return fmt.Sprintf("marker(0x%02x)", uint8(m))
	}
}

// Header is the status/size pair produced by every DUT call.
type Header struct {
	Status Code
	Size   int
}

// ParseWord decodes the DUT result word: status in bits 0..7, output
// byte count in bits 16..31.
func ParseWord(w uint32) Header {
	return Header{
		Status: Code(w & 0xFF),
		Size:   int(w >> 16),
	}
}

// Word encodes h back into a result word.
func (h Header) Word() uint32 {
	return uint32(h.Status) | uint32(h.Size&0xFFFF)<<16
}

func (h Header) String() string {
	return fmt.Sprintf("status=0x%02x size=%d", uint8(h.Status), h.Size)
}

// AnySize disables the output size check of an Expect.
const AnySize = -1

// Expect is the result shape a call must produce.
type Expect struct {
	Status Code
	Size   int
	Marker Marker
}

// Success returns the expectation of a successful call with the given
// output size and marker.
func Success(size int, marker Marker) Expect {
	return Expect{Status: OK, Size: size, Marker: marker}
}

// Rejection returns the expectation of an intentionally rejected call.
func Rejection(code Code) Expect {
	return Expect{Status: code, Size: 1, Marker: MarkerFailure}
}

// MarkerReader reads the marker byte at the output base.
type MarkerReader func() (byte, error)

// Verify checks h (and the marker, when e names one) against e. The
// returned error is a *Failure.
func (e Expect) Verify(step string, h Header, marker MarkerReader) error {
	kind := KindProtocol
	if e.Status != OK {
		kind = KindRejection
	}

	if h.Status != e.Status {
		return &Failure{Kind: kind, Step: step, Check: "status", Observed: h.Status, Expected: e.Status}
	}
	if e.Size != AnySize && h.Size != e.Size {
		return &Failure{Kind: kind, Step: step, Check: "output_size", Observed: h.Size, Expected: e.Size}
	}
	if e.Marker == MarkerNone {
		return nil
	}
	if marker == nil {
		return Transport(step, fmt.Errorf("no output to read marker from"))
	}
	b, err := marker()
	if err != nil {
		return Transport(step, err)
	}
	if Marker(b) != e.Marker {
		return &Failure{Kind: kind, Step: step, Check: "marker", Observed: Marker(b), Expected: e.Marker}
	}
	return nil
}
