package status

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Use errors.Is against a
// *Failure to classify it.
var (
	ErrProtocolViolation  = errors.New("status: protocol violation")
	ErrRejectionMismatch  = errors.New("status: expected rejection mismatch")
	ErrInvariantViolation = errors.New("status: invariant violation")
	ErrReferenceMismatch  = errors.New("status: reference mismatch")
	ErrTransport          = errors.New("status: transport failure")
)

// Kind classifies a scenario failure.
type Kind int

const (
	// KindProtocol is an unexpected status, output size or marker.
	KindProtocol Kind = iota
	// KindRejection is an invalid-input scenario that did not produce the
	// specific rejection it was built to provoke.
	KindRejection
	// KindInvariant is a broken masking or erasure invariant.
	KindInvariant
	// KindReference is a mismatch against an independently computed value.
	KindReference
	// KindTransport is a failure to talk to the DUT at all.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindRejection:
		return "rejection"
	case KindInvariant:
		return "invariant"
	case KindReference:
		return "reference"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindProtocol:
		return ErrProtocolViolation
	case KindRejection:
		return ErrRejectionMismatch
	case KindInvariant:
		return ErrInvariantViolation
	case KindReference:
		return ErrReferenceMismatch
	default:
		return ErrTransport
	}
}

// Failure is the discriminated reason a scenario failed: which check,
// at which step, with the observed and expected values.
type Failure struct {
	Kind     Kind
	Step     string
	Check    string
	Observed any
	Expected any
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", f.Kind, f.Step, f.Check, f.Err)
	}
	return fmt.Sprintf("%s: %s: %s: observed %s, expected %s",
		f.Kind, f.Step, f.Check, format(f.Observed), format(f.Expected))
}

// Is reports whether target is the sentinel of f's kind.
func (f *Failure) Is(target error) bool {
	return target == f.Kind.sentinel()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func format(v any) string {
	switch x := v.(type) {
	case Code:
		return fmt.Sprintf("0x%02x", uint8(x))
	case Marker:
		return fmt.Sprintf("0x%02x", uint8(x))
	case []byte:
		return fmt.Sprintf("%x", x)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Protocol reports an unexpected result shape.
func Protocol(step, check string, observed, expected any) *Failure {
	return &Failure{Kind: KindProtocol, Step: step, Check: check, Observed: observed, Expected: expected}
}

// Invariant reports a broken masking or erasure invariant.
func Invariant(step, check string, observed, expected any) *Failure {
	return &Failure{Kind: KindInvariant, Step: step, Check: check, Observed: observed, Expected: expected}
}

// Reference reports a mismatch against a reference computation.
func Reference(step, check string, observed, expected any) *Failure {
	return &Failure{Kind: KindReference, Step: step, Check: check, Observed: observed, Expected: expected}
}

// Transport wraps a device or link error.
func Transport(step string, err error) *Failure {
	return &Failure{Kind: KindTransport, Step: step, Check: "invoke", Err: err}
}

// AsFailure extracts the *Failure carried by err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
