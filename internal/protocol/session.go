package protocol

import (
	"context"
	"log/slog"
	"math/big"

	"spectverify/internal/dut"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/region"
	"spectverify/internal/status"
)

// Step is one DUT call of a scenario.
type Step struct {
	Kind ops.Kind
	// Label names the step in logs and failures. Defaults to the kind name.
	Label   string
	Command *dut.Command
	Banks   region.Pair
	// Len is the payload length. Zero selects the descriptor's fixed
	// payload length.
	Len int
	// Expect overrides the kind's success shape.
	Expect *status.Expect
	// Random, when set, is seeded into the DUT before the call.
	Random []*big.Int
}

func (st Step) label() string {
	if st.Label != "" {
		return st.Label
	}
	return st.Kind.String()
}

// Session executes steps against one device. Not safe for concurrent use.
type Session struct {
	Device dut.Device
	Table  *ops.Table
	Logger *slog.Logger
}

// NewSession returns a session. A nil logger logs through the default
// logger under the protocol component.
func NewSession(dev dut.Device, table *ops.Table, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Default().WithComponent("protocol").Logger
	}
	return &Session{Device: dev, Table: table, Logger: logger}
}

// Do runs st against ch and returns the advanced chain. Standalone kinds
// leave ch untouched. On any failure the returned chain is Terminal and
// the error is a *status.Failure.
func (s *Session) Do(ctx context.Context, ch Chain, st Step) (Chain, *dut.Result, error) {
	label := st.label()
	role := st.Kind.Role()

	if err := admit(ch, role); err != nil {
		return ch, nil, &status.Failure{Kind: status.KindProtocol, Step: label, Check: "chain", Err: err}
	}

	d := s.Table.Get(st.Kind)
	call := dut.Call{
		Opcode: d.Opcode,
		In:     st.Banks.In,
		Out:    st.Banks.Out,
		Len:    st.Len,
	}
	if call.Len == 0 {
		call.Len = d.Payload
	}
	if role == ops.Continue || role == ops.Final {
		call.Context = ch.token
	}

	cmd := st.Command
	if cmd == nil {
		cmd = dut.NewCommand()
	}

	s.Logger.Debug("dut call", "step", label, "op", d.Name, "in", call.In.String(), "out", call.Out.String(), "len", call.Len)

	if st.Random != nil {
		if err := s.Device.SeedRandom(st.Random); err != nil {
			return s.fail(ch, role, status.Transport(label, err))
		}
	}

	res, err := s.Device.Invoke(ctx, cmd, call)
	if err != nil {
		return s.fail(ch, role, status.Transport(label, err))
	}

	s.Logger.Debug("dut result", "step", label, "status", res.Header.Status.String(), "size", res.Header.Size)

	expect := st.Kind.Expect()
	if st.Expect != nil {
		expect = *st.Expect
	}
	if err := expect.Verify(label, res.Header, res.Marker()); err != nil {
		return s.failWith(ch, role, res, err)
	}

	switch role {
	case ops.Standalone:
		return ch, res, nil
	case ops.Final:
		return ch.finish(), res, nil
	}

	// An expected rejection ends the chain before it starts.
	if expect.Status != status.OK {
		return ch.abort(), res, nil
	}
	if res.Context == nil {
		f := &status.Failure{Kind: status.KindProtocol, Step: label, Check: "context", Err: ErrMissingContext}
		return s.failWith(ch, role, res, f)
	}
	return ch.activate(res.Context), res, nil
}

func admit(ch Chain, role ops.Role) error {
	switch role {
	case ops.Standalone:
		return nil
	case ops.Start:
		switch ch.state {
		case Terminal:
			return ErrChainTerminated
		case Active:
			return ErrChainActive
		}
	default:
		switch ch.state {
		case Terminal:
			return ErrChainTerminated
		case Uninitialized:
			return ErrChainNotStarted
		}
	}
	return nil
}

func (s *Session) fail(ch Chain, role ops.Role, err error) (Chain, *dut.Result, error) {
	return s.failWith(ch, role, nil, err)
}

func (s *Session) failWith(ch Chain, role ops.Role, res *dut.Result, err error) (Chain, *dut.Result, error) {
	attrs := []any{"error", err}
	if f, ok := status.AsFailure(err); ok {
		attrs = append(attrs, "kind", f.Kind.String(), "step", f.Step, "check", f.Check)
	}
	s.Logger.Error("dut call failed", attrs...)

	if role != ops.Standalone {
		ch = ch.abort()
	}
	return ch, res, err
}
