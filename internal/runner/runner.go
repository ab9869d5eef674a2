// Package runner executes scenarios against a device, one at a time and
// independently of each other, and reports PASSED or FAILED for each.
package runner

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/gookit/color"

	"spectverify/internal/boot"
	"spectverify/internal/dut"
	"spectverify/internal/logging"
	"spectverify/internal/ops"
	"spectverify/internal/protocol"
	"spectverify/internal/region"
	"spectverify/internal/results"
	"spectverify/internal/seed"
	"spectverify/internal/status"
)

// randomValues is how many 256-bit values the DUT random source is
// seeded with before every scenario.
const randomValues = 10

// Options configure a Runner.
type Options struct {
	Device    dut.Device
	Table     *ops.Table
	Constants boot.Constants
	// Seed is the run seed every scenario stream derives from.
	Seed []byte

	Rerandomize  bool
	InSrcRandom  bool
	OutSrcRandom bool

	// Transport and Ledger are optional; a nil Ledger records nothing.
	Transport string
	Ledger    *results.Ledger

	Out    io.Writer
	Logger *logging.Logger
}

// Outcome is the result of one scenario.
type Outcome struct {
	Name     string
	Err      error
	Skipped  bool
	Calls    int
	Duration time.Duration
}

// Passed reports whether the scenario ran and succeeded.
func (o Outcome) Passed() bool {
	return o.Err == nil && !o.Skipped
}

// Summary is the result of a run.
type Summary struct {
	RunID    string
	Seed     string
	Outcomes []Outcome
	Passed   int
	Failed   int
	Skipped  int
}

// ExitCode is 1 if any scenario failed.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Runner executes scenarios.
type Runner struct {
	opts Options
}

// New returns a runner. Table and Constants default to the built-in ones.
func New(opts Options) *Runner {
	if opts.Table == nil {
		opts.Table = ops.MustDefault()
	}
	if opts.Constants == nil {
		opts.Constants = boot.DefaultConstants()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default().WithComponent("runner")
	}
	return &Runner{opts: opts}
}

// Run executes scenarios in order. A failing scenario never stops the
// ones after it; only a cancelled context or a ledger error ends the run
// early.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario, selection string) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString(), Seed: hex.EncodeToString(r.opts.Seed)}
	logger := r.opts.Logger.WithRunID(sum.RunID)
	logger.Info("run started", "seed", sum.Seed, "scenarios", len(scenarios))

	if l := r.opts.Ledger; l != nil {
		err := l.BeginRun(&results.Run{
			ID:        sum.RunID,
			StartedNs: time.Now().UnixNano(),
			Seed:      sum.Seed,
			Transport: r.opts.Transport,
			Selection: selection,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		o := r.runOne(ctx, sc, logger)
		sum.Outcomes = append(sum.Outcomes, o)
		switch {
		case o.Skipped:
			sum.Skipped++
		case o.Err != nil:
			sum.Failed++
		default:
			sum.Passed++
		}
		r.report(o)
		if err := r.record(sum.RunID, o); err != nil {
			return sum, err
		}
	}

	if l := r.opts.Ledger; l != nil {
		if err := l.FinishRun(sum.RunID, time.Now().UnixNano(), sum.Passed, sum.Failed); err != nil {
			return sum, err
		}
	}
	logger.Info("run finished", "passed", sum.Passed, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}

func (r *Runner) env(sc Scenario, dev dut.Device, logger *logging.Logger) *Env {
	rng := seed.NewStream(r.opts.Seed, sc.Name)
	banks := region.Default
	if r.opts.InSrcRandom {
		banks.In = region.InputBanks[rng.Intn(2)]
	}
	if r.opts.OutSrcRandom {
		banks.Out = region.OutputBanks[rng.Intn(2)]
	}
	return &Env{
		Session:     protocol.NewSession(dev, r.opts.Table, logger.Logger),
		Rand:        rng,
		Banks:       banks,
		Rerandomize: r.opts.Rerandomize,
		Constants:   r.opts.Constants,
		Logger:      logger.Logger,
	}
}

func (r *Runner) runOne(ctx context.Context, sc Scenario, runLogger *logging.Logger) (o Outcome) {
	logger := runLogger.WithScenario(sc.Name)
	dev := &countingDevice{Device: r.opts.Device}
	env := r.env(sc, dev, logger)
	start := time.Now()

	o.Name = sc.Name
	defer func() {
		if v := recover(); v != nil {
			logger.Error("scenario panicked", "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
			o.Err = fmt.Errorf("runner: panic: %v", v)
		}
		o.Calls = dev.calls
		o.Duration = time.Since(start)
	}()

	logger.Debug("scenario started", "in", env.Banks.In.String(), "out", env.Banks.Out.String())
	if err := dev.SeedRandom(env.Rand.Values(randomValues)); err != nil {
		o.Err = status.Transport("seed random", err)
		return o
	}

	err := sc.Run(ctx, env)
	if errors.Is(err, ErrSkipped) {
		o.Skipped = true
		logger.Info("scenario skipped")
		return o
	}
	o.Err = err
	if err != nil {
		logFailure(logger, err)
	}
	return o
}

func logFailure(logger *logging.Logger, err error) {
	f, ok := status.AsFailure(err)
	if !ok {
		logger.Error("scenario failed", "error", err)
		return
	}
	logger.Error("scenario failed",
		"kind", f.Kind.String(),
		"step", f.Step,
		"check", f.Check,
		"observed", f.Observed,
		"expected", f.Expected,
		"error", f.Err,
	)
	if logger.Enabled(context.Background(), logging.LevelDebug) {
		logger.Debug("failure detail", "dump", spew.Sdump(f))
	}
}

func (r *Runner) report(o Outcome) {
	switch {
	case o.Skipped:
		fmt.Fprintf(r.opts.Out, "%-36s %s\n", o.Name, color.Yellow.Sprint("SKIPPED"))
	case o.Err != nil:
		fmt.Fprintf(r.opts.Out, "%-36s %s  %v\n", o.Name, color.Red.Sprint("FAILED"), o.Err)
	default:
		fmt.Fprintf(r.opts.Out, "%-36s %s\n", o.Name, color.Green.Sprint("PASSED"))
	}
}

func (r *Runner) record(runID string, o Outcome) error {
	if r.opts.Ledger == nil || o.Skipped {
		return nil
	}
	s := &results.Scenario{
		RunID:      runID,
		Name:       o.Name,
		Passed:     o.Err == nil,
		Calls:      o.Calls,
		DurationNs: o.Duration.Nanoseconds(),
	}
	if o.Err != nil {
		s.Message = o.Err.Error()
		s.Kind = "error"
		if f, ok := status.AsFailure(o.Err); ok {
			s.Kind = f.Kind.String()
			s.Step = f.Step
			s.Check = f.Check
		}
	}
	_, err := r.opts.Ledger.Record(s)
	return err
}
