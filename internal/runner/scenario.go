package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"spectverify/internal/boot"
	"spectverify/internal/protocol"
	"spectverify/internal/region"
	"spectverify/internal/seed"
)

// Errors
var (
	ErrNoScenario = errors.New("runner: no scenario matches")
	// ErrSkipped marks a scenario that does not apply to the configured DUT.
	ErrSkipped = errors.New("runner: scenario skipped")
)

// Env is what one scenario runs against. Every scenario gets its own.
type Env struct {
	Session *protocol.Session
	Rand    *seed.Stream
	// Banks is the in/out pair for scenarios that do not fix their own.
	Banks       region.Pair
	Rerandomize bool
	Constants   boot.Constants
	Logger      *slog.Logger
}

// Scenario is one independently judged check.
type Scenario struct {
	Name string
	Run  func(ctx context.Context, env *Env) error
}

// Group returns the part of the name before the slash.
func (s Scenario) Group() string {
	dir, _ := path.Split(s.Name)
	if dir == "" {
		return s.Name
	}
	return dir[:len(dir)-1]
}

// Select returns the scenarios matching any of patterns, in registry
// order. No patterns selects everything. Patterns use path.Match syntax;
// a bare group name selects the whole group.
func Select(all []Scenario, patterns []string) ([]Scenario, error) {
	if len(patterns) == 0 {
		return all, nil
	}
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("runner: pattern %q: %w", p, err)
		}
	}

	var out []Scenario
	for _, s := range all {
		for _, p := range patterns {
			if ok, _ := path.Match(p, s.Name); ok || p == s.Group() {
				out = append(out, s)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoScenario, patterns)
	}
	return out, nil
}

// Groups returns the distinct group names of scenarios, sorted.
func Groups(all []Scenario) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range all {
		if g := s.Group(); !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}
