// Package protocol threads continuation contexts through chained DUT
// calls.
//
// A Chain is a plain value: Uninitialized, then Active with the token of
// the last call, then Terminal. Session.Do is the only way to advance it.
// A chain that saw a non-zero status or a failed check is Terminal and
// refuses further calls.
package protocol

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrChainTerminated = errors.New("protocol: call on terminated chain")
	ErrChainNotStarted = errors.New("protocol: continuation on uninitialized chain")
	ErrChainActive     = errors.New("protocol: chain already started")
	ErrMissingContext  = errors.New("protocol: call returned no continuation context")
)

// State is the chain state.
type State int

const (
	Uninitialized State = iota
	Active
	Terminal
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Chain is the continuation state of one logical operation.
type Chain struct {
	state   State
	token   []byte
	aborted bool
}

// State returns the chain state.
func (c Chain) State() State {
	return c.state
}

// Token returns the current continuation token, nil unless Active.
func (c Chain) Token() []byte {
	return c.token
}

// Aborted reports whether the chain ended without reaching its final call.
func (c Chain) Aborted() bool {
	return c.aborted
}

func (c Chain) String() string {
	if c.aborted {
		return "terminal (aborted)"
	}
	return c.state.String()
}

func (c Chain) activate(token []byte) Chain {
	return Chain{state: Active, token: token}
}

func (c Chain) finish() Chain {
	return Chain{state: Terminal}
}

func (c Chain) abort() Chain {
	return Chain{state: Terminal, aborted: true}
}
