// Package rendezvous joins a timed request with the out-of-band notification
// that completes it. There is exactly one setter (the callback listener) and
// one consumer (the benchmark driver).
package rendezvous

import (
	"context"
	"runtime"
	"sync/atomic"
)

// Setter is the side handed to callback listeners.
type Setter interface {
	Set()
}

// Flag is a single-slot rendezvous. Wait consumes the flag, leaving it
// unset for the next attempt. Reset drops a set left behind by an attempt
// that was never waited on.
type Flag interface {
	Setter
	Wait(ctx context.Context) error
	IsSet() bool
	Reset()
}

// New returns a busy-spinning flag when spin is true, otherwise a channel
// backed one.
func New(spin bool) Flag {
	if spin {
		return &Spin{}
	}
	return NewSignal()
}

// Signal parks the waiter on a buffered channel of capacity one. Repeated
// sets before a wait collapse into one.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

func (s *Signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Signal) IsSet() bool {
	return len(s.ch) == 1
}

func (s *Signal) Reset() {
	select {
	case <-s.ch:
	default:
	}
}

// spinCheckEvery bounds how often a spinning waiter looks at its context.
const spinCheckEvery = 1 << 12

// Spin is an atomic boolean polled with compare-and-swap in a tight loop.
// It burns a core while waiting and keeps the wakeup path free of the
// scheduler.
type Spin struct {
	set atomic.Bool
}

func (s *Spin) Set() {
	s.set.Store(true)
}

func (s *Spin) Wait(ctx context.Context) error {
	for i := 1; !s.set.CompareAndSwap(true, false); i++ {
		if i%spinCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			// single-P runtimes would otherwise never run the setter
			runtime.Gosched()
		}
	}
	return nil
}

func (s *Spin) IsSet() bool {
	return s.set.Load()
}

func (s *Spin) Reset() {
	s.set.Store(false)
}
