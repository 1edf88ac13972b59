package rendezvous

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func flags() map[string]func() Flag {
	return map[string]func() Flag{
		"signal": func() Flag { return New(false) },
		"spin":   func() Flag { return New(true) },
	}
}

func TestWaitConsumes(t *testing.T) {
	for name, mk := range flags() {
		t.Run(name, func(t *testing.T) {
			f := mk()
			assert.False(t, f.IsSet())

			f.Set()
			assert.True(t, f.IsSet())

			assert.NoError(t, f.Wait(context.Background()))
			assert.False(t, f.IsSet())
		})
	}
}

func TestWaitForConcurrentSet(t *testing.T) {
	for name, mk := range flags() {
		t.Run(name, func(t *testing.T) {
			f := mk()
			go func() {
				time.Sleep(time.Millisecond)
				f.Set()
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			assert.NoError(t, f.Wait(ctx))
			assert.False(t, f.IsSet())
		})
	}
}

func TestWaitWithoutSetBlocks(t *testing.T) {
	for name, mk := range flags() {
		t.Run(name, func(t *testing.T) {
			f := mk()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
		})
	}
}

func TestRepeatedSetsCollapse(t *testing.T) {
	for name, mk := range flags() {
		t.Run(name, func(t *testing.T) {
			f := mk()
			f.Set()
			f.Set()

			assert.NoError(t, f.Wait(context.Background()))
			assert.False(t, f.IsSet())
		})
	}
}

func TestReset(t *testing.T) {
	for name, mk := range flags() {
		t.Run(name, func(t *testing.T) {
			f := mk()
			f.Reset()
			assert.False(t, f.IsSet())

			f.Set()
			f.Reset()
			assert.False(t, f.IsSet())

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded, "a reset flag must not satisfy a wait")
		})
	}
}
