package sessionbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"nothing.com/sessionbench/fixture"
	"nothing.com/sessionbench/listener"
	"nothing.com/sessionbench/rendezvous"
	"nothing.com/sessionbench/transport"
)

const (
	defaultMaxRetries = 10
	defaultBackoff    = 10 * time.Millisecond
	defaultMaxBackoff = time.Second
)

var (
	ErrRendezvousTimeout    = errors.New("rendezvous timed out")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
)

type Config struct {
	Iterations int
	// WarmUp is slept once after the listener started, before the first
	// iteration.
	WarmUp time.Duration
	// WaitTimeout bounds each rendezvous. Zero waits until ctx is done.
	WaitTimeout time.Duration
	// MaxRetries is the number of consecutive failed attempts tolerated
	// within one iteration. Zero means the default; negative means no limit.
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (cfg *Config) setupDefaults() *Config {
	c := *cfg
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = max(defaultMaxBackoff, c.Backoff)
	}
	return &c
}

type Benchmark struct {
	cfg      *Config
	adapter  transport.Adapter
	listener listener.Listener
	flag     rendezvous.Flag
	req      *fixture.Request
	event    string
	out      io.Writer

	retries int
}

func NewBenchmark(cfg *Config, adapter transport.Adapter, lis listener.Listener, flag rendezvous.Flag, req *fixture.Request, out io.Writer) (*Benchmark, error) {
	event, err := transport.Event(adapter.Name())
	if err != nil {
		return nil, err
	}
	return &Benchmark{
		cfg:      cfg.setupDefaults(),
		adapter:  adapter,
		listener: lis,
		flag:     flag,
		req:      req,
		event:    event,
		out:      out,
	}, nil
}

// Run starts the listener and performs the configured number of iterations,
// writing one sample per completed rendezvous. Failed attempts are retried
// with backoff and never produce a sample. The flag is cleared before every
// attempt, so a notification answering a failed attempt cannot complete the
// retry that follows it.
func (b *Benchmark) Run(ctx context.Context) error {
	if err := b.listener.Start(ctx); err != nil {
		return fmt.Errorf("start callback listener: %w", err)
	}
	if err := sleep(ctx, b.cfg.WarmUp); err != nil {
		return err
	}

	logger := log.WithField("transport", b.adapter.Name())
	logger.WithField("iterations", b.cfg.Iterations).Info("benchmark started")

	failures := 0
	for done := 0; done < b.cfg.Iterations; {
		// a failed attempt may still have reached the peer
		b.flag.Reset()
		start := time.Now()
		if err := b.adapter.Attempt(ctx, b.req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			b.retries++
			if b.cfg.MaxRetries > 0 && failures > b.cfg.MaxRetries {
				return fmt.Errorf("%w: iteration %d: %w", ErrRetryBudgetExhausted, done, err)
			}
			logger.WithError(err).WithField("retry", failures).Warn("attempt failed")
			if err := sleep(ctx, b.backoff(failures)); err != nil {
				return err
			}
			continue
		}

		if err := b.wait(ctx); err != nil {
			return fmt.Errorf("iteration %d: %w", done, err)
		}
		sample := Sample{Event: b.event, Transport: b.adapter.Name(), Elapsed: time.Since(start)}
		if _, err := io.WriteString(b.out, sample.String()+"\n"); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		failures = 0
		done++
	}

	logger.WithField("retries", b.retries).Info("benchmark finished")
	return nil
}

// Retries is the number of failed attempts so far.
func (b *Benchmark) Retries() int {
	return b.retries
}

func (b *Benchmark) wait(ctx context.Context) error {
	waitCtx := ctx
	if b.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.cfg.WaitTimeout)
		defer cancel()
	}
	if err := b.flag.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrRendezvousTimeout, b.cfg.WaitTimeout)
	}
	return nil
}

// backoff doubles per consecutive failure up to MaxBackoff.
func (b *Benchmark) backoff(failures int) time.Duration {
	d := b.cfg.Backoff
	for i := 1; i < failures && d < b.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, b.cfg.MaxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sample is one measured iteration, printed as <event>,<transport>,<ns>,ns.
type Sample struct {
	Event     string
	Transport string
	Elapsed   time.Duration
}

func (s Sample) String() string {
	return fmt.Sprintf("%s,%s,%d,ns", s.Event, s.Transport, s.Elapsed.Nanoseconds())
}

func ParseSample(line string) (Sample, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 4 || fields[3] != "ns" {
		return Sample{}, fmt.Errorf("malformed sample %q", line)
	}
	ns, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || ns < 0 {
		return Sample{}, fmt.Errorf("malformed sample %q: bad duration", line)
	}
	return Sample{Event: fields[0], Transport: fields[1], Elapsed: time.Duration(ns)}, nil
}
