// Package commandloop periodically transmits the operator's latest command.
//
// Ticks are single-flight: a tick that fires while the previous send is still
// outstanding is dropped, never queued. Any validation or transmission
// failure stops the loop and is reported once; restarting is the caller's
// decision.
package commandloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/wire"
)

// DefaultInterval is the command cadence used when none is configured.
const DefaultInterval = 50 * time.Millisecond

// ErrInvalidCommand is reported when the latest command contains NaN.
var ErrInvalidCommand = errors.New("invalid command")

// CommandSource returns the freshest operator command.
type CommandSource func() wire.Command

// Sender transmits one encoded command frame. The frame is reused by the
// next tick, so Send must not retain p after it returns.
type Sender interface {
	Send(ctx context.Context, p []byte) error
}

// ErrorHandler receives the error that terminated the loop.
type ErrorHandler func(err error)

// Stats counts loop activity since construction.
type Stats struct {
	Sent    int64 `json:"sent"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Scheduler drives the periodic transmission.
type Scheduler struct {
	sender   Sender
	source   CommandSource
	onError  ErrorHandler
	interval time.Duration
	logger   customlog.Logger

	mu      sync.Mutex
	current *run

	sent    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// run is the state of one Start..Stop span.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	busy    atomic.Bool
	stopped bool
	// inflight is held by the tick currently sending
	inflight sync.WaitGroup
	// frame is owned by the tick holding busy
	frame []byte
}

// New creates a stopped scheduler. A non-positive interval selects
// DefaultInterval.
func New(sender Sender, source CommandSource, onError ErrorHandler, interval time.Duration, logger customlog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Scheduler{
		sender:   sender,
		source:   source,
		onError:  onError,
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start begins ticking. Calling Start on a running loop does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: ctx, cancel: cancel, done: make(chan struct{}), frame: make([]byte, 0, wire.FrameSize)}
	s.current = r

	s.logger.Infof("Command loop started (interval=%s)", s.interval)
	go s.loop(r)
}

// Running reports whether the loop is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Stop cancels the timer and returns once no further tick can start.
// An in-flight send is not interrupted. Stop is idempotent and safe on a
// loop that never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	r := s.current
	s.current = nil
	if r != nil {
		r.stopped = true
		r.cancel()
	}
	s.mu.Unlock()

	if r == nil {
		return
	}
	<-r.done
	r.busy.Store(false)
	s.logger.Infof("Command loop stopped")
}

// StopAndWait stops the loop and then waits for an in-flight send to resolve
// or ctx to end, whichever comes first.
func (s *Scheduler) StopAndWait(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()

	s.Stop()
	if r == nil {
		return nil
	}

	idle := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("in-flight send still pending: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Skipped: s.skipped.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *Scheduler) loop(r *run) {
	defer close(r.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if r.ctx.Err() != nil {
				return
			}
			if !r.busy.CompareAndSwap(false, true) {
				s.skipped.Add(1)
				s.logger.Debugf("Command loop tick skipped: previous send still in flight")
				continue
			}
			r.inflight.Add(1)
			go s.tick(r)
		}
	}
}

func (s *Scheduler) tick(r *run) {
	defer r.inflight.Done()
	defer r.busy.Store(false)

	if r.ctx.Err() != nil {
		return
	}

	cmd := s.source()
	if cmd.HasNaN() {
		s.fail(r, fmt.Errorf("%w: NaN in command (vx=%v vy=%v w=%v)", ErrInvalidCommand, cmd.Vx, cmd.Vy, cmd.W))
		return
	}

	r.frame = wire.AppendCommand(r.frame[:0], cmd)
	if err := s.sender.Send(r.ctx, r.frame); err != nil {
		s.fail(r, err)
		return
	}
	s.sent.Add(1)
}

// fail terminates r and reports err, unless r was already stopped.
func (s *Scheduler) fail(r *run, err error) {
	s.mu.Lock()
	if r.stopped {
		s.mu.Unlock()
		s.logger.Debugf("Command loop error after stop ignored: %v", err)
		return
	}
	r.stopped = true
	r.cancel()
	if s.current == r {
		s.current = nil
	}
	s.mu.Unlock()

	s.failed.Add(1)
	s.logger.Errorf("Command loop terminated: %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}
