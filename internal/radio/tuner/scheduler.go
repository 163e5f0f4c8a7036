package tuner

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
)

// taskMsg is one scheduled unit of work: a closure, the delay to wait
// before running it, and the generation it was stamped with.
type taskMsg struct {
	fn         func()
	delay      time.Duration
	generation uint64
}

// Scheduler is the single-threaded deferred-task runner backing every
// Tuner operation: configure/tune/seek/step all funnel through here,
// and scheduling a new one discards whatever was previously pending,
// so at most one task is ever queued. A single goroutine owns one
// timer and compares generation stamps itself rather than juggling a
// pool of cancellable timers.
type Scheduler struct {
	log *log.Logger

	scheduleCh chan taskMsg
	cancelCh   chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}

	mu         sync.Mutex
	generation uint64
}

// NewScheduler starts the worker goroutine and returns a ready Scheduler.
// A nil logger discards everything.
func NewScheduler(l *log.Logger) *Scheduler {
	if l == nil {
		l = logging.Discard()
	}
	s := &Scheduler{
		log:        l,
		scheduleCh: make(chan taskMsg),
		cancelCh:   make(chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time
	var pending taskMsg
	havePending := false

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case msg := <-s.scheduleCh:
			stopTimer()
			pending = msg
			havePending = true
			timer = time.NewTimer(msg.delay)
			timerC = timer.C

		case <-s.cancelCh:
			stopTimer()
			havePending = false

		case <-timerC:
			timerC = nil
			if havePending {
				s.mu.Lock()
				gen := s.generation
				s.mu.Unlock()
				if pending.generation == gen {
					pending.fn()
				}
				havePending = false
			}

		case <-s.stopCh:
			return
		}
	}
}

// Schedule enqueues fn to run after delay. It bumps the generation
// first, so this call alone invalidates any task scheduled before it
// that hasn't fired yet — the caller never needs a separate Cancel.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	select {
	case s.scheduleCh <- taskMsg{fn: fn, delay: delay, generation: gen}:
	case <-s.stopCh:
	}
}

// Cancel drops any task scheduled but not yet run, without scheduling a
// replacement.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	select {
	case s.cancelCh <- struct{}{}:
	case <-s.stopCh:
	}
}

// Close stops the worker goroutine. Safe to call once; a Schedule or
// Cancel call racing with Close simply becomes a no-op.
func (s *Scheduler) Close() {
	select {
	case <-s.stopCh:
		return
	default:
	}
	close(s.stopCh)
	<-s.doneCh
}
