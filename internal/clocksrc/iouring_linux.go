//go:build linux

package clocksrc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/mkcore-project/mkcore/internal/constants"
)

// ringEntries is the submission/completion queue depth for the tick
// ring; one IORING_OP_TIMEOUT is kept in flight at a time, so a small
// ring is plenty.
const ringEntries = 8

// ioUringSource drives ticks from a real IORING_OP_TIMEOUT completion
// loop built with `giouring`, the scheduling-clock analog of an I/O
// completion loop: each completion rearms the next timeout rather than
// completing a submitted read/write.
type ioUringSource struct {
	ring     *giouring.Ring
	interval time.Duration

	ticks chan Tick
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
	stopped   chan struct{}
}

// NewPlatform builds the Linux Source backed by io_uring.
func NewPlatform() (Source, error) {
	return newIOUringSource(constants.DefaultTickInterval)
}

func newIOUringSource(interval time.Duration) (*ioUringSource, error) {
	ring, err := giouring.CreateRing(ringEntries)
	if err != nil {
		return nil, fmt.Errorf("clocksrc: create io_uring: %w", err)
	}

	s := &ioUringSource{
		ring:     ring,
		interval: interval,
		ticks:    make(chan Tick),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *ioUringSource) armTimeout() error {
	sqe := s.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("clocksrc: submission queue full")
	}
	ts := unix.NsecToTimespec(s.interval.Nanoseconds())
	sqe.PrepareTimeout(&ts, 0, 0)
	sqe.UserData = 1
	return nil
}

func (s *ioUringSource) run() {
	defer close(s.stopped)
	defer s.ring.QueueExit()

	for {
		if err := s.armTimeout(); err != nil {
			return
		}
		if _, err := s.ring.SubmitAndWait(1); err != nil {
			return
		}

		cqe, err := s.ring.WaitCQE()
		if err != nil {
			return
		}
		s.ring.CQESeen(cqe)

		select {
		case s.ticks <- Tick{At: time.Now()}:
		case <-s.done:
			return
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// Ticks implements Source.
func (s *ioUringSource) Ticks() <-chan Tick { return s.ticks }

// Close implements Source.
func (s *ioUringSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
		close(s.ticks)
	})
	return s.closeErr
}

var _ Source = (*ioUringSource)(nil)
