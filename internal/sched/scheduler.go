package sched

import (
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/mkcore-project/mkcore/internal/interfaces"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/waitqueue"
)

var _ waitqueue.Scheduler = (*Scheduler)(nil)

// Scheduler owns every CPU and is the cooperating work-stealing set:
// one conceptual scheduler instance per CPU, all instances cooperating
// via work-stealing. It also implements waitqueue.Scheduler, so any
// WaitQueue can ready threads and register timeouts through it without
// importing this package.
type Scheduler struct {
	cpus  []*CPU
	obs   interfaces.Observer
	clock timeutil.Clock

	stop chan struct{}
}

// Config configures a new Scheduler.
type Config struct {
	NumCPUs  int
	Observer interfaces.Observer
	Clock    timeutil.Clock // defaults to timeutil.RealClock()
}

// New builds a Scheduler with the given number of CPUs, each starting
// with its own idle thread already running.
func New(cfg Config) *Scheduler {
	if cfg.NumCPUs < 1 {
		cfg.NumCPUs = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = defaultClock
	}
	s := &Scheduler{obs: cfg.Observer, clock: clock, stop: make(chan struct{})}
	s.cpus = make([]*CPU, cfg.NumCPUs)
	for i := range s.cpus {
		s.cpus[i] = newCPU(i, s)
	}
	return s
}

func (s *Scheduler) now() int64 { return s.clock.Now().UnixNano() }

// NumCPUs returns the number of CPUs this scheduler manages.
func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// CPU returns the CPU with the given id.
func (s *Scheduler) CPU(id int) *CPU { return s.cpus[id%len(s.cpus)] }

// Start launches each CPU's dispatch loop on its own goroutine.
func (s *Scheduler) Start() {
	for _, cpu := range s.cpus {
		go cpu.Run(s.stop)
	}
}

// Stop signals every CPU's dispatch loop to exit after its current
// thread yields.
func (s *Scheduler) Stop() { close(s.stop) }

// ThreadReady implements waitqueue.Scheduler's readying half (also
// the thread_ready): place t onto the ready queue of the CPU it
// last ran on for affinity, or the least-loaded CPU if it has none yet.
func (s *Scheduler) ThreadReady(t *kthread.Thread) {
	t.Lock()
	t.SetState(kthread.Ready)
	t.SetReadyAt(s.now())
	last := t.LastCPU()
	t.Unlock()

	var cpu *CPU
	if last >= 0 && last < len(s.cpus) {
		cpu = s.cpus[last]
	} else {
		cpu = s.leastLoaded()
	}
	cpu.enqueue(t)
}

// RegisterTimeout implements waitqueue.Scheduler's timeout half.
// Wait-queue timeouts are realized with Go's own timer runtime
// (time.AfterFunc) rather than a hand-rolled per-CPU decrement list:
// callers already supply a time.Duration, so the idiomatic Go
// equivalent of the timeout list is the standard timer
// wheel, not a reimplementation of it.
func (s *Scheduler) RegisterTimeout(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

func (s *Scheduler) leastLoaded() *CPU {
	best := s.cpus[0]
	bestLoad := best.readyCount()
	for _, cpu := range s.cpus[1:] {
		if load := cpu.readyCount(); load < bestLoad {
			best, bestLoad = cpu, load
		}
	}
	return best
}

// Tick advances every CPU's clock by one tick (the external
// timer-interrupt input, fanned out to all CPUs for a synchronized
// simulation tick).
func (s *Scheduler) Tick() {
	for _, cpu := range s.cpus {
		cpu.Tick()
	}
}
