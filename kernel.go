// Package mkcore boots and drives the simulated kernel core: scheduler,
// task/thread lifecycle, and the syscall dispatch surface, all running
// as goroutines in a single process rather than on real hardware.
package mkcore

import (
	"sync"

	"github.com/mkcore-project/mkcore/internal/abi"
	"github.com/mkcore-project/mkcore/internal/addrspace"
	"github.com/mkcore-project/mkcore/internal/clocksrc"
	"github.com/mkcore-project/mkcore/internal/interfaces"
	"github.com/mkcore-project/mkcore/internal/ipc"
	"github.com/mkcore-project/mkcore/internal/futex"
	"github.com/mkcore-project/mkcore/internal/kthread"
	"github.com/mkcore-project/mkcore/internal/ktask"
	"github.com/mkcore-project/mkcore/internal/sched"
)

// Config configures a new Kernel at boot time.
type Config struct {
	// NumCPUs is the number of simulated CPUs the scheduler runs. Zero
	// means one.
	NumCPUs int

	// Clock drives the simulated tick; nil means clocksrc.NewPlatform(),
	// the same real-vs-injectable split internal/sched.Config takes for
	// its own wakeup-latency clock.
	Clock clocksrc.Source

	// Observer receives scheduling/IPC/futex events; nil means a
	// MetricsObserver wrapping a fresh Metrics instance.
	Observer interfaces.Observer
}

// Kernel is the boot handle for one running simulation: it owns the
// scheduler, the syscall Runtime, the clock source whose ticks drive
// the scheduler, and the metrics the default Observer feeds (a
// caller-supplied Config.Observer does not feed them).
type Kernel struct {
	sched   *sched.Scheduler
	rt      *abi.Runtime
	clock   clocksrc.Source
	metrics *Metrics

	stop     chan struct{}
	stopOnce sync.Once
	tickDone chan struct{}
}

// Boot starts a Kernel: it brings up every CPU's dispatch loop, then
// starts the goroutine feeding clock ticks into the scheduler, the
// same "bring every worker up, then declare ready" ordering any
// multi-worker server boot follows.
func Boot(cfg Config) (*Kernel, error) {
	if cfg.NumCPUs < 1 {
		cfg.NumCPUs = 1
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	clock := cfg.Clock
	if clock == nil {
		c, err := clocksrc.NewPlatform()
		if err != nil {
			return nil, WrapError("kernel_boot", err)
		}
		clock = c
	}

	s := sched.New(sched.Config{NumCPUs: cfg.NumCPUs, Observer: observer})
	s.Start()

	k := &Kernel{
		sched:    s,
		rt:       abi.NewRuntime(s, observer),
		clock:    clock,
		metrics:  metrics,
		stop:     make(chan struct{}),
		tickDone: make(chan struct{}),
	}
	go k.tickLoop()
	return k, nil
}

// tickLoop feeds every clock.Tick into the scheduler until Shutdown
// closes the clock or stop is signaled — a single consumer draining
// one channel, same as any completion-queue drain loop.
func (k *Kernel) tickLoop() {
	defer close(k.tickDone)
	ticks := k.clock.Ticks()
	for {
		select {
		case _, ok := <-ticks:
			if !ok {
				return
			}
			k.sched.Tick()
		case <-k.stop:
			return
		}
	}
}

// NumCPUs returns the number of simulated CPUs this Kernel is running.
func (k *Kernel) NumCPUs() int { return k.sched.NumCPUs() }

// Metrics returns the kernel-wide metrics counters.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the kernel's
// metrics.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot { return k.metrics.Snapshot() }

// CreateTask allocates a new task (task_create) with its answerbox,
// phone table, and futex table wired in: whatever constructs a task's
// IPC/futex endpoints does so here, once, at creation time.
func (k *Kernel) CreateTask(name string, caps ktask.CapSet, as addrspace.AddressSpace) *ktask.Task {
	task := ktask.Create(ktask.Config{Name: name, AddrSpace: as, Caps: caps})
	task.SetAnswerbox(ipc.NewAnswerbox(task))
	task.SetPhoneTable(ipc.NewPhoneTable())
	task.SetFutexTable(futex.NewTable())
	return task
}

// SpawnThread creates a thread under task (thread_create), attaches
// it, starts its backing goroutine, and readies it onto the
// scheduler. A background watcher detaches the thread from its task the
// moment its entry function returns, so task_destroy's drain condition
// can observe the thread count reaching zero.
func (k *Kernel) SpawnThread(task *ktask.Task, cfg kthread.Config) (*kthread.Thread, error) {
	cfg.Task = task
	th, err := kthread.Create(cfg)
	if err != nil {
		return nil, err
	}
	if err := task.AttachThread(th); err != nil {
		return nil, err
	}

	go func() {
		<-th.Exited()
		task.DetachThread(th)
	}()

	th.Start()
	k.sched.ThreadReady(th)
	return th, nil
}

// Dispatch runs one syscall through the kernel's shared Runtime: self
// and task are the calling thread and its owner, as is that task's
// address space.
func (k *Kernel) Dispatch(self *kthread.Thread, task *ktask.Task, as addrspace.AddressSpace, sc abi.Syscall, fast abi.FastArgs, slow abi.SlowArgs) (abi.Result, error) {
	return abi.Dispatch(k.rt, self, task, as, sc, fast, slow)
}

// DestroyTask tears down task's answerbox and marks it Zombie
// (task_destroy), equivalent to Dispatch(..., abi.SysTaskDestroy, ...)
// but usable without a calling thread/self of its own (e.g. a
// supervisor reaping a misbehaving task).
func (k *Kernel) DestroyTask(task *ktask.Task) {
	if box, ok := task.Answerbox().(*ipc.Answerbox); ok && box != nil {
		box.Teardown(k.sched)
	}
	task.Destroy()
}

// FindTask looks up a task by ID (task_find): a weak lookup against
// the process-wide task registry, reporting false once the task has
// been fully reaped.
func (k *Kernel) FindTask(id uint64) (*ktask.Task, bool) {
	return ktask.Find(id)
}

// Shutdown stops the tick loop, every CPU's dispatch loop, and the
// clock source, and stamps metrics.StopTime. Idempotent.
func (k *Kernel) Shutdown() {
	k.stopOnce.Do(func() {
		close(k.stop)
		<-k.tickDone
		k.sched.Stop()
		_ = k.clock.Close()
		k.metrics.Stop()
	})
}
