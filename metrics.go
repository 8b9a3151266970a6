package mkcore

import (
	"sync/atomic"
	"time"

	"github.com/mkcore-project/mkcore/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing. Used for scheduler
// dispatch latency (thread_ready → first dispatch) and IPC call latency.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks kernel-wide scheduling and IPC statistics.
type Metrics struct {
	// Scheduler counters
	Dispatches     atomic.Uint64
	ContextSwitch  atomic.Uint64
	StealAttempts  atomic.Uint64
	StealSuccesses atomic.Uint64
	Preemptions    atomic.Uint64

	// IPC counters
	CallsCompleted atomic.Uint64
	CallErrors     atomic.Uint64

	// Futex counters
	FutexWakes atomic.Uint64

	// Ready queue depth statistics
	ReadyQueueDepthTotal atomic.Uint64
	ReadyQueueDepthCount atomic.Uint64
	MaxReadyQueueDepth   atomic.Uint32

	// Dispatch/call latency
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime stamped now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordDispatch records a thread being dispatched onto cpuID at the
// given priority level.
func (m *Metrics) RecordDispatch(cpuID int, priority int) {
	m.Dispatches.Add(1)
	m.ContextSwitch.Add(1)
}

// RecordWakeup records a wait-queue wakeup with its dispatch latency.
func (m *Metrics) RecordWakeup(latencyNs uint64) {
	m.recordLatency(latencyNs)
}

// RecordSteal records one successful work steal. It increments both
// StealAttempts and StealSuccesses, since the scheduler reports only
// steals that took a thread, so the two counters stay equal.
func (m *Metrics) RecordSteal(fromCPU, toCPU int) {
	m.StealAttempts.Add(1)
	m.StealSuccesses.Add(1)
}

// RecordCall records an IPC call completing.
func (m *Metrics) RecordCall(method uint32, latencyNs uint64, success bool) {
	m.CallsCompleted.Add(1)
	if !success {
		m.CallErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordFutexWake records a futex_wake call waking woken sleepers.
func (m *Metrics) RecordFutexWake(woken int) {
	m.FutexWakes.Add(uint64(woken))
}

// RecordReadyQueueDepth records the instantaneous depth of a CPU's ready
// queue at a given priority level.
func (m *Metrics) RecordReadyQueueDepth(cpuID int, priority int, depth int) {
	m.ReadyQueueDepthTotal.Add(uint64(depth))
	m.ReadyQueueDepthCount.Add(1)

	for {
		current := m.MaxReadyQueueDepth.Load()
		if uint32(depth) <= current {
			break
		}
		if m.MaxReadyQueueDepth.CompareAndSwap(current, uint32(depth)) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop stamps StopTime, marking the kernel as shut down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived
// statistics computed.
type MetricsSnapshot struct {
	Dispatches     uint64
	ContextSwitch  uint64
	StealAttempts  uint64
	StealSuccesses uint64
	Preemptions    uint64
	CallsCompleted uint64
	CallErrors     uint64
	FutexWakes     uint64

	AvgReadyQueueDepth float64
	MaxReadyQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	DispatchRate float64 // dispatches per second
	CallRate     float64 // calls per second
	CallErrorPct float64
}

// Snapshot creates a point-in-time snapshot of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Dispatches:         m.Dispatches.Load(),
		ContextSwitch:      m.ContextSwitch.Load(),
		StealAttempts:      m.StealAttempts.Load(),
		StealSuccesses:     m.StealSuccesses.Load(),
		Preemptions:        m.Preemptions.Load(),
		CallsCompleted:     m.CallsCompleted.Load(),
		CallErrors:         m.CallErrors.Load(),
		FutexWakes:         m.FutexWakes.Load(),
		MaxReadyQueueDepth: m.MaxReadyQueueDepth.Load(),
	}

	depthTotal := m.ReadyQueueDepthTotal.Load()
	depthCount := m.ReadyQueueDepthCount.Load()
	if depthCount > 0 {
		snap.AvgReadyQueueDepth = float64(depthTotal) / float64(depthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.DispatchRate = float64(snap.Dispatches) / uptimeSeconds
		snap.CallRate = float64(snap.CallsCompleted) / uptimeSeconds
	}

	if snap.CallsCompleted > 0 {
		snap.CallErrorPct = float64(snap.CallErrors) / float64(snap.CallsCompleted) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, restamping StartTime. Useful for tests that
// want a clean metrics window.
func (m *Metrics) Reset() {
	m.Dispatches.Store(0)
	m.ContextSwitch.Store(0)
	m.StealAttempts.Store(0)
	m.StealSuccesses.Store(0)
	m.Preemptions.Store(0)
	m.CallsCompleted.Store(0)
	m.CallErrors.Store(0)
	m.FutexWakes.Store(0)
	m.ReadyQueueDepthTotal.Store(0)
	m.ReadyQueueDepthCount.Store(0)
	m.MaxReadyQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(int, int)             {}
func (NoOpObserver) ObserveWakeup(uint64)                 {}
func (NoOpObserver) ObserveSteal(int, int)                {}
func (NoOpObserver) ObserveCall(uint32, uint64, bool)     {}
func (NoOpObserver) ObserveFutexWake(int)                 {}
func (NoOpObserver) ObserveReadyQueueDepth(int, int, int) {}

// MetricsObserver implements interfaces.Observer by recording into a
// *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDispatch(cpuID int, priority int) {
	o.metrics.RecordDispatch(cpuID, priority)
}

func (o *MetricsObserver) ObserveWakeup(latencyNs uint64) {
	o.metrics.RecordWakeup(latencyNs)
}

func (o *MetricsObserver) ObserveSteal(fromCPU, toCPU int) {
	o.metrics.RecordSteal(fromCPU, toCPU)
}

func (o *MetricsObserver) ObserveCall(method uint32, latencyNs uint64, success bool) {
	o.metrics.RecordCall(method, latencyNs, success)
}

func (o *MetricsObserver) ObserveFutexWake(woken int) {
	o.metrics.RecordFutexWake(woken)
}

func (o *MetricsObserver) ObserveReadyQueueDepth(cpuID int, priority int, depth int) {
	o.metrics.RecordReadyQueueDepth(cpuID, priority, depth)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
