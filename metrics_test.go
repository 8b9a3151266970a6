package mkcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsDispatchAndSteal(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	require.Zero(t, snap.Dispatches)

	m.RecordDispatch(0, 3)
	m.RecordDispatch(1, 0)
	m.RecordSteal(0, 1)

	snap = m.Snapshot()
	require.EqualValues(t, 2, snap.Dispatches)
	require.EqualValues(t, 2, snap.ContextSwitch)
	require.EqualValues(t, 1, snap.StealAttempts)
	require.EqualValues(t, 1, snap.StealSuccesses)
}

func TestMetricsCalls(t *testing.T) {
	m := NewMetrics()

	m.RecordCall(42, 1_000_000, true)
	m.RecordCall(43, 2_000_000, false)

	snap := m.Snapshot()
	require.EqualValues(t, 2, snap.CallsCompleted)
	require.EqualValues(t, 1, snap.CallErrors)
	require.InDelta(t, 50.0, snap.CallErrorPct, 0.1)
}

func TestMetricsReadyQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordReadyQueueDepth(0, 0, 10)
	m.RecordReadyQueueDepth(0, 0, 20)
	m.RecordReadyQueueDepth(0, 0, 15)

	snap := m.Snapshot()
	require.EqualValues(t, 20, snap.MaxReadyQueueDepth)
	require.InDelta(t, float64(10+20+15)/3.0, snap.AvgReadyQueueDepth, 0.1)
}

func TestMetricsLatencyAverage(t *testing.T) {
	m := NewMetrics()

	m.RecordWakeup(1_000_000)
	m.RecordCall(1, 2_000_000, true)

	snap := m.Snapshot()
	require.EqualValues(t, 1_500_000, snap.AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)
	snap := m.Snapshot()
	require.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)
	snap2 := m.Snapshot()
	require.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordDispatch(0, 0)
	m.RecordReadyQueueDepth(0, 0, 10)

	snap := m.Snapshot()
	require.NotZero(t, snap.Dispatches)

	m.Reset()

	snap = m.Snapshot()
	require.Zero(t, snap.Dispatches)
	require.Zero(t, snap.MaxReadyQueueDepth)
}

func TestObserverImplementations(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveDispatch(0, 0)
	observer.ObserveWakeup(100)
	observer.ObserveSteal(0, 1)
	observer.ObserveCall(1, 100, true)
	observer.ObserveFutexWake(1)
	observer.ObserveReadyQueueDepth(0, 0, 1)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveDispatch(0, 3)
	metricsObserver.ObserveCall(42, 1000, true)

	snap := m.Snapshot()
	require.EqualValues(t, 1, snap.Dispatches)
	require.EqualValues(t, 1, snap.CallsCompleted)
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordDispatch(0, 0)
	m.RecordCall(1, 1000, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()
	require.InDelta(t, 1.0, snap.DispatchRate, 0.1)
	require.InDelta(t, 1.0, snap.CallRate, 0.1)
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordWakeup(500_000)
	}
	for i := 0; i < 49; i++ {
		m.RecordCall(1, 5_000_000, true)
	}
	m.RecordCall(1, 50_000_000, true)

	snap := m.Snapshot()
	require.InDelta(t, float64(500_000), float64(snap.LatencyP50Ns), 600_000)
	require.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
}
