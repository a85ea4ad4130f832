package aio

import "testing"

func TestRecordReadTracksBytesAndOps(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1024, 5_000, true)
	m.RecordRead(0, 5_000, false)

	if got := m.ReadOps.Load(); got != 2 {
		t.Errorf("Expected ReadOps=2, got %d", got)
	}
	if got := m.ReadBytes.Load(); got != 1024 {
		t.Errorf("Expected ReadBytes=1024, got %d", got)
	}
	if got := m.ReadErrors.Load(); got != 1 {
		t.Errorf("Expected ReadErrors=1, got %d", got)
	}
}

func TestSnapshotComputesErrorRate(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(10, 1_000, true)
	m.RecordRead(0, 1_000, false)
	m.RecordWrite(10, 1_000, true)

	snap := m.Snapshot()
	if snap.TotalOps != 3 {
		t.Errorf("Expected TotalOps=3, got %d", snap.TotalOps)
	}
	want := float64(1) / float64(3) * 100.0
	if snap.ErrorRate != want {
		t.Errorf("Expected ErrorRate=%f, got %f", want, snap.ErrorRate)
	}
}

func TestCalculatePercentileMonotonic(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 100; i++ {
		m.RecordRead(1, uint64(i)*100_000, true)
	}
	p50 := m.calculatePercentile(0.50)
	p99 := m.calculatePercentile(0.99)
	if p99 < p50 {
		t.Errorf("Expected p99 (%d) >= p50 (%d)", p99, p50)
	}
}

func TestNoOpObserverDiscardsEverything(t *testing.T) {
	var o NoOpObserver
	o.ObserveRead(1, 1, true)
	o.ObserveWrite(1, 1, true)
	o.ObserveAccept(1, true)
	o.ObserveTimerFired()
	o.ObserveBackendPoll()
}

func TestMetricsObserverDelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveRead(512, 1_000, true)
	o.ObserveTimerFired()

	if got := m.ReadBytes.Load(); got != 512 {
		t.Errorf("Expected ReadBytes=512, got %d", got)
	}
	if got := m.TimerOps.Load(); got != 1 {
		t.Errorf("Expected TimerOps=1, got %d", got)
	}
}
