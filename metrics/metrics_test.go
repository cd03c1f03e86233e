package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.FrameSignaled("a", time.Millisecond)
	m.FrameObserved("a", 3)
	m.WaitTimedOut("a")
	m.ConnectFailed("import")
	m.ProducerOpened()
	m.ProducerClosed()
	m.ConsumerOpened()
	m.ConsumerClosed()
	m.WatcherState("w", "searching", []string{"searching"})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.FrameSignaled("cam", time.Millisecond)
	m.FrameSignaled("cam", 2*time.Millisecond)
	m.FrameObserved("cam", 0)
	m.FrameObserved("cam", 4)
	m.WaitTimedOut("cam")
	m.ConnectFailed("not_found")

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"signaled", m.framesSignaled.WithLabelValues("cam"), 2},
		{"observed", m.framesObserved.WithLabelValues("cam"), 2},
		{"skipped", m.framesSkipped.WithLabelValues("cam"), 4},
		{"timeouts", m.waitTimeouts.WithLabelValues("cam"), 1},
		{"connect failures", m.connectFailures.WithLabelValues("not_found"), 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := testutil.CollectAndCount(m.signalDuration); got != 1 {
		t.Errorf("signal duration series = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ProducerOpened()
	m.ProducerOpened()
	m.ProducerClosed()
	m.ConsumerOpened()

	if got := testutil.ToFloat64(m.producers); got != 1 {
		t.Errorf("producers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.consumers); got != 1 {
		t.Errorf("consumers = %v, want 1", got)
	}
}

func TestWatcherState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	states := []string{"searching", "connecting", "connected", "disconnected"}
	m.WatcherState("w", "connected", states)

	want := `
# HELP texshare_watcher_state 1 for the current state of each watcher, 0 otherwise
# TYPE texshare_watcher_state gauge
texshare_watcher_state{state="connected",watcher="w"} 1
texshare_watcher_state{state="connecting",watcher="w"} 0
texshare_watcher_state{state="disconnected",watcher="w"} 0
texshare_watcher_state{state="searching",watcher="w"} 0
`
	if err := testutil.CollectAndCompare(m.watcherState, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("second New on the same registry did not panic")
		}
	}()
	New(reg)
}
