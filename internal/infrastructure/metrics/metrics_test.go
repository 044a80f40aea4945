package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordingBeforeInitIsNoop(t *testing.T) {
	// Must not panic with nil collectors.
	if active.Load() != nil {
		t.Skip("collectors already registered by another test")
	}
	ObserveDeviceRequest("Power", ResultSuccess, time.Millisecond)
	ObservePollCycle(time.Millisecond)
	IncPropertyWrite(ResultWarning)
	IncCommandResult(CommandResultAccepted)
	SetDevicesManaged(3)
}

// TestInitWhileRecording runs under -race: Init publishes the collectors
// while other goroutines are already recording.
func TestInitWhileRecording(t *testing.T) {
	reg := prometheus.NewRegistry()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				ObserveDeviceRequest("Power", ResultSuccess, time.Millisecond)
				IncCommandResult(CommandResultFailed)
				SetDevicesManaged(j)
			}
		}()
	}
	close(start)
	Init(reg)
	wg.Wait()

	if active.Load() == nil {
		t.Fatal("collectors not published after Init")
	}
}

func TestInitAndRecord(t *testing.T) {
	Init(prometheus.NewRegistry())
	c := active.Load()
	if c == nil {
		t.Fatal("collectors not published after Init")
	}

	before := testutil.ToFloat64(c.deviceRequests.WithLabelValues("Dimmer", ResultRejected))
	ObserveDeviceRequest("Dimmer", ResultRejected, 20*time.Millisecond)
	if got := testutil.ToFloat64(c.deviceRequests.WithLabelValues("Dimmer", ResultRejected)); got != before+1 {
		t.Errorf("device_requests_total{Dimmer,rejected} = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(c.propertyWrites.WithLabelValues("unknown"))
	IncPropertyWrite("")
	if got := testutil.ToFloat64(c.propertyWrites.WithLabelValues("unknown")); got != before+1 {
		t.Errorf("property_writes_total{unknown} = %v, want %v", got, before+1)
	}

	SetDevicesManaged(4)
	if got := testutil.ToFloat64(c.devicesManaged); got != 4 {
		t.Errorf("devices_managed = %v, want 4", got)
	}

	// Second Init is ignored.
	Init(prometheus.NewRegistry())
	if active.Load() != c {
		t.Error("second Init replaced the collectors")
	}
}
