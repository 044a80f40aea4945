package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/influxdb"
)

// fakeInflux answers the two endpoints the client uses: /ping and /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu     sync.Mutex
	lines  []string
	org    string
	bucket string
	status int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{status: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.org = r.URL.Query().Get("org")
			f.bucket = r.URL.Query().Get("bucket")
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			status := f.status
			f.mu.Unlock()
			w.WriteHeader(status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "tasmota",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg, influxdb.Options{})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := newFakeInflux(t)
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url), influxdb.Options{})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg, influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false with defaulted batch settings")
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteTelemetry(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteTelemetry("plug-desk", []influxdb.Reading{
		{Name: "Voltage", Value: 231, Unit: "V"},
		{Name: "Power", Value: 42.5, Unit: "W"},
	})
	client.Flush()

	lines := srv.Lines()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %v", len(lines), lines)
	}
	wantTags := [][]string{
		{"device_id=plug-desk", "reading=Voltage", "unit=V", "source=tasmota", " value=231"},
		{"device_id=plug-desk", "reading=Power", "unit=W", "source=tasmota", " value=42.5"},
	}
	for i, want := range wantTags {
		if !strings.HasPrefix(lines[i], "telemetry,") {
			t.Errorf("line[%d] = %q, want telemetry measurement", i, lines[i])
		}
		for _, part := range want {
			if !strings.Contains(lines[i], part) {
				t.Errorf("line[%d] = %q, missing %q", i, lines[i], part)
			}
		}
	}

	srv.mu.Lock()
	org, bucket := srv.org, srv.bucket
	srv.mu.Unlock()
	if org != "graylogic" || bucket != "tasmota" {
		t.Errorf("org/bucket = %q/%q, want graylogic/tasmota", org, bucket)
	}
}

func TestWriteTelemetry_Empty(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteTelemetry("plug-desk", nil)
	client.Flush()

	if lines := srv.Lines(); len(lines) != 0 {
		t.Errorf("wrote %v, want nothing", lines)
	}
}

func TestWriteEnergyMetric(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteEnergyMetric("plug-desk", 150.5, 12.34)
	client.WriteEnergyMetric("plug-desk", 100, 0)
	client.Flush()

	lines := srv.Lines()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "energy_kwh=12.34") {
		t.Errorf("line[0] = %q, want energy_kwh", lines[0])
	}
	if strings.Contains(lines[1], "energy_kwh") {
		t.Errorf("line[1] = %q, zero energy should be omitted", lines[1])
	}
}

func TestWriteErrorCallback(t *testing.T) {
	srv := newFakeInflux(t)
	srv.status = http.StatusBadRequest

	errCh := make(chan error, 1)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteTelemetry("plug-desk", []influxdb.Reading{{Name: "Power", Value: 1}})
	client.Flush()

	select {
	case err := <-errCh:
		var writeErr *influxdb.WriteError
		if !errors.As(err, &writeErr) || writeErr.Bucket != "tasmota" {
			t.Errorf("error = %v, want *WriteError for bucket tasmota", err)
		}
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("write error callback not invoked")
	}
}

func TestSourceTag(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{Source: "lab"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteEnergyMetric("plug-desk", 10, 1)
	client.Flush()

	lines := srv.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "source=lab") {
		t.Errorf("lines = %v, want source=lab tag", lines)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL), influxdb.Options{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteTelemetry("close-test", []influxdb.Reading{{Name: "Power", Value: 1, Unit: "W"}})

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if len(srv.Lines()) != 1 {
		t.Errorf("Close() should flush pending writes, got %v", srv.Lines())
	}

	// Writes after close are dropped.
	client.WriteTelemetry("close-test", []influxdb.Reading{{Name: "Power", Value: 2}})
	client.Flush()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() error = %v, want ErrNotConnected", err)
	}
}
