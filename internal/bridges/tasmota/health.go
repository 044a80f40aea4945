package tasmota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceStatsFunc reports how many devices are managed and how many have
// not answered recently.
type DeviceStatsFunc func() (managed, unreachable int)

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status. Default: 30 seconds.
	Interval time.Duration

	Publisher   HealthPublisher
	DeviceStats DeviceStatsFunc
	Logger      Logger
}

// HealthReporter publishes retained health messages at a fixed interval.
type HealthReporter struct {
	bridgeID    string
	version     string
	startTime   time.Time
	interval    time.Duration
	publisher   HealthPublisher
	deviceStats DeviceStatsFunc
	logger      Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		bridgeID:    cfg.BridgeID,
		version:     cfg.Version,
		startTime:   time.Now(),
		interval:    interval,
		publisher:   cfg.Publisher,
		deviceStats: cfg.DeviceStats,
		logger:      orNoop(cfg.Logger),
		done:        make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		if err := h.publishStatus(HealthStopping, ""); err != nil {
			h.logger.Debug("final health publish failed", "error", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	_, unreachable := h.stats()
	if unreachable > 0 {
		return HealthDegraded, fmt.Sprintf("%d device(s) unreachable", unreachable)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) stats() (int, int) {
	if h.deviceStats == nil {
		return 0, 0
	}
	return h.deviceStats()
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	managed, unreachable := h.stats()
	msg := HealthMessage{
		Bridge:             h.bridgeID,
		Timestamp:          time.Now().UTC(),
		Status:             status,
		Version:            h.version,
		UptimeSeconds:      int64(time.Since(h.startTime).Seconds()),
		DevicesManaged:     managed,
		DevicesUnreachable: unreachable,
		Reason:             reason,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}
