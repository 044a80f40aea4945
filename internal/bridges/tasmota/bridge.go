package tasmota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/metrics"
)

// Bridge operation constants.
const (
	// commandTimeout bounds the device writes of one MQTT command.
	commandTimeout = 10 * time.Second

	// unreachableAfter is how many missed poll intervals mark a device unreachable.
	unreachableAfter = 3

	// pruneInterval is how often old property history is removed.
	pruneInterval = 24 * time.Hour
)

// Bridge owns the configured Tasmota devices, polls them, and relays
// property changes and commands over MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg          *Config
	mqtt         MQTTClient
	history      HistoryStore
	telemetry    TelemetrySink
	converter    ColorTemperatureConverter
	newTransport TransportFactory
	version      string

	scheduler *Scheduler
	health    *HealthReporter

	devices   map[string]*Device
	devicesMu sync.RWMutex

	// Last value recorded to history per device/property.
	recorded   map[string]map[string]any
	recordedMu sync.Mutex

	listeners   []func(Change)
	listenersMu sync.RWMutex

	// Shutdown coordination. stopMu serialises wg.Add against Stop.
	done      chan struct{}
	wg        sync.WaitGroup
	stopMu    sync.Mutex
	stopped   bool
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// HistoryStore persists property changes.
// Satisfied by *device.SQLiteHistoryRepository.
type HistoryStore interface {
	RecordChange(ctx context.Context, deviceID, property string, value any, source string) error
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TelemetrySink receives each plug telemetry sample (InfluxDB in production).
type TelemetrySink interface {
	WriteTelemetry(deviceID string, sample PollSample)
}

// TransportFactory creates the transport for a configured device.
type TransportFactory func(dev DeviceConfig) Transport

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string

	// History is optional property history storage.
	History HistoryStore

	// Telemetry is an optional sink for plug telemetry samples.
	Telemetry TelemetrySink

	// Converter defaults to LinearConverter.
	Converter ColorTemperatureConverter

	// NewTransport defaults to an HTTPTransport per device.
	NewTransport TransportFactory
}

// NewBridge creates a new bridge instance.
// Call Start() to build devices and begin polling.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	logger := orNoop(opts.Logger)

	b := &Bridge{
		cfg:          opts.Config,
		mqtt:         opts.MQTTClient,
		history:      opts.History,
		telemetry:    opts.Telemetry,
		converter:    opts.Converter,
		newTransport: opts.NewTransport,
		version:      opts.Version,
		scheduler:    NewScheduler(opts.Config.GetPollInterval(), logger),
		devices:      make(map[string]*Device),
		recorded:     make(map[string]map[string]any),
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       logger,
	}
	if b.converter == nil {
		b.converter = LinearConverter{}
	}
	if b.newTransport == nil {
		timeout := opts.Config.GetRequestTimeout()
		b.newTransport = func(dev DeviceConfig) Transport {
			return NewHTTPTransport(dev.Endpoint(), HTTPTransportOptions{Timeout: timeout, Logger: logger})
		}
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.Config.Bridge.ID,
		Version:     opts.Version,
		Interval:    opts.Config.GetHealthInterval(),
		Publisher:   opts.MQTTClient,
		DeviceStats: b.deviceStats,
		Logger:      logger,
	})

	return b, nil
}

// Start builds every configured device, subscribes to commands and starts
// polling. A device that cannot be built is logged and skipped.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	for _, dc := range b.cfg.Devices {
		dev, err := b.buildDevice(ctx, dc)
		if err != nil {
			b.logger.Error("failed to build device", "device", dc.String(), "error", err)
			continue
		}
		b.devicesMu.Lock()
		b.devices[dev.ID()] = dev
		b.devicesMu.Unlock()
		b.logger.Info("device ready",
			"device_id", dev.ID(),
			"type", dev.Type(),
			"properties", len(dev.Properties()),
		)
	}
	metrics.SetDevicesManaged(b.DeviceCount())

	topic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	for _, dev := range b.Devices() {
		b.scheduler.Schedule(b.ctx, dev)
	}

	if b.history != nil && b.cfg.GetHistoryRetention() > 0 {
		b.goTracked(b.pruneLoop)
	}

	b.health.Start(ctx)

	b.logger.Info("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", b.DeviceCount(),
		"poll_interval", b.cfg.GetPollInterval(),
	)
	return nil
}

// Stop cancels polling and in-flight commands, then waits for them.
func (b *Bridge) Stop() {
	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		return
	}
	b.stopped = true
	close(b.done)
	b.stopMu.Unlock()

	b.ctxCancel()
	b.scheduler.Stop()
	b.health.Stop()
	b.wg.Wait()
	b.logger.Info("bridge stopped")
}

// goTracked runs fn in a goroutine tracked by Stop. It reports false once
// the bridge is stopping.
func (b *Bridge) goTracked(fn func()) bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// buildDevice constructs one device from configuration.
func (b *Bridge) buildDevice(ctx context.Context, dc DeviceConfig) (*Device, error) {
	transport := b.newTransport(dc)
	features := b.cfg.FeaturesFor(dc)

	opts := DeviceOptions{
		ID:        dc.ID,
		Title:     dc.Name,
		Transport: transport,
		Converter: b.converter,
		Features:  features,
		Logger:    b.logger,
		OnChange:  b.handleChange,
	}
	if b.telemetry != nil {
		opts.OnSample = b.telemetry.WriteTelemetry
	}

	deviceType := dc.Type
	if deviceType == DeviceTypeAuto || deviceType == "" {
		detected, err := DetectDeviceType(ctx, transport)
		if err != nil {
			return nil, err
		}
		deviceType = detected
		b.logger.Info("device type detected", "device_id", dc.ID, "type", deviceType)
	}

	switch deviceType {
	case DeviceTypeLight:
		kinds := dc.Capabilities
		if len(kinds) == 0 {
			kinds = DetectLightKinds(ctx, transport, features.ColorMode)
		} else {
			kinds = applyColorModeFlag(kinds, features.ColorMode)
		}
		return NewLight(opts, kinds)
	case DeviceTypePlug:
		return NewPlug(ctx, opts)
	default:
		return nil, fmt.Errorf("device %s: unsupported type %q", dc.ID, deviceType)
	}
}

// applyColorModeFlag adds ColorMode to a configured colour+CT light when the
// flag is on, and strips it when the flag is off.
func applyColorModeFlag(kinds []Kind, enabled bool) []Kind {
	out := make([]Kind, 0, len(kinds)+1)
	var hasColor, hasCT bool
	for _, k := range kinds {
		switch k {
		case KindColorMode:
			continue
		case KindColor:
			hasColor = true
		case KindColorTemperature:
			hasCT = true
		}
		out = append(out, k)
	}
	if enabled && hasColor && hasCT {
		out = append(out, KindColorMode)
	}
	return out
}

// Devices returns all managed devices sorted by ID.
func (b *Bridge) Devices() []*Device {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()

	devices := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID() < devices[j].ID() })
	return devices
}

// Device returns a managed device by ID.
func (b *Bridge) Device(id string) (*Device, error) {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()

	d, ok := b.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// DeviceCount returns the number of managed devices.
func (b *Bridge) DeviceCount() int {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	return len(b.devices)
}

// RemoveDevice stops polling a device and forgets it.
func (b *Bridge) RemoveDevice(id string) error {
	b.devicesMu.Lock()
	_, ok := b.devices[id]
	delete(b.devices, id)
	b.devicesMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	b.scheduler.Unschedule(id)

	b.recordedMu.Lock()
	delete(b.recorded, id)
	b.recordedMu.Unlock()

	metrics.SetDevicesManaged(b.DeviceCount())
	b.logger.Info("device removed", "device_id", id)
	return nil
}

// SetProperty writes one property. Only local errors (unknown device or
// property, read-only, invalid value) are returned.
func (b *Bridge) SetProperty(ctx context.Context, deviceID, property string, value any) error {
	dev, err := b.Device(deviceID)
	if err != nil {
		return err
	}
	return dev.Write(ctx, property, value)
}

// AddListener registers fn for every property change.
func (b *Bridge) AddListener(fn func(Change)) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

// handleChange publishes state, records history and fans out to listeners.
func (b *Bridge) handleChange(change Change) {
	b.publishState(change)
	b.recordHistory(change)

	b.listenersMu.RLock()
	listeners := append([]func(Change){}, b.listeners...)
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

func (b *Bridge) publishState(change Change) {
	state := map[string]any{change.Property: change.Value}
	address := ""

	b.devicesMu.RLock()
	dev, ok := b.devices[change.DeviceID]
	b.devicesMu.RUnlock()
	if ok {
		state = dev.Values()
		address = b.addressOf(change.DeviceID)
	}

	msg := NewStateMessage(change.DeviceID, address, state, change)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal state", "device_id", change.DeviceID, "error", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(change.DeviceID), payload, 1, true); err != nil {
		b.logger.Warn("failed to publish state", "device_id", change.DeviceID, "error", err)
	}
}

// recordHistory stores changes, skipping values equal to the last one
// recorded for that property (light properties notify on every poll).
func (b *Bridge) recordHistory(change Change) {
	if b.history == nil {
		return
	}

	b.recordedMu.Lock()
	last, ok := b.recorded[change.DeviceID]
	if !ok {
		last = make(map[string]any)
		b.recorded[change.DeviceID] = last
	}
	prev, seen := last[change.Property]
	if seen && prev == change.Value {
		b.recordedMu.Unlock()
		return
	}
	last[change.Property] = change.Value
	b.recordedMu.Unlock()

	if err := b.history.RecordChange(b.ctx, change.DeviceID, change.Property, change.Value, string(change.Source)); err != nil {
		b.logger.Debug("history write failed", "device_id", change.DeviceID, "property", change.Property, "error", err)
	}
}

func (b *Bridge) addressOf(deviceID string) string {
	for _, dc := range b.cfg.Devices {
		if dc.ID == deviceID {
			return dc.Endpoint().String()
		}
	}
	return ""
}

// handleMQTTMessage decodes a command and executes it in the background.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command payload", "topic", topic, "error", err)
		metrics.IncCommandResult(metrics.CommandResultInvalid)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceIDFromTopic(topic)
	}

	if !b.goTracked(func() { b.executeCommand(cmd) }) {
		b.logger.Debug("command dropped during shutdown", "command_id", cmd.ID)
	}
}

// executeCommand validates every parameter before writing any of them.
func (b *Bridge) executeCommand(cmd CommandMessage) {
	if cmd.Command != CommandSet {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unsupported command %q", cmd.Command)))
		return
	}
	dev, err := b.Device(cmd.DeviceID)
	if err != nil {
		b.publishAck(NewAckError(cmd, ErrCodeNotConfigured, err.Error()))
		return
	}
	if len(cmd.Parameters) == 0 {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidParameters, "no properties to set"))
		return
	}
	for name := range cmd.Parameters {
		if err := dev.CanWrite(name); err != nil {
			b.publishAck(NewAckError(cmd, errorCode(err), err.Error()))
			return
		}
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	names := make([]string, 0, len(cmd.Parameters))
	for name := range cmd.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := dev.Write(ctx, name, cmd.Parameters[name]); err != nil {
			b.publishAck(NewAckError(cmd, errorCode(err), err.Error()))
			return
		}
	}

	b.logger.Debug("command executed", "command_id", cmd.ID, "device_id", cmd.DeviceID, "properties", names)
	b.publishAck(NewAckMessage(cmd, AckAccepted))
}

func (b *Bridge) publishAck(ack AckMessage) {
	result := metrics.CommandResultAccepted
	if ack.Status != AckAccepted {
		result = metrics.CommandResultFailed
	}
	metrics.IncCommandResult(result)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logger.Warn("failed to publish ack", "device_id", ack.DeviceID, "error", err)
	}
}

// errorCode maps write errors to ack codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrReadOnly):
		return ErrCodeReadOnly
	case errors.Is(err, ErrPropertyNotFound), errors.Is(err, ErrInvalidValue):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeInvalidCommand
	}
}

// deviceStats counts devices that have not answered within unreachableAfter
// poll intervals.
func (b *Bridge) deviceStats() (managed, unreachable int) {
	window := time.Duration(unreachableAfter) * b.cfg.GetPollInterval()
	now := time.Now()
	for _, d := range b.Devices() {
		managed++
		if now.Sub(d.LastSeen()) > window {
			unreachable++
		}
	}
	return managed, unreachable
}

func (b *Bridge) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	b.prune()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.prune()
		}
	}
}

func (b *Bridge) prune() {
	n, err := b.history.PruneHistory(b.ctx, b.cfg.GetHistoryRetention())
	if err != nil {
		b.logger.Warn("history prune failed", "error", err)
		return
	}
	if n > 0 {
		b.logger.Info("history pruned", "rows", n)
	}
}
