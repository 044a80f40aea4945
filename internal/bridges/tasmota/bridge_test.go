package tasmota

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// GetPublished returns messages published to topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload on topic to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// mockHistory implements HistoryStore.
type mockHistory struct {
	mu      sync.Mutex
	records []Change
	pruned  int
}

func (h *mockHistory) RecordChange(_ context.Context, deviceID, property string, value any, source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, Change{DeviceID: deviceID, Property: property, Value: value, Source: Source(source)})
	return nil
}

func (h *mockHistory) PruneHistory(_ context.Context, _ time.Duration) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruned++
	return 0, nil
}

func (h *mockHistory) For(property string) []Change {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Change
	for _, c := range h.records {
		if c.Property == property {
			out = append(out, c)
		}
	}
	return out
}

const bridgeTestConfig = `
bridge:
  id: "bridge-test"
polling:
  interval_ms: 3600000
devices:
  - id: "lamp"
    type: light
    host: "10.0.0.10"
    capabilities: [on_off, brightness]
  - id: "plug"
    host: "10.0.0.11"
  - id: "ghost"
    host: "10.0.0.12"
`

type bridgeFixture struct {
	bridge  *Bridge
	mqtt    *MockMQTTClient
	history *mockHistory
	lamp    *StubTransport
	plug    *StubTransport
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	cfg, err := ParseConfig([]byte(bridgeTestConfig))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	f := &bridgeFixture{
		mqtt:    NewMockMQTTClient(),
		history: &mockHistory{},
		lamp:    NewStubTransport(),
		plug:    NewStubTransport(),
	}
	f.lamp.SetReply("Power", map[string]any{"POWER": "ON"})
	f.lamp.SetReply("Dimmer", map[string]any{"Dimmer": 25.0})
	f.plug.SetReply("Dimmer", map[string]any{"Command": "Unknown"})
	f.plug.SetReply("Power", map[string]any{"POWER": "OFF"})

	transports := map[string]Transport{
		"lamp":  f.lamp,
		"plug":  f.plug,
		"ghost": NewStubTransport(),
	}

	f.bridge, err = NewBridge(BridgeOptions{
		Config:       cfg,
		MQTTClient:   f.mqtt,
		Version:      "test",
		History:      f.history,
		NewTransport: func(dc DeviceConfig) Transport { return transports[dc.ID] },
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.bridge.Stop)
	return f
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("NewBridge() without config should fail")
	}
	if _, err := NewBridge(BridgeOptions{Config: defaultConfig()}); err == nil {
		t.Error("NewBridge() without MQTT client should fail")
	}
}

func TestBridge_StartBuildsDevices(t *testing.T) {
	f := newBridgeFixture(t)

	if got := f.bridge.DeviceCount(); got != 2 {
		t.Fatalf("DeviceCount() = %d, want 2 (ghost is unreachable)", got)
	}
	lamp, err := f.bridge.Device("lamp")
	if err != nil {
		t.Fatalf("Device(lamp) error = %v", err)
	}
	if lamp.Type() != DeviceTypeLight || lamp.Title() != "lamp" {
		t.Errorf("lamp = %s %q", lamp.Type(), lamp.Title())
	}
	plug, err := f.bridge.Device("plug")
	if err != nil {
		t.Fatalf("Device(plug) error = %v", err)
	}
	if plug.Type() != DeviceTypePlug {
		t.Errorf("plug type = %s, want plug (auto-detected)", plug.Type())
	}
	if _, err := f.bridge.Device("ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device(ghost) error = %v, want ErrDeviceNotFound", err)
	}

	health := f.mqtt.GetPublished(HealthTopic())
	if len(health) == 0 {
		t.Fatal("no health published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(health[0].Payload, &msg); err != nil {
		t.Fatalf("Unmarshal(health) error = %v", err)
	}
	if msg.Status != HealthStarting || !health[0].Retained {
		t.Errorf("first health = %+v retained=%v", msg, health[0].Retained)
	}
}

func TestBridge_PublishesStateFromInitialPoll(t *testing.T) {
	f := newBridgeFixture(t)

	waitFor(t, time.Second, func() bool {
		for _, p := range f.mqtt.GetPublished(StateTopic("lamp")) {
			var msg StateMessage
			if json.Unmarshal(p.Payload, &msg) == nil && len(msg.State) == 2 {
				return true
			}
		}
		return false
	})

	states := f.mqtt.GetPublished(StateTopic("lamp"))
	last := states[len(states)-1]
	if !last.Retained || last.QoS != 1 {
		t.Errorf("state publish qos=%d retained=%v", last.QoS, last.Retained)
	}
	var msg StateMessage
	if err := json.Unmarshal(last.Payload, &msg); err != nil {
		t.Fatalf("Unmarshal(state) error = %v", err)
	}
	if msg.Protocol != Protocol || msg.Address != "10.0.0.10:80" || msg.Source != SourcePoll {
		t.Errorf("state = %+v", msg)
	}
	if msg.State["on"] != true || msg.State["brightness"] != 25.0 {
		t.Errorf("state values = %v", msg.State)
	}

	waitFor(t, time.Second, func() bool { return len(f.history.For("brightness")) == 1 })
}

func TestBridge_CommandAccepted(t *testing.T) {
	f := newBridgeFixture(t)
	waitFor(t, time.Second, func() bool {
		return len(f.history.For("on")) > 0 && len(f.history.For("brightness")) > 0
	})

	payload := []byte(`{"id":"cmd-1","timestamp":"2026-01-15T10:00:00Z","command":"set","parameters":{"on":false,"brightness":80}}`)
	f.mqtt.SimulateMessage(CommandSubscribeTopic(), CommandTopic("lamp"), payload)

	waitFor(t, time.Second, func() bool { return len(f.mqtt.GetPublished(AckTopic("lamp"))) == 1 })

	ack := f.mqtt.GetPublished(AckTopic("lamp"))[0]
	var msg AckMessage
	if err := json.Unmarshal(ack.Payload, &msg); err != nil {
		t.Fatalf("Unmarshal(ack) error = %v", err)
	}
	if msg.Status != AckAccepted || msg.CommandID != "cmd-1" || msg.DeviceID != "lamp" {
		t.Errorf("ack = %+v", msg)
	}
	if ack.Retained {
		t.Error("acks must not be retained")
	}

	sets := f.lamp.Sets()
	if len(sets) != 2 {
		t.Fatalf("SetStatus calls = %v, want 2", sets)
	}
	// Parameters are written in name order.
	if sets[0] != (stubCall{"Dimmer", "80"}) || sets[1] != (stubCall{"Power", "OFF"}) {
		t.Errorf("SetStatus calls = %v", sets)
	}

	dev, _ := f.bridge.Device("lamp")
	if v := dev.Values(); v["brightness"] != 80 || v["on"] != false {
		t.Errorf("Values() = %v", v)
	}
}

func TestBridge_CommandRejected(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		payload  string
		wantCode string
	}{
		{"unknown command", "lamp", `{"id":"c","command":"toggle","parameters":{"on":true}}`, ErrCodeInvalidCommand},
		{"unknown device", "nope", `{"id":"c","command":"set","parameters":{"on":true}}`, ErrCodeNotConfigured},
		{"no parameters", "lamp", `{"id":"c","command":"set"}`, ErrCodeInvalidParameters},
		{"unknown property", "lamp", `{"id":"c","command":"set","parameters":{"on":true,"hue":3}}`, ErrCodeInvalidParameters},
		{"invalid value", "lamp", `{"id":"c","command":"set","parameters":{"on":"yes"}}`, ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.mqtt.SimulateMessage(CommandSubscribeTopic(), CommandTopic(tt.deviceID), []byte(tt.payload))

			waitFor(t, time.Second, func() bool { return len(f.mqtt.GetPublished(AckTopic(tt.deviceID))) == 1 })
			var msg AckMessage
			if err := json.Unmarshal(f.mqtt.GetPublished(AckTopic(tt.deviceID))[0].Payload, &msg); err != nil {
				t.Fatalf("Unmarshal(ack) error = %v", err)
			}
			if msg.Status != AckFailed || msg.Error == nil || msg.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v error=%+v, want code %s", msg, msg.Error, tt.wantCode)
			}
			if tt.name == "unknown property" && len(f.lamp.Sets()) != 0 {
				t.Error("no property may be written when validation fails")
			}
		})
	}
}

func TestBridge_SetProperty(t *testing.T) {
	f := newBridgeFixture(t)

	// The fixture plug had no telemetry at start, so it has no power property.
	err := f.bridge.SetProperty(context.Background(), "plug", "power", 3)
	if !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("SetProperty(power) error = %v, want ErrPropertyNotFound", err)
	}
	if err := f.bridge.SetProperty(context.Background(), "plug", "on", true); err != nil {
		t.Errorf("SetProperty(on) error = %v", err)
	}
	if err := f.bridge.SetProperty(context.Background(), "ghost", "on", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetProperty(ghost) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestBridge_ListenersAndHistoryDedupe(t *testing.T) {
	f := newBridgeFixture(t)

	var mu sync.Mutex
	var seen []Change
	f.bridge.AddListener(func(c Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})

	lamp, _ := f.bridge.Device("lamp")
	lamp.Poll(context.Background())
	lamp.Poll(context.Background())

	mu.Lock()
	n := len(seen)
	mu.Unlock()
	if n < 4 {
		t.Errorf("listener saw %d changes, want at least 4", n)
	}
	waitFor(t, time.Second, func() bool { return len(f.history.For("on")) >= 1 })
	if got := len(f.history.For("on")); got != 1 {
		t.Errorf("history rows for on = %d, want 1", got)
	}
}

func TestBridge_RemoveDevice(t *testing.T) {
	f := newBridgeFixture(t)

	if err := f.bridge.RemoveDevice("plug"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if f.bridge.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", f.bridge.DeviceCount())
	}
	if err := f.bridge.RemoveDevice("plug"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second RemoveDevice() error = %v", err)
	}
}

func TestBridge_RemoveDeviceForgetsRecordedHistory(t *testing.T) {
	f := newBridgeFixture(t)
	waitFor(t, time.Second, func() bool { return len(f.history.For("on")) >= 2 })

	if err := f.bridge.RemoveDevice("plug"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}

	f.bridge.recordedMu.Lock()
	_, plugKept := f.bridge.recorded["plug"]
	_, lampKept := f.bridge.recorded["lamp"]
	f.bridge.recordedMu.Unlock()
	if plugKept {
		t.Error("recorded values for a removed device must be dropped")
	}
	if !lampKept {
		t.Error("recorded values for remaining devices must be kept")
	}
}

func TestBridge_ConfiguredLightColorModeFlag(t *testing.T) {
	const cfgYAML = `
bridge:
  id: "bridge-test"
polling:
  interval_ms: 3600000
devices:
  - id: "flagged"
    type: light
    host: "10.0.0.20"
    capabilities: [on_off, brightness, color_temperature, color]
  - id: "unflagged"
    type: light
    host: "10.0.0.21"
    capabilities: [on_off, color_temperature, color, color_mode]
    features:
      color_mode: false
  - id: "ct-only"
    type: light
    host: "10.0.0.22"
    capabilities: [on_off, color_temperature]
`
	cfg, err := ParseConfig([]byte(cfgYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	b, err := NewBridge(BridgeOptions{
		Config:       cfg,
		MQTTClient:   NewMockMQTTClient(),
		NewTransport: func(DeviceConfig) Transport { return NewStubTransport() },
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	tests := []struct {
		index         int
		wantColorMode bool
	}{
		{0, true},
		{1, false},
		{2, false},
	}
	for _, tt := range tests {
		dc := cfg.Devices[tt.index]
		t.Run(dc.ID, func(t *testing.T) {
			dev, err := b.buildDevice(context.Background(), dc)
			if err != nil {
				t.Fatalf("buildDevice() error = %v", err)
			}
			if _, ok := dev.Property("colorMode"); ok != tt.wantColorMode {
				t.Errorf("colorMode present = %v, want %v", ok, tt.wantColorMode)
			}
		})
	}
}

func TestApplyColorModeFlag(t *testing.T) {
	full := []Kind{KindOnOff, KindColorTemperature, KindColor}

	if got := applyColorModeFlag(full, true); len(got) != 4 || got[3] != KindColorMode {
		t.Errorf("applyColorModeFlag(on) = %v, want color_mode appended", got)
	}
	withMode := append(append([]Kind{}, full...), KindColorMode)
	if got := applyColorModeFlag(withMode, false); len(got) != 3 {
		t.Errorf("applyColorModeFlag(off) = %v, want color_mode removed", got)
	}
	if got := applyColorModeFlag(withMode, true); len(got) != 4 {
		t.Errorf("applyColorModeFlag(on, listed) = %v, want a single color_mode", got)
	}
	if got := applyColorModeFlag([]Kind{KindOnOff, KindColor}, true); len(got) != 2 {
		t.Errorf("applyColorModeFlag(colour only) = %v, want unchanged", got)
	}
}

func TestBridge_DeviceStats(t *testing.T) {
	f := newBridgeFixture(t)
	waitFor(t, time.Second, func() bool {
		_, unreachable := f.bridge.deviceStats()
		return unreachable == 0
	})
	managed, _ := f.bridge.deviceStats()
	if managed != 2 {
		t.Errorf("managed = %d, want 2", managed)
	}
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	f := newBridgeFixture(t)
	f.bridge.Stop()
	f.bridge.Stop()

	health := f.mqtt.GetPublished(HealthTopic())
	var msg HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &msg); err != nil {
		t.Fatalf("Unmarshal(health) error = %v", err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("final health = %s, want stopping", msg.Status)
	}
}

func TestBridge_CommandsAfterStopAreDropped(t *testing.T) {
	f := newBridgeFixture(t)
	f.bridge.Stop()

	payload := []byte(`{"id":"late","command":"set","parameters":{"on":true}}`)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.mqtt.SimulateMessage(CommandSubscribeTopic(), CommandTopic("lamp"), payload)
		}()
	}
	wg.Wait()

	if got := len(f.mqtt.GetPublished(AckTopic("lamp"))); got != 0 {
		t.Errorf("acks after Stop = %d, want 0", got)
	}
	if got := len(f.lamp.Sets()); got != 0 {
		t.Errorf("SetStatus calls after Stop = %d, want 0", got)
	}
}

func TestBridge_CommandsDuringStop(t *testing.T) {
	f := newBridgeFixture(t)
	payload := []byte(`{"id":"race","command":"set","parameters":{"on":true}}`)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.mqtt.SimulateMessage(CommandSubscribeTopic(), CommandTopic("lamp"), payload)
		}()
	}
	f.bridge.Stop()
	wg.Wait()

	if !f.bridge.stopped {
		t.Error("bridge should report stopped")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrReadOnly, ErrCodeReadOnly},
		{ErrPropertyNotFound, ErrCodeInvalidParameters},
		{ErrInvalidValue, ErrCodeInvalidParameters},
		{errors.New("other"), ErrCodeInvalidCommand},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
