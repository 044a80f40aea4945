package tasmota

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"
)

func propertyNames(d *Device) []string {
	var names []string
	for _, p := range d.Properties() {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

func TestNewLight_Variants(t *testing.T) {
	tests := []struct {
		name  string
		kinds []Kind
		want  []string
	}{
		{"dimmable", DimmableLight, []string{"brightness", "on"}},
		{"colour temperature", ColorTemperatureLight, []string{"brightness", "colorTemperature", "on"}},
		{"colour", ColorLight, []string{"brightness", "color", "on"}},
		{"full colour", FullColorLight, []string{"brightness", "color", "colorMode", "colorTemperature", "on"}},
		{"duplicates collapse", []Kind{KindOnOff, KindBrightness, KindOnOff, KindBrightness}, []string{"brightness", "on"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewLight(DeviceOptions{ID: "light-1", Transport: NewStubTransport()}, tt.kinds)
			if err != nil {
				t.Fatalf("NewLight() error = %v", err)
			}
			if got := propertyNames(d); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("properties = %v, want %v", got, tt.want)
			}
			if d.Type() != DeviceTypeLight {
				t.Errorf("Type() = %q, want light", d.Type())
			}
		})
	}
}

func TestNewLight_InvalidCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		kinds []Kind
	}{
		{"missing on_off", []Kind{KindBrightness}},
		{"colour mode without colour", []Kind{KindOnOff, KindColorTemperature, KindColorMode}},
		{"unknown kind", []Kind{KindOnOff, Kind("strobe")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLight(DeviceOptions{ID: "light-1", Transport: NewStubTransport()}, tt.kinds)
			if !errors.Is(err, ErrInvalidCapabilities) {
				t.Errorf("NewLight() error = %v, want ErrInvalidCapabilities", err)
			}
		})
	}
}

func TestNewLight_RequiresTransport(t *testing.T) {
	if _, err := NewLight(DeviceOptions{ID: "light-1"}, DimmableLight); err == nil {
		t.Error("NewLight() without transport should fail")
	}
	if _, err := NewLight(DeviceOptions{Transport: NewStubTransport()}, DimmableLight); err == nil {
		t.Error("NewLight() without id should fail")
	}
}

func TestLight_PollCycle(t *testing.T) {
	stub := NewStubTransport()
	stub.SetReply("Power", map[string]any{"POWER": "ON"})
	stub.SetReply("Dimmer", map[string]any{"Dimmer": 70.0})
	stub.SetReply("CT", map[string]any{"CT": 500.0})
	stub.SetReply("Color", map[string]any{"Color": "00000080"})

	rec := &changeRecorder{}
	d, err := NewLight(DeviceOptions{
		ID:        "light-1",
		Transport: stub,
		OnChange:  rec.record,
	}, FullColorLight)
	if err != nil {
		t.Fatalf("NewLight() error = %v", err)
	}

	before := time.Now()
	d.Poll(context.Background())

	want := map[string]any{
		"on":               true,
		"brightness":       70,
		"colorTemperature": MinKelvin,
		"color":            "#808080",
		"colorMode":        ColorModeTemperature,
	}
	if got := d.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}
	if d.ChannelWidth() != 4 {
		t.Errorf("ChannelWidth() = %d, want 4", d.ChannelWidth())
	}
	if d.LastSeen().Before(before) {
		t.Errorf("LastSeen() = %v, want after %v", d.LastSeen(), before)
	}

	// Lights re-announce on every cycle.
	d.Poll(context.Background())
	if got := len(rec.For("brightness")); got != 2 {
		t.Errorf("brightness notifications = %d, want 2", got)
	}
	for _, c := range rec.For("on") {
		if c.DeviceID != "light-1" || c.Timestamp.IsZero() {
			t.Errorf("change = %+v, want device id and timestamp", c)
		}
	}
}

func TestDevice_WriteErrors(t *testing.T) {
	stub := NewStubTransport()
	stub.SetReply("Color", map[string]any{"Color": "FF000000"})
	d, err := NewLight(DeviceOptions{ID: "light-1", Transport: stub}, FullColorLight)
	if err != nil {
		t.Fatalf("NewLight() error = %v", err)
	}
	ctx := context.Background()

	if err := d.Write(ctx, "missing", 1); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("Write(missing) error = %v, want ErrPropertyNotFound", err)
	}
	if err := d.Write(ctx, "colorMode", "color"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write(colorMode) error = %v, want ErrReadOnly", err)
	}
	if err := d.CanWrite("brightness"); err != nil {
		t.Errorf("CanWrite(brightness) error = %v", err)
	}
	if err := d.Write(ctx, "brightness", 30); err != nil {
		t.Errorf("Write(brightness) error = %v", err)
	}
}

func TestNewPlug_MultiChannel(t *testing.T) {
	stub := NewStubTransport()
	stub.SetReply("Power1", map[string]any{"POWER1": "ON"})
	stub.SetReply("Power2", map[string]any{"POWER2": "OFF"})
	stub.SetReply("Power4", map[string]any{"POWER4": "OFF"})

	d, err := NewPlug(context.Background(), DeviceOptions{
		ID:        "plug-1",
		Transport: stub,
		Features:  Features{MultiChannelRelay: true},
	})
	if err != nil {
		t.Fatalf("NewPlug() error = %v", err)
	}

	if got := d.Channels(); !reflect.DeepEqual(got, []int{1, 2, 4}) {
		t.Errorf("Channels() = %v, want [1 2 4]", got)
	}
	if got := propertyNames(d); !reflect.DeepEqual(got, []string{"on", "on2", "on4"}) {
		t.Errorf("properties = %v, want [on on2 on4]", got)
	}

	p, _ := d.Property("on4")
	if ch := p.(*OnOffProperty).Channel(); ch != 4 {
		t.Errorf("on4 channel = %d, want 4", ch)
	}

	d.Poll(context.Background())
	want := map[string]any{"on": true, "on2": false, "on4": false}
	if got := d.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}

	if err := d.Write(context.Background(), "on2", true); err != nil {
		t.Fatalf("Write(on2) error = %v", err)
	}
	sets := stub.Sets()
	if len(sets) != 1 || sets[0] != (stubCall{Command: "Power2", Payload: "ON"}) {
		t.Errorf("SetStatus calls = %v, want [{Power2 ON}]", sets)
	}
}

func TestNewPlug_SingleChannel(t *testing.T) {
	stub := NewStubTransport()
	stub.SetReply("Power1", map[string]any{"POWER1": "ON"})

	d, err := NewPlug(context.Background(), DeviceOptions{
		ID:        "plug-1",
		Transport: stub,
		Features:  Features{MultiChannelRelay: true},
	})
	if err != nil {
		t.Fatalf("NewPlug() error = %v", err)
	}
	if got := propertyNames(d); !reflect.DeepEqual(got, []string{"on"}) {
		t.Errorf("properties = %v, want [on]", got)
	}
	p, _ := d.Property("on")
	if ch := p.(*OnOffProperty).Channel(); ch != 0 {
		t.Errorf("on channel = %d, want 0", ch)
	}
}

func TestNewPlug_Telemetry(t *testing.T) {
	stub := NewStubTransport()
	stub.SetReply("Power", map[string]any{"POWER": "ON"})
	stub.SetSample(PollSample{
		"Voltage": {Value: 230, Unit: "V"},
		"Power":   {Value: 12.5, Unit: "W"},
		"DS18B20": {Value: 21.4, Unit: "°C"},
	})

	var samples []PollSample
	d, err := NewPlug(context.Background(), DeviceOptions{
		ID:        "plug-1",
		Transport: stub,
		Features:  Features{TemperatureSensor: true},
		OnSample:  func(_ string, s PollSample) { samples = append(samples, s) },
	})
	if err != nil {
		t.Fatalf("NewPlug() error = %v", err)
	}

	if got := propertyNames(d); !reflect.DeepEqual(got, []string{"on", "power", "temperature", "voltage"}) {
		t.Errorf("properties = %v", got)
	}
	if err := d.CanWrite("power"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("CanWrite(power) error = %v, want ErrReadOnly", err)
	}

	d.Poll(context.Background())
	values := d.Values()
	if values["power"] != 12.5 || values["temperature"] != 21.4 || values["voltage"] != 230.0 {
		t.Errorf("Values() = %v", values)
	}
	if len(samples) != 1 {
		t.Errorf("samples = %d, want 1", len(samples))
	}

	desc := d.Description()
	wantTypes := []string{"SmartPlug", "OnOffSwitch", "EnergyMonitor", "TemperatureSensor"}
	if !reflect.DeepEqual(desc.Type, wantTypes) {
		t.Errorf("@type = %v, want %v", desc.Type, wantTypes)
	}
}

func TestNewPlug_OfflineStillBuilds(t *testing.T) {
	d, err := NewPlug(context.Background(), DeviceOptions{
		ID:        "plug-1",
		Transport: NewStubTransport(),
		Features:  Features{MultiChannelRelay: true},
	})
	if err != nil {
		t.Fatalf("NewPlug() error = %v", err)
	}
	if got := propertyNames(d); !reflect.DeepEqual(got, []string{"on"}) {
		t.Errorf("properties = %v, want [on]", got)
	}
	d.Poll(context.Background())
	if len(d.Values()) != 0 {
		t.Errorf("Values() = %v, want empty", d.Values())
	}
	if !d.LastSeen().IsZero() {
		t.Error("LastSeen() should stay zero while offline")
	}
}

func TestDevice_DescriptionJSON(t *testing.T) {
	d, err := NewLight(DeviceOptions{ID: "light-1", Title: "Desk", Transport: NewStubTransport()}, ColorTemperatureLight)
	if err != nil {
		t.Fatalf("NewLight() error = %v", err)
	}

	data, err := json.Marshal(d.Description())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got["@context"] != SchemaContext || got["title"] != "Desk" || got["device_type"] != "light" {
		t.Errorf("description = %v", got)
	}
	props := got["properties"].(map[string]any)
	ct := props["colorTemperature"].(map[string]any)
	if ct["unit"] != "kelvin" || ct["minimum"] != float64(MinKelvin) || ct["maximum"] != float64(MaxKelvin) {
		t.Errorf("colorTemperature = %v", ct)
	}
}
