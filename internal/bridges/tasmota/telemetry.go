package tasmota

import "context"

// telemetryKind describes one plug telemetry property.
type telemetryKind struct {
	name   string
	key    string
	title  string
	atType string
	unit   string
}

var energyTelemetry = []telemetryKind{
	{name: "voltage", key: "Voltage", title: "Voltage", atType: "VoltageProperty", unit: "volt"},
	{name: "current", key: "Current", title: "Current", atType: "CurrentProperty", unit: "ampere"},
	{name: "power", key: "Power", title: "Power", atType: "InstantaneousPowerProperty", unit: "watt"},
}

// TelemetryProperty is a read-only value taken from the sensor sample.
type TelemetryProperty struct {
	baseProperty
	key string
}

func newTelemetryProperty(deps propertyDeps, kind telemetryKind) *TelemetryProperty {
	p := &TelemetryProperty{key: kind.key}
	p.init(deps, kind.name, Description{
		Title:    kind.title,
		Type:     "number",
		AtType:   kind.atType,
		Unit:     kind.unit,
		ReadOnly: true,
	})
	return p
}

// Key returns the PollSample key this property reads.
func (p *TelemetryProperty) Key() string { return p.key }

func (p *TelemetryProperty) apply(sample PollSample) {
	r, ok := sample[p.key]
	if !ok {
		return
	}
	p.update(r.Value, true)
}

// telemetryPoller fetches one sample per cycle and fans it out.
type telemetryPoller struct {
	transport  Transport
	properties []*TelemetryProperty
	onSample   func(PollSample)
}

func (t *telemetryPoller) Poll(ctx context.Context) {
	sample, err := t.transport.GetData(ctx)
	if err != nil {
		return
	}
	for _, p := range t.properties {
		p.apply(sample)
	}
	if t.onSample != nil {
		t.onSample(sample)
	}
}
