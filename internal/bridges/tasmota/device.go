package tasmota

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SchemaContext is the @context advertised in device descriptions.
const SchemaContext = "https://webthings.io/schemas"

// DeviceType selects how a configured device is composed.
type DeviceType string

const (
	DeviceTypeLight DeviceType = "light"
	DeviceTypePlug  DeviceType = "plug"

	// DeviceTypeAuto probes Dimmer at start to choose light or plug.
	DeviceTypeAuto DeviceType = "auto"
)

// Kind is a light capability.
type Kind string

const (
	KindOnOff            Kind = "on_off"
	KindBrightness       Kind = "brightness"
	KindColorTemperature Kind = "color_temperature"
	KindColor            Kind = "color"
	KindColorMode        Kind = "color_mode"
)

// kindOrder is the order properties are attached in.
var kindOrder = []Kind{KindOnOff, KindBrightness, KindColorTemperature, KindColor, KindColorMode}

// Light variants.
var (
	DimmableLight         = []Kind{KindOnOff, KindBrightness}
	ColorTemperatureLight = []Kind{KindOnOff, KindBrightness, KindColorTemperature}
	ColorLight            = []Kind{KindOnOff, KindBrightness, KindColor}
	FullColorLight        = []Kind{KindOnOff, KindBrightness, KindColor, KindColorTemperature, KindColorMode}
)

// Change is a property notification.
type Change struct {
	DeviceID  string
	Property  string
	Value     any
	Source    Source
	Timestamp time.Time
}

// DeviceOptions configures device construction.
type DeviceOptions struct {
	ID        string
	Title     string
	Transport Transport

	// Converter defaults to LinearConverter.
	Converter ColorTemperatureConverter

	Features Features
	Logger   Logger

	// OnChange receives every property notification. Optional.
	OnChange func(Change)

	// OnSample receives each plug telemetry sample. Optional.
	OnSample func(deviceID string, sample PollSample)
}

// Device is one Tasmota device: a fixed set of properties built once.
type Device struct {
	id         string
	title      string
	deviceType DeviceType
	types      []string
	kinds      []Kind
	channels   []int

	properties map[string]Property
	pollers    []poller
	width      channelWidth

	seenMu   sync.RWMutex
	lastSeen time.Time

	logger Logger
}

// DeviceDescription is the Web Thing style description of a device.
type DeviceDescription struct {
	Context    string                 `json:"@context"`
	Type       []string               `json:"@type"`
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Kind       DeviceType             `json:"device_type"`
	Properties map[string]Description `json:"properties"`
}

func newDevice(opts DeviceOptions, deviceType DeviceType) (*Device, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("device %s: transport is required", opts.ID)
	}
	title := opts.Title
	if title == "" {
		title = opts.ID
	}
	return &Device{
		id:         opts.ID,
		title:      title,
		deviceType: deviceType,
		properties: make(map[string]Property),
		logger:     orNoop(opts.Logger),
	}, nil
}

// deps builds the dependencies shared by this device's properties.
func (d *Device) deps(opts DeviceOptions) propertyDeps {
	return propertyDeps{
		deviceID:  d.id,
		transport: opts.Transport,
		logger:    d.logger,
		notify: func(name string, value any, source Source) {
			if opts.OnChange == nil {
				return
			}
			opts.OnChange(Change{
				DeviceID:  d.id,
				Property:  name,
				Value:     value,
				Source:    source,
				Timestamp: time.Now().UTC(),
			})
		},
		seen: d.markSeen,
	}
}

func (d *Device) add(p Property) {
	d.properties[p.Name()] = p
	if pl, ok := p.(poller); ok {
		d.pollers = append(d.pollers, pl)
	}
}

// NewLight builds a light with exactly one property per capability kind.
// Duplicate kinds collapse. OnOff is mandatory; ColorMode needs both Color
// and ColorTemperature.
func NewLight(opts DeviceOptions, kinds []Kind) (*Device, error) {
	set, err := normaliseKinds(kinds)
	if err != nil {
		return nil, fmt.Errorf("light %s: %w", opts.ID, err)
	}

	d, err := newDevice(opts, DeviceTypeLight)
	if err != nil {
		return nil, err
	}
	converter := opts.Converter
	if converter == nil {
		converter = LinearConverter{}
	}

	deps := d.deps(opts)
	d.kinds = set
	d.types = []string{"Light", "OnOffSwitch"}
	for _, k := range set {
		switch k {
		case KindOnOff:
			d.add(newOnOffProperty(deps, "on", 0, false))
		case KindBrightness:
			d.add(newBrightnessProperty(deps))
		case KindColorTemperature:
			d.add(newColorTemperatureProperty(deps, converter))
		case KindColor:
			d.add(newColorProperty(deps, &d.width, opts.Features.UseWhiteLEDInColorMode))
		case KindColorMode:
			d.add(newColorModeProperty(deps))
		}
	}
	if d.hasKind(KindColor) || d.hasKind(KindColorTemperature) {
		d.types = append(d.types, "ColorControl")
	}

	return d, nil
}

// NewPlug builds a power plug. It probes relay channels (when multi-channel
// support is enabled) and reads one telemetry sample to decide which energy
// properties to expose. Probe failures never fail construction.
func NewPlug(ctx context.Context, opts DeviceOptions) (*Device, error) {
	d, err := newDevice(opts, DeviceTypePlug)
	if err != nil {
		return nil, err
	}
	deps := d.deps(opts)
	d.types = []string{"SmartPlug", "OnOffSwitch"}

	if opts.Features.MultiChannelRelay {
		d.channels = ProbeChannels(ctx, opts.Transport)
	}
	if len(d.channels) > 1 {
		for i, ch := range d.channels {
			name := fmt.Sprintf("on%d", ch)
			if i == 0 {
				name = "on"
			}
			d.add(newOnOffProperty(deps, name, ch, true))
		}
	} else {
		d.add(newOnOffProperty(deps, "on", 0, true))
	}

	tp := &telemetryPoller{transport: opts.Transport}
	if opts.OnSample != nil {
		tp.onSample = func(sample PollSample) { opts.OnSample(d.id, sample) }
	}

	sample, err := opts.Transport.GetData(ctx)
	if err != nil {
		d.logger.Warn("initial telemetry sample failed", "device_id", d.id, "error", err)
	}
	hasEnergy := false
	for _, kind := range energyTelemetry {
		if _, ok := sample[kind.key]; !ok {
			continue
		}
		p := newTelemetryProperty(deps, kind)
		d.properties[p.Name()] = p
		tp.properties = append(tp.properties, p)
		hasEnergy = true
	}
	if hasEnergy {
		d.types = append(d.types, "EnergyMonitor")
	}

	if opts.Features.TemperatureSensor {
		key := opts.Features.TemperatureKey
		if key == "" {
			key = DefaultTemperatureKey
		}
		p := newTelemetryProperty(deps, telemetryKind{
			name:   "temperature",
			key:    key,
			title:  "Temperature",
			atType: "TemperatureProperty",
			unit:   "degree celsius",
		})
		d.properties[p.Name()] = p
		tp.properties = append(tp.properties, p)
		d.types = append(d.types, "TemperatureSensor")
	}

	if len(tp.properties) > 0 || tp.onSample != nil {
		d.pollers = append(d.pollers, tp)
	}

	return d, nil
}

// normaliseKinds dedupes kinds into attach order and validates the set.
func normaliseKinds(kinds []Kind) ([]Kind, error) {
	declared := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCapabilities, k)
		}
		declared[k] = true
	}
	if !declared[KindOnOff] {
		return nil, fmt.Errorf("%w: on_off is required", ErrInvalidCapabilities)
	}
	if declared[KindColorMode] && (!declared[KindColor] || !declared[KindColorTemperature]) {
		return nil, fmt.Errorf("%w: color_mode needs color and color_temperature", ErrInvalidCapabilities)
	}

	set := make([]Kind, 0, len(declared))
	for _, k := range kindOrder {
		if declared[k] {
			set = append(set, k)
		}
	}
	return set, nil
}

// Valid reports whether k is a known capability.
func (k Kind) Valid() bool {
	for _, known := range kindOrder {
		if k == known {
			return true
		}
	}
	return false
}

// Poll runs one poll cycle: every property is refreshed concurrently and
// Poll returns when all of them have finished.
func (d *Device) Poll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range d.pollers {
		wg.Add(1)
		go func(p poller) {
			defer wg.Done()
			p.Poll(ctx)
		}(p)
	}
	wg.Wait()
}

// Write sets a property by name.
func (d *Device) Write(ctx context.Context, name string, value any) error {
	w, err := d.writer(name)
	if err != nil {
		return err
	}
	return w.Write(ctx, value)
}

// CanWrite reports whether name exists and accepts writes.
func (d *Device) CanWrite(name string) error {
	_, err := d.writer(name)
	return err
}

func (d *Device) writer(name string) (Writer, error) {
	p, ok := d.properties[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, d.id, name)
	}
	w, ok := p.(Writer)
	if !ok || p.Description().ReadOnly {
		return nil, fmt.Errorf("%w: %s/%s", ErrReadOnly, d.id, name)
	}
	return w, nil
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Title returns the display name.
func (d *Device) Title() string { return d.title }

// Type returns light or plug.
func (d *Device) Type() DeviceType { return d.deviceType }

// Kinds returns a light's capability set (nil for plugs).
func (d *Device) Kinds() []Kind { return append([]Kind(nil), d.kinds...) }

// Channels returns the relay channels found at construction (plugs only).
func (d *Device) Channels() []int { return append([]int(nil), d.channels...) }

// ChannelWidth returns the colour channel width, or 0 while unknown.
func (d *Device) ChannelWidth() int { return d.width.get() }

func (d *Device) hasKind(k Kind) bool {
	for _, have := range d.kinds {
		if have == k {
			return true
		}
	}
	return false
}

// Property returns a property by name.
func (d *Device) Property(name string) (Property, bool) {
	p, ok := d.properties[name]
	return p, ok
}

// Properties returns all properties sorted by name.
func (d *Device) Properties() []Property {
	props := make([]Property, 0, len(d.properties))
	for _, p := range d.properties {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name() < props[j].Name() })
	return props
}

// Values returns the known property values.
func (d *Device) Values() map[string]any {
	values := make(map[string]any, len(d.properties))
	for name, p := range d.properties {
		if v, ok := p.Value(); ok {
			values[name] = v
		}
	}
	return values
}

// Description returns the device metadata.
func (d *Device) Description() DeviceDescription {
	props := make(map[string]Description, len(d.properties))
	for name, p := range d.properties {
		props[name] = p.Description()
	}
	return DeviceDescription{
		Context:    SchemaContext,
		Type:       append([]string(nil), d.types...),
		ID:         d.id,
		Title:      d.title,
		Kind:       d.deviceType,
		Properties: props,
	}
}

// LastSeen returns when the device last answered a poll.
func (d *Device) LastSeen() time.Time {
	d.seenMu.RLock()
	defer d.seenMu.RUnlock()
	return d.lastSeen
}

func (d *Device) markSeen(t time.Time) {
	d.seenMu.Lock()
	if t.After(d.lastSeen) {
		d.lastSeen = t
	}
	d.seenMu.Unlock()
}
