package tasmota

import (
	"context"
	"fmt"
	"strconv"
)

// BrightnessProperty maps to the Tasmota Dimmer command (0-100).
type BrightnessProperty struct {
	baseProperty
}

func newBrightnessProperty(deps propertyDeps) *BrightnessProperty {
	p := &BrightnessProperty{}
	p.init(deps, "brightness", Description{
		Title:   "Brightness",
		Type:    "integer",
		AtType:  "BrightnessProperty",
		Unit:    "percent",
		Minimum: floatPtr(0),
		Maximum: floatPtr(100),
	})
	return p
}

// Poll reads Dimmer.
func (p *BrightnessProperty) Poll(ctx context.Context) {
	body, err := p.transport.GetStatus(ctx, "Dimmer")
	if err != nil {
		return
	}
	level, ok := toInt(body["Dimmer"])
	if !ok {
		return
	}
	p.update(level, false)
}

// Write implements Writer. Values are clamped to 0..100.
func (p *BrightnessProperty) Write(ctx context.Context, value any) error {
	level, ok := toInt(value)
	if !ok {
		return fmt.Errorf("%w: brightness expects a number, got %T", ErrInvalidValue, value)
	}
	level = clamp(level, 0, 100)

	p.cacheWrite(level)
	p.send(ctx, "Dimmer", strconv.Itoa(level))
	return nil
}
