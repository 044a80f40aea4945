package tasmota

import (
	"context"
	"fmt"
	"strconv"
)

// ColorTemperatureProperty exposes CT in kelvin.
type ColorTemperatureProperty struct {
	baseProperty
	converter ColorTemperatureConverter
}

func newColorTemperatureProperty(deps propertyDeps, converter ColorTemperatureConverter) *ColorTemperatureProperty {
	p := &ColorTemperatureProperty{converter: converter}
	p.init(deps, "colorTemperature", Description{
		Title:   "Color Temperature",
		Type:    "integer",
		AtType:  "ColorTemperatureProperty",
		Unit:    "kelvin",
		Minimum: floatPtr(MinKelvin),
		Maximum: floatPtr(MaxKelvin),
	})
	return p
}

// Poll reads CT. A reply without CT leaves the cache alone.
func (p *ColorTemperatureProperty) Poll(ctx context.Context) {
	body, err := p.transport.GetStatus(ctx, "CT")
	if err != nil {
		return
	}
	native, ok := toInt(body["CT"])
	if !ok {
		return
	}
	p.update(p.converter.NativeToKelvin(native), false)
}

// Write implements Writer. Kelvin values are clamped to the supported range.
func (p *ColorTemperatureProperty) Write(ctx context.Context, value any) error {
	kelvin, ok := toInt(value)
	if !ok {
		return fmt.Errorf("%w: colorTemperature expects a number, got %T", ErrInvalidValue, value)
	}
	kelvin = clamp(kelvin, MinKelvin, MaxKelvin)

	p.cacheWrite(kelvin)
	p.send(ctx, "CT", strconv.Itoa(p.converter.KelvinToNative(kelvin)))
	return nil
}
