package tasmota

import (
	"context"
	"strings"
)

// Colour modes reported by ColorModeProperty.
const (
	ColorModeColor       = "color"
	ColorModeTemperature = "temperature"
)

// ColorModeProperty reports whether a light runs on its colour or its
// white channels. It reads Color itself and never touches ColorProperty.
type ColorModeProperty struct {
	baseProperty
}

func newColorModeProperty(deps propertyDeps) *ColorModeProperty {
	p := &ColorModeProperty{}
	p.init(deps, "colorMode", Description{
		Title:    "Color Mode",
		Type:     "string",
		AtType:   "ColorModeProperty",
		ReadOnly: true,
		Enum:     []string{ColorModeColor, ColorModeTemperature},
	})
	return p
}

// Poll derives the mode from a fresh Color read.
func (p *ColorModeProperty) Poll(ctx context.Context) {
	body, err := p.transport.GetStatus(ctx, "Color")
	if err != nil {
		return
	}
	raw, ok := body["Color"].(string)
	if !ok {
		return
	}
	hex, ok := normaliseHex(raw)
	if !ok {
		return
	}

	mode := ColorModeColor
	if strings.EqualFold(hex[0:6], blackRGB) {
		mode = ColorModeTemperature
	}
	p.update(mode, false)
}
