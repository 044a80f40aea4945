package tasmota

import (
	"context"
	"fmt"
	"strings"
)

// blackRGB is the RGB part of a colour reply when only white channels are lit.
const blackRGB = "000000"

// ColorProperty exposes the light colour as "#rrggbb".
//
// On RGBW/RGBCW lights a reply with black RGB is shown as the white level
// (grey). With useWhiteLED set, greys written to such lights drive the white
// channel instead of the RGB LEDs.
type ColorProperty struct {
	baseProperty
	width       *channelWidth
	useWhiteLED bool
}

func newColorProperty(deps propertyDeps, width *channelWidth, useWhiteLED bool) *ColorProperty {
	p := &ColorProperty{width: width, useWhiteLED: useWhiteLED}
	p.init(deps, "color", Description{
		Title:  "Color",
		Type:   "string",
		AtType: "ColorProperty",
	})
	return p
}

// Poll reads Color and learns the channel width on first success.
func (p *ColorProperty) Poll(ctx context.Context) {
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

	width := p.width.observe(hex)
	p.update(displayColor(hex, width), false)
}

// Write implements Writer. Accepts "#rrggbb" or "rrggbb".
func (p *ColorProperty) Write(ctx context.Context, value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: color expects a string, got %T", ErrInvalidValue, value)
	}
	hex, ok := normaliseHex(s)
	if !ok || len(hex) != 6 {
		return fmt.Errorf("%w: color %q is not #rrggbb", ErrInvalidValue, s)
	}
	rgb := strings.ToLower(hex)

	p.cacheWrite("#" + rgb)
	p.send(ctx, "Color", p.payload(rgb))
	return nil
}

// payload returns the Color command argument for rgb.
func (p *ColorProperty) payload(rgb string) string {
	width := p.width.get()
	if !p.useWhiteLED || width <= 3 || !isGrey(rgb) {
		return rgb
	}
	return blackRGB + strings.Repeat(rgb[0:2], width-3)
}

// displayColor renders a device colour reply as "#rrggbb".
func displayColor(hex string, width int) string {
	rgb := strings.ToLower(hex[0:6])
	if width >= 4 && rgb == blackRGB && len(hex) >= 8 {
		white := strings.ToLower(hex[6:8])
		return "#" + white + white + white
	}
	return "#" + rgb
}

func isGrey(rgb string) bool {
	return rgb[0:2] == rgb[2:4] && rgb[2:4] == rgb[4:6]
}
