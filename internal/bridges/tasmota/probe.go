package tasmota

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// maxChannels is the highest relay index Tasmota addresses with Power<n>.
const maxChannels = 9

// ProbeChannels returns the relay channels a plug exposes, ascending.
//
// Each of Power1..Power9 is queried once. A channel is available when the
// reply's POWER<n> field is exactly "ON" or "OFF". Missing keys, other
// values and transport errors mark only that channel as unavailable, so
// gaps are preserved (e.g. [1 2 4]).
func ProbeChannels(ctx context.Context, t Transport) []int {
	var channels []int
	for n := 1; n <= maxChannels; n++ {
		body, err := t.GetStatus(ctx, fmt.Sprintf("Power%d", n))
		if err != nil {
			continue
		}
		if _, ok := parsePower(body[fmt.Sprintf("POWER%d", n)]); ok {
			channels = append(channels, n)
		}
	}
	return channels
}

// DetectDeviceType decides between a light and a plug: devices that answer
// Dimmer are lights.
func DetectDeviceType(ctx context.Context, t Transport) (DeviceType, error) {
	body, err := t.GetStatus(ctx, "Dimmer")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	if _, ok := body["Dimmer"]; ok {
		return DeviceTypeLight, nil
	}
	return DeviceTypePlug, nil
}

// DetectLightKinds probes Dimmer, CT and Color once and returns the
// capability set of a light. ColorMode is included only when the light has
// both colour and colour temperature and colorMode is enabled.
func DetectLightKinds(ctx context.Context, t Transport, colorMode bool) []Kind {
	kinds := []Kind{KindOnOff}

	if answers(ctx, t, "Dimmer") {
		kinds = append(kinds, KindBrightness)
	}
	hasCT := answers(ctx, t, "CT")
	hasColor := answers(ctx, t, "Color")
	if hasCT {
		kinds = append(kinds, KindColorTemperature)
	}
	if hasColor {
		kinds = append(kinds, KindColor)
	}
	if hasCT && hasColor && colorMode {
		kinds = append(kinds, KindColorMode)
	}

	return kinds
}

// answers reports whether the device replies to command with its own key.
func answers(ctx context.Context, t Transport, command string) bool {
	body, err := t.GetStatus(ctx, command)
	if err != nil {
		return false
	}
	v, ok := body[command]
	if !ok {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// channelWidth holds a light's colour byte count (3 RGB, 4 RGBW, 5 RGBCW).
// Zero means unknown. The first nonzero value observed is kept for good.
type channelWidth struct {
	mu sync.Mutex
	n  int
}

// observe infers the width from a hex colour string and returns the
// effective width.
func (w *channelWidth) observe(hex string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n == 0 {
		w.n = len(hex) / 2
	}
	return w.n
}

func (w *channelWidth) get() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// parsePower maps "ON"/"OFF" to a boolean.
func parsePower(v any) (bool, bool) {
	s, ok := v.(string)
	if !ok {
		return false, false
	}
	switch s {
	case "ON":
		return true, true
	case "OFF":
		return false, true
	default:
		return false, false
	}
}

// normaliseHex validates a Tasmota colour reply and returns it upper-cased
// without a leading '#'. At least the RGB bytes must be present.
func normaliseHex(raw string) (string, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) < 6 || len(hex)%2 != 0 {
		return "", false
	}
	for _, c := range hex {
		if !isHexDigit(c) {
			return "", false
		}
	}
	return strings.ToUpper(hex), true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
