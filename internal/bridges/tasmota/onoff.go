package tasmota

import (
	"context"
	"fmt"
)

// OnOffProperty switches a light or one relay channel.
type OnOffProperty struct {
	baseProperty

	// channel is the relay index, or 0 for the unnamed Power command.
	channel      int
	onlyOnChange bool
}

func newOnOffProperty(deps propertyDeps, name string, channel int, onlyOnChange bool) *OnOffProperty {
	title := "On/Off"
	if channel > 0 {
		title = fmt.Sprintf("On/Off %d", channel)
	}
	p := &OnOffProperty{channel: channel, onlyOnChange: onlyOnChange}
	p.init(deps, name, Description{
		Title:  title,
		Type:   "boolean",
		AtType: "OnOffProperty",
	})
	return p
}

// Channel returns the relay index (0 for a single-relay device).
func (p *OnOffProperty) Channel() int { return p.channel }

func (p *OnOffProperty) command() string {
	if p.channel == 0 {
		return "Power"
	}
	return fmt.Sprintf("Power%d", p.channel)
}

// Poll reads POWER (or POWER<n>) from the device.
func (p *OnOffProperty) Poll(ctx context.Context) {
	body, err := p.transport.GetStatus(ctx, p.command())
	if err != nil {
		return
	}

	key := "POWER"
	if p.channel > 0 {
		key = fmt.Sprintf("POWER%d", p.channel)
	}
	raw, ok := body[key]
	if !ok && p.channel == 1 {
		// Single-relay devices answer Power1 with plain POWER.
		raw, ok = body["POWER"]
	}
	if !ok {
		return
	}
	on, ok := parsePower(raw)
	if !ok {
		return
	}
	p.update(on, p.onlyOnChange)
}

// Write implements Writer.
func (p *OnOffProperty) Write(ctx context.Context, value any) error {
	on, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%w: %s expects a boolean, got %T", ErrInvalidValue, p.name, value)
	}

	p.cacheWrite(on)
	payload := "OFF"
	if on {
		payload = "ON"
	}
	p.send(ctx, p.command(), payload)
	return nil
}
