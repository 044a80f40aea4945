package tasmota

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/metrics"
)

// Source identifies what produced a property value.
type Source string

const (
	// SourcePoll marks values read from the device.
	SourcePoll Source = "poll"

	// SourceCommand marks values cached by a write.
	SourceCommand Source = "command"
)

// Description is the property metadata exposed to UIs.
// Field names follow the Web Thing property description.
type Description struct {
	Title    string   `json:"title"`
	Type     string   `json:"type"`
	AtType   string   `json:"@type,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Minimum  *float64 `json:"minimum,omitempty"`
	Maximum  *float64 `json:"maximum,omitempty"`
	ReadOnly bool     `json:"readOnly,omitempty"`
	Enum     []string `json:"enum,omitempty"`
}

// Property is a named, cached device value.
type Property interface {
	Name() string
	Description() Description

	// Value returns the last known value and whether one has been seen.
	Value() (any, bool)
}

// Writer is implemented by properties that accept writes.
type Writer interface {
	// Write caches value and sends it to the device. Only local validation
	// failures are returned; delivery problems are logged.
	Write(ctx context.Context, value any) error
}

// poller is implemented by anything a device poll cycle refreshes.
type poller interface {
	Poll(ctx context.Context)
}

// propertyDeps is shared by every property of one device.
type propertyDeps struct {
	deviceID  string
	transport Transport
	logger    Logger
	notify    func(name string, value any, source Source)
	seen      func(time.Time)
}

// baseProperty holds the cache and the write/inspect plumbing.
type baseProperty struct {
	propertyDeps
	name string
	desc Description

	mu    sync.RWMutex
	value any
	known bool
}

func (p *baseProperty) init(deps propertyDeps, name string, desc Description) {
	p.propertyDeps = deps
	p.name = name
	p.desc = desc
}

// Name implements Property.
func (p *baseProperty) Name() string { return p.name }

// Description implements Property.
func (p *baseProperty) Description() Description { return p.desc }

// Value implements Property.
func (p *baseProperty) Value() (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value, p.known
}

// store caches v and reports whether it differs from the previous value.
func (p *baseProperty) store(v any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := !p.known || p.value != v
	p.value = v
	p.known = true
	return changed
}

// update records a polled value. With onlyOnChange set, listeners are told
// only about transitions.
func (p *baseProperty) update(v any, onlyOnChange bool) {
	if p.seen != nil {
		p.seen(time.Now())
	}
	changed := p.store(v)
	if onlyOnChange && !changed {
		return
	}
	p.emit(v, SourcePoll)
}

// cacheWrite optimistically caches a written value.
func (p *baseProperty) cacheWrite(v any) {
	p.store(v)
	p.emit(v, SourceCommand)
}

func (p *baseProperty) emit(v any, source Source) {
	if p.notify != nil {
		p.notify(p.name, v, source)
	}
}

// send delivers a command and inspects the reply. Nothing is rolled back.
func (p *baseProperty) send(ctx context.Context, command, payload string) {
	resp, err := p.transport.SetStatus(ctx, command, payload)
	if err != nil {
		metrics.IncPropertyWrite(metrics.ResultError)
		p.logger.Warn("tasmota command failed",
			"device_id", p.deviceID,
			"property", p.name,
			"command", command,
			"error", err,
		)
		return
	}
	inspectResponse(p.logger, p.deviceID, p.name, command, resp)
}

// inspectResponse logs non-200 replies and Tasmota WARNING bodies.
func inspectResponse(logger Logger, deviceID, property, command string, resp *Response) {
	if resp.StatusCode != http.StatusOK {
		metrics.IncPropertyWrite(metrics.ResultRejected)
		logger.Warn("tasmota command rejected",
			"device_id", deviceID,
			"property", property,
			"command", command,
			"status", resp.Status,
		)
		return
	}

	warning, ok := resp.Body["WARNING"]
	if !ok {
		metrics.IncPropertyWrite(metrics.ResultSuccess)
		return
	}

	metrics.IncPropertyWrite(metrics.ResultWarning)
	args := []any{
		"device_id", deviceID,
		"property", property,
		"command", command,
		"warning", warning,
	}
	if reply, ok := resp.Body["Command"]; ok {
		args = append(args, "reply", reply)
	}
	logger.Warn("tasmota command warning", args...)
}

func floatPtr(v float64) *float64 { return &v }
