// Package tasmota implements the Tasmota device bridge for Gray Logic.
//
// Tasmota-flashed lights and power plugs expose an HTTP command endpoint
// (/cm?cmnd=...) that answers with JSON. This package represents each
// configured device as a set of polled properties, keeps a local cache of
// their last known values, and translates between that cache and the
// Gray Logic MQTT bus.
//
// # Architecture
//
//	┌─────────────────┐          ┌──────────────────┐   HTTP/JSON
//	│   Gray Logic    │   MQTT   │  Tasmota Bridge  │◄───────────► Tasmota devices
//	│      Core       │◄────────►│    (this pkg)    │   (polled)
//	└─────────────────┘          └──────────────────┘
//
// # Property Synchronisation
//
// Every property owns a cached value:
//
//   - Poll: query the device, normalise the reply, update the cache and
//     notify listeners. A failed or malformed reply skips the cycle and the
//     previous value is kept.
//   - Write: update the cache immediately, send the command, then inspect
//     the reply. Delivery failures and Tasmota WARNING replies are logged;
//     the cached value is never rolled back.
//
// Light properties notify on every successful poll. Plug on/off properties
// notify only when the value changes.
//
// # Capabilities
//
// A Device is a single entity carrying a set of property kinds (OnOff,
// Brightness, Color, ColorTemperature, ColorMode). Lights probe Dimmer, CT
// and Color once at construction unless their capabilities are configured.
// Plugs probe Power1..Power9 once to find their relay channels. The colour
// channel width (RGB, RGBW, RGBCW) is learned from the first successful
// colour read and never changes afterwards.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Polls are not serialised: a slow device can have overlapping poll cycles.
//
// # References
//
//   - Tasmota commands: https://tasmota.github.io/docs/Commands/
//   - Web Thing schemas: https://webthings.io/schemas
package tasmota
