package tasmota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/metrics"
)

const (
	// DefaultUsername is the web user Tasmota expects alongside a password.
	DefaultUsername = "admin"

	// DefaultPort is the HTTP port of the Tasmota web server.
	DefaultPort = 80

	// defaultRequestTimeout bounds a single command round trip.
	defaultRequestTimeout = 5 * time.Second

	// maxResponseSize caps the body read from a device (status replies are small).
	maxResponseSize = 64 << 10

	// sensorStatusCommand returns the StatusSNS sensor block.
	sensorStatusCommand = "Status 10"
)

// Transport talks to a single Tasmota device.
//
// Implementations must be safe for concurrent use: every property of a
// device shares one Transport and may have a request in flight at any time.
type Transport interface {
	// GetStatus sends a query command and returns the decoded JSON reply.
	// Non-200 replies and bodies that are not JSON objects are errors.
	GetStatus(ctx context.Context, command string) (map[string]any, error)

	// SetStatus sends command with payload and returns the raw outcome.
	// Only delivery failures are errors; callers inspect the Response.
	SetStatus(ctx context.Context, command, payload string) (*Response, error)

	// GetData returns the device's sensor and energy readings.
	GetData(ctx context.Context) (PollSample, error)
}

// Response is the outcome of a command sent to a device.
type Response struct {
	StatusCode int
	Status     string

	// Body is the decoded JSON reply, or nil if the reply was not JSON.
	Body map[string]any
}

// Reading is a single telemetry value with its unit symbol.
type Reading struct {
	Value float64
	Unit  string
}

// PollSample maps telemetry names (Voltage, Current, Power, sensor names)
// to readings. It lives for one poll cycle.
type PollSample map[string]Reading

// Endpoint addresses a device's command endpoint.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// String returns host:port. The password is never included.
func (e Endpoint) String() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// HTTPTransportOptions configures an HTTPTransport.
type HTTPTransportOptions struct {
	// Timeout bounds each request. Default: 5 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client (tests use httptest servers).
	Client *http.Client

	// Logger receives transport failures. Optional.
	Logger Logger
}

// HTTPTransport implements Transport over the Tasmota /cm endpoint.
type HTTPTransport struct {
	endpoint Endpoint
	client   *http.Client
	logger   Logger
}

// NewHTTPTransport creates a transport bound to endpoint.
func NewHTTPTransport(endpoint Endpoint, opts HTTPTransportOptions) *HTTPTransport {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPTransport{
		endpoint: endpoint,
		client:   client,
		logger:   orNoop(opts.Logger),
	}
}

// Endpoint returns the device endpoint this transport is bound to.
func (t *HTTPTransport) Endpoint() Endpoint {
	return t.endpoint
}

// GetStatus implements Transport.
func (t *HTTPTransport) GetStatus(ctx context.Context, command string) (map[string]any, error) {
	start := time.Now()
	resp, raw, err := t.roundTrip(ctx, http.MethodGet, command, "")
	if err != nil {
		metrics.ObserveDeviceRequest(command, metrics.ResultError, time.Since(start))
		t.logger.Warn("tasmota request failed", "endpoint", t.endpoint.String(), "command", command, "error", err)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		metrics.ObserveDeviceRequest(command, metrics.ResultRejected, time.Since(start))
		t.logger.Warn("tasmota request rejected", "endpoint", t.endpoint.String(), "command", command, "status", resp.Status)
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	body, err := decodeBody(raw)
	if err != nil {
		metrics.ObserveDeviceRequest(command, metrics.ResultMalformed, time.Since(start))
		t.logger.Warn("tasmota reply malformed", "endpoint", t.endpoint.String(), "command", command, "error", err)
		return nil, err
	}

	metrics.ObserveDeviceRequest(command, metrics.ResultSuccess, time.Since(start))
	return body, nil
}

// SetStatus implements Transport.
func (t *HTTPTransport) SetStatus(ctx context.Context, command, payload string) (*Response, error) {
	start := time.Now()
	resp, raw, err := t.roundTrip(ctx, http.MethodPost, command, payload)
	if err != nil {
		metrics.ObserveDeviceRequest(command, metrics.ResultError, time.Since(start))
		return nil, err
	}

	result := metrics.ResultSuccess
	if resp.StatusCode != http.StatusOK {
		result = metrics.ResultRejected
	}
	metrics.ObserveDeviceRequest(command, result, time.Since(start))

	// A reply that is not JSON is still a delivered command.
	//nolint:errcheck // Body stays nil when the reply is not a JSON object
	resp.Body, _ = decodeBody(raw)
	return resp, nil
}

// GetData implements Transport. It reads the StatusSNS block and flattens
// energy and temperature readings into a PollSample.
func (t *HTTPTransport) GetData(ctx context.Context) (PollSample, error) {
	body, err := t.GetStatus(ctx, sensorStatusCommand)
	if err != nil {
		return nil, err
	}
	sns, ok := body["StatusSNS"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: StatusSNS missing", ErrMalformedResponse)
	}
	return ParseSensorStatus(sns), nil
}

// roundTrip performs one request against the /cm endpoint.
func (t *HTTPTransport) roundTrip(ctx context.Context, method, command, payload string) (*Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.commandURL(command, payload), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s request: %w", command, err)
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("sending %s to %s: %w", command, t.endpoint, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s reply from %s: %w", command, t.endpoint, err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Status: httpResp.Status}, raw, nil
}

// commandURL builds http://host:port/cm?user=..&password=..&cmnd=<command payload>.
func (t *HTTPTransport) commandURL(command, payload string) string {
	cmnd := command
	if payload != "" {
		cmnd = command + " " + payload
	}

	q := url.Values{}
	if t.endpoint.Password != "" {
		user := t.endpoint.Username
		if user == "" {
			user = DefaultUsername
		}
		q.Set("user", user)
		q.Set("password", t.endpoint.Password)
	}
	q.Set("cmnd", cmnd)

	u := url.URL{
		Scheme:   "http",
		Host:     t.endpoint.String(),
		Path:     "/cm",
		RawQuery: q.Encode(),
	}
	return u.String()
}

// decodeBody parses a JSON object reply.
func decodeBody(raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}
	return body, nil
}

// energyUnits maps ENERGY fields to their unit symbols.
var energyUnits = map[string]string{
	"Voltage":       "V",
	"Current":       "A",
	"Power":         "W",
	"ApparentPower": "VA",
	"ReactivePower": "VAr",
	"Factor":        "",
	"Today":         "kWh",
	"Yesterday":     "kWh",
	"Total":         "kWh",
}

// ParseSensorStatus flattens a StatusSNS object into a PollSample.
//
// ENERGY fields become Voltage, Current, Power and friends. Every other
// sensor object carrying a Temperature field is keyed by its sensor name
// (e.g. "DS18B20", "AM2301") with the unit taken from TempUnit.
// Multi-channel energy arrays report their first channel.
func ParseSensorStatus(sns map[string]any) PollSample {
	sample := PollSample{}

	tempUnit := "C"
	if u, ok := sns["TempUnit"].(string); ok && u != "" {
		tempUnit = strings.ToUpper(u)
	}

	for key, raw := range sns {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if key == "ENERGY" {
			for field, unit := range energyUnits {
				if v, ok := toFloat(firstElement(obj[field])); ok {
					sample[field] = Reading{Value: v, Unit: unit}
				}
			}
			continue
		}

		if v, ok := toFloat(obj["Temperature"]); ok {
			sample[key] = Reading{Value: v, Unit: "°" + tempUnit}
		}
	}

	return sample
}

// firstElement unwraps per-channel arrays.
func firstElement(v any) any {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	return v
}
