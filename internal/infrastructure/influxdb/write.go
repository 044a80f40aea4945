package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementTelemetry = "telemetry"
	measurementEnergy    = "energy"
)

// Reading is one named value from a plug poll.
type Reading struct {
	Name  string
	Value float64
	Unit  string
}

// WriteTelemetry queues one point per reading, all stamped with the same
// time and tagged with device, reading name and unit.
func (c *Client) WriteTelemetry(deviceID string, readings []Reading) {
	if len(readings) == 0 || !c.IsConnected() {
		return
	}
	for _, p := range telemetryPoints(deviceID, readings, time.Now()) {
		c.writeAPI.WritePoint(p)
	}
}

func telemetryPoints(deviceID string, readings []Reading, ts time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		p := write.NewPointWithMeasurement(measurementTelemetry).
			AddTag("device_id", deviceID).
			AddTag("reading", r.Name).
			AddField("value", r.Value).
			SetTime(ts)
		if r.Unit != "" {
			p.AddTag("unit", r.Unit)
		}
		points = append(points, p)
	}
	return points
}

// WriteEnergyMetric queues the instantaneous power and, when known, the
// cumulative energy counter. A zero energyKWh means unknown.
func (c *Client) WriteEnergyMetric(deviceID string, powerWatts float64, energyKWh float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(energyPoint(deviceID, powerWatts, energyKWh, time.Now()))
}

func energyPoint(deviceID string, powerWatts, energyKWh float64, ts time.Time) *write.Point {
	p := write.NewPointWithMeasurement(measurementEnergy).
		AddTag("device_id", deviceID).
		AddField("power_watts", powerWatts).
		SetTime(ts)
	if energyKWh > 0 {
		p.AddField("energy_kwh", energyKWh)
	}
	return p
}
