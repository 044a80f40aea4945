// Package influxdb stores plug telemetry in InfluxDB v2.
//
// Each poll of an energy-monitoring plug yields voltage, current, power,
// energy counters and optional sensor temperatures. They are written here
// as time series; SQLite keeps only property change history.
//
// Writes are batched and non-blocking. Refused batches surface as
// *WriteError through Options.OnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.Options{OnError: logWriteError})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("plug-desk", []influxdb.Reading{{Name: "Power", Value: 42.5, Unit: "W"}})
package influxdb
