// Package influxdb writes machine statistics to InfluxDB v2.
//
// The bridge's statistics poller records three measurements, all tagged
// with the machine serial:
//
//   - coffee_counters: cumulative drink and flush counters
//   - boilers: current and target boiler temperatures
//   - extraction: one point per finished shot, at the shot's time
//
// Writes go through the non-blocking batched write API of
// influxdb-client-go; batch size and flush interval come from the
// influxdb config section. Async write failures reach the callback set
// with SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // statistics stay in memory only
//	}
//	defer client.Close()
//
//	client.WriteCounters(influxdb.Counters{Serial: "LM012345", TotalCoffee: 1520})
package influxdb
