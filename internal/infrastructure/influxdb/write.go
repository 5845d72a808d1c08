package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementCounters   = "coffee_counters"
	MeasurementBoilers    = "boilers"
	MeasurementExtraction = "extraction"
)

// Counters are the cumulative drink counters of one machine.
type Counters struct {
	Serial       string
	Model        string
	TotalCoffee  int
	TotalFlushes int
	Continuous   int

	// Drinks maps a physical key (A-D) to its drink count.
	Drinks map[string]int
}

// BoilerReading is a sample of both boilers' temperatures.
type BoilerReading struct {
	Serial        string
	CoffeeCurrent float64
	CoffeeTarget  float64
	SteamCurrent  float64
	SteamTarget   float64
	SteamEnabled  bool
}

// Extraction is one finished shot.
type Extraction struct {
	Serial   string
	Time     time.Time
	Seconds  float64
	DoseMode string
}

// WriteCounters records a machine's drink counters. Per-key counts become
// fields named drinks_A, drinks_B and so on.
func (c *Client) WriteCounters(counters Counters) {
	fields := map[string]any{
		"total_coffee":  counters.TotalCoffee,
		"total_flushes": counters.TotalFlushes,
		"continuous":    counters.Continuous,
	}
	for key, n := range counters.Drinks {
		fields["drinks_"+key] = n
	}
	tags := serialTag(counters.Serial)
	if counters.Model != "" {
		tags["model"] = counters.Model
	}
	c.record(MeasurementCounters, tags, fields, time.Now())
}

// WriteBoilers records current and target boiler temperatures.
func (c *Client) WriteBoilers(r BoilerReading) {
	c.record(MeasurementBoilers, serialTag(r.Serial), map[string]any{
		"coffee_current": r.CoffeeCurrent,
		"coffee_target":  r.CoffeeTarget,
		"steam_current":  r.SteamCurrent,
		"steam_target":   r.SteamTarget,
		"steam_enabled":  r.SteamEnabled,
	}, time.Now())
}

// WriteExtraction records one shot at the time the machine reported it.
func (c *Client) WriteExtraction(e Extraction) {
	tags := serialTag(e.Serial)
	if e.DoseMode != "" {
		tags["dose_mode"] = e.DoseMode
	}
	c.record(MeasurementExtraction, tags, map[string]any{"seconds": e.Seconds}, e.Time)
}

// WritePoint records an arbitrary point stamped now.
//
// Parameters:
//   - measurement: Measurement name
//   - tags: Indexed tags, for example serial
//   - fields: Field values
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.record(measurement, tags, fields, time.Now())
}

// record queues a point unless the client is closed.
func (c *Client) record(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

func serialTag(serial string) map[string]string {
	return map[string]string{"serial": serial}
}
