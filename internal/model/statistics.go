package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Statistics is the GET /things/{sn}/stats response.
type Statistics struct {
	Thing
	Firmwares           string       `json:"firmwares,omitempty"`
	SelectedWidgetCodes []WidgetCode `json:"selectedWidgetCodes"`
	AllWidgetCodes      []WidgetCode `json:"allWidgetCodes"`
	SelectedWidgets     []Widget     `json:"selectedWidgets"`
}

// Widget returns the selected widget output for code.
func (s *Statistics) Widget(code WidgetCode) (WidgetOutput, bool) {
	for _, w := range s.SelectedWidgets {
		if w.Code == code {
			return w.Output, true
		}
	}
	return nil, false
}

// CoffeeHistoryEvent is one point of a trend.
type CoffeeHistoryEvent struct {
	Timestamp Timestamp `json:"timestamp"`
	Value     int       `json:"value"`
}

// CoffeeAndFlushTrend is the COFFEE_AND_FLUSH_TREND output.
type CoffeeAndFlushTrend struct {
	Days     int                  `json:"days"`
	Timezone string               `json:"timezone"`
	Coffees  []CoffeeHistoryEvent `json:"coffees"`
}

func (*CoffeeAndFlushTrend) WidgetCode() WidgetCode { return WidgetCoffeeAndFlushTrend }

// LastCoffee is one recent extraction.
type LastCoffee struct {
	Time               Timestamp `json:"time"`
	ExtractionSeconds  float64   `json:"extractionSeconds"`
	DoseMode           DoseMode  `json:"doseMode"`
	DoseIndex          DoseIndex `json:"doseIndex"`
	DoseValueNumerator string    `json:"doseValueNumerator,omitempty"`
}

// LastCoffeeList is the LAST_COFFEE output.
type LastCoffeeList struct {
	LastCoffees []LastCoffee `json:"lastCoffees"`
}

func (*LastCoffeeList) WidgetCode() WidgetCode { return WidgetLastCoffee }

// CoffeeAndFlushCounter is the COFFEE_AND_FLUSH_COUNTER output.
type CoffeeAndFlushCounter struct {
	TotalCoffee int `json:"totalCoffee"`
	TotalFlush  int `json:"totalFlush"`
}

func (*CoffeeAndFlushCounter) WidgetCode() WidgetCode { return WidgetCoffeeAndFlushCounter }

// ExtendedStatistics wraps the /stats/{widget}/1 response.
type ExtendedStatistics struct {
	Output json.RawMessage `json:"output"`
}

// CoffeeStatistics are the per-key drink counters. They only grow.
type CoffeeStatistics struct {
	DrinkStats   map[PhysicalKey]int `json:"drink_stats"`
	Continuous   int                 `json:"continuous"`
	TotalFlushes int                 `json:"total_flushes"`
}

// TotalCoffee sums every drink counter.
func (s CoffeeStatistics) TotalCoffee() int {
	total := s.Continuous
	for _, n := range s.DrinkStats {
		total += n
	}
	return total
}

// CounterEntry is one row of the legacy counters list.
type CounterEntry struct {
	CoffeeType int `json:"coffeeType"`
	Count      int `json:"count"`
}

// ParseCounters maps legacy counters: coffeeType 0-3 are keys A-D,
// 4 is continuous and -1 is flushes.
func ParseCounters(entries []CounterEntry) CoffeeStatistics {
	stats := CoffeeStatistics{DrinkStats: make(map[PhysicalKey]int)}
	for _, e := range entries {
		switch {
		case e.CoffeeType >= 0 && e.CoffeeType < 4:
			key, _ := keyAt(e.CoffeeType)
			stats.DrinkStats[key] = e.Count
		case e.CoffeeType == 4:
			stats.Continuous = e.Count
		case e.CoffeeType == -1:
			stats.TotalFlushes = e.Count
		}
	}
	return stats
}

// ParseMachineStatistics decodes the MachineStatistics stream payload:
// {"groups":[{"doses":[{"DoseA":12},{"ContinuousDose":3}],"clean":7}]}.
func ParseMachineStatistics(raw string) (CoffeeStatistics, error) {
	var doc struct {
		Groups []struct {
			Doses []map[string]int `json:"doses"`
			Clean int              `json:"clean"`
		} `json:"groups"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return CoffeeStatistics{}, fmt.Errorf("%w: machine statistics: %w", ErrMalformed, err)
	}
	if len(doc.Groups) == 0 {
		return CoffeeStatistics{}, fmt.Errorf("%w: machine statistics without groups", ErrMalformed)
	}
	g := doc.Groups[0]
	stats := CoffeeStatistics{DrinkStats: make(map[PhysicalKey]int), TotalFlushes: g.Clean}
	for _, dose := range g.Doses {
		for name, n := range dose {
			switch {
			case name == "ContinuousDose":
				stats.Continuous = n
			case strings.HasPrefix(name, "Dose"):
				if key := PhysicalKey(strings.TrimPrefix(name, "Dose")); key.Valid() {
					stats.DrinkStats[key] = n
				}
			}
		}
	}
	return stats, nil
}
