package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nerrad567/lmbridge/internal/model"
)

// StatisticsWidget names an extended statistics series.
type StatisticsWidget string

const (
	StatsCoffeeAndFlushTrend   StatisticsWidget = "COFFEE_AND_FLUSH_TREND"
	StatsLastCoffee            StatisticsWidget = "LAST_COFFEE"
	StatsCoffeeAndFlushCounter StatisticsWidget = "COFFEE_AND_FLUSH_COUNTER"
)

func thingPath(serial string, parts ...string) string {
	p := "/things/" + url.PathEscape(serial)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// ListThings returns every device on the account.
func (c *Client) ListThings(ctx context.Context) ([]model.Thing, error) {
	var things []model.Thing
	if err := c.get(ctx, "/things", &things); err != nil {
		return nil, fmt.Errorf("listing things: %w", err)
	}
	return things, nil
}

// Dashboard returns the widget dashboard of one device.
func (c *Client) Dashboard(ctx context.Context, serial string) (*model.Dashboard, error) {
	var d model.Dashboard
	if err := c.get(ctx, thingPath(serial, "dashboard"), &d); err != nil {
		return nil, fmt.Errorf("getting dashboard for %s: %w", serial, err)
	}
	return &d, nil
}

// Settings returns firmware, network and accessory settings.
func (c *Client) Settings(ctx context.Context, serial string) (*model.Settings, error) {
	var s model.Settings
	if err := c.get(ctx, thingPath(serial, "settings"), &s); err != nil {
		return nil, fmt.Errorf("getting settings for %s: %w", serial, err)
	}
	return &s, nil
}

// Statistics returns the statistics widgets.
func (c *Client) Statistics(ctx context.Context, serial string) (*model.Statistics, error) {
	var s model.Statistics
	if err := c.get(ctx, thingPath(serial, "stats"), &s); err != nil {
		return nil, fmt.Errorf("getting statistics for %s: %w", serial, err)
	}
	return &s, nil
}

// ExtendedStatistics returns one statistics series covering the last
// days days in the given IANA timezone.
func (c *Client) ExtendedStatistics(ctx context.Context, serial string, widget StatisticsWidget, days int, timezone string) (*model.ExtendedStatistics, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	q.Set("timezone", timezone)
	var s model.ExtendedStatistics
	path := thingPath(serial, "stats", string(widget), "1") + "?" + q.Encode()
	if err := c.get(ctx, path, &s); err != nil {
		return nil, fmt.Errorf("getting %s statistics for %s: %w", widget, serial, err)
	}
	return &s, nil
}

// Firmware returns current and latest versions per component.
func (c *Client) Firmware(ctx context.Context, serial string) (map[model.FirmwareType]model.Firmware, error) {
	s, err := c.Settings(ctx, serial)
	if err != nil {
		return nil, err
	}
	return s.Firmwares(), nil
}

// FirmwareUpdate returns the progress of a firmware update.
func (c *Client) FirmwareUpdate(ctx context.Context, serial string) (*model.UpdateDetails, error) {
	var d model.UpdateDetails
	if err := c.get(ctx, thingPath(serial, "update-fw"), &d); err != nil {
		return nil, fmt.Errorf("getting firmware update for %s: %w", serial, err)
	}
	return &d, nil
}

// InstallFirmware starts the offered firmware update.
func (c *Client) InstallFirmware(ctx context.Context, serial string) (*model.UpdateDetails, error) {
	var d model.UpdateDetails
	if err := c.authed(ctx, http.MethodPost, thingPath(serial, "update-fw"), nil, &d); err != nil {
		return nil, fmt.Errorf("installing firmware on %s: %w", serial, err)
	}
	return &d, nil
}

// Schedule returns smart standby and wake-up schedules.
func (c *Client) Schedule(ctx context.Context, serial string) (*model.Scheduling, error) {
	var s model.Scheduling
	if err := c.get(ctx, thingPath(serial, "scheduling"), &s); err != nil {
		return nil, fmt.Errorf("getting schedule for %s: %w", serial, err)
	}
	return &s, nil
}
