package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lmbridge/internal/lmerr"
)

const (
	defaultPollInterval = 30 * time.Second
	pruneInterval       = time.Hour
)

// startJobs launches one loop per device plus the statistics and prune
// loops. Every loop exits when the bridge context is cancelled.
func (b *Bridge) startJobs() {
	for _, m := range b.registry.Machines() {
		opts := b.devices[m.Serial()]
		b.track(func() { b.machineLoop(m, opts) })
	}
	for _, g := range b.registry.Grinders() {
		opts := b.devices[g.Serial()]
		b.track(func() { b.grinderLoop(g, opts) })
	}
	if b.stats != nil {
		if interval := b.cfg.GetStatisticsInterval(); interval > 0 {
			b.track(func() { b.every(interval, true, b.collectStatistics) })
		}
	}
	if b.history != nil {
		if retention := b.cfg.GetHistoryRetention(); retention > 0 {
			b.track(func() {
				b.every(pruneInterval, true, func(ctx context.Context) { b.pruneHistory(ctx, retention) })
			})
		}
	}
}

// every runs fn on each tick of interval, and once up front if immediate.
func (b *Bridge) every(interval time.Duration, immediate bool, fn func(context.Context)) {
	if immediate {
		fn(b.ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			fn(b.ctx)
		}
	}
}

func pollInterval(opts DeviceOptions) time.Duration {
	if opts.PollInterval <= 0 {
		return defaultPollInterval
	}
	return opts.PollInterval
}

// machineLoop loads the machine, opens its streams, and re-reads the
// dashboard whenever the cloud stream is down.
func (b *Bridge) machineLoop(m *device.Machine, opts DeviceOptions) {
	b.loadMachine(m, opts)
	b.every(pollInterval(opts), false, func(ctx context.Context) {
		if cloudUp, _ := m.StreamsConnected(); cloudUp {
			return
		}
		b.loadMachine(m, opts)
	})
}

func (b *Bridge) loadMachine(m *device.Machine, opts DeviceOptions) {
	ctx, cancel := context.WithTimeout(b.ctx, refreshTimeout)
	defer cancel()

	if err := m.Refresh(ctx); err != nil {
		b.logRefreshError("machine refresh failed", m.Serial(), err)
		return
	}
	if err := m.ConnectDashboard(ctx); err != nil {
		b.logRefreshError("dashboard stream failed", m.Serial(), err)
	}
	if opts.LocalStream {
		if err := m.ConnectLocal(ctx); err != nil {
			b.logRefreshError("local stream failed", m.Serial(), err)
		}
	}
}

// grinderLoop polls a grinder; grinders have no push stream.
func (b *Bridge) grinderLoop(g *device.Grinder, opts DeviceOptions) {
	b.every(pollInterval(opts), true, func(ctx context.Context) {
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if err := g.Refresh(rctx); err != nil {
			b.logRefreshError("grinder refresh failed", g.Serial(), err)
		}
	})
}

func (b *Bridge) logRefreshError(msg, serial string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, lmerr.ErrAuth):
		b.logger.Error(msg, "serial", serial, "error", err)
	default:
		b.logger.Warn(msg, "serial", serial, "error", err)
	}
}

// collectStatistics refreshes every machine's counters and writes them,
// the boiler temperatures and any new extractions to the time series.
func (b *Bridge) collectStatistics(ctx context.Context) {
	for _, m := range b.registry.Machines() {
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		err := m.RefreshStatistics(rctx)
		cancel()
		if err != nil {
			b.logRefreshError("statistics refresh failed", m.Serial(), err)
			continue
		}
		b.writeStatistics(m.Snapshot())
	}
}

func (b *Bridge) writeStatistics(s device.Snapshot) {
	drinks := make(map[string]int, len(s.Statistics.DrinkStats))
	for key, n := range s.Statistics.DrinkStats {
		drinks[string(key)] = n
	}
	b.stats.WriteCounters(influxdb.Counters{
		Serial:       s.Serial,
		Model:        string(s.Model),
		TotalCoffee:  s.Statistics.TotalCoffee,
		TotalFlushes: s.Statistics.TotalFlushes,
		Continuous:   s.Statistics.Continuous,
		Drinks:       drinks,
	})
	b.stats.WriteBoilers(influxdb.BoilerReading{
		Serial:        s.Serial,
		CoffeeCurrent: s.Coffee.Current,
		CoffeeTarget:  s.Coffee.Target,
		SteamCurrent:  s.Steam.Current,
		SteamTarget:   s.Steam.Target,
		SteamEnabled:  s.Steam.Enabled,
	})

	b.lastShotMu.Lock()
	defer b.lastShotMu.Unlock()
	last := b.lastShot[s.Serial]
	newest := last
	for _, shot := range s.Statistics.LastCoffees {
		if shot.Time.IsZero() || !shot.Time.After(last) {
			continue
		}
		b.stats.WriteExtraction(influxdb.Extraction{
			Serial:   s.Serial,
			Time:     shot.Time.Time,
			Seconds:  shot.ExtractionSeconds,
			DoseMode: string(shot.DoseMode),
		})
		if shot.Time.After(newest) {
			newest = shot.Time.Time
		}
	}
	b.lastShot[s.Serial] = newest
}

func (b *Bridge) pruneHistory(ctx context.Context, retention time.Duration) {
	n, err := b.history.Prune(ctx, retention)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Warn("pruning state history failed", "error", err)
		}
		return
	}
	if n > 0 {
		b.logger.Info("pruned state history", "rows", n, "retention", retention)
	}
}
