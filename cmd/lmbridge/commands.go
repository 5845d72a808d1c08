package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lmbridge/internal/bluetooth"
	"github.com/nerrad567/lmbridge/internal/cloud"
	"github.com/nerrad567/lmbridge/internal/model"
)

func newThingsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "things",
		Short: "List the machines and grinders registered to the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			defer log.Close() //nolint:errcheck // Exiting

			db, store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Exiting

			client, err := newCloudClient(ctx, cfg, store, log)
			if err != nil {
				return err
			}
			things, err := client.ListThings(ctx)
			if err != nil {
				return fmt.Errorf("listing things: %w", err)
			}
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), things)
			}
			return printThings(cmd.OutOrStdout(), things)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw cloud response")
	return cmd
}

func printThings(w io.Writer, things []model.Thing) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tTYPE\tMODEL\tNAME\tCONNECTED")
	for _, t := range things {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", t.SerialNumber, t.Type, t.Model(), t.Name, t.Connected)
	}
	return tw.Flush()
}

func newRegisterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Generate and register a new installation key",
		Long: "Generate a new installation key, register it with the cloud and store it.\n" +
			"The previous key and any stored tokens stop being used.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			defer log.Close() //nolint:errcheck // Exiting

			db, store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Exiting

			key, err := reregister(ctx, cfg, store, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered installation %s\n", key.InstallationID)
			return nil
		},
	}
}

// statsWidgets maps the --widget flag to the extended statistics series.
var statsWidgets = map[string]cloud.StatisticsWidget{
	"counter": cloud.StatsCoffeeAndFlushCounter,
	"trend":   cloud.StatsCoffeeAndFlushTrend,
	"last":    cloud.StatsLastCoffee,
}

func newStatsCmd(opts *options) *cobra.Command {
	var (
		widget   string
		days     int
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "stats <serial>",
		Short: "Print extended brewing statistics of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			series, ok := statsWidgets[strings.ToLower(widget)]
			if !ok {
				return fmt.Errorf("unknown widget %q (want counter, trend or last)", widget)
			}
			if days < 1 {
				return fmt.Errorf("--days must be positive")
			}

			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			defer log.Close() //nolint:errcheck // Exiting

			db, store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Exiting

			client, err := newCloudClient(ctx, cfg, store, log)
			if err != nil {
				return err
			}
			stats, err := client.ExtendedStatistics(ctx, args[0], series, days, timezone)
			if err != nil {
				return fmt.Errorf("reading statistics: %w", err)
			}
			return writeIndented(cmd.OutOrStdout(), stats.Output)
		},
	}
	cmd.Flags().StringVar(&widget, "widget", "counter", "series: counter, trend or last")
	cmd.Flags().IntVar(&days, "days", 7, "number of days to cover")
	cmd.Flags().StringVar(&timezone, "timezone", "Etc/UTC", "IANA timezone the days are counted in")
	return cmd
}

func newBLECmd() *cobra.Command {
	ble := &cobra.Command{
		Use:   "ble",
		Short: "Bluetooth helpers",
	}

	var timeout time.Duration
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Scan for nearby machines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := bluetooth.Discover(cmd.Context(), bluetooth.NewTinyGoRadio(), timeout)
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}
			return printDevices(cmd.OutOrStdout(), devices)
		},
	}
	scan.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to scan")

	token := &cobra.Command{
		Use:   "token <address>",
		Short: "Read the Bluetooth token of a machine in pairing mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := bluetooth.NewClient(bluetooth.NewTinyGoRadio(), args[0], "")
			tok, err := client.ReadToken(ctx)
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	ble.AddCommand(scan, token)
	return ble
}

func printDevices(w io.Writer, devices []bluetooth.Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Name, d.Address, d.RSSI)
	}
	return tw.Flush()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
