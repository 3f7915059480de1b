package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrscan/internal/bledb"
	"github.com/srg/hrscan/internal/device"
	goble "github.com/srg/hrscan/internal/device/go-ble"
	"github.com/srg/hrscan/internal/devicetable"
	"github.com/srg/hrscan/internal/groutine"
	"github.com/srg/hrscan/internal/outbox"
	"github.com/srg/hrscan/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for heart-rate monitors",
	Long: `Scan for Bluetooth Low Energy devices advertising the Heart Rate service
and display them once the scan ends.

While scanning in a terminal, press p or space to pause and resume,
and q to stop early.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanService   string
	scanAllowList []string
	scanBlockList []string
)

var validFormats = []string{"table", "json"}

func init() {
	addScanFlags(scanCmd)
}

// addScanFlags defines the flags of the scan command on cmd
func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	cmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringVarP(&scanService, "service", "s", "180d", "Service UUID a device must advertise")
	cmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
}

func validateFormat(format string) error {
	if !slices.Contains(validFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}
	return nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	stderr := &lockedWriter{w: cmd.ErrOrStderr()}
	cfg, logger, err := loadSettings(cmd, stderr)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if cmd.Flags().Changed("format") {
		format = scanFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}

	opts := cfg.Scan
	if cmd.Flags().Changed("service") {
		uuids, err := device.ValidateUUID(scanService)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
		opts.TargetService = uuids[0]
	}
	if cmd.Flags().Changed("allow") {
		opts.AllowList = scanAllowList
	}
	if cmd.Flags().Changed("block") {
		opts.BlockList = scanBlockList
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanDuration)
		defer cancel()
	}
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	manager := goble.NewManager(logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.WithError(err).Debug("Failed to close BLE manager")
		}
	}()

	progress := NewCountdownProgressPrinter(stderr, "Scanning for heart-rate monitors", "Scanning", scanDuration)
	progress.Start()
	defer progress.Stop()

	pause := scanner.NewPauseFlag()
	restore := startKeyboard(ctx, os.Stdin, &keyControl{
		pause:   pause,
		quit:    quit,
		onPhase: progress.Callback(),
		status:  stderr,
	}, logger)
	defer restore()

	table, err := collectDevices(ctx, manager, pause, &opts, logger)
	restore()
	progress.Stop()
	if err != nil {
		return err
	}

	return renderDevices(cmd.OutOrStdout(), table.Entries(), format, time.Now())
}

// collectDevices runs the discovery loop until ctx ends and merges every
// DeviceFound into a table
func collectDevices(ctx context.Context, manager device.Manager, pause *scanner.PauseFlag, opts *scanner.ScanOptions, logger *logrus.Logger) (*devicetable.Table, error) {
	messages := outbox.NewMessages()
	s := scanner.NewScanner(manager, messages, pause, opts, logger)
	table := devicetable.New()

	var (
		runErr error
		g      groutine.Group
	)
	g.Go(ctx, "scan-loop", func(ctx context.Context) {
		defer messages.Close()
		runErr = s.Run(ctx)
		logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Discovery loop exited")
	})

	for msg := range messages.C() {
		found, ok := msg.(outbox.DeviceFound)
		if !ok {
			continue
		}
		if _, isNew := table.Upsert(found.Device); isNew {
			logger.WithField("address", found.Device.Address).Debug("Device added to table")
		}
	}
	g.Wait()

	stats := s.Stats()
	logger.WithFields(logrus.Fields{
		"seen":     stats.EventsSeen,
		"matched":  stats.EventsMatched,
		"filtered": stats.EventsFiltered,
		"pauses":   stats.Pauses,
		"devices":  table.Len(),
	}).Debug("Scan finished")

	return table, runErr
}

func renderDevices(w io.Writer, entries []devicetable.Entry, format string, now time.Time) error {
	if format == "json" {
		return displayDevicesJSON(w, entries)
	}
	return displayDevicesTable(w, entries, now)
}

func displayDevicesTable(w io.Writer, entries []devicetable.Entry, now time.Time) error {
	if len(entries) == 0 {
		color.New(color.FgYellow).Fprintln(w, "No heart-rate monitors discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tTX\tVENDOR\tSERVICES\tLAST SEEN")

	for _, e := range entries {
		rec := e.Record
		name := truncate(rec.DisplayName(), 20)
		short := make([]string, len(rec.Services))
		for i, uuid := range rec.Services {
			short[i] = device.ShortenUUID(uuid)
		}
		services := truncate(strings.Join(short, ","), 30)

		lastSeen := now.Sub(e.LastSeen).Truncate(time.Second)
		if lastSeen < 0 {
			lastSeen = 0
		}

		vendor := vendorOf(rec)
		if vendor == "" {
			vendor = "-"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s ago\n",
			name, rec.Address, formatDBm(rec.RSSI), formatDBm(rec.TxPower), vendor, services, lastSeen)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(w, "\n%d device(s) found\n", len(entries))
	return nil
}

type deviceJSON struct {
	*device.DeviceRecord
	Vendor    string    `json:"vendor,omitempty"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Updates   int       `json:"updates"`
}

func displayDevicesJSON(w io.Writer, entries []devicetable.Entry) error {
	out := make([]deviceJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, deviceJSON{
			DeviceRecord: e.Record,
			Vendor:       vendorOf(e.Record),
			FirstSeen:    e.FirstSeen,
			LastSeen:     e.LastSeen,
			Updates:      e.Updates,
		})
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// truncate shortens s to at most limit runes, ending in "..." when cut
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func formatDBm(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d dBm", *v)
}

// vendorOf names the lowest company id in the manufacturer data
func vendorOf(rec *device.DeviceRecord) string {
	if len(rec.ManufacturerData) == 0 {
		return ""
	}
	ids := make([]uint16, 0, len(rec.ManufacturerData))
	for id := range rec.ManufacturerData {
		ids = append(ids, id)
	}
	return bledb.FormatVendor(slices.Min(ids))
}
