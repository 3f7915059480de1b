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
	"github.com/srg/hrscan/inspector"
	"github.com/srg/hrscan/internal/bledb"
	"github.com/srg/hrscan/internal/device"
	goble "github.com/srg/hrscan/internal/device/go-ble"
	"github.com/srg/hrscan/internal/devicetable"
	"github.com/srg/hrscan/internal/groutine"
	"github.com/srg/hrscan/internal/outbox"
	"github.com/srg/hrscan/scanner"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "List the GATT characteristics of a heart-rate monitor",
	Long: `Scans until the heart-rate monitor with the given address shows up, pauses
scanning, connects to it and lists the characteristics of all its services.
The device is disconnected afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectConnectTimeout   time.Duration
	inspectDiscoveryTimeout time.Duration
	inspectScanTimeout      time.Duration
	inspectJSON             bool
)

func init() {
	addInspectFlags(inspectCmd)
}

// addInspectFlags defines the flags of the inspect command on cmd
func addInspectFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&inspectConnectTimeout, "connect-timeout", 10*time.Second, "Connection timeout")
	cmd.Flags().DurationVar(&inspectDiscoveryTimeout, "discovery-timeout", 30*time.Second, "Service discovery timeout")
	cmd.Flags().DurationVar(&inspectScanTimeout, "scan-timeout", 30*time.Second, "How long to look for the device")
	cmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

// inspection is the result printed by the inspect command
type inspection struct {
	Device          *device.DeviceRecord          `json:"device"`
	Characteristics []device.CharacteristicRecord `json:"characteristics"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	stderr := &lockedWriter{w: cmd.ErrOrStderr()}
	cfg, logger, err := loadSettings(cmd, stderr)
	if err != nil {
		return err
	}

	opts := cfg.Inspect
	if cmd.Flags().Changed("connect-timeout") {
		opts.ConnectTimeout = inspectConnectTimeout
	}
	if cmd.Flags().Changed("discovery-timeout") {
		opts.DiscoveryTimeout = inspectDiscoveryTimeout
	}
	// the process exits right after printing
	opts.KeepConnected = false

	scanTimeout := cfg.ScanTimeout
	if cmd.Flags().Changed("scan-timeout") {
		scanTimeout = inspectScanTimeout
	}
	if scanTimeout <= 0 {
		return fmt.Errorf("invalid scan timeout %s: must be positive", scanTimeout)
	}

	format := cfg.OutputFormat
	if inspectJSON {
		format = "json"
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := goble.NewManager(logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.WithError(err).Debug("Failed to close BLE manager")
		}
	}()

	progress := NewProgressPrinter(stderr, fmt.Sprintf("Inspecting device %s", address), "Scanning", "Done", "Failed")
	progress.Start()
	defer progress.Stop()

	result, err := inspectDevice(ctx, manager, address, &cfg.Scan, &opts, scanTimeout, progress.Callback(), logger)
	progress.Stop()
	if err != nil {
		return err
	}

	if format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	return displayInspection(cmd.OutOrStdout(), result)
}

// inspectDevice scans for address, pauses scanning once it is found and hands
// the record to the inspector. Both report through the same message queue.
func inspectDevice(
	ctx context.Context,
	manager device.Manager,
	address string,
	scanOpts *scanner.ScanOptions,
	opts *inspector.InspectOptions,
	scanTimeout time.Duration,
	progress inspector.ProgressCallback,
	logger *logrus.Logger,
) (*inspection, error) {
	lookup := *scanOpts
	lookup.AllowList = []string{address}
	lookup.BlockList = nil

	scanCtx, cancelScan := context.WithCancel(ctx)
	messages := outbox.NewMessages()
	pause := scanner.NewPauseFlag()
	s := scanner.NewScanner(manager, messages, pause, &lookup, logger)
	insp := inspector.NewInspector(messages, opts, logger).OnProgress(progress)

	var (
		runErr error
		g      groutine.Group
	)
	g.Go(scanCtx, "inspect-scan", func(ctx context.Context) {
		defer messages.Close()
		runErr = s.Run(ctx)
		logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Discovery loop exited")
	})
	defer func() {
		cancelScan()
		messages.Detach()
		g.Wait()
		insp.Wait()
	}()

	timer := time.NewTimer(scanTimeout)
	defer timer.Stop()

	seen := devicetable.New()
	var target *device.DeviceRecord
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			if target == nil {
				return nil, &device.NotFoundError{Resource: "device", ID: address}
			}

		case msg, ok := <-messages.C():
			if !ok {
				g.Wait()
				if runErr != nil {
					return nil, runErr
				}
				return nil, &device.NotFoundError{Resource: "device", ID: address}
			}

			switch m := msg.(type) {
			case outbox.DeviceFound:
				seen.Upsert(m.Device)
				if target != nil {
					continue
				}
				entry, ok := seen.Find(address)
				if !ok {
					continue
				}
				target = entry.Record
				timer.Stop()
				pause.Pause()
				logger.WithField("address", target.Address).Debug("Device found, scanning paused")
				insp.InspectAsync(ctx, target)

			case outbox.CharacteristicsReady:
				return &inspection{Device: target, Characteristics: m.Characteristics}, nil

			case outbox.Failure:
				return nil, m
			}
		}
	}
}

func displayInspection(w io.Writer, res *inspection) error {
	title := res.Device.DisplayName()
	if title != res.Device.Address {
		title = fmt.Sprintf("%s (%s)", title, res.Device.Address)
	}
	color.New(color.Bold).Fprintln(w, title)

	if len(res.Characteristics) == 0 {
		fmt.Fprintln(w, "No characteristics discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tCHARACTERISTIC\tPROPERTIES\tDESCRIPTORS")

	// grouped by service UUID, discovery order kept within a service
	chars := slices.Clone(res.Characteristics)
	slices.SortStableFunc(chars, func(a, b device.CharacteristicRecord) int {
		return strings.Compare(a.Service, b.Service)
	})

	for i, c := range chars {
		service := ""
		if i == 0 || chars[i-1].Service != c.Service {
			service = withName(c.Service, bledb.LookupService(c.Service))
		}

		descriptors := make([]string, 0, len(c.Descriptors))
		for _, d := range c.Descriptors {
			descriptors = append(descriptors, withName(d, bledb.LookupDescriptor(d)))
		}
		descs := strings.Join(descriptors, ", ")
		if descs == "" {
			descs = "-"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			service,
			withName(c.UUID, bledb.LookupCharacteristic(c.UUID)),
			c.Properties,
			descs)
	}
	return tw.Flush()
}

func withName(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}
