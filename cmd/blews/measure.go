package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blews/internal/gatt"
	"github.com/srg/blews/internal/station"
	"github.com/srg/blews/scanner"
)

// measureCmd represents the measure command
var measureCmd = &cobra.Command{
	Use:   "measure [address]",
	Short: "Read temperature and humidity from a weather station",
	Long: `Connect to a weather station and read the current measurements for
the internal sensor and any external sensors.

Without --mac the first station discovered by name is used. With
--timeout the measurement is retried until it succeeds or the timeout
expires.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMeasure,
}

var (
	measureMac            string
	measureFormat         string
	measureDetail         bool
	measureRaw            bool
	measureChannel        int
	measureTimeout        time.Duration
	measureInterval       time.Duration
	measureConnectTimeout time.Duration
	measureSettle         time.Duration
)

func init() {
	measureCmd.Flags().StringVarP(&measureMac, "mac", "m", "", "Address of the station (default: first discovered)")
	measureCmd.Flags().StringVarP(&measureFormat, "format", "f", "table", "Output format (table, json)")
	measureCmd.Flags().BoolVarP(&measureDetail, "detail", "l", false, "Show min/max readings and low battery alarms")
	measureCmd.Flags().BoolVarP(&measureRaw, "raw", "r", false, "Dump raw notification data instead of decoding")
	measureCmd.Flags().IntVarP(&measureChannel, "channel", "c", -1, "Show a single channel (0 internal, 1-3 external)")
	measureCmd.Flags().DurationVarP(&measureTimeout, "timeout", "t", 0, "Total time to retry a failing measurement (0 for a single attempt)")
	measureCmd.Flags().DurationVarP(&measureInterval, "interval", "i", 3*time.Second, "Delay between measurement retries")
	measureCmd.Flags().DurationVar(&measureConnectTimeout, "connect-timeout", gatt.DefaultConnectTimeout, "Connection timeout per attempt")
	measureCmd.Flags().DurationVar(&measureSettle, "settle", gatt.DefaultIdleWindow, "Idle window that ends notification collection")
}

func runMeasure(cmd *cobra.Command, args []string) error {
	if measureFormat != "table" && measureFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", measureFormat)
	}
	if measureChannel < -1 || measureChannel >= station.ChannelCount {
		return fmt.Errorf("invalid channel %d: must be 0 to %d", measureChannel, station.ChannelCount-1)
	}

	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address := measureMac
	if address == "" && len(args) == 1 {
		address = args[0]
	}
	if address == "" {
		address, err = discoverStation(ctx, logger, nil)
		if err != nil {
			return err
		}
	}

	snap, raw, err := measureWithRetry(ctx, logger, address)
	if err != nil {
		return err
	}

	if measureRaw {
		fmt.Println(formatRawDump(raw))
		return nil
	}

	if measureChannel >= 0 {
		state, ok := snap.ForChannel(measureChannel)
		if !ok {
			return fmt.Errorf("channel %d out of range", measureChannel)
		}
		return displayChannel(state, measureFormat)
	}

	return displaySnapshot(snap, measureFormat, measureDetail)
}

// discoverStation scans for the first station advertising a known name.
// A nil names slice matches the default station names.
func discoverStation(ctx context.Context, logger *logrus.Logger, names []string) (string, error) {
	s, err := scanner.NewScanner(logger)
	if err != nil {
		return "", err
	}

	opts := scanner.DefaultScanOptions()
	opts.Names = names

	progress := NewProgressPrinter("Looking for a weather station", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	stations, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil {
		return "", fmt.Errorf("station discovery failed: %w", err)
	}
	progress.Stop()

	if len(stations) == 0 {
		return "", fmt.Errorf("no weather station in range (try --mac)")
	}

	addrs := make([]string, 0, len(stations))
	for addr := range stations {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	chosen := stations[addrs[0]]
	logger.WithFields(logrus.Fields{
		"name":    chosen.Name,
		"address": chosen.Address,
	}).Info("Using discovered station")
	return chosen.Address, nil
}

// measureWithRetry runs measurement attempts until one succeeds or the
// overall timeout expires. A zero timeout allows a single attempt.
func measureWithRetry(ctx context.Context, logger *logrus.Logger, address string) (*station.Snapshot, map[station.CharacteristicID][]byte, error) {
	var deadline time.Time
	if measureTimeout > 0 {
		deadline = time.Now().Add(measureTimeout)
	}

	for {
		snap, raw, err := measureOnce(ctx, logger, address)
		if err == nil {
			return snap, raw, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if deadline.IsZero() || time.Now().Add(measureInterval).After(deadline) {
			return nil, nil, err
		}

		logger.WithError(err).WithField("retry_in", measureInterval).Warn("Measurement failed, retrying")
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(measureInterval):
		}
	}
}

func measureOnce(ctx context.Context, logger *logrus.Logger, address string) (*station.Snapshot, map[station.CharacteristicID][]byte, error) {
	client := gatt.NewClient(logger)
	if err := client.Connect(ctx, address, &gatt.ConnectOptions{ConnectTimeout: measureConnectTimeout}); err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	progress := NewProgressPrinter("Reading measurements", "Collecting", 0, "Done")
	progress.Start()
	defer progress.Stop()

	if err := client.Collect(ctx, measureSettle); err != nil {
		return nil, nil, err
	}
	progress.Callback()("Done")

	reader := station.NewReader(client, station.WithLogger(logger))
	snap, err := reader.ReadAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, failure := range snap.Failures() {
		logger.WithField("failure", failure.String()).Warn("Partial read failure")
	}

	return snap, client.Raw(), nil
}

const missingValue = " -- "

func formatTemp(t station.Temperature) string {
	if t.Quality != station.QualityValid {
		return missingValue
	}
	return fmt.Sprintf("%.1f'C", t.Celsius)
}

func formatHumidity(h station.Humidity) string {
	if h.Quality != station.QualityValid {
		return missingValue
	}
	return fmt.Sprintf("%d%%", h.Percent)
}

func displaySnapshot(snap *station.Snapshot, format string, detail bool) error {
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if detail {
		lowBattery := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(w, "SENSOR\tTEMP MIN\tTEMP\tTEMP MAX\tHUM MIN\tHUM\tHUM MAX\t")
		for _, ch := range snap.Channels() {
			if !ch.Present {
				continue
			}
			alarm := ""
			if ch.LowBattery {
				alarm = lowBattery.Sprint("!! low battery")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				ch.Index,
				formatTemp(ch.Temperature.Min),
				formatTemp(ch.Temperature.Current),
				formatTemp(ch.Temperature.Max),
				formatHumidity(ch.Humidity.Min),
				formatHumidity(ch.Humidity.Current),
				formatHumidity(ch.Humidity.Max),
				alarm)
		}
	} else {
		fmt.Fprintln(w, "SENSOR\tTEMP\tHUMIDITY")
		for _, ch := range snap.Channels() {
			if !ch.Present {
				continue
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n",
				ch.Index,
				formatTemp(ch.Temperature.Current),
				formatHumidity(ch.Humidity.Current))
		}
	}

	if err := w.Flush(); err != nil {
		return err
	}

	if clock, ok := snap.Clock(); ok {
		fmt.Printf("\nstation clock: %s\n", clock.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func displayChannel(state station.ChannelState, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(state)
	}

	if !state.Present {
		fmt.Printf("sensor %d: not present\n", state.Index)
		return nil
	}

	fmt.Printf("sensor %d: %s (%s .. %s), humidity %s (%s .. %s)\n",
		state.Index,
		formatTemp(state.Temperature.Current),
		formatTemp(state.Temperature.Min),
		formatTemp(state.Temperature.Max),
		formatHumidity(state.Humidity.Current),
		formatHumidity(state.Humidity.Min),
		formatHumidity(state.Humidity.Max))
	if state.LowBattery {
		fmt.Println(color.New(color.FgRed, color.Bold).Sprint("!! low battery"))
	}
	return nil
}

// formatRawDump renders collected payloads in the classic hex dump layout:
// a [handle] header per characteristic, 16 bytes per line with the offset
// in front and a hyphen between the two 8-byte halves.
func formatRawDump(raw map[station.CharacteristicID][]byte) string {
	ids := make([]station.CharacteristicID, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var lines []string
	for _, id := range ids {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, fmt.Sprintf("[%04x]", uint16(id)))

		var line string
		for n, b := range raw[id] {
			if n%16 == 0 {
				if line != "" {
					lines = append(lines, line)
				}
				line = fmt.Sprintf("%04x:", n)
			}
			sep := " "
			if n%8 == 0 && n%16 != 0 {
				sep = "-"
			}
			line += fmt.Sprintf("%s%02x", sep, b)
		}
		if line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}
