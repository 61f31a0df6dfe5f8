package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blews/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for weather stations",
	Long: `Scan for Oregon Scientific BLE weather stations in range.

Stations are matched by the local name they advertise (IDTW211R for
EMR211, IDTW213R for RAR218HG). Scanning usually requires elevated
privileges.`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanNames       []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanNames, "name", "n", nil, "Match stations advertising these names")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show stations with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide stations with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, logrus.PanicLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: scanNoDuplicate,
		Names:           scanNames,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewProgressPrinter("Scanning for weather stations", "Scanning", scanDuration, "Processing results")
	progress.Start()
	defer progress.Stop()

	stations, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}
	progress.Stop()

	return displayStations(stations, scanFormat)
}

func displayStations(stations map[string]scanner.Station, format string) error {
	if len(stations) == 0 {
		fmt.Println("No weather stations found")
		return nil
	}

	list := make([]scanner.Station, 0, len(stations))
	for _, st := range stations {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Address < list[j].Address
	})

	if format == "json" {
		return displayStationsJSON(list)
	}
	return displayStationsTable(list)
}

func displayStationsTable(stations []scanner.Station) error {
	var base io.Writer = os.Stdout
	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, st := range stations {
		lastSeen := time.Since(st.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s ago\n",
			st.Name, st.Address, st.RSSI, lastSeen)
	}

	return w.Flush()
}

func displayStationsJSON(stations []scanner.Station) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(stations)
}
