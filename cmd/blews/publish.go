package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blews/internal/config"
	"github.com/srg/blews/internal/gatt"
	"github.com/srg/blews/internal/publish"
	"github.com/srg/blews/internal/station"
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Poll a weather station and publish readings to MQTT",
	Long: `Poll a weather station at a fixed interval and publish each snapshot
to an MQTT broker as JSON.

The whole snapshot goes to the configured base topic; every present
sensor additionally goes to <topic>/channel/<n>. Configuration comes
from a YAML file, see --config.`,
	RunE: runPublish,
}

var publishConfigPath string

func init() {
	publishCmd.Flags().StringVarP(&publishConfigPath, "config", "C", "", "Path to YAML configuration file")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(publishConfigPath)
	if err != nil {
		return err
	}

	// The config file level applies unless --log-level overrides it.
	// cfg.LogLevel was validated by config.Load.
	fallback, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, fallback)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	address := cfg.Station.Address
	if address == "" {
		address, err = discoverStation(ctx, logger, cfg.Station.Names)
		if err != nil {
			return err
		}
	}

	publisher := publish.NewPublisher(cfg.MQTT, logger)
	if err := publisher.Connect(ctx); err != nil {
		return err
	}
	defer publisher.Close()

	logger.WithFields(logrus.Fields{
		"address":  address,
		"broker":   cfg.MQTT.Broker,
		"topic":    cfg.MQTT.Topic,
		"interval": cfg.PollInterval,
	}).Info("Publishing weather station readings")

	// First pass immediately, then on the poll interval.
	if err := pollOnce(ctx, logger, cfg, address, publisher); err != nil {
		logger.WithError(err).Error("Measurement pass failed")
	}

	ticker := time.NewTicker(cfg.PollIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case <-ticker.C:
			if err := pollOnce(ctx, logger, cfg, address, publisher); err != nil {
				logger.WithError(err).Error("Measurement pass failed")
			}
		}
	}
}

// pollOnce performs one measure-and-publish pass, retrying failed
// measurements within the configured retry timeout.
func pollOnce(ctx context.Context, logger *logrus.Logger, cfg *config.Config, address string, publisher *publish.Publisher) error {
	snap, err := measureForPublish(ctx, logger, cfg, address)
	if err != nil {
		return err
	}

	if err := publisher.Publish(snap); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	logger.WithField("taken_at", snap.TakenAt()).Info("Snapshot published")
	return nil
}

func measureForPublish(ctx context.Context, logger *logrus.Logger, cfg *config.Config, address string) (*station.Snapshot, error) {
	deadline := time.Now().Add(cfg.Station.RetryTimeoutDuration())
	const retryDelay = 3 * time.Second

	for {
		snap, err := readStation(ctx, logger, cfg, address)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().Add(retryDelay).After(deadline) {
			return nil, err
		}

		logger.WithError(err).Warn("Measurement failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func readStation(ctx context.Context, logger *logrus.Logger, cfg *config.Config, address string) (*station.Snapshot, error) {
	client := gatt.NewClient(logger)
	opts := &gatt.ConnectOptions{ConnectTimeout: cfg.Station.ConnectTimeoutDuration()}
	if err := client.Connect(ctx, address, opts); err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.WithError(err).Warn("Disconnect failed")
		}
	}()

	if err := client.Collect(ctx, cfg.Station.SettleWindowDuration()); err != nil {
		return nil, err
	}

	reader := station.NewReader(client, station.WithLogger(logger))
	return reader.ReadAll(ctx)
}
