package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/gps_receiver/internal/config"
	"github.com/relabs-tech/gps_receiver/internal/gps"
	"github.com/relabs-tech/gps_receiver/internal/logging"
	"github.com/relabs-tech/gps_receiver/internal/publish"
)

// RunGPSProducer reads the configured device without the web server and
// publishes its fixes to MQTT as <TOPIC_GPS_PREFIX>/<device>/fix until
// SIGINT/SIGTERM or until the stream is lost.
func RunGPSProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.GetLogger().With(slog.String("component", "producer"))

	target, err := gps.ParseTarget(cfg.GPSHost, cfg.GPSPort, cfg.GPSSerialBaudRate)
	if err != nil {
		return err
	}

	// ---- 1) Connect to MQTT broker ----
	client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	logger.Info("producer: connected to MQTT broker", slog.String("broker", cfg.MQTTBroker))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := publish.New(client, cfg.TopicGPSPrefix, publish.DefaultQueueSize, logger)
	go func() { _ = pub.Run(ctx) }()

	// ---- 2) Open the GPS stream ----
	dialer := gps.Dialer{Timeout: time.Duration(cfg.GPSDialTimeout) * time.Millisecond}
	conn, err := dialer.Dial(ctx, target)
	if err != nil {
		return err
	}
	logger.Info("producer: GPS stream opened", slog.String("target", target.String()))

	reader, err := gps.NewReader(gps.ReaderConfig{
		DeviceID:     cfg.GPSDeviceID,
		Target:       target,
		ReadTimeout:  time.Duration(cfg.GPSReadTimeout) * time.Millisecond,
		MaxLineBytes: cfg.GPSMaxLineBytes,
		Logger:       logger,
	}, func(f gps.Fix) {
		if !pub.Offer(f) {
			logger.Warn("producer: publish queue full, fix dropped")
		}
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	// ---- 3) Publish until stopped ----
	if err := reader.Run(ctx, conn); err != nil {
		logger.Error("producer: GPS stream ended", slog.Any("error", xerrors.New(err)))
		return err
	}
	st := reader.Status()
	logger.Info("producer: stopped", slog.Uint64("lines", st.Lines), slog.Uint64("fixes", st.Fixes),
		slog.Uint64("published", pub.Published()), slog.Uint64("dropped", pub.Dropped()))
	return nil
}
