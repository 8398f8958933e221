package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gps_receiver/internal/config"
	"github.com/relabs-tech/gps_receiver/internal/gps"
	"github.com/relabs-tech/gps_receiver/internal/publish"
)

// FormatFix renders one fix as a console line.
func FormatFix(f gps.Fix) string {
	line := fmt.Sprintf("[GPS %-6s] %-7s lat=%.6f lon=%.6f", f.DeviceID, f.Kind, f.Latitude, f.Longitude)
	if f.SpeedKnots != nil {
		line += fmt.Sprintf(" speed=%.1fkn", *f.SpeedKnots)
	}
	if f.AltitudeM != nil {
		line += fmt.Sprintf(" alt=%.1fm", *f.AltitudeM)
	}
	if !f.ObservedAt.IsZero() {
		line += " at=" + f.ObservedAt.UTC().Format("15:04:05.000")
	}
	return line
}

func printFixMessage(out io.Writer, payload []byte) error {
	var f gps.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, FormatFix(f))
	return err
}

// RunConsoleMQTT prints every fix published by receivers and producers.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}

	client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	filter := publish.SubscribeFilter(cfg.TopicGPSPrefix)
	gpsToken := client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := printFixMessage(os.Stdout, msg.Payload()); err != nil {
			log.Printf("console: gps unmarshal error on %s: %v", msg.Topic(), err)
		}
	})
	gpsToken.Wait()
	if gpsToken.Error() != nil {
		return gpsToken.Error()
	}
	log.Printf("console: subscribed to %s", filter)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
