package main

import (
	"log"

	"github.com/relabs-tech/gps_receiver/internal/app"
	"github.com/relabs-tech/gps_receiver/internal/config"
)

func main() {
	log.Println("starting gps-receiver console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(config.ResolvePath()); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
