package main

import (
	"log"
	"os"

	"github.com/relabs-tech/gps_receiver/internal/app"
)

func main() {
	if err := app.RunTraceInfo(os.Stdout, os.Args[1:]); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
