// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relabs-tech/gps_receiver/internal/config"
	"github.com/relabs-tech/gps_receiver/internal/gps"
)

// ServeMockGPS streams simulated NMEA sentences to every client that connects
// to ln, one batch per interval, until ctx is cancelled.
func ServeMockGPS(ctx context.Context, ln net.Listener, src *gps.Simulator, interval time.Duration) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Printf("mock gps: client connected from %s", conn.RemoteAddr())
		go streamMockGPS(ctx, conn, src, interval)
	}
}

func streamMockGPS(ctx context.Context, w io.WriteCloser, src *gps.Simulator, interval time.Duration) {
	defer w.Close()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		batch := strings.Join(src.Next(), "\r\n") + "\r\n"
		if _, err := io.WriteString(w, batch); err != nil {
			log.Printf("mock gps: client gone: %v", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunMockGPS serves a simulated receiver on MOCK_GPS_LISTEN for development
// without hardware.
func RunMockGPS() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	ln, err := net.Listen("tcp", cfg.MockGPSListen)
	if err != nil {
		return err
	}
	log.Printf("mock gps: serving NMEA on %s", ln.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	src := gps.NewSimulator(cfg.MockGPSLatitude, cfg.MockGPSLongitude)
	return ServeMockGPS(ctx, ln, src, time.Second)
}
