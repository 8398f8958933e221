// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// ErrConnection covers failures to open or keep a device connection.
var ErrConnection = errors.New("gps: connection failure")

const (
	NetworkTCP    = "tcp"
	NetworkSerial = "serial"
)

// Target identifies where a device streams from. TCP targets are host:port;
// serial targets are a device path plus baud rate.
type Target struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Baud    int    `json:"baud,omitempty"`
}

func (t Target) String() string {
	if t.Network == NetworkSerial {
		return fmt.Sprintf("serial:%s@%d", t.Address, t.Baud)
	}
	return t.Address
}

// ParseTarget maps the host/port pair a client submits to a Target.
// A host that is a /dev path selects a serial port and port is read as the
// baud rate (defaultBaud when zero).
func ParseTarget(host string, port int, defaultBaud int) (Target, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Target{}, fmt.Errorf("gps: target host is required")
	}
	if strings.HasPrefix(host, "/dev/") {
		baud := port
		if baud == 0 {
			baud = defaultBaud
		}
		if baud <= 0 {
			return Target{}, fmt.Errorf("gps: invalid baud rate %d for %s", baud, host)
		}
		return Target{Network: NetworkSerial, Address: host, Baud: baud}, nil
	}
	if port <= 0 || port > 65535 {
		return Target{}, fmt.Errorf("gps: invalid port %d", port)
	}
	return Target{Network: NetworkTCP, Address: net.JoinHostPort(host, strconv.Itoa(port))}, nil
}

// DialFunc opens a byte stream to a device.
type DialFunc func(ctx context.Context, t Target) (io.ReadCloser, error)

// Dialer opens TCP and serial targets.
type Dialer struct {
	Timeout time.Duration
}

func (d Dialer) Dial(ctx context.Context, t Target) (io.ReadCloser, error) {
	switch t.Network {
	case NetworkTCP, "":
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		nd := &net.Dialer{Timeout: timeout}
		conn, err := nd.DialContext(ctx, "tcp", t.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, t, err)
		}
		return conn, nil

	case NetworkSerial:
		port, err := openSerial(t.Address, t.Baud)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, t, err)
		}
		return port, nil

	default:
		return nil, fmt.Errorf("%w: unsupported network %q", ErrConnection, t.Network)
	}
}

// openSerial opens path 8N1 with blocking single-byte reads, the settings
// the producer has always used, then hands the port to the runtime poller.
func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, err
	}
	return pollable(port, path)
}
