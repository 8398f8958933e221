// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trace holds recorded fix sequences, their tabular encoding and the
// distance/duration analysis done when a trace is read back.
package trace

import "time"

// DefaultDevice is used for points loaded from traces without a device column.
const DefaultDevice = "gps"

// Point is one recorded fix. Time is zero when the source had no timestamp;
// Speed and Elevation are nil when the fix did not carry them.
type Point struct {
	Time      time.Time `json:"time,omitzero"`
	Device    string    `json:"device"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Speed     *float64  `json:"speed,omitempty"`
	Elevation *float64  `json:"elevation,omitempty"`
}

// HasTime reports whether the point carries an arrival timestamp.
func (p Point) HasTime() bool { return !p.Time.IsZero() }

// Session is a completed recording: its window plus the points in arrival order.
type Session struct {
	StartTime time.Time `json:"start_time,omitzero"`
	EndTime   time.Time `json:"end_time,omitzero"`
	Points    []Point   `json:"points"`

	// Skipped counts rows dropped as malformed while loading.
	Skipped int `json:"skipped_rows,omitempty"`
}
