// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "time"

// Kind names the sentence family a Fix was decoded from.
type Kind string

const (
	// KindFix comes from GGA: position plus altitude.
	KindFix Kind = "fix"
	// KindMotion comes from RMC: position plus ground speed.
	KindMotion Kind = "motion"
)

// Fix is a single decoded GPS observation, suitable for JSON and MQTT.
// Optional values are nil when the sentence kind does not carry them.
type Fix struct {
	DeviceID   string    `json:"device"`
	Kind       Kind      `json:"kind"`
	Latitude   float64   `json:"lat"`                   // decimal degrees
	Longitude  float64   `json:"lon"`                   // decimal degrees
	AltitudeM  *float64  `json:"altitude_m,omitempty"`  // meters above MSL
	SpeedKnots *float64  `json:"speed_knots,omitempty"` // speed over ground
	ObservedAt time.Time `json:"observed_at"`
}

func float64Ptr(v float64) *float64 { return &v }
