// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
	"time"
)

const (
	metersPerSecondPerKnot = 0.514444
	simEarthRadiusM        = 6371000.0
)

// Simulator generates smooth changing fixes along a circle around a center
// point and renders them as RMC and GGA sentences.
type Simulator struct {
	CenterLat float64
	CenterLon float64
	RadiusM   float64
	Period    time.Duration // one lap
	AltitudeM float64

	start time.Time
	now   func() time.Time
}

// NewSimulator creates a simulator circling (lat, lon) with a 200 m radius
// once every two minutes.
func NewSimulator(lat, lon float64) *Simulator {
	return &Simulator{
		CenterLat: lat,
		CenterLon: lon,
		RadiusM:   200,
		Period:    2 * time.Minute,
		AltitudeM: 35,
		start:     time.Now(),
		now:       time.Now,
	}
}

// Position returns the simulated position and ground speed (knots) at t.
func (s *Simulator) Position(t time.Time) (lat, lon, speedKnots float64) {
	elapsed := t.Sub(s.start).Seconds()
	angle := 2 * math.Pi * elapsed / s.Period.Seconds()

	north := s.RadiusM * math.Cos(angle)
	east := s.RadiusM * math.Sin(angle)
	lat = s.CenterLat + north/simEarthRadiusM*180/math.Pi
	lon = s.CenterLon + east/(simEarthRadiusM*math.Cos(s.CenterLat*math.Pi/180))*180/math.Pi

	speed := 2 * math.Pi * s.RadiusM / s.Period.Seconds()
	return lat, lon, speed / metersPerSecondPerKnot
}

// Next returns the sentences for the current instant, RMC first.
func (s *Simulator) Next() []string {
	t := s.now().UTC()
	lat, lon, speed := s.Position(t)
	latS, ns := nmeaCoord(lat, 2, 'N', 'S')
	lonS, ew := nmeaCoord(lon, 3, 'E', 'W')
	hms := t.Format("150405.00")

	rmc := fmt.Sprintf("GPRMC,%s,A,%s,%c,%s,%c,%.1f,%.1f,%s,000.0,E", hms, latS, ns, lonS, ew,
		speed, s.course(t), t.Format("020106"))
	gga := fmt.Sprintf("GPGGA,%s,%s,%c,%s,%c,1,08,0.9,%.1f,M,46.9,M,,", hms, latS, ns, lonS, ew, s.AltitudeM)
	return []string{withChecksum(rmc), withChecksum(gga)}
}

// course is the heading along the circle, clockwise from north.
func (s *Simulator) course(t time.Time) float64 {
	elapsed := t.Sub(s.start).Seconds()
	deg := math.Mod(360*elapsed/s.Period.Seconds()+90, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// nmeaCoord formats decimal degrees as (d)ddmm.mmmm plus hemisphere.
func nmeaCoord(v float64, degDigits int, pos, neg byte) (string, byte) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	minutes := (v - deg) * 60
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), minutes), hemi
}

func withChecksum(payload string) string {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}
