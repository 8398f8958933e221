// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trace

import (
	"math"
	"time"
)

// EarthRadiusM is the spherical Earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two points
// given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLambda := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// rounding can leave a just outside [0, 1] for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// DeviceTrack is one device's points in arrival order and its path length.
type DeviceTrack struct {
	Device    string  `json:"device"`
	Points    []Point `json:"points"`
	DistanceM float64 `json:"distance_m"`
}

// Analysis is the replay view of a stored trace.
type Analysis struct {
	Devices   []DeviceTrack `json:"devices"`
	DistanceM float64       `json:"distance_m"`
	Duration  time.Duration `json:"-"`
	Skipped   int           `json:"skipped_rows,omitempty"`
}

// PathLength sums the haversine distance between consecutive points.
func PathLength(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		total += Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	}
	return total
}

// Analyze partitions s by device, keeping first-seen device order and arrival
// order within each device, and derives path lengths and elapsed time.
// Duration spans the first and last timestamped points; it is zero when the
// trace has no timestamps.
func Analyze(s Session) Analysis {
	out := Analysis{Skipped: s.Skipped}
	index := make(map[string]int)

	var first, last time.Time
	for _, p := range s.Points {
		i, ok := index[p.Device]
		if !ok {
			i = len(out.Devices)
			index[p.Device] = i
			out.Devices = append(out.Devices, DeviceTrack{Device: p.Device})
		}
		out.Devices[i].Points = append(out.Devices[i].Points, p)

		if p.HasTime() {
			if first.IsZero() {
				first = p.Time
			}
			last = p.Time
		}
	}

	for i := range out.Devices {
		d := PathLength(out.Devices[i].Points)
		out.Devices[i].DistanceM = d
		out.DistanceM += d
	}
	if !first.IsZero() && last.After(first) {
		out.Duration = last.Sub(first)
	}
	return out
}
