// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package state keeps the latest fix per device and the recording session.
// Both live behind one mutex so a fix is either in the live view and the
// active trace, or in neither.
package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/relabs-tech/gps_receiver/internal/gps"
	"github.com/relabs-tech/gps_receiver/internal/trace"
)

// ErrInvalidTransition is returned for start while recording or stop while idle.
var ErrInvalidTransition = errors.New("state: invalid recording transition")

// Status of the recording session.
type Status string

const (
	Idle   Status = "idle"
	Active Status = "active"
)

// DeviceState is the latest known values for one device. Nil means no value
// has been received yet.
type DeviceState struct {
	DeviceID   string   `json:"device"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Elevation  *float64 `json:"elevation"`
	Speed      *float64 `json:"speed"`
	LastFixUTC string   `json:"last_fix_utc,omitempty"`
}

// HasFix reports whether a position has been received.
func (d DeviceState) HasFix() bool { return d.Latitude != nil && d.Longitude != nil }

type device struct {
	lat, lon  float64
	posOK     bool
	elevation float64
	elevOK    bool
	speed     float64
	speedOK   bool
	lastFix   time.Time
}

func (d *device) apply(fix gps.Fix, now time.Time) {
	d.lat = fix.Latitude
	d.lon = fix.Longitude
	d.posOK = true
	if fix.AltitudeM != nil {
		d.elevation = *fix.AltitudeM
		d.elevOK = true
	}
	if fix.SpeedKnots != nil {
		d.speed = *fix.SpeedKnots
		d.speedOK = true
	}
	d.lastFix = now
}

func (d *device) snapshot(id string) DeviceState {
	out := DeviceState{DeviceID: id}
	if d.posOK {
		lat, lon := d.lat, d.lon
		out.Latitude = &lat
		out.Longitude = &lon
	}
	if d.elevOK {
		v := d.elevation
		out.Elevation = &v
	}
	if d.speedOK {
		v := d.speed
		out.Speed = &v
	}
	if !d.lastFix.IsZero() {
		out.LastFixUTC = d.lastFix.Format(time.RFC3339Nano)
	}
	return out
}

// RecordingStatus describes the session without copying its points.
type RecordingStatus struct {
	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time,omitzero"`
	Points    int       `json:"points"`
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	devices map[string]*device

	status Status
	start  time.Time
	points []trace.Point
}

// New returns an empty store. now defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, devices: make(map[string]*device), status: Idle}
}

// Register makes a device visible in snapshots before its first fix.
func (s *Store) Register(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		s.devices[deviceID] = &device{}
	}
}

// Update applies fix to deviceID and, while recording, appends a trace point
// for it. It reports whether a point was appended.
func (s *Store) Update(deviceID string, fix gps.Fix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	d, ok := s.devices[deviceID]
	if !ok {
		d = &device{}
		s.devices[deviceID] = d
	}
	d.apply(fix, now)

	if s.status != Active {
		return false
	}
	p := trace.Point{
		Time:      now,
		Device:    deviceID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
	}
	if fix.SpeedKnots != nil {
		v := *fix.SpeedKnots
		p.Speed = &v
	}
	if fix.AltitudeM != nil {
		v := *fix.AltitudeM
		p.Elevation = &v
	}
	s.points = append(s.points, p)
	return true
}

// Snapshot returns a copy of every device state.
func (s *Store) Snapshot() map[string]DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DeviceState, len(s.devices))
	for id, d := range s.devices {
		out[id] = d.snapshot(id)
	}
	return out
}

// Devices returns the known device ids, sorted.
func (s *Store) Devices() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Reset returns every known device to the no-fix state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.devices {
		s.devices[id] = &device{}
	}
}

// StartRecording opens a new, empty trace window.
func (s *Store) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Active {
		return ErrInvalidTransition
	}
	s.status = Active
	s.start = s.now().UTC()
	s.points = nil
	return nil
}

// StopRecording closes the window and hands back the completed session. The
// returned points are owned by the caller; the store starts fresh.
func (s *Store) StopRecording() (trace.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Active {
		return trace.Session{}, ErrInvalidTransition
	}
	sess := trace.Session{
		StartTime: s.start,
		EndTime:   s.now().UTC(),
		Points:    s.points,
	}
	s.status = Idle
	s.start = time.Time{}
	s.points = nil
	return sess, nil
}

// Recording returns the session status.
func (s *Store) Recording() RecordingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RecordingStatus{Status: s.status, StartTime: s.start, Points: len(s.points)}
}
