// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes receiver counters to Prometheus. A nil *Collectors
// is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gps_receiver"

type Collectors struct {
	linesRead       *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
	fixesApplied    *prometheus.CounterVec
	tracePoints     prometheus.Counter
	activeReaders   prometheus.Gauge
	recording       prometheus.Gauge
	tracesPersisted *prometheus.CounterVec
	mqttDropped     prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		linesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nmea_lines_total",
			Help:      "NMEA lines read per device.",
		}, []string{"device"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nmea_decode_failures_total",
			Help:      "Lines that failed NMEA decoding per device.",
		}, []string{"device"}),
		fixesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_total",
			Help:      "Fixes applied to live state per device.",
		}, []string{"device"}),
		tracePoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_points_total",
			Help:      "Points appended to the active recording.",
		}),
		activeReaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_readers",
			Help:      "Device readers currently running.",
		}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "1 while a recording session is active.",
		}),
		tracesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_persisted_total",
			Help:      "Trace persistence attempts by result.",
		}, []string{"result"}),
		mqttDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_dropped_total",
			Help:      "Fixes dropped because the publish queue was full.",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.linesRead, c.decodeFailures, c.fixesApplied, c.tracePoints,
		c.activeReaders, c.recording, c.tracesPersisted, c.mqttDropped,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LineRead implements gps.Observer.
func (c *Collectors) LineRead(device string) {
	if c == nil {
		return
	}
	c.linesRead.WithLabelValues(device).Inc()
}

// DecodeFailed implements gps.Observer.
func (c *Collectors) DecodeFailed(device string) {
	if c == nil {
		return
	}
	c.decodeFailures.WithLabelValues(device).Inc()
}

func (c *Collectors) FixApplied(device string, appended bool) {
	if c == nil {
		return
	}
	c.fixesApplied.WithLabelValues(device).Inc()
	if appended {
		c.tracePoints.Inc()
	}
}

func (c *Collectors) ReaderStarted() {
	if c == nil {
		return
	}
	c.activeReaders.Inc()
}

func (c *Collectors) ReaderStopped() {
	if c == nil {
		return
	}
	c.activeReaders.Dec()
}

func (c *Collectors) SetRecording(active bool) {
	if c == nil {
		return
	}
	if active {
		c.recording.Set(1)
	} else {
		c.recording.Set(0)
	}
}

// TracePersisted counts a save attempt as "ok" or "error".
func (c *Collectors) TracePersisted(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.tracesPersisted.WithLabelValues("error").Inc()
		return
	}
	c.tracesPersisted.WithLabelValues("ok").Inc()
}

func (c *Collectors) MQTTDropped() {
	if c == nil {
		return
	}
	c.mqttDropped.Inc()
}
