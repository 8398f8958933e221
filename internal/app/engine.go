// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/gps_receiver/internal/gps"
	"github.com/relabs-tech/gps_receiver/internal/metrics"
	"github.com/relabs-tech/gps_receiver/internal/state"
	"github.com/relabs-tech/gps_receiver/internal/trace"
	"github.com/relabs-tech/gps_receiver/internal/tracestore"
)

var (
	ErrAlreadyConnected = errors.New("app: device already connected")
	ErrTooManyDevices   = errors.New("app: device limit reached")
	ErrBadRequest       = errors.New("app: invalid request")
	// ErrUnsaved means a stopped recording could not be stored and is held
	// in memory until RetryUnsaved or SpillUnsaved succeeds.
	ErrUnsaved = errors.New("app: recording kept unsaved")
)

// maxNameAttempts bounds the suffix search when a trace name is taken.
const maxNameAttempts = 100

// FixSink receives every accepted fix. Offer must not block.
type FixSink interface {
	Offer(fix gps.Fix) bool
}

type EngineConfig struct {
	MaxDevices   int
	ReadTimeout  time.Duration
	MaxLineBytes int
	DefaultBaud  int
	// Location formats trace names; UTC when nil.
	Location *time.Location

	Dial    gps.DialFunc
	Sink    FixSink
	Metrics *metrics.Collectors
	Logger  *slog.Logger
	Now     func() time.Time
}

type readerHandle struct {
	reader *gps.Reader // nil while dialing
	target gps.Target
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns the live state, the recording session and the device readers.
// It is the single context object every outer surface talks to.
type Engine struct {
	cfg   EngineConfig
	log   *slog.Logger
	state *state.Store
	store tracestore.Store

	mu      sync.Mutex
	readers map[string]*readerHandle
	// exited keeps the final status of readers that have ended.
	exited map[string]gps.Status
	// unsaved holds stopped sessions whose save failed, oldest first.
	unsaved []trace.Session

	flushMu sync.Mutex
}

func NewEngine(store tracestore.Store, cfg EngineConfig) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("app: trace store is required")
	}
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = 2
	}
	if cfg.DefaultBaud <= 0 {
		cfg.DefaultBaud = 9600
	}
	if cfg.Dial == nil {
		cfg.Dial = gps.Dialer{}.Dial
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		log:     logger.With(slog.String("component", "engine")),
		state:   state.New(cfg.Now),
		store:   store,
		readers: make(map[string]*readerHandle),
		exited:  make(map[string]gps.Status),
	}, nil
}

// Connect dials the device and starts its reader. It returns once the
// connection is open; the reader keeps running until DisconnectAll or until
// the stream fails.
func (e *Engine) Connect(ctx context.Context, deviceID, host string, port int) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrBadRequest)
	}
	target, err := gps.ParseTarget(host, port, e.cfg.DefaultBaud)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	h := &readerHandle{target: target, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if _, ok := e.readers[deviceID]; ok {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, deviceID)
	}
	if len(e.readers) >= e.cfg.MaxDevices {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %d", ErrTooManyDevices, e.cfg.MaxDevices)
	}
	e.readers[deviceID] = h
	e.mu.Unlock()

	release := func() {
		cancel()
		e.mu.Lock()
		if e.readers[deviceID] == h {
			delete(e.readers, deviceID)
		}
		e.mu.Unlock()
		close(h.done)
	}

	conn, err := e.cfg.Dial(ctx, target)
	if err != nil {
		release()
		e.log.Warn("engine: connect failed", slog.String("device", deviceID), slog.Any("error", xerrors.New(err)))
		return err
	}
	if rctx.Err() != nil {
		_ = conn.Close()
		release()
		return fmt.Errorf("%w: %s disconnected while connecting", gps.ErrConnection, deviceID)
	}

	reader, err := gps.NewReader(gps.ReaderConfig{
		DeviceID:     deviceID,
		Target:       target,
		ReadTimeout:  e.cfg.ReadTimeout,
		MaxLineBytes: e.cfg.MaxLineBytes,
		Logger:       e.cfg.Logger,
		Observer:     e.cfg.Metrics,
		Now:          e.cfg.Now,
	}, e.applyFix)
	if err != nil {
		_ = conn.Close()
		release()
		return err
	}

	e.mu.Lock()
	h.reader = reader
	delete(e.exited, deviceID)
	e.mu.Unlock()
	e.state.Register(deviceID)

	e.cfg.Metrics.ReaderStarted()
	go func() {
		defer close(h.done)
		defer e.cfg.Metrics.ReaderStopped()
		defer cancel()

		if err := reader.Run(rctx, conn); err != nil {
			e.log.Warn("engine: reader ended", slog.String("device", deviceID), slog.Any("error", xerrors.New(err)))
		}
		e.mu.Lock()
		if e.readers[deviceID] == h {
			delete(e.readers, deviceID)
		}
		e.exited[deviceID] = reader.Status()
		e.mu.Unlock()
	}()

	e.log.Info("engine: device connected", slog.String("device", deviceID), slog.String("target", target.String()))
	return nil
}

func (e *Engine) applyFix(fix gps.Fix) {
	appended := e.state.Update(fix.DeviceID, fix)
	e.cfg.Metrics.FixApplied(fix.DeviceID, appended)
	if e.cfg.Sink != nil && !e.cfg.Sink.Offer(fix) {
		e.cfg.Metrics.MQTTDropped()
	}
}

// DisconnectAll stops every reader, waits for them to exit (or for ctx) and
// returns every device to the no-fix state.
func (e *Engine) DisconnectAll(ctx context.Context) error {
	e.mu.Lock()
	handles := make([]*readerHandle, 0, len(e.readers))
	for _, h := range e.readers {
		h.cancel()
		handles = append(handles, h)
	}
	e.mu.Unlock()

	var waitErr error
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
		if waitErr != nil {
			break
		}
	}
	e.state.Reset()
	e.log.Info("engine: all devices disconnected", slog.Int("readers", len(handles)))
	return waitErr
}

// LiveState returns the latest values for every known device.
func (e *Engine) LiveState() map[string]state.DeviceState {
	return e.state.Snapshot()
}

// Devices returns the status of running readers and the final status of
// readers that have ended, sorted by device id.
func (e *Engine) Devices() []gps.Status {
	e.mu.Lock()
	out := make([]gps.Status, 0, len(e.readers)+len(e.exited))
	seen := make(map[string]bool, len(e.readers))
	for id, h := range e.readers {
		seen[id] = true
		if h.reader == nil {
			out = append(out, gps.Status{DeviceID: id, Target: h.target.String(), State: gps.StateConnecting})
			continue
		}
		out = append(out, h.reader.Status())
	}
	for id, st := range e.exited {
		if !seen[id] {
			out = append(out, st)
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (e *Engine) StartRecording() error {
	if err := e.state.StartRecording(); err != nil {
		return err
	}
	e.cfg.Metrics.SetRecording(true)
	e.log.Info("engine: recording started")
	return nil
}

// StopRecording closes the session and persists it. The returned id resolves
// through GetTrace. Live updates continue while the trace is written. If the
// store fails, the session is kept and the error wraps ErrUnsaved.
func (e *Engine) StopRecording(ctx context.Context) (string, error) {
	sess, err := e.state.StopRecording()
	if err != nil {
		return "", err
	}
	e.cfg.Metrics.SetRecording(false)

	id, err := e.persist(ctx, e.store, sess)
	if err != nil {
		e.mu.Lock()
		e.unsaved = append(e.unsaved, sess)
		pending := len(e.unsaved)
		e.mu.Unlock()
		e.log.Error("engine: persist trace failed, keeping it for retry",
			slog.Int("points", len(sess.Points)), slog.Int("unsaved", pending), slog.Any("error", xerrors.New(err)))
		return "", fmt.Errorf("%w: %w", ErrUnsaved, err)
	}
	e.log.Info("engine: recording stopped", slog.String("trace", id), slog.Int("points", len(sess.Points)))
	return id, nil
}

// Unsaved reports how many stopped sessions are waiting to be stored.
func (e *Engine) Unsaved() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.unsaved)
}

// RetryUnsaved stores held sessions in the trace store, oldest first, and
// returns the new ids. It stops at the first failure; the rest stay held.
func (e *Engine) RetryUnsaved(ctx context.Context) ([]string, error) {
	return e.flushUnsaved(ctx, e.store)
}

// SpillUnsaved stores held sessions in fallback instead of the trace store.
func (e *Engine) SpillUnsaved(ctx context.Context, fallback tracestore.Store) ([]string, error) {
	return e.flushUnsaved(ctx, fallback)
}

func (e *Engine) flushUnsaved(ctx context.Context, store tracestore.Store) ([]string, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	var ids []string
	for {
		e.mu.Lock()
		if len(e.unsaved) == 0 {
			e.mu.Unlock()
			return ids, nil
		}
		sess := e.unsaved[0]
		e.mu.Unlock()

		id, err := e.persist(ctx, store, sess)
		if err != nil {
			return ids, fmt.Errorf("%w: %w", ErrUnsaved, err)
		}
		// only flushes remove entries, so the head is still sess
		e.mu.Lock()
		e.unsaved = e.unsaved[1:]
		e.mu.Unlock()
		ids = append(ids, id)
		e.log.Info("engine: held recording stored", slog.String("trace", id), slog.String("driver", string(store.Driver())))
	}
}

func (e *Engine) persist(ctx context.Context, store tracestore.Store, sess trace.Session) (string, error) {
	id, err := e.save(ctx, store, tracestore.NameFor(sess.StartTime, e.cfg.Location), sess)
	e.cfg.Metrics.TracePersisted(err)
	return id, err
}

// save stores sess under base, or base with a numeric suffix if taken.
func (e *Engine) save(ctx context.Context, store tracestore.Store, base string, sess trace.Session) (string, error) {
	id := base
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		err := store.Save(ctx, id, sess)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, tracestore.ErrExists) {
			return "", err
		}
		id = tracestore.WithSuffix(base, attempt+1)
	}
	return "", fmt.Errorf("%w: no free name for %s", tracestore.ErrExists, base)
}

// RecordingView is the session status plus the count of held sessions.
type RecordingView struct {
	state.RecordingStatus
	Unsaved int `json:"unsaved,omitempty"`
}

func (e *Engine) Recording() RecordingView {
	return RecordingView{RecordingStatus: e.state.Recording(), Unsaved: e.Unsaved()}
}

func (e *Engine) ListTraces(ctx context.Context) ([]string, error) {
	return e.store.List(ctx)
}

// TraceView is a stored trace as served to clients.
type TraceView struct {
	ID       string                  `json:"id"`
	Traces   map[string][][2]float64 `json:"traces"`
	Devices  []string                `json:"devices"`
	Distance float64                 `json:"distance"`
	Duration float64                 `json:"duration"` // seconds
	Points   int                     `json:"points"`
	Skipped  int                     `json:"skipped_rows"`
}

func newTraceView(id string, a trace.Analysis) TraceView {
	v := TraceView{
		ID:       id,
		Traces:   make(map[string][][2]float64, len(a.Devices)),
		Devices:  make([]string, 0, len(a.Devices)),
		Distance: a.DistanceM,
		Duration: a.Duration.Seconds(),
		Skipped:  a.Skipped,
	}
	for _, d := range a.Devices {
		pts := make([][2]float64, len(d.Points))
		for i, p := range d.Points {
			pts[i] = [2]float64{p.Latitude, p.Longitude}
		}
		v.Traces[d.Device] = pts
		v.Devices = append(v.Devices, d.Device)
		v.Points += len(d.Points)
	}
	return v
}

// GetTrace loads a stored trace and analyzes it.
func (e *Engine) GetTrace(ctx context.Context, id string) (TraceView, error) {
	sess, err := e.store.Open(ctx, id)
	if err != nil {
		return TraceView{}, err
	}
	return newTraceView(id, trace.Analyze(sess)), nil
}

// ImportTrace parses an externally produced trace, stores it under a name
// derived from name and returns its analysis.
func (e *Engine) ImportTrace(ctx context.Context, name string, r io.Reader) (TraceView, error) {
	base, err := tracestore.SanitizeID(name)
	if err != nil {
		return TraceView{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".csv") {
		base = strings.TrimSuffix(base, ext) + ".csv"
	} else {
		base += ".csv"
	}
	sess, err := trace.Read(r)
	if err != nil {
		return TraceView{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	id, err := e.save(ctx, e.store, base, sess)
	if err != nil {
		return TraceView{}, err
	}
	e.log.Info("engine: trace imported", slog.String("trace", id),
		slog.Int("points", len(sess.Points)), slog.Int("skipped", sess.Skipped))
	return newTraceView(id, trace.Analyze(sess)), nil
}
