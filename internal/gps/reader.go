// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"
)

// Reader states reported in Status. A stream that ends cleanly is
// disconnected; any other read failure is an error.
const (
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateStopped      = "stopped"
	StateError        = "error"
)

// Observer receives per-line counters. A nil Observer is allowed.
type Observer interface {
	LineRead(device string)
	DecodeFailed(device string)
}

type ReaderConfig struct {
	DeviceID string
	Target   Target

	// ReadTimeout bounds each blocking read so cancellation is noticed even
	// on streams that cannot be closed from another goroutine.
	ReadTimeout  time.Duration
	MaxLineBytes int

	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// Reader consumes one device stream and hands decoded fixes to onFix.
type Reader struct {
	cfg   ReaderConfig
	onFix func(Fix)
	log   *slog.Logger

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	lines    uint64
	fixes    uint64
	failures uint64
}

// Status is a point-in-time view of a reader.
type Status struct {
	DeviceID       string `json:"device"`
	Target         string `json:"target"`
	State          string `json:"state"`
	LastError      string `json:"last_error,omitempty"`
	LastSeenUTC    string `json:"last_seen_utc,omitempty"`
	Lines          uint64 `json:"lines"`
	Fixes          uint64 `json:"fixes"`
	DecodeFailures uint64 `json:"decode_failures"`
}

func NewReader(cfg ReaderConfig, onFix func(Fix)) (*Reader, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("gps: reader device id is required")
	}
	if onFix == nil {
		return nil, fmt.Errorf("gps: reader onFix is nil")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4 * 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "reader"), slog.String("device", cfg.DeviceID))

	return &Reader{cfg: cfg, onFix: onFix, log: logger, state: StateDisconnected}, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Run reads newline-delimited sentences from conn until ctx is cancelled or
// the stream fails. conn is always closed on return. Cancellation returns nil;
// a lost stream returns an error wrapping ErrConnection. There is no retry.
func (r *Reader) Run(ctx context.Context, conn io.ReadCloser) error {
	defer conn.Close()
	// Closing unblocks a pending read immediately on transports that allow it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r.setState(StateConnected, "")
	r.log.Info("reader: connected", slog.String("target", r.cfg.Target.String()))

	dl, hasDeadline := conn.(readDeadliner)
	br := bufio.NewReader(conn)
	var pending []byte

	for {
		if ctx.Err() != nil {
			r.setState(StateStopped, "")
			r.log.Info("reader: stopped")
			return nil
		}
		if hasDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		}

		chunk, err := br.ReadBytes('\n')
		pending = append(pending, chunk...)
		if len(pending) > r.cfg.MaxLineBytes {
			r.log.Warn("reader: dropping oversized line", slog.Int("bytes", len(pending)))
			pending = pending[:0]
			if err == nil {
				continue
			}
		}

		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				r.setState(StateStopped, "")
				r.log.Info("reader: stopped")
				return nil
			}
			if errors.Is(err, io.EOF) && len(pending) > 0 {
				r.handleLine(pending)
			}
			connErr := fmt.Errorf("%w: %s read: %w", ErrConnection, r.cfg.DeviceID, err)
			if errors.Is(err, io.EOF) {
				r.setState(StateDisconnected, err.Error())
			} else {
				r.setState(StateError, err.Error())
			}
			r.log.Warn("reader: connection lost", slog.Any("error", xerrors.New(connErr)))
			return connErr
		}

		r.handleLine(pending)
		pending = pending[:0]
	}
}

func (r *Reader) handleLine(raw []byte) {
	line := string(bytes.TrimSpace(raw))
	if line == "" {
		return
	}
	if r.cfg.Observer != nil {
		r.cfg.Observer.LineRead(r.cfg.DeviceID)
	}

	fix, ok, err := Decode(line)
	r.mu.Lock()
	r.lines++
	r.lastSeen = r.cfg.Now().UTC()
	if err != nil {
		r.failures++
	}
	if ok {
		r.fixes++
	}
	r.mu.Unlock()

	if err != nil {
		if r.cfg.Observer != nil {
			r.cfg.Observer.DecodeFailed(r.cfg.DeviceID)
		}
		r.log.Warn("reader: skipping sentence", slog.Any("error", err))
		return
	}
	if !ok {
		return
	}

	fix.DeviceID = r.cfg.DeviceID
	fix.ObservedAt = r.cfg.Now().UTC()
	r.onFix(fix)
}

// Status returns a copy of the reader counters and state.
func (r *Reader) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Status{
		DeviceID:       r.cfg.DeviceID,
		Target:         r.cfg.Target.String(),
		State:          r.state,
		LastError:      r.lastErr,
		Lines:          r.lines,
		Fixes:          r.fixes,
		DecodeFailures: r.failures,
	}
	if !r.lastSeen.IsZero() {
		out.LastSeenUTC = r.lastSeen.Format(time.RFC3339Nano)
	}
	return out
}

func (r *Reader) setState(state, lastErr string) {
	r.mu.Lock()
	r.state = state
	if lastErr != "" || state == StateConnected {
		r.lastErr = lastErr
	}
	r.mu.Unlock()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.ErrNoProgress) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
