// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracestore persists completed recording sessions and resolves them
// back by identifier. Backends: a directory of CSV files, a SQLite database
// or an S3-compatible bucket.
package tracestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/relabs-tech/gps_receiver/internal/trace"
)

// Driver identifies a concrete backend.
type Driver string

const (
	DriverDir    Driver = "dir"
	DriverSQLite Driver = "sqlite"
	DriverS3     Driver = "s3"
)

var (
	// ErrNotFound is returned by Open for an unknown identifier.
	ErrNotFound = errors.New("tracestore: trace not found")
	// ErrExists is returned by Save when the identifier is taken.
	ErrExists = errors.New("tracestore: trace already exists")
	// ErrInvalidID rejects identifiers that are empty or escape the store.
	ErrInvalidID = errors.New("tracestore: invalid trace id")
)

// Store is implemented by every backend. Identifiers are file-like names
// such as "trace_2024-01-02_15-04-05.csv".
type Store interface {
	// Save writes s under id. It never overwrites an existing trace.
	Save(ctx context.Context, id string, s trace.Session) error
	Open(ctx context.Context, id string) (trace.Session, error)
	// List returns every stored identifier, sorted.
	List(ctx context.Context) ([]string, error)
	Driver() Driver
}

const (
	namePrefix = "trace_"
	nameExt    = ".csv"
	nameLayout = "2006-01-02_15-04-05"
)

// NameFor returns the identifier for a session started at start, formatted
// in loc (UTC when nil).
func NameFor(start time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return namePrefix + start.In(loc).Format(nameLayout) + nameExt
}

// WithSuffix inserts "_n" before the extension of id.
func WithSuffix(id string, n int) string {
	ext := path.Ext(id)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(id, ext), n, ext)
}

// SanitizeID reduces a client-supplied name to a single safe path element.
func SanitizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	// Browsers may send a full client path.
	if i := strings.LastIndexAny(id, `/\`); i >= 0 {
		id = id[i+1:]
	}
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String(), nil
}
