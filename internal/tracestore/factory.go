// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracestore

import (
	"context"
	"fmt"

	"github.com/relabs-tech/gps_receiver/internal/config"
)

// FromConfig opens the backend selected by TRACE_STORE.
func FromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch Driver(cfg.TraceStore) {
	case DriverDir, "":
		return NewDirStore(cfg.TraceDir)
	case DriverSQLite:
		return NewSQLiteStore(cfg.TraceSQLitePath)
	case DriverS3:
		return NewS3Store(ctx, S3Config{
			Bucket:    cfg.TraceS3Bucket,
			Region:    cfg.TraceS3Region,
			Endpoint:  cfg.TraceS3Endpoint,
			PathStyle: cfg.TraceS3PathStyle,
			Prefix:    cfg.TraceS3Prefix,
		})
	default:
		return nil, fmt.Errorf("tracestore: unknown driver %q", cfg.TraceStore)
	}
}
