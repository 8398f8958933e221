// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/relabs-tech/gps_receiver/internal/trace"
)

// DirStore keeps one CSV file per trace in a directory.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		root = "uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("tracestore: create %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Driver() Driver { return DriverDir }

func (s *DirStore) pathFor(id string) (string, error) {
	clean, err := SanitizeID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DirStore) Save(_ context.Context, id string, sess trace.Session) error {
	dst, err := s.pathFor(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := trace.Write(tmp, sess); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("tracestore: write %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// Link fails if dst appeared meanwhile; rename would silently replace it.
	if err := os.Link(tmp.Name(), dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, id)
		}
		return fmt.Errorf("tracestore: publish %s: %w", id, err)
	}
	return nil
}

func (s *DirStore) Open(_ context.Context, id string) (trace.Session, error) {
	p, err := s.pathFor(id)
	if err != nil {
		return trace.Session{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return trace.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return trace.Session{}, err
	}
	defer f.Close()
	sess, err := trace.Read(f)
	if err != nil {
		return trace.Session{}, fmt.Errorf("tracestore: read %s: %w", id, err)
	}
	return sess, nil
}

func (s *DirStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != nameExt || e.Name()[0] == '.' {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}
