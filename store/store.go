// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package store provides persistent storage for the permissions granted
// to, and denied for, an extension. State is stored as YAML, with each
// of the four maps of permission name or match pattern to expiration
// stored independently. Entries that never expire are stored with an
// expiration of 9999-12-31T23:59:00Z.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/os/lockedfile"
	"gopkg.in/yaml.v3"
)

// Snapshot represents the persisted permission state of an extension.
type Snapshot struct {
	GrantedPermissions map[string]time.Time `yaml:"granted_permissions,omitempty"`
	DeniedPermissions  map[string]time.Time `yaml:"denied_permissions,omitempty"`
	GrantedPatterns    map[string]time.Time `yaml:"granted_match_patterns,omitempty"`
	DeniedPatterns     map[string]time.Time `yaml:"denied_match_patterns,omitempty"`
}

// IsEmpty returns true if the snapshot contains no entries.
func (s Snapshot) IsEmpty() bool {
	return len(s.GrantedPermissions) == 0 && len(s.DeniedPermissions) == 0 &&
		len(s.GrantedPatterns) == 0 && len(s.DeniedPatterns) == 0
}

var (
	ErrLoad       = errors.New("failed to load permission state")
	ErrSave       = errors.New("failed to save permission state")
	ErrLockFailed = errors.New("lock acquisition failed")
)

// File stores a Snapshot in a YAML file. Concurrent access, including
// from other processes, is serialized using a lock file alongside the
// state file.
type File struct {
	path string
	lock *lockedfile.Mutex
}

// NewFile returns a File that stores state in path. The directory
// containing path is created if necessary.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &File{
		path: path,
		lock: lockedfile.MutexAt(path + ".lock"),
	}, nil
}

// Path returns the name of the state file.
func (f *File) Path() string {
	return f.path
}

func (f *File) lockErr(err error) error {
	return errors.NewM(fmt.Errorf("%v: %w", f.path, err), ErrLockFailed)
}

// Load reads the stored snapshot, an empty snapshot is returned if the
// state file does not exist.
func (f *File) Load(ctx context.Context) (Snapshot, error) {
	unlock, err := f.lock.Lock()
	if err != nil {
		return Snapshot{}, f.lockErr(err)
	}
	defer unlock()
	return f.load(ctx)
}

// Save writes snap to the state file, replacing its previous contents.
func (f *File) Save(ctx context.Context, snap Snapshot) error {
	unlock, err := f.lock.Lock()
	if err != nil {
		return f.lockErr(err)
	}
	defer unlock()
	return f.save(ctx, snap)
}

// Update reads the stored snapshot, passes it to fn and saves the
// snapshot that fn returns. The lock is held throughout so concurrent
// updates, including those from other processes, are not lost. Nothing
// is saved if fn returns an error.
func (f *File) Update(ctx context.Context, fn func(Snapshot) (Snapshot, error)) error {
	unlock, err := f.lock.Lock()
	if err != nil {
		return f.lockErr(err)
	}
	defer unlock()
	snap, err := f.load(ctx)
	if err != nil {
		return err
	}
	snap, err = fn(snap)
	if err != nil {
		return err
	}
	return f.save(ctx, snap)
}

func (f *File) load(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ctxlog.Debug(ctx, "no permission state found", "path", f.path)
			return Snapshot{}, nil
		}
		return Snapshot{}, errors.NewM(err, ErrLoad)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.NewM(fmt.Errorf("%v: %w", f.path, err), ErrLoad)
	}
	return snap, nil
}

func (f *File) save(ctx context.Context, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return errors.NewM(err, ErrSave)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return errors.NewM(err, ErrSave)
	}
	var errs errors.M
	_, err = tmp.Write(data)
	errs.Append(err)
	errs.Append(tmp.Close())
	if err := errs.Err(); err != nil {
		os.Remove(tmp.Name())
		return errors.NewM(err, ErrSave)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.NewM(err, ErrSave)
	}
	ctxlog.Debug(ctx, "saved permission state", "path", f.path)
	return nil
}
