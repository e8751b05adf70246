/*
Copyright 2024 github.com/ucirello

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package migration applies numbered SQL scripts to a database and guards
// them against changes once they have been accepted.
//
// Scripts are named <version>-<description>.sql and may live anywhere under
// the script root. Versions must be contiguous, starting at 1. Accepting a
// script writes a sibling <version>-<description>.locked file holding the hex
// BLAKE3 digest of its content; a locked script must never change.
package migration // import "cirello.io/pgdb/migration"

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/xerrors"
)

// Integrity errors.
var (
	ErrInvalidScriptName   = xerrors.New("invalid migration script name")
	ErrDuplicateVersion    = xerrors.New("duplicated migration script version")
	ErrVersionGap          = xerrors.New("migration script versions should be continuous numbers")
	ErrLockedScriptChanged = xerrors.New("found locked-then-changed migration script")
	ErrLockedScriptRemoved = xerrors.New("found locked-then-removed migration script")
	ErrScriptNotLocked     = xerrors.New("found not-locked migration script")
)

const (
	scriptExt = ".sql"
	lockExt   = ".locked"
)

// Script is a migration script found under the script root.
type Script struct {
	Version int
	// Path is relative to the script root.
	Path string
}

// Locker reads and locks the migration scripts of a directory tree.
type Locker struct {
	root string
}

// New returns a locker for the scripts under root.
func New(root string) *Locker {
	return &Locker{root: root}
}

// Root returns the script root.
func (l *Locker) Root() string { return l.root }

// Read returns the content of a script.
func (l *Locker) Read(s Script) (string, error) {
	b, err := os.ReadFile(filepath.Join(l.root, s.Path))
	if err != nil {
		return "", xerrors.Errorf("cannot read migration script %s: %w", s.Path, err)
	}
	return string(b), nil
}

// LoadVersions returns the scripts whose version is greater than after, in
// ascending version order. The versions must follow after without gaps.
func (l *Locker) LoadVersions(after int) ([]Script, error) {
	scripts, err := l.scripts()
	if err != nil {
		return nil, err
	}
	var pending []Script
	expected := -1
	for i := len(scripts) - 1; i >= 0; i-- {
		s := scripts[i]
		if s.Version <= after {
			break
		}
		if i > 0 && scripts[i-1].Version == s.Version {
			return nil, xerrors.Errorf("%s duplicates %s: %w", scripts[i-1].Path, s.Path, ErrDuplicateVersion)
		}
		if expected != -1 && expected != s.Version {
			return nil, xerrors.Errorf("missed version %d: %w", expected, ErrVersionGap)
		}
		expected = s.Version - 1
		pending = append(pending, s)
	}
	if expected != -1 && expected != after {
		return nil, xerrors.Errorf("missed version %d: %w", expected, ErrVersionGap)
	}
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return pending, nil
}

// LockScripts writes the lock file of every script that does not have one
// yet and returns how many were written. Every script must be numbered
// contiguously from 1, and scripts already locked must be unchanged.
func (l *Locker) LockScripts() (int, error) {
	scripts, err := l.scripts()
	if err != nil {
		return 0, err
	}
	locked := 0
	for i, s := range scripts {
		if i > 0 && scripts[i-1].Version == s.Version {
			return locked, xerrors.Errorf("%s duplicates %s: %w", scripts[i-1].Path, s.Path, ErrDuplicateVersion)
		}
		if s.Version != i+1 {
			return locked, xerrors.Errorf("missed version %d: %w", i+1, ErrVersionGap)
		}
		sum, err := l.digest(s.Path)
		if err != nil {
			return locked, err
		}
		lockPath := filepath.Join(l.root, lockPathOf(s.Path))
		expected, err := os.ReadFile(lockPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := os.WriteFile(lockPath, []byte(sum), 0o644); err != nil {
				return locked, xerrors.Errorf("cannot lock %s: %w", s.Path, err)
			}
			locked++
		case err != nil:
			return locked, xerrors.Errorf("cannot read lock of %s: %w", s.Path, err)
		case strings.TrimSpace(string(expected)) != sum:
			return locked, xerrors.Errorf("%s: %w", s.Path, ErrLockedScriptChanged)
		}
	}
	return locked, nil
}

// CheckNoLockedScriptsChanged verifies that every lock file still matches
// its script, and that the script still exists.
func (l *Locker) CheckNoLockedScriptsChanged() error {
	locks, err := l.find(lockExt)
	if err != nil {
		return err
	}
	for _, lock := range locks {
		script := strings.TrimSuffix(lock, lockExt) + scriptExt
		expected, err := os.ReadFile(filepath.Join(l.root, lock))
		if err != nil {
			return xerrors.Errorf("cannot read lock of %s: %w", script, err)
		}
		sum, err := l.digest(script)
		if errors.Is(err, fs.ErrNotExist) {
			return xerrors.Errorf("%s: %w", script, ErrLockedScriptRemoved)
		} else if err != nil {
			return err
		}
		if strings.TrimSpace(string(expected)) != sum {
			return xerrors.Errorf("%s: %w", script, ErrLockedScriptChanged)
		}
	}
	return nil
}

// CheckNoScriptsNotLocked verifies that every script has a lock file.
func (l *Locker) CheckNoScriptsNotLocked() error {
	scripts, err := l.find(scriptExt)
	if err != nil {
		return err
	}
	for _, s := range scripts {
		_, err := os.Stat(filepath.Join(l.root, lockPathOf(s)))
		if errors.Is(err, fs.ErrNotExist) {
			return xerrors.Errorf("%s: %w", s, ErrScriptNotLocked)
		} else if err != nil {
			return xerrors.Errorf("cannot check lock of %s: %w", s, err)
		}
	}
	return nil
}

// Check runs both integrity checks.
func (l *Locker) Check() error {
	if err := l.CheckNoLockedScriptsChanged(); err != nil {
		return err
	}
	return l.CheckNoScriptsNotLocked()
}

// scripts returns every script sorted by version.
func (l *Locker) scripts() ([]Script, error) {
	paths, err := l.find(scriptExt)
	if err != nil {
		return nil, err
	}
	scripts := make([]Script, 0, len(paths))
	for _, p := range paths {
		v, err := parseVersion(p)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, Script{Version: v, Path: p})
	}
	sort.SliceStable(scripts, func(i, j int) bool {
		return scripts[i].Version < scripts[j].Version
	})
	return scripts, nil
}

// find returns the paths, relative to the root, of the files with the given
// extension.
func (l *Locker) find(ext string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ext {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("cannot scan migration scripts: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (l *Locker) digest(path string) (string, error) {
	b, err := os.ReadFile(filepath.Join(l.root, path))
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func parseVersion(path string) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(path), scriptExt)
	prefix, _, ok := strings.Cut(stem, "-")
	if !ok {
		return 0, xerrors.Errorf("%s: %w", path, ErrInvalidScriptName)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, xerrors.Errorf("%s: %w", path, ErrInvalidScriptName)
	}
	return v, nil
}

func lockPathOf(script string) string {
	return strings.TrimSuffix(script, scriptExt) + lockExt
}
