// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blobfile manages the on-disk, hash-verified, append-once
// blob directory: a flat directory whose filenames are blob hashes.
// Writes land in a per-hash temp file and are only published via
// atomic rename once their content has been verified against the
// declared hash and length.
package blobfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/feitianyiren/prism/core"
)

const tempPrefix = ".tmp-"

// DefaultDirPermission is applied when creating the blob directory and
// any missing parents.
const DefaultDirPermission = 0755

// Store manages all blobs on local disk under a single flat directory.
// It guarantees that only one writer at a time may be publishing a
// given hash (§5's "AlreadyInProgress" collision policy).
type Store struct {
	dir string

	mu         sync.Mutex
	inProgress map[core.Hash]struct{}
}

// New creates a Store rooted at dir, creating the directory if it does
// not already exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, DefaultDirPermission); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Store{
		dir:        dir,
		inProgress: make(map[core.Hash]struct{}),
	}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) canonicalPath(h core.Hash) string {
	return filepath.Join(s.dir, h.String())
}

func (s *Store) tempPath(h core.Hash) string {
	return filepath.Join(s.dir, tempPrefix+h.String())
}

// Exists reports whether a validated, committed file exists for h.
func (s *Store) Exists(h core.Hash) bool {
	_, err := os.Stat(s.canonicalPath(h))
	return err == nil
}

// OpenForWriting begins receiving a blob of the declared length for
// hash h. Only one writer may be open for a given hash at a time;
// concurrent callers receive ErrAlreadyInProgress.
func (s *Store) OpenForWriting(h core.Hash, expectedLength int64) (*Writer, error) {
	s.mu.Lock()
	if _, ok := s.inProgress[h]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}
	s.inProgress[h] = struct{}{}
	s.mu.Unlock()

	tmp := s.tempPath(h)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		s.release(h)
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return newWriter(s, h, expectedLength, f, tmp), nil
}

// OpenForReading returns a streaming reader over the canonical file
// for h. Returns ErrNotFound if the file is missing or was never
// validated.
func (s *Store) OpenForReading(h core.Hash) (*Reader, error) {
	f, err := os.Open(s.canonicalPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return &Reader{f: f}, nil
}

// Delete removes the canonical file for h. Deleting a blob that is
// not present is not an error.
func (s *Store) Delete(h core.Hash) error {
	if err := os.Remove(s.canonicalPath(h)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob file: %w", err)
	}
	return nil
}

func (s *Store) release(h core.Hash) {
	s.mu.Lock()
	delete(s.inProgress, h)
	s.mu.Unlock()
}
