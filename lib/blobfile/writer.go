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
package blobfile

import (
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"os"

	"github.com/feitianyiren/prism/core"
)

// Writer receives the bytes of a single blob being uploaded, tracking
// a running digest so the content can be verified once complete.
type Writer struct {
	store          *Store
	hash           core.Hash
	expectedLength int64

	f        *os.File
	tempPath string
	digest   hash.Hash
	written  int64
	closed   bool
}

func newWriter(store *Store, h core.Hash, expectedLength int64, f *os.File, tempPath string) *Writer {
	return &Writer{
		store:          store,
		hash:           h,
		expectedLength: expectedLength,
		f:              f,
		tempPath:       tempPath,
		digest:         sha512.New384(),
	}
}

// Written returns the number of bytes absorbed so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Remaining returns the number of bytes still expected.
func (w *Writer) Remaining() int64 {
	return w.expectedLength - w.written
}

// Write appends p to the temp file and the running digest. Writing
// past the declared length fails with ErrOverrun and aborts the
// writer; callers should not call Write again after an error.
func (w *Writer) Write(p []byte) (int, error) {
	if int64(len(p)) > w.Remaining() {
		w.Abort()
		return 0, ErrOverrun
	}
	n, err := w.f.Write(p)
	if n > 0 {
		w.digest.Write(p[:n])
		w.written += int64(n)
	}
	if err != nil {
		w.Abort()
		return n, err
	}
	return n, nil
}

// Finalize must be called once Remaining() == 0. It verifies the
// written content against the declared hash and length, and atomically
// publishes the temp file to its canonical path on success. On any
// failure, the temp file is removed and an error describing the
// mismatch is returned.
func (w *Writer) Finalize() error {
	if w.closed {
		return nil
	}
	defer w.cleanup()

	if w.written != w.expectedLength {
		os.Remove(w.tempPath)
		return &LengthMismatchError{Declared: w.expectedLength, Written: w.written}
	}

	if err := w.f.Close(); err != nil {
		os.Remove(w.tempPath)
		return err
	}

	computed, err := core.ParseHash(hex.EncodeToString(w.digest.Sum(nil)))
	if err != nil {
		// Unreachable: sha512.New384 always produces a valid-length digest.
		os.Remove(w.tempPath)
		return err
	}
	if computed != w.hash {
		os.Remove(w.tempPath)
		return &HashMismatchError{Declared: w.hash, Computed: computed}
	}

	if err := os.Rename(w.tempPath, w.store.canonicalPath(w.hash)); err != nil {
		os.Remove(w.tempPath)
		return err
	}
	return nil
}

// Abort discards the writer's temp file, e.g. because the upstream
// connection was lost before expectedLength bytes arrived, or because
// a preceding Write overran the declared length.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	defer w.cleanup()
	w.f.Close()
	if err := os.Remove(w.tempPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Writer) cleanup() {
	if w.closed {
		return
	}
	w.closed = true
	w.store.release(w.hash)
}
