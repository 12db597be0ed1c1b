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
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s
}

func writeFull(t *testing.T, s *Store, payload []byte) core.Hash {
	h := core.ComputeHash(payload)
	w, err := s.OpenForWriting(h, int64(len(payload)))
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	return h
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("#z{5\xc1\x11U\xb8\xeb'%>\x9b\xa9@\x02\xf4\x8c\xba\x01\xc0\xce\x11\xc2\xb4\xd8\xb5MOo\xcfE")

	h := writeFull(t, s, payload)
	require.True(t, s.Exists(h))

	r, err := s.OpenForReading(h)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestHashMismatchLeavesNoCanonicalFile(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("some bytes")
	wrongHash := core.ComputeHash([]byte("other bytes"))

	w, err := s.OpenForWriting(wrongHash, int64(len(payload)))
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)

	err = w.Finalize()
	require.Error(t, err)
	var mismatch *HashMismatchError
	require.ErrorAs(t, err, &mismatch)

	require.False(t, s.Exists(wrongHash))
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOverrunRejected(t *testing.T) {
	s := newTestStore(t)
	h := core.ComputeHash([]byte("ab"))

	w, err := s.OpenForWriting(h, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("ab"))
	require.ErrorIs(t, err, ErrOverrun)

	require.False(t, s.Exists(h))
}

func TestAbortOnTruncation(t *testing.T) {
	s := newTestStore(t)
	h := core.ComputeHash([]byte("full content"))

	w, err := s.OpenForWriting(h, 12)
	require.NoError(t, err)
	_, err = w.Write([]byte("full"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	require.False(t, s.Exists(h))
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAlreadyInProgress(t *testing.T) {
	s := newTestStore(t)
	h := core.ComputeHash([]byte("data"))

	w1, err := s.OpenForWriting(h, 4)
	require.NoError(t, err)

	_, err = s.OpenForWriting(h, 4)
	require.ErrorIs(t, err, ErrAlreadyInProgress)

	_, err = w1.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w1.Finalize())

	// Once released, the hash can be written again (e.g. re-upload after delete).
	require.NoError(t, s.Delete(h))
	w2, err := s.OpenForWriting(h, 4)
	require.NoError(t, err)
	require.NoError(t, w2.Abort())
}

func TestOpenForReadingNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.OpenForReading(core.ComputeHash([]byte("nope")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	h := writeFull(t, s, []byte("x"))
	require.NoError(t, s.Delete(h))
	require.NoError(t, s.Delete(h))
}

func TestCanonicalFileNamedByHash(t *testing.T) {
	s := newTestStore(t)
	h := writeFull(t, s, []byte("named"))
	_, err := os.Stat(filepath.Join(s.Dir(), h.String()))
	require.NoError(t, err)
}
