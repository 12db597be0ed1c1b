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
package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/index/fakeindex"
)

type fakeEnqueuer struct {
	mu      sync.Mutex
	blobs   []core.Hash
	streams []core.Hash
}

func (f *fakeEnqueuer) EnqueueForwardBlob(hash core.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs = append(f.blobs, hash)
	return nil
}

func (f *fakeEnqueuer) EnqueueForwardStream(sdHash core.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, sdHash)
	return nil
}

func writeCanonical(t *testing.T, store *blobfile.Store, payload []byte) core.Hash {
	h := core.ComputeHash(payload)
	w, err := store.OpenForWriting(h, int64(len(payload)))
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	return h
}

func TestReconcileEnqueuesUnforwardedLocalFile(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	store, err := blobfile.New(t.TempDir())
	require.NoError(t, err)
	enq := &fakeEnqueuer{}

	h := writeCanonical(t, store, []byte("leftover unforwarded"))
	require.NoError(t, idx.RecordBlobCompleted(ctx, h, int64(len("leftover unforwarded")), time.Now()))

	require.NoError(t, Reconcile(ctx, idx, store, enq))

	require.Equal(t, []core.Hash{h}, enq.blobs)
	require.True(t, store.Exists(h))
}

func TestReconcileDeletesStaleForwardedFile(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	store, err := blobfile.New(t.TempDir())
	require.NoError(t, err)
	enq := &fakeEnqueuer{}

	h := writeCanonical(t, store, []byte("already forwarded"))
	require.NoError(t, idx.RecordBlobCompleted(ctx, h, int64(len("already forwarded")), time.Now()))
	require.NoError(t, idx.AttachBlobToHost(ctx, h, "host1:5566"))

	require.NoError(t, Reconcile(ctx, idx, store, enq))

	require.Empty(t, enq.blobs)
	require.False(t, store.Exists(h))
}

func TestReconcileIgnoresNonHashFilenames(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	store, err := blobfile.New(t.TempDir())
	require.NoError(t, err)
	enq := &fakeEnqueuer{}

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "not-a-hash.tmp"), []byte("x"), 0644))

	require.NoError(t, Reconcile(ctx, idx, store, enq))
	require.Empty(t, enq.blobs)
}

func TestReconcileEnqueuesUnforwardedSDBlobs(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	store, err := blobfile.New(t.TempDir())
	require.NoError(t, err)
	enq := &fakeEnqueuer{}

	memberPayload := []byte("member")
	mh := core.ComputeHash(memberPayload)
	sdHash := core.ComputeHash([]byte("sd payload"))
	require.NoError(t, idx.RegisterSDBlob(ctx, sdHash, []core.Hash{mh}))

	require.NoError(t, Reconcile(ctx, idx, store, enq))

	require.Equal(t, []core.Hash{sdHash}, enq.streams)
}
