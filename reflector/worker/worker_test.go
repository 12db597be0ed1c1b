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
package worker

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/hostselect"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/lib/index/fakeindex"
	"github.com/feitianyiren/prism/lib/queue"
	"github.com/feitianyiren/prism/reflector/inbound"
)

// nopEnqueuer discards the downstream host's own forwarding decisions;
// these tests only exercise one hop.
type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueForwardBlob(core.Hash) error   { return nil }
func (nopEnqueuer) EnqueueForwardStream(core.Hash) error { return nil }

// downstreamHost runs a minimal listener that serves inbound.Handler
// for every accepted connection, acting as the one host a test's
// Selector picks.
type downstreamHost struct {
	addr  string
	idx   index.Index
	store *blobfile.Store
}

func startDownstreamHost(t *testing.T) *downstreamHost {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	store, err := blobfile.New(t.TempDir())
	require.NoError(t, err)
	idx := fakeindex.New()

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			h := inbound.NewHandler(conn, idx, store, nopEnqueuer{}, clock.New())
			go h.Handle(context.Background())
		}
	}()
	t.Cleanup(func() { lis.Close() })

	return &downstreamHost{addr: lis.Addr().String(), idx: idx, store: store}
}

func writeBlob(t *testing.T, store *blobfile.Store, payload []byte) core.Hash {
	h := core.ComputeHash(payload)
	w, err := store.OpenForWriting(h, int64(len(payload)))
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	return h
}

func TestExecBlobForwardsAndCommits(t *testing.T) {
	ctx := context.Background()
	dst := startDownstreamHost(t)

	srcIdx := fakeindex.New()
	srcStore, err := blobfile.New(t.TempDir())
	require.NoError(t, err)

	payload := []byte("worker test payload")
	h := writeBlob(t, srcStore, payload)
	require.NoError(t, srcIdx.RecordBlobCompleted(ctx, h, int64(len(payload)), time.Now()))

	host, err := hostselect.ParseHost(dst.addr)
	require.NoError(t, err)
	sel := hostselect.New([]hostselect.Host{host}, 10, srcIdx)

	w := New(srcIdx, srcStore, sel)
	require.NoError(t, w.Exec(ctx, queue.ForwardBlob(h)))

	rec, ok, err := srcIdx.GetRecord(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dst.addr, rec.Host)
	require.False(t, srcStore.Exists(h))

	forwarded, err := srcIdx.BlobForwarded(ctx, h)
	require.NoError(t, err)
	require.True(t, forwarded)

	require.True(t, dst.store.Exists(h))
	dstExists, err := dst.idx.BlobExists(ctx, h)
	require.NoError(t, err)
	require.True(t, dstExists)
}

func TestExecBlobSupersededWhenAlreadyForwarded(t *testing.T) {
	ctx := context.Background()
	srcIdx := fakeindex.New()
	srcStore, err := blobfile.New(t.TempDir())
	require.NoError(t, err)

	payload := []byte("already gone")
	h := writeBlob(t, srcStore, payload)
	require.NoError(t, srcIdx.RecordBlobCompleted(ctx, h, int64(len(payload)), time.Now()))
	require.NoError(t, srcIdx.AttachBlobToHost(ctx, h, "somehost:5566"))
	require.NoError(t, srcStore.Delete(h))

	sel := hostselect.New(nil, 10, srcIdx)
	w := New(srcIdx, srcStore, sel)

	require.NoError(t, w.Exec(ctx, queue.ForwardBlob(h)))
}

func TestExecStreamForwardsSDBlobAndMembers(t *testing.T) {
	ctx := context.Background()
	dst := startDownstreamHost(t)

	srcIdx := fakeindex.New()
	srcStore, err := blobfile.New(t.TempDir())
	require.NoError(t, err)

	memberPayload := []byte("stream member bytes")
	mh := writeBlob(t, srcStore, memberPayload)
	require.NoError(t, srcIdx.RecordBlobCompleted(ctx, mh, int64(len(memberPayload)), time.Now()))

	sdPayload := []byte(fmt.Sprintf(`{"blobs":[{"blob_hash":%q,"length":%d}]}`, mh.String(), len(memberPayload)))
	sdh := writeBlob(t, srcStore, sdPayload)
	require.NoError(t, srcIdx.RecordBlobCompleted(ctx, sdh, int64(len(sdPayload)), time.Now()))
	require.NoError(t, srcIdx.RegisterSDBlob(ctx, sdh, []core.Hash{mh}))

	host, err := hostselect.ParseHost(dst.addr)
	require.NoError(t, err)
	sel := hostselect.New([]hostselect.Host{host}, 10, srcIdx)

	w := New(srcIdx, srcStore, sel)
	require.NoError(t, w.Exec(ctx, queue.ForwardStream(sdh)))

	sdRec, ok, err := srcIdx.GetRecord(ctx, sdh)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dst.addr, sdRec.Host)
	require.False(t, srcStore.Exists(sdh))

	mRec, ok, err := srcIdx.GetRecord(ctx, mh)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dst.addr, mRec.Host)
	require.False(t, srcStore.Exists(mh))

	require.True(t, dst.store.Exists(sdh))
	require.True(t, dst.store.Exists(mh))
}
