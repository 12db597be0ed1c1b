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
package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/index/fakeindex"
	"github.com/feitianyiren/prism/lib/queue"
)

func TestRedistributeResetsAndReenqueuesHostBlobs(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	store := queue.NewMemStore()

	sdHash := core.ComputeHash([]byte("sd"))
	member := core.ComputeHash([]byte("member"))
	standalone := core.ComputeHash([]byte("standalone"))

	require.NoError(t, idx.RecordBlobCompleted(ctx, sdHash, 10, time.Now()))
	require.NoError(t, idx.RecordBlobCompleted(ctx, member, 20, time.Now()))
	require.NoError(t, idx.RecordBlobCompleted(ctx, standalone, 30, time.Now()))
	require.NoError(t, idx.RegisterSDBlob(ctx, sdHash, []core.Hash{member}))

	require.NoError(t, idx.AttachBlobToHost(ctx, sdHash, "dead-host"))
	require.NoError(t, idx.AttachBlobToHost(ctx, member, "dead-host"))
	require.NoError(t, idx.AttachBlobToHost(ctx, standalone, "dead-host"))

	require.NoError(t, redistribute(ctx, idx, store, "dead-host"))

	for _, h := range []core.Hash{sdHash, member, standalone} {
		rec, ok, err := idx.GetRecord(ctx, h)
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, rec.Forwarded(), "hash %s should be detached from dead-host", h)
	}

	pending, err := store.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	var sawStream, sawBlob bool
	for _, job := range pending {
		switch {
		case job.Kind == queue.ForwardStreamKind && job.Hash == sdHash:
			sawStream = true
		case job.Kind == queue.ForwardBlobKind && job.Hash == standalone:
			sawBlob = true
		}
	}
	require.True(t, sawStream, "expected a forward_stream job for the sd hash")
	require.True(t, sawBlob, "expected a forward_blob job for the standalone hash")
}
