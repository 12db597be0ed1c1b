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
package redisindex

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/garyburd/redigo/redis"
	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
)

func newTestIndex(t *testing.T) *RedisIndex {
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	pool := &redis.Pool{
		MaxIdle: 3,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", m.Addr())
		},
	}
	t.Cleanup(func() { pool.Close() })
	return NewWithPool(pool)
}

func hash(s string) core.Hash {
	return core.ComputeHash([]byte(s))
}

func TestRecordBlobCompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	h := hash("a")
	now := time.Now()

	require.NoError(t, idx.RecordBlobCompleted(ctx, h, 5, now))
	require.NoError(t, idx.RecordBlobCompleted(ctx, h, 5, now.Add(time.Hour)))

	rec, ok, err := idx.GetRecord(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, now, rec.FirstSeen, time.Second)
	require.Equal(t, int64(5), rec.Length)
}

func TestAttachAndDetachHost(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	h := hash("b")
	require.NoError(t, idx.RecordBlobCompleted(ctx, h, 1, time.Now()))
	require.NoError(t, idx.AttachBlobToHost(ctx, h, "host-1"))

	forwarded, err := idx.BlobForwarded(ctx, h)
	require.NoError(t, err)
	require.True(t, forwarded)

	counts, err := idx.HostCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"host-1": 1}, counts)

	require.NoError(t, idx.DetachBlobFromHost(ctx, h))
	forwarded, err = idx.BlobForwarded(ctx, h)
	require.NoError(t, err)
	require.False(t, forwarded)
}

func TestNeededBlobsForStream(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	sd := hash("sd")
	m1, m2 := hash("m1"), hash("m2")

	needed, known, err := idx.NeededBlobsForStream(ctx, sd)
	require.NoError(t, err)
	require.False(t, known)
	require.Empty(t, needed)

	require.NoError(t, idx.RegisterSDBlob(ctx, sd, []core.Hash{m1, m2}))
	require.NoError(t, idx.RecordBlobCompleted(ctx, m1, 1, time.Now()))

	needed, known, err = idx.NeededBlobsForStream(ctx, sd)
	require.NoError(t, err)
	require.True(t, known)
	require.Equal(t, []core.Hash{m2}, needed)

	members, err := idx.MembersOfStream(ctx, sd)
	require.NoError(t, err)
	require.Equal(t, []core.Hash{m1, m2}, members)
}

func TestUnforwardedSDBlobs(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	sd1, sd2 := hash("sd1"), hash("sd2")
	require.NoError(t, idx.RegisterSDBlob(ctx, sd1, nil))
	require.NoError(t, idx.RegisterSDBlob(ctx, sd2, nil))
	require.NoError(t, idx.RecordBlobCompleted(ctx, sd2, 1, time.Now()))
	require.NoError(t, idx.AttachBlobToHost(ctx, sd2, "host-1"))

	unforwarded, err := idx.UnforwardedSDBlobs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []core.Hash{sd1}, unforwarded)
}

func TestRepairReestablishesHostSet(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	h := hash("c")
	require.NoError(t, idx.RecordBlobCompleted(ctx, h, 1, time.Now()))
	require.NoError(t, idx.AttachBlobToHost(ctx, h, "host-1"))

	conn := idx.pool.Get()
	_, err := conn.Do("SADD", hostBlobsKey("host-2"), h.String())
	require.NoError(t, err)
	conn.Close()

	require.NoError(t, idx.Repair(ctx, h))

	counts, err := idx.HostCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"host-1": 1}, counts)
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	h := hash("d")
	require.NoError(t, idx.RecordBlobCompleted(ctx, h, 1, time.Now()))
	require.NoError(t, idx.DeleteRecord(ctx, h))

	exists, err := idx.BlobExists(ctx, h)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestBlobExistsFalseForUnknownHash(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	exists, err := idx.BlobExists(ctx, hash("nope"))
	require.NoError(t, err)
	require.False(t, exists)
}
