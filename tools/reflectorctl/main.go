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

// Command reflectorctl is a small inspection and operations tool for a
// running reflector's index: look up a hash's record, show how many
// blobs a host currently stores, or redistribute a dead host's blobs across
// the rest of the cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/garyburd/redigo/redis"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/lib/index/redisindex"
	"github.com/feitianyiren/prism/lib/queue"
	"github.com/feitianyiren/prism/utils/log"
)

func main() {
	var redisAddr string
	var hashStr string
	var host string
	var redistributeHost string

	flag.StringVar(&redisAddr, "redis", "localhost:6379", "redis address backing the index")
	flag.StringVar(&hashStr, "hash", "", "look up the record for this hash")
	flag.StringVar(&host, "host", "", "print this host's blob count (with no flags, every host's count is printed)")
	flag.StringVar(&redistributeHost, "redistribute", "", "reset a dead host's blobs to unplaced and re-enqueue them for forwarding elsewhere")
	flag.Parse()

	idx := redisindex.New(redisindex.Config{Addr: redisAddr})
	ctx := context.Background()

	switch {
	case redistributeHost != "":
		pool := &redis.Pool{
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", redisAddr)
			},
			MaxIdle:     8,
			IdleTimeout: 5 * time.Minute,
		}
		store := queue.NewRedisStore(pool)
		if err := redistribute(ctx, idx, store, redistributeHost); err != nil {
			log.Fatalf("redistribute %s: %s", redistributeHost, err)
		}

	case hashStr != "":
		hash, err := core.ParseHash(hashStr)
		if err != nil {
			log.Fatalf("invalid hash: %s", err)
		}
		rec, ok, err := idx.GetRecord(ctx, hash)
		if err != nil {
			log.Fatalf("get record: %s", err)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "no record for %s\n", hash)
			os.Exit(1)
		}
		fmt.Printf("hash=%s length=%d first_seen=%s host=%s forwarded=%t\n",
			rec.Hash, rec.Length, rec.FirstSeen, rec.Host, rec.Forwarded())

	case host != "":
		counts, err := idx.HostCounts(ctx)
		if err != nil {
			log.Fatalf("host counts: %s", err)
		}
		n, ok := counts[host]
		if !ok {
			fmt.Fprintf(os.Stderr, "no blobs recorded for host %s\n", host)
			os.Exit(1)
		}
		fmt.Printf("%s: %d blobs\n", host, n)

	default:
		counts, err := idx.HostCounts(ctx)
		if err != nil {
			log.Fatalf("host counts: %s", err)
		}
		for h, n := range counts {
			fmt.Printf("%s: %d blobs\n", h, n)
		}
	}
}

// redistribute resets every blob host's index entry placed on host and
// re-enqueues it for forwarding to a different host in the cluster.
// Grounded on the teacher's operational redistribute_blobs.py: run
// after a dead host's local files have been rsynced back into this
// process's blob directory, so the worker pool can re-forward them
// from disk once the queue picks the jobs back up.
//
// An SD blob found on host is reset along with every member it
// declares (resetting a member that was never actually on host is a
// harmless no-op) and re-enqueued as a single ForwardStream job, the
// same unit redistribute_blobs.py's migrate_sd_hash re-submits. A
// blob that is neither an SD blob nor a member declared by an SD blob
// found on host is reset and re-enqueued on its own as a ForwardBlob
// job; membership in a stream whose SD blob is on another host is not
// checked.
func redistribute(ctx context.Context, idx index.Index, store queue.Store, host string) error {
	hashes, err := idx.HostBlobs(ctx, host)
	if err != nil {
		return fmt.Errorf("list blobs on %s: %s", host, err)
	}
	fmt.Printf("%s: %d blobs to redistribute\n", host, len(hashes))

	covered := make(map[core.Hash]bool)
	for _, h := range hashes {
		members, err := idx.MembersOfStream(ctx, h)
		if err != nil {
			return fmt.Errorf("members of %s: %s", h, err)
		}
		for _, m := range members {
			covered[m] = true
		}
	}

	var streams, blobs int
	for _, h := range hashes {
		_, sdKnown, err := idx.NeededBlobsForStream(ctx, h)
		if err != nil {
			return fmt.Errorf("check stream membership for %s: %s", h, err)
		}
		if !sdKnown && covered[h] {
			// Reset and re-enqueued with its SD blob's ForwardStream job.
			continue
		}
		if !sdKnown {
			if err := idx.DetachBlobFromHost(ctx, h); err != nil {
				return fmt.Errorf("detach %s: %s", h, err)
			}
			if err := store.AddPending(queue.ForwardBlob(h)); err != nil {
				return fmt.Errorf("enqueue forward_blob %s: %s", h, err)
			}
			blobs++
			continue
		}

		if err := idx.DetachBlobFromHost(ctx, h); err != nil {
			return fmt.Errorf("detach sd blob %s: %s", h, err)
		}
		members, err := idx.MembersOfStream(ctx, h)
		if err != nil {
			return fmt.Errorf("members of %s: %s", h, err)
		}
		for _, m := range members {
			if err := idx.DetachBlobFromHost(ctx, m); err != nil {
				return fmt.Errorf("detach member %s of %s: %s", m, h, err)
			}
		}
		if err := store.AddPending(queue.ForwardStream(h)); err != nil {
			return fmt.Errorf("enqueue forward_stream %s: %s", h, err)
		}
		streams++
	}

	fmt.Printf("%s: re-enqueued %d streams, %d standalone blobs\n", host, streams, blobs)
	return nil
}
