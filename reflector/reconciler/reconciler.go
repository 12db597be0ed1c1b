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

// Package reconciler implements the startup reconciler (C9): a
// one-shot scan of the blob directory that re-enqueues forwarding work
// left incomplete by a prior process's crash or restart.
//
// Grounded on lib/store/cleanup.go's directory-scan pattern, run once
// at startup instead of on a ticker, per §4.9's "on boot" contract.
package reconciler

import (
	"context"
	"os"
	"sort"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/utils/log"
)

// MaxFiles bounds how many directory entries a single reconciliation
// pass will examine, capping startup cost per §4.9.
const MaxFiles = 10000

// Enqueuer is the subset of lib/queue.Manager the reconciler needs.
type Enqueuer interface {
	EnqueueForwardBlob(core.Hash) error
	EnqueueForwardStream(core.Hash) error
}

// Reconcile scans store's directory and idx's unforwarded SD blobs,
// enqueuing ForwardBlob/ForwardStream jobs for anything left
// incomplete and deleting local files that are stale (already
// recorded as forwarded).
func Reconcile(ctx context.Context, idx index.Index, store *blobfile.Store, enqueuer Enqueuer) error {
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) > MaxFiles {
		log.With("total", len(names), "scanned", MaxFiles).
			Warnf("reconciler: blob directory exceeds scan bound, truncating")
		names = names[:MaxFiles]
	}

	for _, name := range names {
		hash, err := core.ParseHash(name)
		if err != nil {
			// Not a canonical blob filename (e.g. a leftover temp file);
			// ignored per §4.9.
			continue
		}
		if err := reconcileFile(ctx, idx, store, enqueuer, hash); err != nil {
			log.With("hash", hash.String(), "error", err).Warnf("reconciler: failed to reconcile file")
		}
	}

	sdBlobs, err := idx.UnforwardedSDBlobs(ctx)
	if err != nil {
		return err
	}
	for _, sdHash := range sdBlobs {
		if err := enqueuer.EnqueueForwardStream(sdHash); err != nil {
			log.With("sd_hash", sdHash.String(), "error", err).
				Warnf("reconciler: failed to enqueue unforwarded sd blob")
		}
	}

	return nil
}

func reconcileFile(ctx context.Context, idx index.Index, store *blobfile.Store, enqueuer Enqueuer, hash core.Hash) error {
	rec, ok, err := idx.GetRecord(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		// No record for a file on disk: nothing meaningful to do with
		// it here; the inbound handler that wrote it is responsible for
		// the record, and a missing record means the write never
		// completed.
		return nil
	}
	if rec.Forwarded() {
		// The record shows the blob already lives on a host; this local
		// file is stale, left behind by a crash between attach and
		// delete (see §4.7's commit ordering).
		return store.Delete(hash)
	}
	return enqueuer.EnqueueForwardBlob(hash)
}
