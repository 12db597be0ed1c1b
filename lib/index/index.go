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

// Package index defines the key-value record of known blobs, stream
// membership, and per-host placement that the inbound and outbound
// protocols and the job queue all consult and mutate. Implementations
// must be safe for concurrent use by many goroutines.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/feitianyiren/prism/core"
)

// ErrBackendUnavailable is returned when the backing store cannot be
// reached.
var ErrBackendUnavailable = errors.New("index: backend unavailable")

// ErrRecordNotFound is returned by operations that require an existing
// record for a hash that has none.
var ErrRecordNotFound = errors.New("index: no record for hash")

// Record is the per-blob state tracked by the index: its declared
// length, when it was first seen complete, and which host (if any) it
// has been forwarded to.
type Record struct {
	Hash      core.Hash
	Length    int64
	FirstSeen time.Time
	Host      string
}

// Forwarded reports whether the record has been placed on a host.
func (r Record) Forwarded() bool {
	return r.Host != ""
}

// Index is the shared key-value index described in the data model:
// which blobs are known locally, which have been forwarded, and to
// which host each forwarded blob was placed.
type Index interface {
	// BlobExists reports whether there is a record for hash.
	BlobExists(ctx context.Context, hash core.Hash) (bool, error)

	// BlobForwarded reports whether hash is a member of cluster_blobs.
	BlobForwarded(ctx context.Context, hash core.Hash) (bool, error)

	// GetRecord returns the record for hash, or ok=false if none exists.
	GetRecord(ctx context.Context, hash core.Hash) (rec Record, ok bool, err error)

	// RecordBlobCompleted sets the record for hash with an empty host.
	// Idempotent: replaying the same completion does not duplicate
	// state.
	RecordBlobCompleted(ctx context.Context, hash core.Hash, length int64, now time.Time) error

	// AttachBlobToHost atomically adds hash to cluster_blobs and
	// host_blobs(host), and sets the record's host field.
	AttachBlobToHost(ctx context.Context, hash core.Hash, host string) error

	// DetachBlobFromHost is the inverse of AttachBlobToHost.
	DetachBlobFromHost(ctx context.Context, hash core.Hash) error

	// RegisterSDBlob adds sdHash to sd_blobs and records its declared
	// member hashes.
	RegisterSDBlob(ctx context.Context, sdHash core.Hash, members []core.Hash) error

	// MembersOfStream returns the member hashes declared by sdHash's
	// SD blob JSON.
	MembersOfStream(ctx context.Context, sdHash core.Hash) ([]core.Hash, error)

	// NeededBlobsForStream returns the member hashes of sdHash which
	// are neither locally present nor forwarded. sdKnown is false if
	// sdHash has never been registered via RegisterSDBlob, in which
	// case needed is always empty and must be ignored by the caller.
	NeededBlobsForStream(ctx context.Context, sdHash core.Hash) (needed []core.Hash, sdKnown bool, err error)

	// HostCounts returns, for every host that currently stores at
	// least one blob, the number of blobs it stores. Hosts with zero
	// blobs are simply absent from the map.
	HostCounts(ctx context.Context) (map[string]int, error)

	// HostBlobs returns every hash currently placed on host, used by
	// the redistribute tool to find what a dead host was carrying
	// before resetting its placement.
	HostBlobs(ctx context.Context, host string) ([]core.Hash, error)

	// UnforwardedSDBlobs returns sd_blobs \ cluster_blobs.
	UnforwardedSDBlobs(ctx context.Context) ([]core.Hash, error)

	// DeleteRecord removes the record for hash. Valid only when the
	// blob has not been forwarded; callers are responsible for that
	// check (see §3's lifecycle).
	DeleteRecord(ctx context.Context, hash core.Hash) error

	// Repair implements the read-repair rule of §7: given a hash whose
	// cluster_blobs membership and record.Host disagree, it
	// re-establishes I1/I2 by trusting the record's host field.
	Repair(ctx context.Context, hash core.Hash) error
}
