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

// Package fakeindex is an in-memory index.Index double, selected when
// configuration's "redis server" is set to the sentinel "fake". It is
// also used directly by unit tests elsewhere in this repository that
// need an index without a real Redis instance.
package fakeindex

import (
	"context"
	"sync"
	"time"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/index"
)

// FakeIndex is a mutex-guarded, in-memory index.Index.
type FakeIndex struct {
	mu sync.Mutex

	records   map[core.Hash]index.Record
	sdBlobs   map[core.Hash]struct{}
	sdMembers map[core.Hash][]core.Hash
	hostBlobs map[string]map[core.Hash]struct{}
}

// New creates an empty FakeIndex.
func New() *FakeIndex {
	return &FakeIndex{
		records:   make(map[core.Hash]index.Record),
		sdBlobs:   make(map[core.Hash]struct{}),
		sdMembers: make(map[core.Hash][]core.Hash),
		hostBlobs: make(map[string]map[core.Hash]struct{}),
	}
}

var _ index.Index = (*FakeIndex)(nil)

// BlobExists implements index.Index.
func (f *FakeIndex) BlobExists(ctx context.Context, hash core.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[hash]
	return ok, nil
}

// BlobForwarded implements index.Index.
func (f *FakeIndex) BlobForwarded(ctx context.Context, hash core.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[hash]
	return ok && rec.Forwarded(), nil
}

// GetRecord implements index.Index.
func (f *FakeIndex) GetRecord(ctx context.Context, hash core.Hash) (index.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[hash]
	return rec, ok, nil
}

// RecordBlobCompleted implements index.Index.
func (f *FakeIndex) RecordBlobCompleted(ctx context.Context, hash core.Hash, length int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.records[hash]; ok {
		// Idempotent: keep the original FirstSeen and host.
		existing.Length = length
		f.records[hash] = existing
		return nil
	}
	f.records[hash] = index.Record{
		Hash:      hash,
		Length:    length,
		FirstSeen: now,
	}
	return nil
}

// AttachBlobToHost implements index.Index.
func (f *FakeIndex) AttachBlobToHost(ctx context.Context, hash core.Hash, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[hash]
	if !ok {
		rec = index.Record{Hash: hash}
	}
	rec.Host = host
	f.records[hash] = rec

	if f.hostBlobs[host] == nil {
		f.hostBlobs[host] = make(map[core.Hash]struct{})
	}
	f.hostBlobs[host][hash] = struct{}{}
	return nil
}

// DetachBlobFromHost implements index.Index.
func (f *FakeIndex) DetachBlobFromHost(ctx context.Context, hash core.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[hash]
	if !ok {
		return nil
	}
	if rec.Host != "" {
		if set, ok := f.hostBlobs[rec.Host]; ok {
			delete(set, hash)
		}
	}
	rec.Host = ""
	f.records[hash] = rec
	return nil
}

// RegisterSDBlob implements index.Index.
func (f *FakeIndex) RegisterSDBlob(ctx context.Context, sdHash core.Hash, members []core.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sdBlobs[sdHash] = struct{}{}
	cp := make([]core.Hash, len(members))
	copy(cp, members)
	f.sdMembers[sdHash] = cp
	return nil
}

// MembersOfStream implements index.Index.
func (f *FakeIndex) MembersOfStream(ctx context.Context, sdHash core.Hash) ([]core.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Hash(nil), f.sdMembers[sdHash]...), nil
}

// NeededBlobsForStream implements index.Index.
func (f *FakeIndex) NeededBlobsForStream(ctx context.Context, sdHash core.Hash) ([]core.Hash, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sdBlobs[sdHash]; !ok {
		return nil, false, nil
	}
	var needed []core.Hash
	for _, h := range f.sdMembers[sdHash] {
		if _, present := f.records[h]; !present {
			needed = append(needed, h)
		}
	}
	return needed, true, nil
}

// HostCounts implements index.Index.
func (f *FakeIndex) HostCounts(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int, len(f.hostBlobs))
	for host, set := range f.hostBlobs {
		if len(set) > 0 {
			counts[host] = len(set)
		}
	}
	return counts, nil
}

// HostBlobs implements index.Index.
func (f *FakeIndex) HostBlobs(ctx context.Context, host string) ([]core.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.hostBlobs[host]
	out := make([]core.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out, nil
}

// UnforwardedSDBlobs implements index.Index.
func (f *FakeIndex) UnforwardedSDBlobs(ctx context.Context) ([]core.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Hash
	for h := range f.sdBlobs {
		rec, ok := f.records[h]
		if !ok || !rec.Forwarded() {
			out = append(out, h)
		}
	}
	return out, nil
}

// DeleteRecord implements index.Index.
func (f *FakeIndex) DeleteRecord(ctx context.Context, hash core.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, hash)
	return nil
}

// Repair implements index.Index.
func (f *FakeIndex) Repair(ctx context.Context, hash core.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[hash]
	if !ok {
		return nil
	}
	for host, set := range f.hostBlobs {
		if _, present := set[hash]; present && host != rec.Host {
			delete(set, hash)
		}
	}
	if rec.Host != "" {
		if f.hostBlobs[rec.Host] == nil {
			f.hostBlobs[rec.Host] = make(map[core.Hash]struct{})
		}
		f.hostBlobs[rec.Host][hash] = struct{}{}
	}
	return nil
}
