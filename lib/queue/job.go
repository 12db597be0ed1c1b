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

// Package queue is the durable "forward this blob/stream" work queue
// (C6): jobs survive a process restart, are pulled by a worker pool,
// and carry no deduplication guarantee of their own — that is layered
// on top by the inbound connection's enqueue guard and the worker's
// preflight check.
package queue

import (
	"time"

	"github.com/feitianyiren/prism/core"
)

// Kind distinguishes the two job shapes the queue carries.
type Kind int

const (
	// ForwardBlobKind forwards a single blob, identified by its own
	// hash.
	ForwardBlobKind Kind = iota

	// ForwardStreamKind forwards an SD blob and its declared members,
	// identified by the SD blob's hash.
	ForwardStreamKind
)

func (k Kind) String() string {
	switch k {
	case ForwardBlobKind:
		return "forward_blob"
	case ForwardStreamKind:
		return "forward_stream"
	default:
		return "unknown"
	}
}

// Job is one unit of forwarding work.
type Job struct {
	Kind Kind
	Hash core.Hash

	// Deadline is when the job's current attempt must have completed
	// (success or failure reported back to the store) by. The zero
	// value means the job has never been dispatched to a worker. Set
	// fresh on every dispatch and re-dispatch so a worker that wedges
	// past it is eligible for redelivery per §4.6.
	Deadline time.Time
}

// ForwardBlob builds a ForwardBlobKind job.
func ForwardBlob(hash core.Hash) Job {
	return Job{Kind: ForwardBlobKind, Hash: hash}
}

// ForwardStream builds a ForwardStreamKind job.
func ForwardStream(sdHash core.Hash) Job {
	return Job{Kind: ForwardStreamKind, Hash: sdHash}
}

// key uniquely identifies a job for persistence and channel tracking.
func (j Job) key() string {
	return j.Kind.String() + ":" + j.Hash.String()
}
