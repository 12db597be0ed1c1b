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

// Package worker implements lib/queue.Executor (C7): given a
// ForwardBlob or ForwardStream job, it picks a downstream host,
// forwards the payload over the outbound wire protocol, and records
// the result in the index.
package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/hostselect"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/lib/queue"
	"github.com/feitianyiren/prism/reflector/outbound"
	"github.com/feitianyiren/prism/utils/log"
)

// tracer spans the outbound dial-and-forward that dominates a job's
// running time, the same way origin/blobclient/cluster_client.go spans
// its outbound cluster calls.
var tracer = otel.Tracer("prism-reflector-worker")

// dialTimeout bounds how long a worker waits to establish the
// downstream connection before giving up and leaving the job pending.
const dialTimeout = 15 * time.Second

// memberTimeout is the per-member budget of §4.6's (members+1)*30s
// stream deadline.
const memberTimeout = 30 * time.Second

// blobDeadline is the §4.6 deadline for a single forwarded blob.
const blobDeadline = 60 * time.Second

// Worker implements queue.Executor against a shared index, local blob
// store, and host selector.
type Worker struct {
	idx      index.Index
	store    *blobfile.Store
	selector *hostselect.Selector
}

// New creates a Worker.
func New(idx index.Index, store *blobfile.Store, selector *hostselect.Selector) *Worker {
	return &Worker{idx: idx, store: store, selector: selector}
}

// Exec implements queue.Executor.
func (w *Worker) Exec(ctx context.Context, job queue.Job) (err error) {
	ctx, span := tracer.Start(ctx, "worker.exec",
		trace.WithAttributes(
			attribute.String("job.kind", job.Kind.String()),
			attribute.String("job.hash", job.Hash.String()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	switch job.Kind {
	case queue.ForwardBlobKind:
		err = w.execBlob(ctx, job.Hash)
	case queue.ForwardStreamKind:
		err = w.execStream(ctx, job.Hash)
	default:
		err = fmt.Errorf("worker: unknown job kind %v", job.Kind)
	}
	return err
}

// execBlob forwards a single blob. A preflight miss (the blob was
// already forwarded, or its record or local file has since vanished)
// is not an error: the job is simply superseded.
func (w *Worker) execBlob(ctx context.Context, hash core.Hash) error {
	rec, ok, err := w.idx.GetRecord(ctx, hash)
	if err != nil {
		return err
	}
	if !ok || rec.Forwarded() || !w.store.Exists(hash) {
		log.With("hash", hash.String()).Debugf("worker: forward_blob job superseded, skipping")
		return nil
	}

	sel, err := w.selector.Select(ctx)
	if err != nil {
		return err
	}

	nc, err := net.DialTimeout("tcp", sel.Host.String(), dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %s", sel.Host, err)
	}
	defer nc.Close()
	nc.SetDeadline(time.Now().Add(blobDeadline))

	client := outbound.NewClient(nc, w.store)
	defer client.Close()

	placed, err := outbound.RunBlob(client, hash, rec.Length)
	if err != nil {
		return fmt.Errorf("forward blob to %s: %s", sel.Host, err)
	}
	if !placed {
		return fmt.Errorf("worker: %s declined %s after accepting upload", sel.Host, hash)
	}

	return w.commit(ctx, hash, sel.Host.String())
}

// execStream forwards an SD blob and every member it declares. A
// preflight miss on the SD blob itself, or on any declared member, is
// not an error: the job is superseded (a later reconciler or
// connection-close enqueue will retry once the gap is filled).
func (w *Worker) execStream(ctx context.Context, sdHash core.Hash) error {
	sdRec, ok, err := w.idx.GetRecord(ctx, sdHash)
	if err != nil {
		return err
	}
	if !ok || sdRec.Forwarded() || !w.store.Exists(sdHash) {
		log.With("sd_hash", sdHash.String()).Debugf("worker: forward_stream job superseded, skipping")
		return nil
	}

	members, err := w.idx.MembersOfStream(ctx, sdHash)
	if err != nil {
		return err
	}

	memberList := make([]outbound.Member, 0, len(members))
	for _, h := range members {
		mrec, ok, err := w.idx.GetRecord(ctx, h)
		if err != nil {
			return err
		}
		if !ok || !w.store.Exists(h) {
			log.With("sd_hash", sdHash.String(), "member", h.String()).
				Debugf("worker: forward_stream job superseded, missing member")
			return nil
		}
		memberList = append(memberList, outbound.Member{Hash: h, Size: mrec.Length})
	}

	sel, err := w.selector.Select(ctx)
	if err != nil {
		return err
	}

	nc, err := net.DialTimeout("tcp", sel.Host.String(), dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %s", sel.Host, err)
	}
	defer nc.Close()
	nc.SetDeadline(time.Now().Add(time.Duration(len(memberList)+1) * memberTimeout))

	client := outbound.NewClient(nc, w.store)
	defer client.Close()

	result, err := outbound.RunStream(client, sdHash, sdRec.Length, memberList)
	if err != nil && len(result.Acked) == 0 {
		return fmt.Errorf("forward stream to %s: %s", sel.Host, err)
	}

	if placed := result.Acked[sdHash]; placed {
		if cerr := w.commit(ctx, sdHash, sel.Host.String()); cerr != nil {
			return cerr
		}
	}
	for _, h := range members {
		if placed := result.Acked[h]; placed {
			if cerr := w.commit(ctx, h, sel.Host.String()); cerr != nil {
				return cerr
			}
		}
	}

	// A mid-run transport error after partial progress still leaves the
	// job done for whatever was acked; report the failure so the rest
	// gets picked up by a future job.
	if err != nil {
		return fmt.Errorf("forward stream to %s: %s", sel.Host, err)
	}
	return nil
}

// commit applies §4.7's ordering: the index is updated before the
// local file is deleted, so a crash between the two leaves the record
// correct but a stale local file, which the startup reconciler (§4.9)
// detects by the record's non-empty host and removes.
func (w *Worker) commit(ctx context.Context, hash core.Hash, host string) error {
	if err := w.idx.AttachBlobToHost(ctx, hash, host); err != nil {
		return fmt.Errorf("attach %s to %s: %s", hash, host, err)
	}
	if err := w.store.Delete(hash); err != nil {
		log.With("hash", hash.String(), "host", host, "error", err).
			Warnf("worker: failed to delete local file after forwarding")
	}
	return nil
}
