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

// Package inbound implements the server-side per-connection state
// machine (C4): it receives blobs and SD blobs from uploaders, writes
// them through lib/blobfile, commits completions to lib/index, and
// enqueues forwarding jobs when a connection closes.
package inbound

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/reflector/wire"
	"github.com/feitianyiren/prism/utils/log"
)

// IdleTimeout is the duration a connection may go without sending a
// message or payload bytes before it is closed.
const IdleTimeout = 30 * time.Second

// CompletionDeadline bounds the index lookups and enqueue calls that
// finalize makes once the connection's read loop has ended; the socket
// itself is closed after finalize returns.
const CompletionDeadline = 60 * time.Second

const readChunkSize = 32 * 1024

// Enqueuer is the job queue surface the inbound handler needs: one
// method per job kind, both expected to be non-blocking and durable.
type Enqueuer interface {
	EnqueueForwardBlob(hash core.Hash) error
	EnqueueForwardStream(sdHash core.Hash) error
}

// Handler drives one inbound connection through the states described
// in the component design: AwaitingHandshake, Idle, ReceivingBlob,
// Closed.
type Handler struct {
	conn     *wire.Conn
	idx      index.Index
	store    *blobfile.Store
	enqueuer Enqueuer
	clk      clock.Clock

	state State

	sdSeen         bool
	sdHash         core.Hash
	plainCompleted []core.Hash
	enqueuedStream bool
}

// NewHandler wraps nc as an inbound connection handler.
func NewHandler(nc net.Conn, idx index.Index, store *blobfile.Store, enqueuer Enqueuer, clk clock.Clock) *Handler {
	return &Handler{
		conn:     wire.NewConn(nc),
		idx:      idx,
		store:    store,
		enqueuer: enqueuer,
		clk:      clk,
		state:    AwaitingHandshake,
	}
}

// Handle runs the connection to completion: handshake, a sequence of
// requests, and finally the enqueue-on-close decision. It always
// closes the underlying connection before returning.
func (h *Handler) Handle(ctx context.Context) {
	defer h.conn.Close()
	defer h.finalize()

	if err := h.handshake(); err != nil {
		log.With("error", err).Debugf("inbound: handshake failed")
		h.state = Closed
		return
	}
	h.state = Idle

	for h.state != Closed {
		if err := h.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
			return
		}
		env, err := h.conn.ReadMessage()
		if err != nil {
			// Idle timeout, EOF, or a framing error: either way the
			// connection is done. The enqueue-on-close rule in
			// finalize fires regardless of which of these occurred.
			return
		}

		switch {
		case env.IsSDBlobRequest():
			if err := h.handleSDBlobRequest(ctx, env); err != nil {
				return
			}
		case env.IsBlobRequest():
			if err := h.handleBlobRequest(ctx, env); err != nil {
				return
			}
		default:
			// Unexpected message in Idle state: best-effort nothing to
			// ack, just drop the connection.
			return
		}
	}
}

func (h *Handler) handshake() error {
	if err := h.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
		return err
	}
	env, err := h.conn.ReadMessage()
	if err != nil {
		return err
	}
	if !env.IsHandshake() {
		return ErrUnexpectedMessage
	}
	version := *env.Version
	if version != 0 && version != 1 {
		return ErrUnsupportedVersion
	}
	return h.conn.WriteMessage(wire.Handshake(version))
}

func (h *Handler) handleSDBlobRequest(ctx context.Context, env wire.Envelope) error {
	hash, err := core.ParseHash(*env.SDBlobHash)
	if err != nil {
		return err
	}
	size := int64(0)
	if env.SDBlobSize != nil {
		size = *env.SDBlobSize
	}

	needed, sdKnown, err := h.idx.NeededBlobsForStream(ctx, hash)
	if err != nil {
		return err
	}

	h.sdSeen = true
	h.sdHash = hash

	if !sdKnown {
		if err := h.conn.WriteMessage(wire.SDBlobDecision(nil)); err != nil {
			return err
		}
		return h.receiveBlob(ctx, hash, size, true)
	}

	strs := make([]string, len(needed))
	for i, n := range needed {
		strs[i] = n.String()
	}
	return h.conn.WriteMessage(wire.SDBlobDecision(strs))
}

func (h *Handler) handleBlobRequest(ctx context.Context, env wire.Envelope) error {
	hash, err := core.ParseHash(*env.BlobHash)
	if err != nil {
		return err
	}
	size := int64(0)
	if env.BlobSize != nil {
		size = *env.BlobSize
	}

	exists, err := h.idx.BlobExists(ctx, hash)
	if err != nil {
		return err
	}
	forwarded, err := h.idx.BlobForwarded(ctx, hash)
	if err != nil {
		return err
	}
	if exists || forwarded {
		return h.conn.WriteMessage(wire.BlobDecision(false))
	}
	if err := h.conn.WriteMessage(wire.BlobDecision(true)); err != nil {
		return err
	}
	return h.receiveBlob(ctx, hash, size, false)
}

// receiveBlob streams exactly size bytes into the blob store, verifies
// them, and acks the result. A transport failure (connection drop,
// idle timeout) returns an error so the caller tears the connection
// down; an integrity failure (hash/length mismatch) is handled
// in-place with a negative ack and the connection stays open.
func (h *Handler) receiveBlob(ctx context.Context, hash core.Hash, size int64, isSD bool) error {
	h.state = ReceivingBlob
	defer func() { h.state = Idle }()

	w, err := h.store.OpenForWriting(hash, size)
	if errors.Is(err, blobfile.ErrAlreadyInProgress) {
		return h.ackFailure(isSD)
	}
	if err != nil {
		return err
	}

	var sdBuf bytes.Buffer
	var dst io.Writer = w
	if isSD {
		dst = io.MultiWriter(w, &sdBuf)
	}

	if err := h.copyExactly(dst, size); err != nil {
		w.Abort()
		return err
	}

	if err := w.Finalize(); err != nil {
		return h.ackFailure(isSD)
	}

	if isSD {
		sdBlob, err := core.ParseSDBlob(sdBuf.Bytes())
		if err != nil {
			h.store.Delete(hash)
			return h.ackFailure(isSD)
		}
		if err := h.idx.RegisterSDBlob(ctx, hash, sdBlob.Members); err != nil {
			return err
		}
	}
	if err := h.idx.RecordBlobCompleted(ctx, hash, size, h.clk.Now()); err != nil {
		return err
	}
	if !isSD && !h.sdSeen {
		h.plainCompleted = append(h.plainCompleted, hash)
	}

	return h.ackSuccess(isSD)
}

// copyExactly reads exactly n bytes off the connection into dst,
// resetting the idle deadline before every chunk so a slow-but-alive
// uploader is not penalized, while a truly stalled one still times
// out.
func (h *Handler) copyExactly(dst io.Writer, n int64) error {
	remaining := n
	buf := make([]byte, readChunkSize)
	for remaining > 0 {
		if err := h.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
			return err
		}
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		got, err := h.conn.ReadFull(buf[:chunk])
		if got > 0 {
			if _, werr := dst.Write(buf[:got]); werr != nil {
				return werr
			}
			remaining -= int64(got)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) ackSuccess(isSD bool) error {
	if isSD {
		return h.conn.WriteMessage(wire.SDBlobAck(true))
	}
	return h.conn.WriteMessage(wire.BlobAck(true))
}

func (h *Handler) ackFailure(isSD bool) error {
	if isSD {
		return h.conn.WriteMessage(wire.SDBlobAck(false))
	}
	return h.conn.WriteMessage(wire.BlobAck(false))
}

// finalize implements the enqueue-on-connection-close rule: exactly
// one ForwardStream job if this connection dealt with an SD blob and
// its stream is now ready to forward, otherwise one ForwardBlob job
// per ordinary blob completed outside of any stream context.
func (h *Handler) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), CompletionDeadline)
	defer cancel()

	if h.sdSeen {
		ready, err := streamReady(ctx, h.idx, h.sdHash)
		if err != nil {
			log.With("error", err, "sd_hash", h.sdHash.String()).Warnf("inbound: stream readiness check failed")
			return
		}
		if ready && !h.enqueuedStream {
			if err := h.enqueuer.EnqueueForwardStream(h.sdHash); err != nil {
				log.With("error", err).Warnf("inbound: enqueue forward stream failed")
				return
			}
			h.enqueuedStream = true
		}
		return
	}

	for _, bh := range h.plainCompleted {
		if err := h.enqueuer.EnqueueForwardBlob(bh); err != nil {
			log.With("error", err, "hash", bh.String()).Warnf("inbound: enqueue forward blob failed")
		}
	}
}

// streamReady reports whether sdHash's stream is locally present,
// unforwarded, and has every declared member present or forwarded.
func streamReady(ctx context.Context, idx index.Index, sdHash core.Hash) (bool, error) {
	exists, err := idx.BlobExists(ctx, sdHash)
	if err != nil || !exists {
		return false, err
	}
	forwarded, err := idx.BlobForwarded(ctx, sdHash)
	if err != nil || forwarded {
		return false, err
	}
	needed, sdKnown, err := idx.NeededBlobsForStream(ctx, sdHash)
	if err != nil || !sdKnown {
		return false, err
	}
	return len(needed) == 0, nil
}
