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

// Package outbound implements the client-side per-connection state
// machine (C5): it forwards a single blob, or a whole stream, to one
// downstream host, and reports which member hashes the host
// acknowledged.
package outbound

import (
	"io"
	"net"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/reflector/wire"
)

// ProtocolVersion is the handshake version this client speaks.
const ProtocolVersion = 1

// Client drives the outbound half of the wire protocol against one
// net.Conn. Requests and their responses are strictly sequential: no
// pipelining, matching the ordering guarantee of §5.
type Client struct {
	conn  *wire.Conn
	store *blobfile.Store
}

// NewClient wraps nc for sending blobs read from store.
func NewClient(nc net.Conn, store *blobfile.Store) *Client {
	return &Client{conn: wire.NewConn(nc), store: store}
}

// Handshake performs the version exchange that must precede every
// other message on the connection.
func (c *Client) Handshake() error {
	if err := c.conn.WriteMessage(wire.Handshake(ProtocolVersion)); err != nil {
		return err
	}
	env, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if !env.IsHandshake() {
		return ErrUnexpectedMessage
	}
	return nil
}

// SendBlob requests to send hash. sent reports whether the host asked
// for the payload at all: if false, the host already had the blob and
// no bytes were transferred, and acked is meaningless. If sent is
// true, acked is the host's received_blob verdict after the upload.
func (c *Client) SendBlob(hash core.Hash, size int64) (sent bool, acked bool, err error) {
	if err := c.conn.WriteMessage(wire.BlobRequest(hash.String(), size)); err != nil {
		return false, false, err
	}
	env, err := c.conn.ReadMessage()
	if err != nil {
		return false, false, err
	}
	if env.SendBlob == nil {
		return false, false, ErrUnexpectedMessage
	}
	if !*env.SendBlob {
		return false, false, nil
	}
	if err := c.streamFile(hash, size); err != nil {
		return true, false, err
	}
	ack, err := c.conn.ReadMessage()
	if err != nil {
		return true, false, err
	}
	if ack.ReceivedBlob == nil {
		return true, false, ErrUnexpectedMessage
	}
	return true, *ack.ReceivedBlob, nil
}

// SendSDBlobRequest asks whether the host wants the SD blob itself. If
// it does, sendSD is true and needed is nil. If it doesn't, sendSD is
// false and needed lists which member hashes the host is still
// missing (possibly empty).
func (c *Client) SendSDBlobRequest(sdHash core.Hash, size int64) (sendSD bool, needed []core.Hash, err error) {
	if err := c.conn.WriteMessage(wire.SDBlobRequest(sdHash.String(), size)); err != nil {
		return false, nil, err
	}
	env, err := c.conn.ReadMessage()
	if err != nil {
		return false, nil, err
	}
	if env.SendSDBlob == nil {
		return false, nil, ErrUnexpectedMessage
	}
	if *env.SendSDBlob {
		return true, nil, nil
	}
	if env.NeededBlobs != nil {
		for _, s := range *env.NeededBlobs {
			h, err := core.ParseHash(s)
			if err != nil {
				continue
			}
			needed = append(needed, h)
		}
	}
	return false, needed, nil
}

// SendSDBlobPayload streams the SD blob's own bytes and awaits its
// ack. Call only after SendSDBlobRequest returned sendSD == true.
func (c *Client) SendSDBlobPayload(sdHash core.Hash, size int64) (bool, error) {
	if err := c.streamFile(sdHash, size); err != nil {
		return false, err
	}
	ack, err := c.conn.ReadMessage()
	if err != nil {
		return false, err
	}
	if ack.ReceivedSDBlob == nil {
		return false, ErrUnexpectedMessage
	}
	return *ack.ReceivedSDBlob, nil
}

func (c *Client) streamFile(hash core.Hash, size int64) error {
	r, err := c.store.OpenForReading(hash)
	if err != nil {
		return err
	}
	defer r.Close()

	n, err := io.Copy(c.conn, r)
	if err != nil {
		return err
	}
	if n != size {
		return ErrShortPayload
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
