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
package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"time"
)

// Conn wraps a net.Conn with the brace-scanning JSON framing the
// protocol requires: while expecting a message, bytes are accumulated
// until the prefix parses as a complete JSON object, up to
// MaxQuerySize bytes. Once a message transitions the caller into a
// receiving state, raw payload bytes are read directly off the same
// buffered reader so no bytes are lost or duplicated across the two
// framing modes.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// NewConn wraps nc for framed reads and writes.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReaderSize(nc, 4096)}
}

// ReadMessage scans for and decodes the next JSON control message.
func (c *Conn) ReadMessage() (Envelope, error) {
	var buf []byte
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return Envelope{}, err
		}
		buf = append(buf, b)
		if b == '}' {
			var env Envelope
			if err := json.Unmarshal(buf, &env); err == nil {
				return env, nil
			}
			// Not yet a complete/valid object; keep scanning for the
			// next '}' with the enlarged prefix.
		}
		if len(buf) > MaxQuerySize {
			return Envelope{}, ErrRequestTooLarge
		}
	}
}

// ReadFull reads exactly len(p) raw payload bytes.
func (c *Conn) ReadFull(p []byte) (int, error) {
	return io.ReadFull(c.r, p)
}

// CopyN copies exactly n raw payload bytes from the connection to w.
func (c *Conn) CopyN(w io.Writer, n int64) (int64, error) {
	return io.CopyN(w, c.r, n)
}

// WriteMessage marshals and writes env as a single JSON object.
func (c *Conn) WriteMessage(env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(b)
	return err
}

// Write writes raw payload bytes.
func (c *Conn) Write(p []byte) (int, error) {
	return c.nc.Write(p)
}

// SetDeadline forwards to the underlying net.Conn.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.nc.SetDeadline(t)
}

// SetReadDeadline forwards to the underlying net.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// Close closes the underlying net.Conn.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr forwards to the underlying net.Conn.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
