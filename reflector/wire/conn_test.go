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
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNeededBlobsOmitVsEmpty(t *testing.T) {
	sentKnown, err := json.Marshal(SDBlobDecision([]string{}))
	require.NoError(t, err)
	require.Contains(t, string(sentKnown), `"needed_blobs":[]`)

	sentUnknown, err := json.Marshal(SDBlobDecision(nil))
	require.NoError(t, err)
	require.NotContains(t, string(sentUnknown), "needed_blobs")
}

func TestReadMessageArbitrarySegmentation(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte(`{"blob_hash":"abc","blob_size":32}`)
	go func() {
		for _, b := range payload {
			client.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	c := NewConn(server)
	env, err := c.ReadMessage()
	require.NoError(t, err)
	require.NotNil(t, env.BlobHash)
	require.Equal(t, "abc", *env.BlobHash)
	require.NotNil(t, env.BlobSize)
	require.EqualValues(t, 32, *env.BlobSize)
}

func TestReadMessageRequestTooLarge(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		junk := make([]byte, MaxQuerySize+10)
		for i := range junk {
			junk[i] = 'x'
		}
		junk[len(junk)-1] = '}'
		client.Write(junk)
	}()

	c := NewConn(server)
	_, err := c.ReadMessage()
	require.ErrorIs(t, err, ErrRequestTooLarge)
}

func TestReadMessageThenRawBytes(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte(`{"version":1}`))
		client.Write([]byte("payload-bytes"))
	}()

	c := NewConn(server)
	env, err := c.ReadMessage()
	require.NoError(t, err)
	require.NotNil(t, env.Version)
	require.Equal(t, 1, *env.Version)

	buf := make([]byte, len("payload-bytes"))
	_, err = c.ReadFull(buf)
	require.NoError(t, err)
	require.Equal(t, "payload-bytes", string(buf))
}
