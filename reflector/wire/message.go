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

// Package wire implements the JSON-framed control protocol shared by
// the inbound and outbound state machines: control messages and raw
// blob payloads interleaved on a single TCP stream.
package wire

// Envelope is the union of every message shape exchanged by the
// protocol. Unused fields are left as nil pointers so that
// encoding/json's omitempty drops them from the wire; a pointer field
// that is non-nil but points at a zero value (e.g. an empty
// NeededBlobs slice) is still emitted, which is how the protocol
// distinguishes "the SD blob is unknown" (omitted) from "the SD blob
// is known and nothing is needed" (emitted as []).
type Envelope struct {
	Version *int `json:"version,omitempty"`

	SDBlobHash *string `json:"sd_blob_hash,omitempty"`
	SDBlobSize *int64  `json:"sd_blob_size,omitempty"`

	BlobHash *string `json:"blob_hash,omitempty"`
	BlobSize *int64  `json:"blob_size,omitempty"`

	SendSDBlob  *bool     `json:"send_sd_blob,omitempty"`
	SendBlob    *bool     `json:"send_blob,omitempty"`
	NeededBlobs *[]string `json:"needed_blobs,omitempty"`

	ReceivedBlob   *bool `json:"received_blob,omitempty"`
	ReceivedSDBlob *bool `json:"received_sd_blob,omitempty"`
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

// Handshake builds a {"version": v} message, sent and echoed by both
// sides at the start of a connection.
func Handshake(version int) Envelope {
	return Envelope{Version: intPtr(version)}
}

// SDBlobRequest builds the client's descriptor request.
func SDBlobRequest(hash string, size int64) Envelope {
	return Envelope{SDBlobHash: strPtr(hash), SDBlobSize: int64Ptr(size)}
}

// SDBlobDecision builds the server's descriptor response. Pass
// needed == nil to mean "send the SD blob" (omits needed_blobs); pass
// a non-nil slice (possibly empty) to mean "I have it, here's what's
// still missing".
func SDBlobDecision(needed []string) Envelope {
	if needed == nil {
		return Envelope{SendSDBlob: boolPtr(true)}
	}
	strs := needed
	return Envelope{SendSDBlob: boolPtr(false), NeededBlobs: &strs}
}

// BlobRequest builds the client's blob request.
func BlobRequest(hash string, size int64) Envelope {
	return Envelope{BlobHash: strPtr(hash), BlobSize: int64Ptr(size)}
}

// BlobDecision builds the server's blob response.
func BlobDecision(send bool) Envelope {
	return Envelope{SendBlob: boolPtr(send)}
}

// BlobAck builds a received_blob ack.
func BlobAck(ok bool) Envelope {
	return Envelope{ReceivedBlob: boolPtr(ok)}
}

// SDBlobAck builds a received_sd_blob ack.
func SDBlobAck(ok bool) Envelope {
	return Envelope{ReceivedSDBlob: boolPtr(ok)}
}

// IsHandshake reports whether e carries a version field.
func (e Envelope) IsHandshake() bool { return e.Version != nil }

// IsSDBlobRequest reports whether e is a descriptor request.
func (e Envelope) IsSDBlobRequest() bool { return e.SDBlobHash != nil }

// IsBlobRequest reports whether e is a blob request.
func (e Envelope) IsBlobRequest() bool { return e.BlobHash != nil && e.SDBlobHash == nil }
