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
package core

import (
	"encoding/json"
	"fmt"
)

// sdBlobMember is one entry of an SD blob's "blobs" array. Trailing
// entries with Length 0 and no hash are padding and are dropped by
// ParseSDBlob.
type sdBlobMember struct {
	BlobHash string `json:"blob_hash"`
	Length   int64  `json:"length"`
}

// SDBlob is the parsed form of a stream descriptor blob's JSON payload:
// the set of blobs it declares as stream members.
type SDBlob struct {
	Members []Hash
}

// ParseSDBlob parses an SD blob's raw payload and returns its member
// hashes in declared order. A payload that isn't a JSON object with a
// "blobs" array is rejected; individual member entries with an empty
// or missing blob_hash are treated as padding and skipped, per the
// stream descriptor format.
func ParseSDBlob(payload []byte) (*SDBlob, error) {
	var doc struct {
		Blobs []sdBlobMember `json:"blobs"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse sd blob json: %w", err)
	}
	sd := &SDBlob{}
	for _, m := range doc.Blobs {
		if m.BlobHash == "" {
			continue
		}
		h, err := ParseHash(m.BlobHash)
		if err != nil {
			return nil, fmt.Errorf("parse member hash %q: %w", m.BlobHash, err)
		}
		sd.Members = append(sd.Members, h)
	}
	return sd, nil
}
