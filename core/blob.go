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

// BlobInfo is the essential identity of a blob as declared by an
// uploader before any bytes arrive: the hash it claims and the number
// of bytes it promises to send.
type BlobInfo struct {
	Hash   Hash
	Length int64
}

// NewBlobInfo creates a new BlobInfo.
func NewBlobInfo(hash Hash, length int64) *BlobInfo {
	return &BlobInfo{Hash: hash, Length: length}
}
