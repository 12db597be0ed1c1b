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
package blobfile

import "os"

// Reader streams a committed blob's bytes.
type Reader struct {
	f *os.File
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.f.Read(p)
}

// Close implements io.Closer.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Size returns the size of the underlying file in bytes.
func (r *Reader) Size() (int64, error) {
	info, err := r.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
