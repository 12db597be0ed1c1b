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

import (
	"errors"
	"fmt"

	"github.com/feitianyiren/prism/core"
)

// ErrNotFound is returned by OpenForReading when the blob has no
// validated canonical file on disk.
var ErrNotFound = errors.New("blobfile: blob not found")

// ErrAlreadyInProgress is returned by OpenForWriting when another
// writer already holds the given hash.
var ErrAlreadyInProgress = errors.New("blobfile: write already in progress for this hash")

// ErrOverrun is returned when a writer is given more bytes than the
// declared length.
var ErrOverrun = errors.New("blobfile: wrote past declared length")

// ErrTruncated names the case where fewer than the declared number of
// bytes were written before the connection was lost. No function in
// this package returns it: Abort discards the temp file and returns nil
// or the removal error.
var ErrTruncated = errors.New("blobfile: connection closed before blob was complete")

// HashMismatchError is returned by Finalize when the written content's
// digest does not match the declared hash.
type HashMismatchError struct {
	Declared core.Hash
	Computed core.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("blobfile: hash mismatch: declared %s, computed %s", e.Declared, e.Computed)
}

// LengthMismatchError is returned by Finalize when fewer or more bytes
// were written than declared (should only occur on the exact boundary
// bugs since Write rejects overruns as they happen).
type LengthMismatchError struct {
	Declared int64
	Written  int64
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("blobfile: length mismatch: declared %d, wrote %d", e.Declared, e.Written)
}
