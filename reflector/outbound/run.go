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
package outbound

import "github.com/feitianyiren/prism/core"

// Member describes one stream member the worker has locally and may
// need to send.
type Member struct {
	Hash core.Hash
	Size int64
}

// StreamResult records, for every blob the job attempted to place on
// the host, whether the host acknowledged it. A hash's absence from
// Acked means it was never attempted (a transport error aborted the
// run before reaching it).
type StreamResult struct {
	Acked map[core.Hash]bool
}

func newStreamResult() StreamResult {
	return StreamResult{Acked: make(map[core.Hash]bool)}
}

// RunBlob forwards a single blob over a freshly dialed connection. The
// returned bool reports whether the host ends up with the blob: true
// if the host declined (it already had it) or accepted and
// acknowledged the upload. A non-nil error means the connection failed
// before that could be determined.
func RunBlob(c *Client, hash core.Hash, size int64) (bool, error) {
	if err := c.Handshake(); err != nil {
		return false, err
	}
	sent, acked, err := c.SendBlob(hash, size)
	if err != nil {
		return false, err
	}
	return !sent || acked, nil
}

// RunStream forwards an SD blob and its members over a freshly dialed
// connection, following whichever branch the host's descriptor
// decision selects. It returns partial progress even when an error
// aborts the run partway through, so the caller can attach whatever
// was acknowledged before the failure.
func RunStream(c *Client, sdHash core.Hash, sdSize int64, members []Member) (StreamResult, error) {
	result := newStreamResult()

	if err := c.Handshake(); err != nil {
		return result, err
	}

	sendSD, needed, err := c.SendSDBlobRequest(sdHash, sdSize)
	if err != nil {
		return result, err
	}

	if sendSD {
		ok, err := c.SendSDBlobPayload(sdHash, sdSize)
		if err != nil {
			return result, err
		}
		result.Acked[sdHash] = ok
		if !ok {
			return result, nil
		}
		for _, m := range members {
			sent, acked, err := c.SendBlob(m.Hash, m.Size)
			if err != nil {
				return result, err
			}
			result.Acked[m.Hash] = !sent || acked
		}
		return result, nil
	}

	// The host already has the SD blob; it is implicitly placed there.
	result.Acked[sdHash] = true

	neededSet := make(map[core.Hash]bool, len(needed))
	for _, h := range needed {
		neededSet[h] = true
	}

	bySize := make(map[core.Hash]int64, len(members))
	for _, m := range members {
		bySize[m.Hash] = m.Size
	}

	for _, h := range needed {
		size, ok := bySize[h]
		if !ok {
			// The host wants something we don't have locally; nothing
			// we can do for it in this job.
			continue
		}
		sent, acked, err := c.SendBlob(h, size)
		if err != nil {
			return result, err
		}
		result.Acked[h] = !sent || acked
	}

	// Members the host didn't list as needed are already placed there.
	for _, m := range members {
		if !neededSet[m.Hash] {
			result.Acked[m.Hash] = true
		}
	}

	return result, nil
}
