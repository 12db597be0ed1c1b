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

// Package hostselect picks a downstream reflector host for an outbound
// job. Deliberately not a consistent-hash ring: the contract is
// uniform-random selection among hosts with spare capacity, which
// avoids the herd effect of always sending to the least-loaded host.
package hostselect

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/feitianyiren/prism/lib/index"
)

// DefaultPort is used when a configured host has no explicit port.
const DefaultPort = 5566

// ErrNoHostAvailable is returned when every known host is at capacity.
var ErrNoHostAvailable = errors.New("hostselect: no host has spare capacity")

// Host identifies one member of the downstream cluster.
type Host struct {
	Addr string
	Port int
}

// String renders the host as a dial address.
func (h Host) String() string {
	return net.JoinHostPort(h.Addr, strconv.Itoa(h.Port))
}

// ParseHost parses an "addr[:port]" string, defaulting the port to
// DefaultPort when absent.
func ParseHost(s string) (Host, error) {
	addr, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port present; net.SplitHostPort fails on bare hostnames.
		return Host{Addr: s, Port: DefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Host{}, fmt.Errorf("invalid port in %q: %s", s, err)
	}
	return Host{Addr: addr, Port: port}, nil
}

// Selection is the outcome of a successful Select call.
type Selection struct {
	Host  Host
	Count int
}

// Selector chooses a host with spare capacity, uniformly at random
// among the eligible set.
type Selector struct {
	hosts    []Host
	maxBlobs int
	idx      index.Index

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Selector over hosts, each of which may hold up to
// maxBlobsPerHost blobs as reported by idx.HostCounts.
func New(hosts []Host, maxBlobsPerHost int, idx index.Index) *Selector {
	return &Selector{
		hosts:    hosts,
		maxBlobs: maxBlobsPerHost,
		idx:      idx,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select returns a uniformly random host among those below capacity,
// along with its current blob count. Returns ErrNoHostAvailable if
// every configured host is full.
func (s *Selector) Select(ctx context.Context) (Selection, error) {
	counts, err := s.idx.HostCounts(ctx)
	if err != nil {
		return Selection{}, err
	}

	var eligible []Selection
	for _, h := range s.hosts {
		n := counts[h.String()]
		if n < s.maxBlobs {
			eligible = append(eligible, Selection{Host: h, Count: n})
		}
	}
	if len(eligible) == 0 {
		return Selection{}, ErrNoHostAvailable
	}

	s.mu.Lock()
	i := s.rng.Intn(len(eligible))
	s.mu.Unlock()

	return eligible[i], nil
}
