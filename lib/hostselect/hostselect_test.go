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
package hostselect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/index/fakeindex"
)

func TestParseHostDefaultsPort(t *testing.T) {
	h, err := ParseHost("jack.lbry.tech")
	require.NoError(t, err)
	require.Equal(t, Host{Addr: "jack.lbry.tech", Port: DefaultPort}, h)
}

func TestParseHostExplicitPort(t *testing.T) {
	h, err := ParseHost("10.0.0.1:6000")
	require.NoError(t, err)
	require.Equal(t, Host{Addr: "10.0.0.1", Port: 6000}, h)
}

func TestSelectSkipsFullHosts(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	hosts := []Host{{Addr: "h1", Port: 1}, {Addr: "h2", Port: 1}}
	sel := New(hosts, 1, idx)

	// Fill h1 to capacity.
	require.NoError(t, idx.AttachBlobToHost(ctx, core.ComputeHash([]byte("blob-a")), "h1:1"))

	for i := 0; i < 20; i++ {
		s, err := sel.Select(ctx)
		require.NoError(t, err)
		require.Equal(t, "h2", s.Host.Addr)
	}
}

func TestSelectFairnessAcrossEqualCapacityHosts(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	hosts := []Host{{Addr: "h1", Port: 1}, {Addr: "h2", Port: 1}, {Addr: "h3", Port: 1}}
	sel := New(hosts, 1000, idx)

	counts := make(map[string]int)
	const trials = 3000
	for i := 0; i < trials; i++ {
		s, err := sel.Select(ctx)
		require.NoError(t, err)
		counts[s.Host.Addr]++
	}

	for _, h := range hosts {
		share := float64(counts[h.Addr]) / float64(trials)
		require.InDelta(t, 1.0/3.0, share, 0.05)
	}
}

func TestSelectNoHostAvailable(t *testing.T) {
	ctx := context.Background()
	idx := fakeindex.New()
	hosts := []Host{{Addr: "h1", Port: 1}}
	require.NoError(t, idx.AttachBlobToHost(ctx, core.ComputeHash([]byte("blob-a")), "h1:1"))
	sel := New(hosts, 1, idx)

	_, err := sel.Select(ctx)
	require.ErrorIs(t, err, ErrNoHostAvailable)
}
