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
package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feitianyiren/prism/core"
)

type recordingExecutor struct {
	mu   sync.Mutex
	seen []Job
	fail map[string]bool
}

func (e *recordingExecutor) Exec(ctx context.Context, job Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, job)
	if e.fail[job.key()] {
		return errors.New("injected failure")
	}
	return nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

func TestEnqueueRunsExecutorAndRemovesFromStore(t *testing.T) {
	store := NewMemStore()
	exec := &recordingExecutor{}
	m, err := NewManager(Config{NumWorkers: 1}, store, exec)
	require.NoError(t, err)
	defer m.Close()

	h := core.ComputeHash([]byte("a"))
	require.NoError(t, m.EnqueueForwardBlob(h))

	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, time.Millisecond)

	pending, err := store.GetPending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFailedJobStaysPending(t *testing.T) {
	store := NewMemStore()
	h := core.ComputeHash([]byte("b"))
	exec := &recordingExecutor{fail: map[string]bool{ForwardBlob(h).key(): true}}
	m, err := NewManager(Config{NumWorkers: 1}, store, exec)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.EnqueueForwardBlob(h))
	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, time.Millisecond)

	pending, err := store.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestPollExpiredRedeliversJobPastDeadline(t *testing.T) {
	store := NewMemStore()
	exec := &recordingExecutor{}
	m, err := NewManager(Config{NumWorkers: 1}, store, exec)
	require.NoError(t, err)
	defer m.Close()

	// Simulate a job left persisted mid-process with an elapsed
	// Deadline (e.g. a worker wedged past it, or a dispatch attempt
	// that was dropped when a channel was full), independent of the
	// manager's own startup resubmission path.
	h := core.ComputeHash([]byte("wedged"))
	job := ForwardBlob(h)
	job.Deadline = time.Now().Add(-time.Minute)
	require.NoError(t, store.AddPending(job))

	m.pollExpired()

	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, time.Millisecond)

	pending, err := store.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 0)
}

func TestStartupResubmitsPendingJobs(t *testing.T) {
	store := NewMemStore()
	h := core.ComputeHash([]byte("c"))
	require.NoError(t, store.AddPending(ForwardStream(h)))

	exec := &recordingExecutor{}
	m, err := NewManager(Config{NumWorkers: 1}, store, exec)
	require.NoError(t, err)
	defer m.Close()

	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, time.Millisecond)
}
