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
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/utils/log"
)

// tracer spans queue-level job execution, in the style of
// lib/persistedretry/writeback.Executor's tracer field and
// origin/blobclient/cluster_client.go's direct otel.Tracer(name) use
// around an outbound network call.
var tracer = otel.Tracer("prism-reflector-queue")

// Executor runs a single dequeued job to completion. Implemented by
// reflector/worker.
type Executor interface {
	Exec(ctx context.Context, job Job) error
}

// Manager is a durable, worker-pooled job queue: Enqueue persists a
// job and hands it to a worker goroutine; on startup, any job left
// pending from a prior process is loaded back into the pool. A
// background poll redelivers any persisted job whose Deadline has
// elapsed without a Remove, so a worker that wedges mid-job is
// retried without waiting for a process restart.
//
// Grounded on the teacher's lib/persistedretry.manager: buffered
// incoming/retry channels drained by a fixed pool of worker
// goroutines, startup resubmission of persisted pending jobs in place
// of markPendingTasksAsFailed (safe here because this queue's jobs are
// idempotent-to-reattempt by construction — the worker's preflight
// check absorbs duplicates), and a tickerLoop/pollRetries pair
// (renamed pollExpired here, since this queue tracks one absolute
// Deadline per job rather than a failure-count/backoff schedule)
// that periodically re-examines persisted state rather than relying
// solely on in-process error returns to trigger a retry.
type Manager struct {
	config   Config
	store    Store
	executor Executor

	incoming chan Job
	retries  chan Job

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
	closed    atomic.Bool
}

// NewManager creates a Manager, immediately resubmitting any job left
// pending in store from a previous run.
func NewManager(config Config, store Store, executor Executor) (*Manager, error) {
	config = config.applyDefaults()
	m := &Manager{
		config:   config,
		store:    store,
		executor: executor,
		incoming: make(chan Job, config.IncomingBuffer),
		retries:  make(chan Job, config.RetryBuffer),
		done:     make(chan struct{}),
	}

	pending, err := m.store.GetPending()
	if err != nil {
		return nil, fmt.Errorf("load pending jobs: %s", err)
	}
	for _, j := range pending {
		j.Deadline = time.Now().Add(m.outerTimeout(j))
		if err := m.store.MarkFailed(j); err != nil {
			log.With("job", j.key(), "error", err).Warnf("queue: failed to persist resubmitted job deadline")
		}
		m.dispatch(j)
	}

	for i := 0; i < config.NumWorkers; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	m.wg.Add(1)
	go m.pollDeadlinesLoop()

	return m, nil
}

// EnqueueForwardBlob implements reflector/inbound.Enqueuer.
func (m *Manager) EnqueueForwardBlob(hash core.Hash) error {
	return m.enqueue(ForwardBlob(hash))
}

// EnqueueForwardStream implements reflector/inbound.Enqueuer.
func (m *Manager) EnqueueForwardStream(sdHash core.Hash) error {
	return m.enqueue(ForwardStream(sdHash))
}

func (m *Manager) enqueue(job Job) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	job.Deadline = time.Now().Add(m.outerTimeout(job))

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(m.config.EnqueueRetry), 1)
	if err := backoff.Retry(func() error { return m.store.AddPending(job) }, bo); err != nil {
		return fmt.Errorf("persist job: %s", err)
	}
	m.dispatch(job)
	return nil
}

func (m *Manager) dispatch(job Job) {
	select {
	case m.incoming <- job:
	default:
		log.With("job", job.key()).Warnf("queue: incoming channel full, job remains persisted for later pickup")
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case job := <-m.incoming:
			m.run(job)
		case job := <-m.retries:
			m.run(job)
		}
	}
}

func (m *Manager) run(job Job) {
	ctx, span := tracer.Start(context.Background(), "queue.run",
		trace.WithAttributes(
			attribute.String("job.kind", job.Kind.String()),
			attribute.String("job.hash", job.Hash.String()),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.outerTimeout(job))
	defer cancel()

	if err := m.executor.Exec(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// Per §4.6/§7, durability is provided by the queue's
		// redelivery, not by in-process retries: mark the job failed,
		// leaving its Deadline as persisted, and let
		// pollDeadlinesLoop redeliver it once that Deadline elapses.
		// This throttles retries of a persistently failing job to once
		// per Deadline window instead of hot-looping.
		log.With("job", job.key(), "error", err).Warnf("queue: job execution failed")
		if merr := m.store.MarkFailed(job); merr != nil {
			log.With("job", job.key(), "error", merr).Warnf("queue: failed to mark job failed")
		}
		return
	}

	span.SetStatus(codes.Ok, "job completed")

	if err := m.store.Remove(job); err != nil {
		log.With("job", job.key(), "error", err).Warnf("queue: failed to remove completed job")
	}
}

// pollDeadlinesLoop periodically redelivers any persisted job whose
// Deadline has elapsed without a Remove — the case run() itself
// cannot detect because the worker goroutine executing that job's
// Exec call is still blocked past its own deadline.
func (m *Manager) pollDeadlinesLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollDeadlinesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.pollExpired()
		}
	}
}

func (m *Manager) pollExpired() {
	jobs, err := m.store.GetPending()
	if err != nil {
		log.With("error", err).Warnf("queue: failed to poll pending jobs for expired deadlines")
		return
	}
	now := time.Now()
	for _, job := range jobs {
		if job.Deadline.IsZero() || now.Before(job.Deadline) {
			continue
		}
		log.With("job", job.key()).Warnf("queue: job deadline elapsed without ack, redelivering")
		m.redeliver(job)
	}
}

// redeliver refreshes job's Deadline for a new attempt, persists it,
// and hands it to a worker.
func (m *Manager) redeliver(job Job) {
	job.Deadline = time.Now().Add(m.outerTimeout(job))
	if err := m.store.MarkFailed(job); err != nil {
		log.With("job", job.key(), "error", err).Warnf("queue: failed to persist redelivered job")
		return
	}
	select {
	case m.retries <- job:
	default:
		log.With("job", job.key()).Warnf("queue: retries channel full, job remains persisted for later pickup")
	}
}

// outerTimeout is a coarse safety bound; the authoritative per-kind
// deadlines of §4.6 (60s for a blob, (members+1)*30s for a stream) are
// enforced inside the executor once it knows the stream's member
// count.
func (m *Manager) outerTimeout(job Job) time.Duration {
	switch job.Kind {
	case ForwardBlobKind:
		return 60 * time.Second
	default:
		return 10 * time.Minute
	}
}

// Close stops accepting new jobs and waits for in-flight jobs to
// finish.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		m.wg.Wait()
	})
}
