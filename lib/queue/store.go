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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"

	"github.com/feitianyiren/prism/core"
)

// Store persists pending jobs, including each job's current-attempt
// Deadline, so both a process restart and a live deadline-expiry poll
// can resume them. Grounded on persistedretry.Store's
// AddPending/MarkFailed/GetPending/Remove shape.
type Store interface {
	// AddPending persists job as pending, replacing any existing entry
	// with the same key (the queue is not required to deduplicate;
	// this just avoids unbounded growth of obviously-redundant
	// persisted entries).
	AddPending(job Job) error

	// MarkFailed re-persists job with its current (refreshed) Deadline
	// after a failed or timed-out attempt, keeping it pending for a
	// future retry.
	MarkFailed(job Job) error

	// GetPending returns every persisted job, used at startup to
	// requeue work that was in flight when the process last exited,
	// and by the Manager's deadline poll to find jobs whose Deadline
	// has elapsed without a Remove.
	GetPending() ([]Job, error)

	// Remove deletes job's persisted entry, called once it has
	// executed successfully.
	Remove(job Job) error
}

// MemStore is an in-memory Store, used in tests and when configuration
// selects the "fake" backend.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]Job)}
}

// AddPending implements Store.
func (s *MemStore) AddPending(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.key()] = job
	return nil
}

// MarkFailed implements Store.
func (s *MemStore) MarkFailed(job Job) error {
	return s.AddPending(job)
}

// Remove implements Store.
func (s *MemStore) Remove(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, job.key())
	return nil
}

// GetPending implements Store.
func (s *MemStore) GetPending() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	return jobs, nil
}

const pendingJobsKey = "pending_jobs"

// RedisStore persists jobs as a Redis hash keyed by job.key(), mapping
// to "kind hash deadline_unix_nanos" so GetPending can reconstruct
// every entry, deadline included, after a restart.
type RedisStore struct {
	pool *redis.Pool
}

// NewRedisStore wraps an existing pool. cmd/reflector dials it against
// the same configured Redis server as lib/index/redisindex, as a
// separate pool.
func NewRedisStore(pool *redis.Pool) *RedisStore {
	return &RedisStore{pool: pool}
}

// AddPending implements Store.
func (s *RedisStore) AddPending(job Job) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("HSET", pendingJobsKey, job.key(), encodeJob(job))
	return err
}

// MarkFailed implements Store.
func (s *RedisStore) MarkFailed(job Job) error {
	return s.AddPending(job)
}

// Remove implements Store.
func (s *RedisStore) Remove(job Job) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("HDEL", pendingJobsKey, job.key())
	return err
}

// GetPending implements Store.
func (s *RedisStore) GetPending() ([]Job, error) {
	conn := s.pool.Get()
	defer conn.Close()
	vals, err := redis.StringMap(conn.Do("HGETALL", pendingJobsKey))
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(vals))
	for _, encoded := range vals {
		job, ok := decodeJob(encoded)
		if ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func encodeJob(job Job) string {
	deadline := "0"
	if !job.Deadline.IsZero() {
		deadline = strconv.FormatInt(job.Deadline.UnixNano(), 10)
	}
	return job.Kind.String() + " " + job.Hash.String() + " " + deadline
}

func decodeJob(encoded string) (Job, bool) {
	parts := strings.SplitN(encoded, " ", 3)
	if len(parts) < 2 {
		return Job{}, false
	}
	kindStr, hashStr := parts[0], parts[1]

	h, err := core.ParseHash(hashStr)
	if err != nil {
		return Job{}, false
	}

	var job Job
	switch kindStr {
	case ForwardBlobKind.String():
		job = ForwardBlob(h)
	case ForwardStreamKind.String():
		job = ForwardStream(h)
	default:
		return Job{}, false
	}

	if len(parts) == 3 {
		if nanos, err := strconv.ParseInt(parts[2], 10, 64); err == nil && nanos != 0 {
			job.Deadline = time.Unix(0, nanos)
		}
	}
	return job, true
}
