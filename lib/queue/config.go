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

import "time"

// Config controls the worker pool and enqueue-retry behavior of a
// Manager.
type Config struct {
	NumWorkers     int           `yaml:"num_workers"`
	IncomingBuffer int           `yaml:"incoming_buffer"`
	RetryBuffer    int           `yaml:"retry_buffer"`
	EnqueueRetry   time.Duration `yaml:"enqueue_retry"`

	// PollDeadlinesInterval is how often the Manager scans persisted
	// pending jobs for ones whose Deadline has elapsed without a
	// Remove, redelivering each to a worker. Grounded on
	// persistedretry.Config's PollRetriesInterval.
	PollDeadlinesInterval time.Duration `yaml:"poll_deadlines_interval"`
}

func (c Config) applyDefaults() Config {
	if c.NumWorkers == 0 {
		c.NumWorkers = 4
	}
	if c.IncomingBuffer == 0 {
		c.IncomingBuffer = 1000
	}
	if c.RetryBuffer == 0 {
		c.RetryBuffer = 1000
	}
	if c.EnqueueRetry == 0 {
		// §7: BackendUnavailable at enqueue time triggers a single
		// retry after a 10 second delay.
		c.EnqueueRetry = 10 * time.Second
	}
	if c.PollDeadlinesInterval == 0 {
		c.PollDeadlinesInterval = 15 * time.Second
	}
	return c
}
