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

// Package log exposes a single process-wide structured logger. Every
// package in this repository logs through the package-level functions
// here instead of constructing its own logger, so that log level,
// encoding, and output sinks are controlled from one place at process
// startup.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global = newNopLogger()
)

func newNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// ConfigureLogger builds a logger from config, installs it as the
// global logger, and returns it.
func ConfigureLogger(config zap.Config) *zap.SugaredLogger {
	logger, err := config.Build()
	if err != nil {
		// Fall back to a sane production default rather than leaving the
		// process unable to log at all.
		logger, _ = zap.NewProduction()
	}
	sugared := logger.Sugar()
	SetGlobalLogger(sugared)
	return sugared
}

// SetGlobalLogger overrides the global logger. Exposed so tests and
// embedding callers can inject their own *zap.Logger.
func SetGlobalLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With returns a logger annotated with the given key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger {
	return get().With(args...)
}

// Debugf logs at debug level.
func Debugf(template string, args ...interface{}) { get().Debugf(template, args...) }

// Infof logs at info level.
func Infof(template string, args ...interface{}) { get().Infof(template, args...) }

// Warnf logs at warn level.
func Warnf(template string, args ...interface{}) { get().Warnf(template, args...) }

// Errorf logs at error level.
func Errorf(template string, args ...interface{}) { get().Errorf(template, args...) }

// Fatalf logs at fatal level and exits the process.
func Fatalf(template string, args ...interface{}) { get().Fatalf(template, args...) }
