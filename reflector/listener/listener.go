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

// Package listener binds the inbound TCP port (C8) and spawns a fresh
// reflector/inbound.Handler for each accepted connection.
//
// Grounded on lib/torrent/scheduler's listenLoop/Stop pair: one
// goroutine running Accept in a loop, each connection handed off to
// its own goroutine, shutdown by closing the listener and waiting on a
// sync.WaitGroup for in-flight handlers to drain.
package listener

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/reflector/inbound"
	"github.com/feitianyiren/prism/utils/log"
)

// DefaultPort is the default inbound listen port, per §6.
const DefaultPort = 5566

// Backlog is the TCP accept backlog of §4.8. Listen does not apply it:
// net.Listen uses the operating system's default backlog.
const Backlog = 50

// ShutdownTimeout bounds how long Stop waits for in-flight handlers to
// finish before returning anyway.
const ShutdownTimeout = 30 * time.Second

// Config controls the bind address and port.
type Config struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

func (c Config) applyDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	return c
}

// Enqueuer is reflector/inbound.Enqueuer, restated here to avoid a
// dependency cycle on the concrete queue implementation.
type Enqueuer interface {
	EnqueueForwardBlob(core.Hash) error
	EnqueueForwardStream(core.Hash) error
}

// Listener accepts inbound connections and drives one
// reflector/inbound.Handler per connection.
type Listener struct {
	nc       net.Listener
	idx      index.Index
	store    *blobfile.Store
	enqueuer Enqueuer
	clk      clock.Clock

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// Listen binds config's address and port and returns a Listener ready
// to Serve.
func Listen(config Config, idx index.Index, store *blobfile.Store, enqueuer Enqueuer) (*Listener, error) {
	config = config.applyDefaults()
	addr := net.JoinHostPort(config.Addr, strconv.Itoa(config.Port))

	nc, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		nc:       nc,
		idx:      idx,
		store:    store,
		enqueuer: enqueuer,
		clk:      clock.New(),
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the bound address, useful when Config.Port is 0 and the
// OS picked an ephemeral port (tests).
func (l *Listener) Addr() net.Addr {
	return l.nc.Addr()
}

// Serve runs the accept loop until Stop is called. It always returns a
// non-nil error (net.Listener.Accept's error on a closed listener).
func (l *Listener) Serve() error {
	log.With("addr", l.nc.Addr().String()).Infof("listener: accepting connections")
	for {
		nc, err := l.nc.Accept()
		if err != nil {
			return err
		}
		l.wg.Add(1)
		go l.handle(nc)
	}
}

func (l *Listener) handle(nc net.Conn) {
	defer l.wg.Done()
	h := inbound.NewHandler(nc, l.idx, l.store, l.enqueuer, l.clk)
	h.Handle(context.Background())
}

// Stop closes the listener so Serve's Accept call returns, then waits
// up to ShutdownTimeout for in-flight handlers to finish.
func (l *Listener) Stop() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.nc.Close()

		waited := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-time.After(ShutdownTimeout):
			log.Warnf("listener: shutdown timed out waiting for active connections")
		}
	})
}
