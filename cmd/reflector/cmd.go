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
package main

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feitianyiren/prism/lib/blobfile"
	"github.com/feitianyiren/prism/lib/hostselect"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/lib/index/fakeindex"
	"github.com/feitianyiren/prism/lib/index/redisindex"
	"github.com/feitianyiren/prism/lib/queue"
	"github.com/feitianyiren/prism/metrics"
	"github.com/feitianyiren/prism/reflector/config"
	"github.com/feitianyiren/prism/reflector/listener"
	"github.com/feitianyiren/prism/reflector/reconciler"
	"github.com/feitianyiren/prism/reflector/worker"
	"github.com/feitianyiren/prism/utils/log"
)

var (
	configFile string
	cluster    string

	rootCmd = &cobra.Command{
		Short: "reflector ingests blobs over a JSON-framed TCP protocol and forwards them to a downstream cluster.",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configFile, "config", "", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(
		&cluster, "cluster", "", "", "cluster name, used to tag emitted metrics")
}

// Execute runs the reflector root command.
func Execute() {
	rootCmd.Execute()
}

func run() {
	c, err := config.Load(configFile)
	if err != nil {
		panic(fmt.Sprintf("load config: %s", err))
	}

	setupLogging(c)

	stats, statsCloser, err := metrics.New(c.Metrics, cluster)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer statsCloser.Close()
	go metrics.EmitVersion(stats)

	store, err := blobfile.New(c.BlobDir)
	if err != nil {
		log.Fatalf("Error creating blob store: %s", err)
	}

	idx := setupIndex(c)

	hosts := setupHosts(c)
	selector := hostselect.New(hosts, c.MaxBlobs, idx)

	w := worker.New(idx, store, selector)
	qm, err := queue.NewManager(queue.Config{NumWorkers: c.Workers}, setupQueueStore(c), w)
	if err != nil {
		log.Fatalf("Error creating job queue: %s", err)
	}
	defer qm.Close()

	lis, err := listener.Listen(c.ListenerConfig(), idx, store, qm)
	if err != nil {
		log.Fatalf("Error binding listener: %s", err)
	}

	if c.EnqueueOnStartup {
		go func() {
			if err := reconciler.Reconcile(context.Background(), idx, store, qm); err != nil {
				log.Errorf("Startup reconciliation failed: %s", err)
			}
		}()
	}

	if c.Debug != "" {
		go serveDebug(c.Debug, idx)
	}

	go func() {
		log.Fatalf("Listener exited: %s", lis.Serve())
	}()

	log.Infof("Reflector listening on %s", lis.Addr().String())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	log.Infof("Shutting down")
	lis.Stop()
	qm.Close()
	log.Infof("Shutdown complete")
}

func setupLogging(c config.Config) {
	zc := zap.NewProductionConfig()
	if c.Verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log.ConfigureLogger(zc)
}

func setupIndex(c config.Config) index.Index {
	if c.IsFakeBackend() {
		log.Warnf("Using in-memory fake index backend, state will not survive a restart")
		return fakeindex.New()
	}
	return redisindex.New(redisindex.Config{Addr: c.RedisServer})
}

func setupQueueStore(c config.Config) queue.Store {
	if c.IsFakeBackend() {
		return queue.NewMemStore()
	}
	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", c.RedisServer)
		},
		MaxIdle:     8,
		IdleTimeout: 5 * time.Minute,
	}
	return queue.NewRedisStore(pool)
}

func setupHosts(c config.Config) []hostselect.Host {
	hosts := make([]hostselect.Host, 0, len(c.Hosts))
	for _, s := range c.Hosts {
		h, err := hostselect.ParseHost(s)
		if err != nil {
			log.Fatalf("Invalid host %q: %s", s, err)
		}
		hosts = append(hosts, h)
	}
	return hosts
}

// debugStatus is the ambient debug/status page supplemented from
// original_source/prism/debug.py: per-host counts and index
// reachability (queue depth is not reported), alongside stdlib
// pprof/expvar, in the teacher's
// style of exposing a tiny internal status page (origin/blobserver's
// blob_web_app.go).
type debugStatus struct {
	IndexReachable bool           `json:"index_reachable"`
	HostCounts     map[string]int `json:"host_counts"`
}

func serveDebug(addr string, idx index.Index) {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		counts, err := idx.HostCounts(r.Context())
		status := debugStatus{IndexReachable: err == nil, HostCounts: counts}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})
	log.Infof("Serving debug status on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Debug server exited: %s", err)
	}
}
