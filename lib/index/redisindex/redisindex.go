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

// Package redisindex is the production index.Index, backed by a single
// Redis instance via garyburd/redigo. Keys:
//
//	record:<hash>        hash   length, first_seen (unix nanos), host
//	cluster_blobs         set    every forwarded hash
//	sd_blobs               set    every registered SD blob hash
//	sd_members:<sdHash>  list   declared member hashes, in order
//	host_blobs:<host>    set    hashes currently placed on host
//	known_hosts            set    every host ever attached to, for HostCounts
package redisindex

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/garyburd/redigo/redis"

	"github.com/feitianyiren/prism/core"
	"github.com/feitianyiren/prism/lib/index"
	"github.com/feitianyiren/prism/utils/log"
)

// Config configures the Redis connection pool.
type Config struct {
	Addr         string        `yaml:"addr" validate:"nonzero"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxIdle      int           `yaml:"max_idle"`
	MaxActive    int           `yaml:"max_active"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 10
	}
	if c.MaxActive == 0 {
		c.MaxActive = 100
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// RedisIndex is an index.Index backed by Redis.
type RedisIndex struct {
	pool *redis.Pool
}

var _ index.Index = (*RedisIndex)(nil)

// New dials a connection pool against config.Addr. The pool is lazy:
// New succeeds even if Redis is briefly unreachable, surfacing
// index.ErrBackendUnavailable from individual operations instead.
func New(config Config) *RedisIndex {
	config.applyDefaults()
	pool := &redis.Pool{
		MaxIdle:     config.MaxIdle,
		MaxActive:   config.MaxActive,
		IdleTimeout: config.IdleTimeout,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{
				redis.DialConnectTimeout(config.DialTimeout),
				redis.DialReadTimeout(config.ReadTimeout),
				redis.DialWriteTimeout(config.WriteTimeout),
			}
			if config.Password != "" {
				opts = append(opts, redis.DialPassword(config.Password))
			}
			return redis.Dial("tcp", config.Addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisIndex{pool: pool}
}

// NewWithPool wraps an existing pool, e.g. one dialed against a
// alicebob/miniredis instance in tests.
func NewWithPool(pool *redis.Pool) *RedisIndex {
	return &RedisIndex{pool: pool}
}

// Close releases all pooled connections.
func (r *RedisIndex) Close() error {
	return r.pool.Close()
}

func recordKey(h core.Hash) string      { return "record:" + h.String() }
func sdMembersKey(h core.Hash) string   { return "sd_members:" + h.String() }
func hostBlobsKey(host string) string   { return "host_blobs:" + host }

const (
	clusterBlobsKey = "cluster_blobs"
	sdBlobsKey      = "sd_blobs"
	knownHostsKey   = "known_hosts"
)

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrNil) {
		return nil
	}
	log.With("error", err).Warnf("redisindex: backend error")
	return index.ErrBackendUnavailable
}

// BlobExists implements index.Index.
func (r *RedisIndex) BlobExists(ctx context.Context, hash core.Hash) (bool, error) {
	conn := r.pool.Get()
	defer conn.Close()
	n, err := redis.Int(conn.Do("EXISTS", recordKey(hash)))
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// BlobForwarded implements index.Index.
func (r *RedisIndex) BlobForwarded(ctx context.Context, hash core.Hash) (bool, error) {
	conn := r.pool.Get()
	defer conn.Close()
	ok, err := redis.Bool(conn.Do("SISMEMBER", clusterBlobsKey, hash.String()))
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

// GetRecord implements index.Index.
func (r *RedisIndex) GetRecord(ctx context.Context, hash core.Hash) (index.Record, bool, error) {
	conn := r.pool.Get()
	defer conn.Close()

	vals, err := redis.StringMap(conn.Do("HGETALL", recordKey(hash)))
	if err != nil {
		return index.Record{}, false, wrapErr(err)
	}
	if len(vals) == 0 {
		return index.Record{}, false, nil
	}

	rec := index.Record{Hash: hash, Host: vals["host"]}
	if lenStr, ok := vals["length"]; ok {
		if n, err := parseInt64(lenStr); err == nil {
			rec.Length = n
		}
	}
	if seenStr, ok := vals["first_seen"]; ok {
		if n, err := parseInt64(seenStr); err == nil {
			rec.FirstSeen = time.Unix(0, n)
		}
	}
	return rec, true, nil
}

// RecordBlobCompleted implements index.Index.
func (r *RedisIndex) RecordBlobCompleted(ctx context.Context, hash core.Hash, length int64, now time.Time) error {
	conn := r.pool.Get()
	defer conn.Close()

	key := recordKey(hash)
	exists, err := redis.Int(conn.Do("EXISTS", key))
	if err != nil {
		return wrapErr(err)
	}
	if exists > 0 {
		_, err := conn.Do("HSET", key, "length", length)
		return wrapErr(err)
	}
	_, err = conn.Do("HSET", key, "length", length, "first_seen", now.UnixNano())
	return wrapErr(err)
}

// AttachBlobToHost implements index.Index.
func (r *RedisIndex) AttachBlobToHost(ctx context.Context, hash core.Hash, host string) error {
	conn := r.pool.Get()
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("HSET", recordKey(hash), "host", host)
	conn.Send("SADD", clusterBlobsKey, hash.String())
	conn.Send("SADD", hostBlobsKey(host), hash.String())
	conn.Send("SADD", knownHostsKey, host)
	_, err := conn.Do("EXEC")
	return wrapErr(err)
}

// DetachBlobFromHost implements index.Index.
func (r *RedisIndex) DetachBlobFromHost(ctx context.Context, hash core.Hash) error {
	conn := r.pool.Get()
	defer conn.Close()

	rec, ok, err := r.GetRecord(ctx, hash)
	if err != nil {
		return err
	}
	if !ok || rec.Host == "" {
		return nil
	}

	conn.Send("MULTI")
	conn.Send("HSET", recordKey(hash), "host", "")
	conn.Send("SREM", clusterBlobsKey, hash.String())
	conn.Send("SREM", hostBlobsKey(rec.Host), hash.String())
	_, err = conn.Do("EXEC")
	return wrapErr(err)
}

// RegisterSDBlob implements index.Index.
func (r *RedisIndex) RegisterSDBlob(ctx context.Context, sdHash core.Hash, members []core.Hash) error {
	conn := r.pool.Get()
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("SADD", sdBlobsKey, sdHash.String())
	conn.Send("DEL", sdMembersKey(sdHash))
	for _, m := range members {
		conn.Send("RPUSH", sdMembersKey(sdHash), m.String())
	}
	_, err := conn.Do("EXEC")
	return wrapErr(err)
}

// MembersOfStream implements index.Index.
func (r *RedisIndex) MembersOfStream(ctx context.Context, sdHash core.Hash) ([]core.Hash, error) {
	conn := r.pool.Get()
	defer conn.Close()

	strs, err := redis.Strings(conn.Do("LRANGE", sdMembersKey(sdHash), 0, -1))
	if err != nil {
		return nil, wrapErr(err)
	}
	return parseHashes(strs)
}

// NeededBlobsForStream implements index.Index.
func (r *RedisIndex) NeededBlobsForStream(ctx context.Context, sdHash core.Hash) ([]core.Hash, bool, error) {
	conn := r.pool.Get()
	defer conn.Close()

	known, err := redis.Bool(conn.Do("SISMEMBER", sdBlobsKey, sdHash.String()))
	if err != nil {
		return nil, false, wrapErr(err)
	}
	if !known {
		return nil, false, nil
	}

	members, err := r.MembersOfStream(ctx, sdHash)
	if err != nil {
		return nil, false, err
	}

	var needed []core.Hash
	for _, m := range members {
		exists, err := r.BlobExists(ctx, m)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			needed = append(needed, m)
		}
	}
	return needed, true, nil
}

// HostCounts implements index.Index.
func (r *RedisIndex) HostCounts(ctx context.Context) (map[string]int, error) {
	conn := r.pool.Get()
	defer conn.Close()

	hosts, err := redis.Strings(conn.Do("SMEMBERS", knownHostsKey))
	if err != nil {
		return nil, wrapErr(err)
	}

	counts := make(map[string]int, len(hosts))
	for _, host := range hosts {
		n, err := redis.Int(conn.Do("SCARD", hostBlobsKey(host)))
		if err != nil {
			return nil, wrapErr(err)
		}
		if n > 0 {
			counts[host] = n
		}
	}
	return counts, nil
}

// HostBlobs implements index.Index.
func (r *RedisIndex) HostBlobs(ctx context.Context, host string) ([]core.Hash, error) {
	conn := r.pool.Get()
	defer conn.Close()

	strs, err := redis.Strings(conn.Do("SMEMBERS", hostBlobsKey(host)))
	if err != nil {
		return nil, wrapErr(err)
	}
	return parseHashes(strs)
}

// UnforwardedSDBlobs implements index.Index.
func (r *RedisIndex) UnforwardedSDBlobs(ctx context.Context) ([]core.Hash, error) {
	conn := r.pool.Get()
	defer conn.Close()

	strs, err := redis.Strings(conn.Do("SDIFF", sdBlobsKey, clusterBlobsKey))
	if err != nil {
		return nil, wrapErr(err)
	}
	return parseHashes(strs)
}

// DeleteRecord implements index.Index.
func (r *RedisIndex) DeleteRecord(ctx context.Context, hash core.Hash) error {
	conn := r.pool.Get()
	defer conn.Close()
	_, err := conn.Do("DEL", recordKey(hash))
	return wrapErr(err)
}

// Repair implements index.Index.
func (r *RedisIndex) Repair(ctx context.Context, hash core.Hash) error {
	rec, ok, err := r.GetRecord(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	conn := r.pool.Get()
	defer conn.Close()

	hosts, err := redis.Strings(conn.Do("SMEMBERS", knownHostsKey))
	if err != nil {
		return wrapErr(err)
	}

	conn.Send("MULTI")
	for _, host := range hosts {
		if host == rec.Host {
			continue
		}
		conn.Send("SREM", hostBlobsKey(host), hash.String())
	}
	if rec.Host != "" {
		conn.Send("SADD", hostBlobsKey(rec.Host), hash.String())
		conn.Send("SADD", clusterBlobsKey, hash.String())
	} else {
		conn.Send("SREM", clusterBlobsKey, hash.String())
	}
	_, err = conn.Do("EXEC")
	return wrapErr(err)
}

func parseHashes(strs []string) ([]core.Hash, error) {
	hashes := make([]core.Hash, 0, len(strs))
	for _, s := range strs {
		h, err := core.ParseHash(s)
		if err != nil {
			continue
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
