/*
   Copyright The h5viewer Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package readerpool implements the reader pool (C2): a bounded set of
// open hdf5.Container handles, leased by storage object key and refcounted
// so concurrent requests against the same container share one decode of
// its superblock and object-header cache instead of re-parsing it per
// request.
//
// Handles are indexed by the storage key string rather than by pointer
// (an "arena index" in the sense the teacher's snapshotter uses content
// digests rather than pointers to name a layer): a key always resolves to
// whatever is currently live for it, so a caller holding a key across an
// await point never needs to worry about a stale pointer.
package readerpool

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/scidata/h5viewer/internal/hdf5"
	"github.com/scidata/h5viewer/internal/storage"
)

// Handle is a leased reference to an open container. Callers must call
// Release exactly once per successful Acquire.
type Handle struct {
	pool      *Pool
	key       string
	stream    storage.SeekableStream
	container *hdf5.Container
	token     string

	mu         sync.Mutex
	refs       int
	superseded bool
}

// Container returns the decoded HDF5 container this handle leases.
func (h *Handle) Container() *hdf5.Container { return h.container }

// Token returns the freshness token current at the time this handle was
// acquired. Callers that cache a result derived from the container must
// fold this into their cache key, per the rule that a cached value is only
// valid for the freshness token it was computed under.
func (h *Handle) Token() string { return h.token }

// Release gives the handle back to the pool. The underlying container
// stays open, idle, until evicted by capacity pressure or superseded by a
// fresher open of the same key.
func (h *Handle) Release() { h.pool.release(h) }

// Pool bounds how many containers are open at once.
type Pool struct {
	adapter storage.Adapter
	cache   hdf5.ChunkCache
	log     *logrus.Entry

	mu     sync.Mutex
	active map[string]*Handle // key -> the handle currently considered current
	idle   *lru.Cache         // key -> *Handle, only entries with refs==0
}

// New returns a Pool that opens containers from adapter, shares a single
// chunk cache across all of them, and keeps at most maxOpen idle (released)
// containers open, closing the least recently released first. Containers
// currently leased are not counted against maxOpen.
func New(adapter storage.Adapter, chunkCache hdf5.ChunkCache, maxOpen int, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pool{
		adapter: adapter,
		cache:   chunkCache,
		log:     log,
		active:  make(map[string]*Handle),
	}
	idle, err := lru.NewWithEvict(maxOpen, p.onEvictIdle)
	if err != nil {
		idle, _ = lru.NewWithEvict(1, p.onEvictIdle)
	}
	p.idle = idle
	return p
}

// onEvictIdle runs synchronously from inside p.idle.Add/Remove, which this
// package only ever calls while already holding p.mu; it must not attempt
// to re-acquire it.
func (p *Pool) onEvictIdle(key interface{}, value interface{}) {
	h := value.(*Handle)
	if cur, ok := p.active[h.key]; ok && cur == h {
		delete(p.active, h.key)
	}
	if err := h.stream.Close(); err != nil {
		p.log.WithError(err).WithField("key", h.key).Warn("closing evicted container")
	}
}

// Acquire returns a live handle to the container stored at key, opening it
// if this is the first request for key, or reopening it if the object's
// freshness token changed since the currently-active handle was opened
// (the underlying object was overwritten since).
func (p *Pool) Acquire(ctx context.Context, key string) (*Handle, error) {
	p.mu.Lock()
	if h, ok := p.active[key]; ok {
		fresh, err := p.adapter.Freshness(ctx, key)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if fresh == h.token {
			h.mu.Lock()
			h.refs++
			h.mu.Unlock()
			p.idle.Remove(key) // no-op if h wasn't idle
			p.mu.Unlock()
			return h, nil
		}
		delete(p.active, key)
		h.superseded = true
	}
	p.mu.Unlock()

	stream, err := p.adapter.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	container, err := hdf5.OpenRoot(stream, stream.Size(), p.adapter.SourceID()+":"+key+"@"+stream.Freshness(), p.cache)
	if err != nil {
		stream.Close()
		return nil, err
	}
	h := &Handle{
		pool:      p,
		key:       key,
		stream:    stream,
		container: container,
		token:     stream.Freshness(),
		refs:      1,
	}

	p.mu.Lock()
	p.active[key] = h
	p.mu.Unlock()
	return h, nil
}

func (p *Pool) release(h *Handle) {
	h.mu.Lock()
	h.refs--
	refs := h.refs
	h.mu.Unlock()
	if refs > 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.active[h.key]; ok && cur == h && !h.superseded {
		p.idle.Add(h.key, h)
		return
	}
	// Superseded by a newer open, or already displaced: close now instead
	// of waiting for LRU pressure to get around to it.
	if err := h.stream.Close(); err != nil {
		p.log.WithError(err).WithField("key", h.key).Warn("closing superseded container")
	}
}

// Len reports how many containers the pool currently holds open
// (leased + idle), for metrics and tests.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) + p.idle.Len()
}
