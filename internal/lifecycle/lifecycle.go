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

// Package lifecycle implements the request lifecycle (C7): per-request
// cancellation tokens, a process-wide concurrency limit, and a per-client
// "cancel previous" registry, so a new request on the same channel
// supersedes an in-flight one rather than queuing behind it.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"

	"github.com/scidata/h5viewer/internal/herrors"
)

// Manager owns the concurrency semaphore and the cancel-key registry. One
// Manager is a constructor-injected singleton shared by every request
// handler (§9: no free-floating global state).
type Manager struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New returns a Manager admitting at most maxConcurrent simultaneous
// extractions.
func New(maxConcurrent int64) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		sem:     semaphore.NewWeighted(maxConcurrent),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Request is one admitted, cancellable unit of work. Done must be called
// exactly once to release its concurrency slot.
type Request struct {
	ID   string
	Ctx  context.Context
	Done func()
}

// Begin admits a new request, blocking up to queueTimeout for a
// concurrency slot (surfacing Busy on timeout), and registers its
// cancellation under cancelKey if non-empty, cancelling whatever request
// was previously registered under the same key.
func (m *Manager) Begin(parent context.Context, cancelKey string, queueTimeout time.Duration) (*Request, error) {
	if parent.Err() != nil {
		return nil, herrors.New(herrors.KindCancelled, "request cancelled before admission")
	}

	waitCtx, waitCancel := context.WithTimeout(parent, queueTimeout)
	defer waitCancel()
	if err := m.sem.Acquire(waitCtx, 1); err != nil {
		if parent.Err() != nil {
			return nil, herrors.New(herrors.KindCancelled, "request cancelled while queued")
		}
		return nil, herrors.New(herrors.KindBusy, "too many concurrent extractions; try again shortly")
	}

	ctx, cancel := context.WithCancel(parent)
	id := xid.New().String()

	// superseded is set (under m.mu) when a newer request on the same
	// cancel key cancels this one, after which the registration belongs to
	// the newer request and Done must leave it in place.
	superseded := false
	if cancelKey != "" {
		m.mu.Lock()
		if prevCancel, ok := m.cancels[cancelKey]; ok {
			prevCancel()
		}
		m.cancels[cancelKey] = func() {
			superseded = true
			cancel()
		}
		m.mu.Unlock()
	}

	released := false
	done := func() {
		if released {
			return
		}
		released = true
		if cancelKey != "" {
			m.mu.Lock()
			if !superseded {
				delete(m.cancels, cancelKey)
			}
			m.mu.Unlock()
		}
		cancel()
		m.sem.Release(1)
	}
	return &Request{ID: id, Ctx: ctx, Done: done}, nil
}

// Classify maps any error produced during a request (including ones from
// deeper layers) to its herrors.Kind, defaulting requests cancelled via
// ctx.Err() to KindCancelled.
func Classify(ctx context.Context, err error) herrors.Kind {
	if err == nil {
		return herrors.KindUnknown
	}
	if ctx.Err() != nil {
		return herrors.KindCancelled
	}
	return herrors.Classify(err)
}
