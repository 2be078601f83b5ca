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

// Package storage implements C1, the Storage Adapter: it turns an opaque
// storage key into a seekable byte stream, lists objects at a prefix, and
// reports a freshness token. Two concrete adapters are provided: an
// HTTP-range object-store adapter (objectstore.go) and a local filesystem
// adapter (localfs.go). The engine only ever depends on the Adapter
// interface defined here.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/scidata/h5viewer/internal/herrors"
)

// Object describes one storage entry discovered by List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	Freshness    string
}

// Listing is the result of a single non-recursive List call.
type Listing struct {
	Folders []string
	Files   []Object
}

// SeekableStream supports random-access ranged reads over one storage
// object's bytes. A full read of any byte range is atomic with respect to
// the freshness token returned at Open time: if bytes would differ, either
// Open returns a new token, or ReadAt fails with a Stale-classified error.
type SeekableStream interface {
	io.ReaderAt
	// Size is the total byte length of the object as of Open.
	Size() int64
	// Freshness is the token that was current when this stream was opened.
	Freshness() string
	Close() error
}

// Adapter is the contract every storage backend implements.
type Adapter interface {
	// List performs one non-recursive listing at prefix. delimiter="/"
	// groups common prefixes into virtual folders; delimiter="" returns a
	// flat recursive listing.
	List(ctx context.Context, prefix, delimiter string) (Listing, error)
	// Open returns a stream over key's current bytes.
	Open(ctx context.Context, key string) (SeekableStream, error)
	// Freshness is a cheap probe that doesn't open the full stream.
	Freshness(ctx context.Context, key string) (string, error)
	// SourceID identifies this adapter instance for cache-key namespacing
	// (§4.3's "(prefix, source-id)").
	SourceID() string
}

// ErrNotFound classifies a missing key.
func ErrNotFound(key string) error {
	return herrors.Newf(herrors.KindNotFound, "key not found: %q", key)
}

// ErrForbidden classifies a path-traversal or base-escape attempt.
func ErrForbidden(key string, cause error) error {
	if cause == nil {
		return herrors.Newf(herrors.KindForbidden, "path not permitted: %q", key)
	}
	return herrors.Wrapf(herrors.KindForbidden, cause, "path not permitted: %q", key)
}

// ErrUnavailable classifies a transport failure talking to storage.
func ErrUnavailable(cause error, msg string) error {
	return herrors.Wrap(herrors.KindUnavailable, cause, msg)
}

// ErrStale classifies a freshness token that changed mid-read.
func ErrStale(key string) error {
	return herrors.Newf(herrors.KindStale, "freshness token changed mid-read for %q", key)
}
