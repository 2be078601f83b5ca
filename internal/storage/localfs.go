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

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocalFS resolves keys against a configured base directory and rejects
// anything that would escape it, including symlink escapes.
type LocalFS struct {
	base string
	log  *logrus.Entry
}

// NewLocalFS validates that baseDir exists and is a readable directory,
// then returns an Adapter rooted there.
func NewLocalFS(baseDir string) (*LocalFS, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir %q: %w", baseDir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("base dir %q does not exist: %w", baseDir, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat base dir %q: %w", baseDir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("base dir %q is not a directory", baseDir)
	}
	return &LocalFS{
		base: resolved,
		log:  logrus.WithField("component", "storage.localfs").WithField("base", resolved),
	}, nil
}

func (l *LocalFS) SourceID() string { return "local:" + l.base }

// resolve maps a storage key onto a real filesystem path, rejecting any
// path (including via symlinks) that resolves outside l.base.
func (l *LocalFS) resolve(key string) (string, error) {
	if strings.HasPrefix(key, "/") {
		return "", ErrForbidden(key, fmt.Errorf("absolute keys are not permitted"))
	}
	if strings.Contains(key, "..") {
		return "", ErrForbidden(key, fmt.Errorf("path traversal is not permitted"))
	}
	clean := filepath.Clean("/" + key) // "/" prefix neutralizes leading ".."
	joined := filepath.Join(l.base, clean)
	if !strings.HasPrefix(joined, l.base+string(filepath.Separator)) && joined != l.base {
		return "", ErrForbidden(key, fmt.Errorf("escapes base directory"))
	}
	// Re-resolve symlinks on the final path: a symlink inside base may
	// point outside it.
	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		if !strings.HasPrefix(resolved, l.base+string(filepath.Separator)) && resolved != l.base {
			return "", ErrForbidden(key, fmt.Errorf("symlink escapes base directory"))
		}
		return resolved, nil
	}
	// Fine for a not-yet-existing path (List on an empty prefix, etc.); the
	// syntactic check above already rejected traversal.
	return joined, nil
}

func (l *LocalFS) List(ctx context.Context, prefix, delimiter string) (Listing, error) {
	dir, err := l.resolve(prefix)
	if err != nil {
		return Listing{}, err
	}
	var out Listing
	if delimiter == "" {
		err = filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(l.base, p)
			if err != nil {
				return err
			}
			out.Files = append(out.Files, l.objectFor(filepath.ToSlash(rel), info))
			return nil
		})
		if err != nil {
			return Listing{}, ErrUnavailable(err, "walk local storage")
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return Listing{}, ErrNotFound(prefix)
			}
			return Listing{}, ErrUnavailable(err, "list local storage")
		}
		for _, e := range entries {
			rel := filepath.ToSlash(filepath.Join(prefix, e.Name()))
			if e.IsDir() {
				out.Folders = append(out.Folders, rel+"/")
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out.Files = append(out.Files, l.objectFor(rel, info))
		}
	}
	sort.Strings(out.Folders)
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Key < out.Files[j].Key })
	return out, nil
}

func (l *LocalFS) objectFor(key string, info os.FileInfo) Object {
	return Object{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Freshness:    freshnessToken(info),
	}
}

func freshnessToken(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}

func (l *LocalFS) Freshness(ctx context.Context, key string) (string, error) {
	p, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound(key)
		}
		return "", ErrUnavailable(err, "stat local storage")
	}
	return freshnessToken(fi), nil
}

func (l *LocalFS) Open(ctx context.Context, key string) (SeekableStream, error) {
	p, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound(key)
		}
		return nil, ErrUnavailable(err, "open local storage")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ErrUnavailable(err, "stat opened local file")
	}
	return &localStream{f: f, size: fi.Size(), freshness: freshnessToken(fi)}, nil
}

type localStream struct {
	f         *os.File
	size      int64
	freshness string
}

func (s *localStream) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *localStream) Size() int64                              { return s.size }
func (s *localStream) Freshness() string                        { return s.freshness }
func (s *localStream) Close() error                              { return s.f.Close() }
