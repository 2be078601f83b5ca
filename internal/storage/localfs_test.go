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

package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/scidata/h5viewer/internal/herrors"
	"github.com/scidata/h5viewer/internal/storage"
)

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalFSOpenReadsBytes(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a", "b.h5"), []byte("hello"))

	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := fs.Open(context.Background(), "a/b.h5")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if stream.Size() != 5 {
		t.Fatalf("size = %d, want 5", stream.Size())
	}
	buf := make([]byte, 5)
	if _, err := stream.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("data = %q, want hello", buf)
	}
}

func TestLocalFSRejectsAbsoluteKey(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fs.Open(context.Background(), "/etc/passwd")
	if herrors.Classify(err) != herrors.KindForbidden {
		t.Fatalf("err = %v, want KindForbidden", err)
	}
}

func TestLocalFSRejectsDotDotEscape(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "keep.h5"), []byte("x"))
	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fs.Open(context.Background(), "../../../../etc/passwd")
	if herrors.Classify(err) != herrors.KindForbidden {
		t.Fatalf("err = %v, want KindForbidden", err)
	}
}

func TestLocalFSRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	mustWriteFile(t, filepath.Join(outside, "secret.h5"), []byte("shh"))
	if err := os.Symlink(filepath.Join(outside, "secret.h5"), filepath.Join(dir, "link.h5")); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}
	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fs.Open(context.Background(), "link.h5")
	if herrors.Classify(err) != herrors.KindForbidden {
		t.Fatalf("err = %v, want KindForbidden", err)
	}
}

func TestLocalFSOpenMissingKeyIsNotFound(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, err = fs.Open(context.Background(), "nope.h5")
	if herrors.Classify(err) != herrors.KindNotFound {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
}

func TestLocalFSListNonRecursive(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.h5"), []byte("1"))
	mustWriteFile(t, filepath.Join(dir, "sub", "b.h5"), []byte("22"))

	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	listing, err := fs.List(context.Background(), "", "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Key != "a.h5" {
		t.Fatalf("files = %+v, want just a.h5", listing.Files)
	}
	if len(listing.Folders) != 1 || listing.Folders[0] != "sub/" {
		t.Fatalf("folders = %v, want [sub/]", listing.Folders)
	}
}

func TestLocalFSListRecursive(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.h5"), []byte("1"))
	mustWriteFile(t, filepath.Join(dir, "sub", "b.h5"), []byte("22"))

	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	listing, err := fs.List(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Files) != 2 {
		t.Fatalf("files = %+v, want 2 entries", listing.Files)
	}
}

func TestLocalFSFreshnessChangesOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.h5")
	mustWriteFile(t, p, []byte("1"))

	fs, err := storage.NewLocalFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	f1, err := fs.Freshness(context.Background(), "a.h5")
	if err != nil {
		t.Fatal(err)
	}
	mustWriteFile(t, p, []byte("22"))
	f2, err := fs.Freshness(context.Background(), "a.h5")
	if err != nil {
		t.Fatal(err)
	}
	if f1 == f2 {
		t.Fatalf("freshness token did not change after write: %q", f1)
	}
}

func TestNewLocalFSRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "file.txt")
	mustWriteFile(t, p, []byte("x"))
	if _, err := storage.NewLocalFS(p); err == nil {
		t.Fatal("expected error constructing LocalFS over a file, got nil")
	}
}
