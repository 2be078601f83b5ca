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

package hdf5

import "github.com/scidata/h5viewer/internal/herrors"

// errCorrupt classifies a byte stream that doesn't parse as a valid
// container, or whose internal structure is self-inconsistent. cause may
// be nil when the inconsistency was detected directly (a bad signature, an
// out-of-range offset) rather than surfaced by a lower-level read error.
func errCorrupt(cause error, msg string) error {
	if cause == nil {
		return herrors.New(herrors.KindCorruptContainer, msg)
	}
	return herrors.Wrap(herrors.KindCorruptContainer, cause, msg)
}

// errUnsupported classifies a structurally valid container that uses a
// version or feature this reader doesn't implement (new-style link storage,
// a filter other than deflate, a superblock version beyond 1, ...).
func errUnsupported(msg string) error {
	return herrors.New(herrors.KindUnsupportedFeature, msg)
}
