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

import (
	"errors"
	"testing"

	"github.com/scidata/h5viewer/internal/herrors"
)

func TestErrCorruptNilCauseStillClassifies(t *testing.T) {
	err := errCorrupt(nil, "bad signature")
	if err == nil {
		t.Fatal("errCorrupt(nil, ...) returned nil, want a classified error")
	}
	if herrors.Classify(err) != herrors.KindCorruptContainer {
		t.Fatalf("Classify(err) = %v, want KindCorruptContainer", herrors.Classify(err))
	}
}

func TestErrCorruptWrapsCause(t *testing.T) {
	cause := errors.New("short read")
	err := errCorrupt(cause, "read B-tree node header")
	if herrors.Classify(err) != herrors.KindCorruptContainer {
		t.Fatalf("Classify(err) = %v, want KindCorruptContainer", herrors.Classify(err))
	}
}

func TestErrUnsupportedClassification(t *testing.T) {
	err := errUnsupported("only v1 object headers are supported")
	if herrors.Classify(err) != herrors.KindUnsupportedFeature {
		t.Fatalf("Classify(err) = %v, want KindUnsupportedFeature", herrors.Classify(err))
	}
}
