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

package herrors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestTableCoversSpecKinds(t *testing.T) {
	cases := []struct {
		kind      Kind
		status    int
		retryable bool
	}{
		{KindNotFound, 404, false},
		{KindForbidden, 400, false},
		{KindBadSelection, 400, false},
		{KindUnsupportedElementType, 422, false},
		{KindRangeTooLarge, 413, false},
		{KindOutOfRange, 400, false},
		{KindCorruptContainer, 500, false},
		{KindStale, 409, true},
		{KindUnavailable, 503, true},
		{KindBusy, 503, true},
		{KindCancelled, 499, false},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.status {
			t.Errorf("%v.HTTPStatus() = %d, want %d", c.kind, got, c.status)
		}
		if got := c.kind.Retryable(); got != c.retryable {
			t.Errorf("%v.Retryable() = %v, want %v", c.kind, got, c.retryable)
		}
	}
}

func TestUnsupportedFeatureHasItsOwnCode(t *testing.T) {
	if KindUnsupportedFeature.Code() == KindCorruptContainer.Code() {
		t.Fatal("UnsupportedFeature must not share CorruptContainer's wire code")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if err := Wrap(KindCorruptContainer, nil, "msg"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
	if err := Wrapf(KindCorruptContainer, nil, "msg %d", 1); err != nil {
		t.Fatalf("Wrapf(nil) = %v, want nil", err)
	}
}

func TestClassifyRecoversKindThroughWrapping(t *testing.T) {
	base := New(KindNotFound, "no such path")
	wrapped := errors.Wrap(base, "while resolving")
	if got := Classify(wrapped); got != KindNotFound {
		t.Fatalf("Classify(wrapped) = %v, want %v", got, KindNotFound)
	}
}

func TestClassifyUnclassifiedErrorIsUnknown(t *testing.T) {
	if got := Classify(fmt.Errorf("plain error")); got != KindUnknown {
		t.Fatalf("Classify(plain) = %v, want %v", got, KindUnknown)
	}
}

func TestClassifyNilIsUnknown(t *testing.T) {
	if got := Classify(nil); got != KindUnknown {
		t.Fatalf("Classify(nil) = %v, want %v", got, KindUnknown)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := Wrap(KindUnavailable, cause, "fetching object")
	if err == nil {
		t.Fatal("Wrap with non-nil cause returned nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "underlying failure") {
		t.Fatalf("error message %q does not include the cause", msg)
	}
}
