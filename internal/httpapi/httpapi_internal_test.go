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

package httpapi

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/scidata/h5viewer/internal/selection"
)

func TestSplitKeyedPath(t *testing.T) {
	cases := []struct {
		path    string
		wantKey string
		wantOp  string
		wantOK  bool
	}{
		{"/files/data.h5/children", "data.h5", "children", true},
		{"/files/sub/dir/data.h5/export/csv", "sub", "dir/data.h5/export/csv", true},
		{"/files/../etc/passwd/meta", "", "", false},
		{"/files//meta", "", "", false},
		{"/files/onlykey", "", "", false},
	}
	for _, c := range cases {
		key, op, ok := splitKeyedPath(c.path)
		if ok != c.wantOK {
			t.Fatalf("splitKeyedPath(%q) ok = %v, want %v", c.path, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if key != c.wantKey || op != c.wantOp {
			t.Fatalf("splitKeyedPath(%q) = (%q, %q), want (%q, %q)", c.path, key, op, c.wantKey, c.wantOp)
		}
	}
}

func TestPathParamDefaultsToRoot(t *testing.T) {
	r, _ := http.NewRequest("GET", "/files/x/meta", nil)
	if got := pathParam(r); got != "/" {
		t.Fatalf("pathParam default = %q, want /", got)
	}
}

func TestPathParamFromQuery(t *testing.T) {
	r, _ := http.NewRequest("GET", "/files/x/meta?path=/group/ds", nil)
	if got := pathParam(r); got != "/group/ds" {
		t.Fatalf("pathParam = %q, want /group/ds", got)
	}
}

func TestIntParamDefault(t *testing.T) {
	q := url.Values{}
	n, err := intParam(q, "row_limit", 42)
	if err != nil || n != 42 {
		t.Fatalf("intParam default = (%d, %v), want (42, nil)", n, err)
	}
}

func TestIntParamParsesValue(t *testing.T) {
	q := url.Values{"row_limit": {"7"}}
	n, err := intParam(q, "row_limit", 0)
	if err != nil || n != 7 {
		t.Fatalf("intParam = (%d, %v), want (7, nil)", n, err)
	}
}

func TestIntParamRejectsNonInteger(t *testing.T) {
	q := url.Values{"row_limit": {"nope"}}
	if _, err := intParam(q, "row_limit", 0); err == nil {
		t.Fatal("expected error for non-integer row_limit")
	}
}

func TestParseSelectionDisplayDims(t *testing.T) {
	r, _ := http.NewRequest("GET", "/?display_dims=1,2", nil)
	req, err := parseSelection(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.DisplayDims) != 2 || req.DisplayDims[0] != 1 || req.DisplayDims[1] != 2 {
		t.Fatalf("DisplayDims = %v, want [1 2]", req.DisplayDims)
	}
}

func TestParseSelectionFixedIndices(t *testing.T) {
	r, _ := http.NewRequest("GET", "/?fixed_indices=0=3,2=5", nil)
	req, err := parseSelection(r)
	if err != nil {
		t.Fatal(err)
	}
	if req.FixedIndices[0] != 3 || req.FixedIndices[2] != 5 {
		t.Fatalf("FixedIndices = %v, want {0:3 2:5}", req.FixedIndices)
	}
}

func TestParseSelectionRejectsMalformedFixedIndices(t *testing.T) {
	r, _ := http.NewRequest("GET", "/?fixed_indices=notapair", nil)
	if _, err := parseSelection(r); err == nil {
		t.Fatal("expected error for malformed fixed_indices")
	}
}

func TestParseSelectionIncludeStatsAndQuality(t *testing.T) {
	r, _ := http.NewRequest("GET", "/?include_stats=1&quality="+string(selection.QualityExact), nil)
	req, err := parseSelection(r)
	if err != nil {
		t.Fatal(err)
	}
	if !req.IncludeStats {
		t.Fatal("expected IncludeStats = true")
	}
	if req.Quality != selection.QualityExact {
		t.Fatalf("Quality = %q, want %q", req.Quality, selection.QualityExact)
	}
}

func TestParseSelectionDefaults(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	req, err := parseSelection(r)
	if err != nil {
		t.Fatal(err)
	}
	if req.IncludeStats {
		t.Fatal("expected IncludeStats default false")
	}
	if req.DisplayDims != nil {
		t.Fatalf("expected nil DisplayDims by default, got %v", req.DisplayDims)
	}
}
