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

// Package httpapi implements the §6 HTTP surface as thin handlers over
// engine.Engine: decode query parameters into a selection.Request, call
// the engine, and shape the JSON response (or CSV stream). No business
// logic lives here; it only translates between HTTP and the engine's Go
// API, including mapping every herrors.Kind to its HTTP status.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scidata/h5viewer/internal/engine"
	"github.com/scidata/h5viewer/internal/herrors"
	"github.com/scidata/h5viewer/internal/selection"
)

// Server adapts an engine.Engine to net/http.
type Server struct {
	engine *engine.Engine
	log    *logrus.Entry
	mux    *http.ServeMux
}

// NewServer builds a Server ready to be used as an http.Handler.
func NewServer(e *engine.Engine, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{engine: e, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/files", s.handleListFiles)
	s.mux.HandleFunc("/files/", s.handleKeyed)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type envelope struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("writing JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := herrors.Classify(err)
	s.writeJSON(w, kind.HTTPStatus(), envelope{Success: false, Error: err.Error(), Code: kind.Code()})
}

func (s *Server) writeOK(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func forbidden(w http.ResponseWriter, msg string) {
	body, _ := json.Marshal(envelope{Success: false, Error: msg, Code: herrors.KindForbidden.Code()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	w.Write(body)
}

// splitKeyedPath splits "/files/{key}/{op}" into (key, op). A key
// containing ".." is rejected outright, before any storage call (§8
// property 1).
func splitKeyedPath(urlPath string) (key, op string, ok bool) {
	rest := strings.TrimPrefix(urlPath, "/files/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	key = parts[0]
	op = parts[1]
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", "", false
	}
	return key, op, true
}

func (s *Server) handleKeyed(w http.ResponseWriter, r *http.Request) {
	key, op, ok := splitKeyedPath(r.URL.Path)
	if !ok {
		forbidden(w, "invalid or unsafe key")
		return
	}
	switch op {
	case "children":
		s.handleChildren(w, r, key)
	case "meta":
		s.handleMeta(w, r, key)
	case "preview":
		s.handlePreview(w, r, key)
	case "data":
		s.handleData(w, r, key)
	case "export/csv":
		s.handleExportCSV(w, r, key)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ctx, req, err := s.begin(r, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer req.Done()
	prefix := r.URL.Query().Get("prefix")
	if strings.Contains(prefix, "..") {
		forbidden(w, "invalid or unsafe prefix")
		return
	}
	out, err := s.engine.ListFiles(ctx, prefix, "/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, out)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request, key string) {
	ctx, req, err := s.begin(r, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer req.Done()
	path := pathParam(r)
	out, err := s.engine.Children(ctx, key, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, out)
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request, key string) {
	ctx, req, err := s.begin(r, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer req.Done()
	path := pathParam(r)
	out, err := s.engine.Meta(ctx, key, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, out)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, key string) {
	ctx, req, err := s.begin(r, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer req.Done()
	path := pathParam(r)
	out, err := s.engine.Preview(ctx, key, path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, out)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request, key string) {
	ctx, lreq, err := s.begin(r, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer lreq.Done()
	path := pathParam(r)
	mode := selection.Mode(r.URL.Query().Get("mode"))
	sel, err := parseSelection(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch mode {
	case selection.ModeMatrix:
		out, err := s.engine.ExtractMatrix(ctx, key, path, sel)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeOK(w, out)
	case selection.ModeLine:
		out, err := s.engine.ExtractLine(ctx, key, path, sel)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeOK(w, out)
	case selection.ModeHeatmap:
		out, err := s.engine.ExtractHeatmap(ctx, key, path, sel)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeOK(w, out)
	default:
		s.writeError(w, herrors.Newf(herrors.KindBadSelection, "unknown mode %q", mode))
	}
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request, key string) {
	ctx, lreq, err := s.begin(r, key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer lreq.Done()
	path := pathParam(r)
	mode := selection.Mode(r.URL.Query().Get("mode"))
	sel, err := parseSelection(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\"export.csv\"")
	if err := s.engine.ExportCSV(ctx, w, key, path, mode, sel); err != nil {
		// Headers are already sent; log the mid-stream failure rather
		// than attempt a JSON error body.
		s.log.WithError(err).WithField("key", key).WithField("path", path).Warn("CSV export failed mid-stream")
	}
}

// begin admits the request onto the lifecycle manager. The cancel key
// defaults to the resource key itself, so a second request against the
// same container supersedes an in-flight one unless the caller supplies
// its own cancel_key query parameter (§4.7).
func (s *Server) begin(r *http.Request, defaultCancelKey string) (context.Context, *beginResult, error) {
	cancelKey := r.URL.Query().Get("cancel_key")
	if cancelKey == "" {
		cancelKey = defaultCancelKey
	}
	lr, err := s.engine.Begin(r.Context(), cancelKey)
	if err != nil {
		return nil, nil, err
	}
	return lr.Ctx, &beginResult{done: lr.Done}, nil
}

type beginResult struct {
	done func()
}

func (b *beginResult) Done() { b.done() }

func pathParam(r *http.Request) string {
	p := r.URL.Query().Get("path")
	if p == "" {
		return "/"
	}
	return p
}

func parseSelection(r *http.Request) (selection.Request, error) {
	q := r.URL.Query()
	var req selection.Request
	var err error

	if dd := q.Get("display_dims"); dd != "" {
		parts := strings.SplitN(dd, ",", 2)
		if len(parts) != 2 {
			return selection.Request{}, herrors.New(herrors.KindBadSelection, "display_dims must be \"d0,d1\"")
		}
		d0, e1 := strconv.Atoi(parts[0])
		d1, e2 := strconv.Atoi(parts[1])
		if e1 != nil || e2 != nil {
			return selection.Request{}, herrors.New(herrors.KindBadSelection, "display_dims must be two integers")
		}
		req.DisplayDims = []int{d0, d1}
	}
	if fi := q.Get("fixed_indices"); fi != "" {
		req.FixedIndices = map[int]int{}
		for _, pair := range strings.Split(fi, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return selection.Request{}, herrors.New(herrors.KindBadSelection, "fixed_indices entries must be \"dim=index\"")
			}
			d, e1 := strconv.Atoi(kv[0])
			idx, e2 := strconv.Atoi(kv[1])
			if e1 != nil || e2 != nil {
				return selection.Request{}, herrors.New(herrors.KindBadSelection, "fixed_indices entries must be integers")
			}
			req.FixedIndices[d] = idx
		}
	}

	req.RowOffset, err = intParam(q, "row_offset", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.RowLimit, err = intParam(q, "row_limit", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.ColOffset, err = intParam(q, "col_offset", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.ColLimit, err = intParam(q, "col_limit", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.LineDim, err = intParam(q, "line_dim", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.LineIndex, err = intParam(q, "line_index", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.LineOffset, err = intParam(q, "line_offset", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.LineLimit, err = intParam(q, "line_limit", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.MaxPoints, err = intParam(q, "max_points", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.MaxSize, err = intParam(q, "max_size", 0)
	if err != nil {
		return selection.Request{}, err
	}
	req.Quality = selection.Quality(q.Get("quality"))
	req.IncludeStats = q.Get("include_stats") == "1"
	return req, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, herrors.Newf(herrors.KindBadSelection, "%s must be an integer", name)
	}
	return n, nil
}
