// Package control exposes the HTTP control surface for the capture service.
//
// The package registers the following endpoints:
//
//   - POST /v1/capture/initialize — open the capture device; retryable.
//   - POST /v1/capture/start      — begin draining packets into the buffer.
//   - POST /v1/capture/stop       — halt the stream; buffered audio is kept.
//   - GET  /v1/capture/status     — state, run ID, format, buffer fill.
//   - POST /v1/export             — write the buffered audio as a WAV file.
//   - GET  /v1/export/download    — stream the WAV over the response body.
//   - GET  /v1/live               — WebSocket tap of normalized PCM.
//
// Successful responses carry {"ok": true} plus the operation payload; errors
// carry {"ok": false, "kind": ..., "error": ...} where kind is a stable
// machine-readable string ("already_running", "not_initialized",
// "nothing_captured", "device_unavailable", "write_failure", "bad_request").
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ReaperCord/ghostWriter/internal/config"
	"github.com/ReaperCord/ghostWriter/internal/observe"
	"github.com/ReaperCord/ghostWriter/internal/recorder"
)

// Server wires the recorder to the HTTP API. It is safe for concurrent use;
// all mutable state lives in the recorder.
type Server struct {
	rec     *recorder.Recorder
	exports config.ExportConfig
	metrics *observe.Metrics
}

// NewServer creates a control server for rec. The export config supplies the
// target directory, default sample rate, and filename prefix for exports
// that don't specify their own.
func NewServer(rec *recorder.Recorder, exports config.ExportConfig, m *observe.Metrics) (*Server, error) {
	if rec == nil {
		return nil, errors.New("control: recorder must not be nil")
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if exports.SampleRate == 0 {
		exports.SampleRate = 16000
	}
	if exports.Directory == "" {
		exports.Directory = "."
	}
	if exports.FilenamePrefix == "" {
		exports.FilenamePrefix = "capture"
	}
	return &Server{rec: rec, exports: exports, metrics: m}, nil
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/capture/initialize", s.handleInitialize)
	mux.HandleFunc("POST /v1/capture/start", s.handleStart)
	mux.HandleFunc("POST /v1/capture/stop", s.handleStop)
	mux.HandleFunc("GET /v1/capture/status", s.handleStatus)
	mux.HandleFunc("POST /v1/export", s.handleExport)
	mux.HandleFunc("GET /v1/export/download", s.handleDownload)
	mux.HandleFunc("GET /v1/live", s.handleLive)
}

// statusResponse wraps the recorder status with the ok flag.
type statusResponse struct {
	OK bool `json:"ok"`
	recorder.Status
}

// exportResponse wraps an export result with the ok flag.
type exportResponse struct {
	OK bool `json:"ok"`
	recorder.ExportResult
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// exportRequest is the optional JSON body of POST /v1/export.
type exportRequest struct {
	// Path of the output file. Relative paths are resolved against the
	// export directory; empty means a generated name under that directory.
	Path string `json:"path"`

	// SampleRate of the exported audio in Hz. Zero selects the configured
	// default.
	SampleRate int `json:"sample_rate"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.Initialize(r.Context()); err != nil {
		if errors.Is(err, recorder.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "already_running", err)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "device_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: s.rec.Status()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.Start(); err != nil {
		switch {
		case errors.Is(err, recorder.ErrNotInitialized):
			writeError(w, http.StatusConflict, "not_initialized", err)
		case errors.Is(err, recorder.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "already_running", err)
		default:
			writeError(w, http.StatusServiceUnavailable, "device_unavailable", err)
		}
		return
	}
	st := s.rec.Status()
	observe.TagRun(r.Context(), st.RunID)
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: st})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.rec.Stop()
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: s.rec.Status()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: s.rec.Status()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Errorf("control: decode export request: %w", err))
		return
	}
	if req.SampleRate < 0 {
		writeError(w, http.StatusBadRequest, "bad_request",
			fmt.Errorf("control: invalid sample rate %d", req.SampleRate))
		return
	}

	rate := req.SampleRate
	if rate == 0 {
		rate = s.exports.SampleRate
	}

	path := req.Path
	switch {
	case path == "":
		path = filepath.Join(s.exports.Directory, s.exportFilename(time.Now()))
	case !filepath.IsAbs(path):
		path = filepath.Join(s.exports.Directory, path)
	}

	observe.TagRun(r.Context(), s.rec.Status().RunID)
	res, err := s.rec.ExportToFile(path, rate)
	if err != nil {
		status, kind := exportStatus(err)
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{OK: true, ExportResult: res})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rate := s.exports.SampleRate
	if q := r.URL.Query().Get("sample_rate"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request",
				fmt.Errorf("control: sample_rate query must be a positive integer, got %q", q))
			return
		}
		rate = n
	}

	name := s.exportFilename(time.Now())
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	cw := &countingWriter{w: w}
	if _, err := s.rec.ExportTo(cw, rate); err != nil {
		if cw.n == 0 {
			// Headers not flushed yet; the error response can still win.
			w.Header().Del("Content-Type")
			w.Header().Del("Content-Disposition")
			status, kind := exportStatus(err)
			writeError(w, status, kind, err)
			return
		}
		// Mid-stream failure: the client sees a truncated body and the
		// buffer is preserved for a retry.
		observe.Logger(r.Context()).Error("download aborted mid-stream",
			"bytes_written", cw.n,
			"err", err,
		)
	}
}

// exportStatus maps an export error to its HTTP status and error kind.
func exportStatus(err error) (int, string) {
	if errors.Is(err, recorder.ErrNothingCaptured) {
		return http.StatusConflict, "nothing_captured"
	}
	return http.StatusInternalServerError, "write_failure"
}

// exportFilename returns a unique name like capture-20260301-154500-9f2c41aa.wav.
func (s *Server) exportFilename(now time.Time) string {
	return fmt.Sprintf("%s-%s-%s.wav",
		s.exports.FilenamePrefix,
		now.Format("20060102-150405"),
		uuid.NewString()[:8],
	)
}

// countingWriter tracks how many bytes reached the underlying writer so the
// download handler knows whether headers already went out.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"ok":false,"kind":"internal"}`, http.StatusInternalServerError)
	}
}

// writeError writes the error envelope with a stable kind string.
func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Kind: kind, Error: err.Error()})
}
