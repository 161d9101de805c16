// Package api serves the robot's HTTP surface: snapshot and status reads,
// external detection input, a websocket telemetry stream, and /debug/ admin
// routes.
package api

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rescuebot/internal/db"
	"github.com/banshee-data/rescuebot/internal/httputil"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/navigation"
	"github.com/banshee-data/rescuebot/internal/perception"
	"github.com/banshee-data/rescuebot/internal/rescue"
)

// ANSI colours for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// StatusSource reports the controller status.
type StatusSource interface {
	Status() navigation.Status
}

// DetectionSink accepts external detection batches.
type DetectionSink interface {
	Update(dets []rescue.Detection) int
	Latest() ([]rescue.Detection, bool)
}

// Options configure a Server. Snapshots and Status are required.
type Options struct {
	Snapshots  navigation.SnapshotSource
	Status     StatusSource
	Detections DetectionSink
	// Journal is optional; the /api/runs routes answer 503 without it.
	Journal *db.DB
	// StreamInterval is the websocket push period. Defaults to 200ms.
	StreamInterval time.Duration
	// AllowedOrigins are extra browser origins (scheme://host[:port]) that
	// may post detections and open the stream. Same-host pages and clients
	// without an Origin header are always let through.
	AllowedOrigins []string
}

type Server struct {
	snapshots  navigation.SnapshotSource
	status     StatusSource
	detections DetectionSink
	journal    *db.DB
	interval   time.Duration
	origins    map[string]bool
	upgrader   websocket.Upgrader
}

func NewServer(opts Options) *Server {
	interval := opts.StreamInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	s := &Server{
		snapshots:  opts.Snapshots,
		status:     opts.Status,
		detections: opts.Detections,
		journal:    opts.Journal,
		interval:   interval,
		origins:    make(map[string]bool, len(opts.AllowedOrigins)),
	}
	for _, o := range opts.AllowedOrigins {
		s.origins[normaliseOrigin(o)] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

func normaliseOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

// originAllowed rejects browser requests from pages other than the
// dashboard itself or a configured origin.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return s.origins[normaliseOrigin(origin)]
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Hijack is needed by the websocket upgrade on /api/stream.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + s + colorReset
	case code >= 300 && code < 400:
		return colorYellow + s + colorReset
	case code >= 400:
		return colorBoldRed + s + colorReset
	default:
		return s
	}
}

// LoggingMiddleware logs method, path, status and duration. Requests to
// /api/status and /api/snapshot are polled by dashboards and only logged
// in debug mode.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf := monitoring.Logf
		if r.URL.Path == "/api/status" || r.URL.Path == "/api/snapshot" {
			logf = monitoring.Debugf
		}
		logf("[http] [%s] %s %s%s%s %.2fms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/stream", s.stream)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}/ticks", s.listTicks)
	return mux
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.snapshots.Latest()
	if snap == nil {
		httputil.NotFound(w, "no frame processed yet")
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.status.Status())
}

// DetectionsRequest is the body of POST /api/detections.
type DetectionsRequest struct {
	Detections []rescue.Detection `json:"detections"`
}

type detectionsResponse struct {
	Received int `json:"received"`
	Kept     int `json:"kept"`
}

type latestDetections struct {
	Detections []rescue.Detection `json:"detections"`
	Fresh      bool               `json:"fresh"`
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.detections == nil {
		httputil.ServiceUnavailable(w, "detections are not enabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
		dets, fresh := s.detections.Latest()
		httputil.WriteJSONOK(w, latestDetections{Detections: dets, Fresh: fresh})
	case http.MethodPost:
		if !s.originAllowed(r) {
			monitoring.Logf("[http] detections from origin %q refused", r.Header.Get("Origin"))
			httputil.Forbidden(w, "origin not allowed")
			return
		}
		var req DetectionsRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		kept := s.detections.Update(req.Detections)
		monitoring.Debugf("[rescue] %d/%d detections accepted", kept, len(req.Detections))
		httputil.WriteJSONOK(w, detectionsResponse{Received: len(req.Detections), Kept: kept})
	default:
		httputil.MethodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs, err := s.journal.Runs(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// tickRow is the JSON shape of a journal tick.
type tickRow struct {
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	State     string    `json:"state"`
	Button    string    `json:"button"`
	Slope     *float64  `json:"slope"`
	LastLineX int       `json:"last_line_x"`
	FrameSeq  uint64    `json:"frame_seq"`
	MotorL    int       `json:"motor_l"`
	MotorR    int       `json:"motor_r"`
	Front     float64   `json:"dist_front"`
}

func (s *Server) listTicks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.ServiceUnavailable(w, "journal is not enabled")
		return
	}
	id := r.PathValue("id")
	if id == "latest" {
		latest, err := s.journal.LatestRunID(r.Context())
		if errors.Is(err, db.ErrRunNotFound) {
			httputil.NotFound(w, "no runs recorded")
			return
		} else if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		id = latest
	}
	ticks, err := s.journal.Ticks(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	rows := make([]tickRow, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, tickRow{
			Seq: t.Seq, At: t.At, State: t.State.String(), Button: t.Button,
			Slope: t.Slope, LastLineX: t.LastLineX, FrameSeq: t.FrameSeq,
			MotorL: t.MotorL, MotorR: t.MotorR, Front: t.Distances.Front,
		})
	}
	httputil.WriteJSONOK(w, rows)
}

// AttachAdminRoutes mounts perception debugging endpoints under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("snapshot", "Latest perception snapshot (JSON)", func(w http.ResponseWriter, r *http.Request) {
		s.showSnapshot(w, r)
	})
	debug.HandleFunc("controller", "Controller status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		s.showStatus(w, r)
	})
	debug.HandleFunc("detections", "Latest external detections", func(w http.ResponseWriter, r *http.Request) {
		if s.detections == nil {
			httputil.ServiceUnavailable(w, "detections are not enabled")
			return
		}
		dets, fresh := s.detections.Latest()
		fmt.Fprintf(w, "fresh: %v\n", fresh)
		for _, d := range dets {
			fmt.Fprintf(w, "%s at (%.0f,%.0f) %.0fx%.0f\n", d.ClassID, d.CenterX, d.CenterY, d.Width, d.Height)
		}
	})
}

var _ DetectionSink = (*rescue.DetectionStore)(nil)
var _ navigation.SnapshotSource = (*perception.Store)(nil)
