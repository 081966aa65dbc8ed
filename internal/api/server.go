// Package api serves the parameter registry, command journal and sequence
// previews over HTTP.
package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/db"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/httputil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/monitoring"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/preview"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/protocol"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/serialmux"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/timeutil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m          serialmux.SerialMuxInterface
	dispatcher *serialmux.Dispatcher
	db         *db.DB
}

// NewServer builds a server around the dispatcher's registry. database may
// be nil, in which case the journal endpoints answer 503.
func NewServer(m serialmux.SerialMuxInterface, d *serialmux.Dispatcher, database *db.DB) *Server {
	return &Server{
		m:          m,
		dispatcher: d,
		db:         database,
	}
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

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/parameters", s.handleParameters)
	mux.HandleFunc("/api/parameters/", s.getParameter)
	mux.HandleFunc("/api/commands", s.listCommands)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/preview/pulses", s.showPulsePreview)
	mux.HandleFunc("/api/preview/raster.png", s.showRasterPreview)
	mux.HandleFunc("/api/version", s.showVersion)
	if mgr, ok := s.m.(*SerialPortManager); ok {
		mux.HandleFunc("/api/serial", s.serialSettingsHandler(mgr))
		mux.HandleFunc("/api/serial/reload", s.serialReloadHandler(mgr))
	}
	return mux
}

// commandResponse reports what one injected line did.
type commandResponse struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name,omitempty"`
	TypeTag string   `json:"type_tag,omitempty"`
	Value   string   `json:"value,omitempty"`
	Stored  string   `json:"stored,omitempty"`
	Status  string   `json:"status"`
	Replies []string `json:"replies"`
	Error   string   `json:"error,omitempty"`
}

// apply runs line through the dispatcher and forwards the replies to the
// link, exactly as if the line had arrived over serial.
func (s *Server) apply(r *http.Request, line string) commandResponse {
	out := s.dispatcher.HandleLine(r.Context(), serialmux.SourceHTTP, line)
	for _, reply := range out.Replies {
		if err := s.m.WriteLine(reply); err != nil {
			monitoring.Logf("api: failed to forward reply %q: %v", reply, err)
		}
	}

	resp := commandResponse{
		Kind:    out.Kind.String(),
		Name:    out.Command.Name,
		TypeTag: out.Command.TypeTag,
		Value:   out.Command.Value,
		Stored:  out.Result.Value,
		Replies: out.Replies,
	}
	if resp.Replies == nil {
		resp.Replies = []string{}
	}
	switch {
	case out.Err != nil:
		resp.Status = db.StatusMalformed
		resp.Error = out.Err.Error()
	case out.Kind == protocol.KindParameter && !out.Result.OK():
		resp.Status = db.StatusUnknownName
		resp.Error = params.ErrUnknownParameter.Error()
	case out.Kind == protocol.KindParameter:
		resp.Status = db.StatusApplied
	case out.Kind == protocol.KindUnknown:
		resp.Status = db.StatusIgnored
	default:
		resp.Status = db.StatusHandled
	}
	return resp
}

// sendCommandHandler injects one raw protocol line.
func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "Missing command")
		return
	}

	resp := s.apply(r, command)
	status := http.StatusOK
	if resp.Status == db.StatusMalformed {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, resp)
}

type setParameterRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.dispatcher.Registry.Values())
	case http.MethodPost:
		s.setParameter(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// setParameter handles POST /api/parameters. The value goes through the same
// path as a serial command.
func (s *Server) setParameter(w http.ResponseWriter, r *http.Request) {
	var req setParameterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if !params.Known(req.Name) {
		httputil.NotFound(w, params.ErrUnknownParameter.Error()+": "+req.Name)
		return
	}
	if err := protocol.CheckToken(req.Name + req.Value); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	resp := s.apply(r, protocol.FormatParameter(req.Name, req.Value))
	if resp.Status != db.StatusApplied {
		httputil.BadRequest(w, resp.Error)
		return
	}
	httputil.WriteJSONOK(w, resp)
}

// getParameter handles GET /api/parameters/{name}.
func (s *Server) getParameter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/parameters/"), "/")
	if name == "" {
		httputil.BadRequest(w, "Missing parameter name")
		return
	}

	info, ok := params.Lookup(name)
	if !ok {
		httputil.NotFound(w, params.ErrUnknownParameter.Error()+": "+name)
		return
	}
	value, _ := s.dispatcher.Registry.Get(name)
	httputil.WriteJSONOK(w, params.Value{FieldInfo: info, Value: value})
}

func (s *Server) requireJournal(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "command journal disabled")
		return false
	}
	return true
}

// listCommands handles GET /api/commands?name=&status=&session=&limit=&tz=.
func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireJournal(w) {
		return
	}

	q := r.URL.Query()
	query := db.CommandQuery{
		SessionID: q.Get("session"),
		Name:      q.Get("name"),
		Status:    q.Get("status"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		query.Limit = n
	}
	tz, ok := timezoneParam(w, r)
	if !ok {
		return
	}

	records, err := s.db.Commands(r.Context(), query)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve commands: "+err.Error())
		return
	}
	if records == nil {
		records = []db.CommandRecord{}
	}
	for i := range records {
		records[i].ReceivedAt, _ = timeutil.ConvertTime(records[i].ReceivedAt, tz)
	}
	httputil.WriteJSONOK(w, records)
}

// timezoneParam reads the optional ?tz= used to render journal timestamps.
func timezoneParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tz := r.URL.Query().Get("tz")
	if tz != "" && !timeutil.IsTimezoneValid(tz) {
		httputil.BadRequest(w, "Invalid 'tz' parameter")
		return "", false
	}
	return tz, true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireJournal(w) {
		return
	}
	tz, ok := timezoneParam(w, r)
	if !ok {
		return
	}

	sessions, err := s.db.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	for i := range sessions {
		sessions[i].Started, _ = timeutil.ConvertTime(sessions[i].Started, tz)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"current":  s.db.SessionID,
		"sessions": sessions,
	})
}

func (s *Server) showPulsePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	buf := bytes.NewBuffer(nil)
	if err := preview.RenderTimingPage(buf, s.dispatcher.Registry.Snapshot()); err != nil {
		httputil.InternalServerError(w, "Failed to render pulse preview: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showRasterPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	size := 6 * vg.Inch
	if v := r.URL.Query().Get("size"); v != "" {
		in, err := strconv.ParseFloat(v, 64)
		if err != nil || in < 1 || in > 20 {
			httputil.BadRequest(w, "Invalid 'size' parameter")
			return
		}
		size = vg.Length(in) * vg.Inch
	}

	buf := bytes.NewBuffer(nil)
	err := preview.RenderRasterPNG(buf, s.dispatcher.Registry.Snapshot(), size, size)
	if errors.Is(err, preview.ErrNoRasterData) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "Failed to render raster preview: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}
	if s.db != nil {
		resp["session_id"] = s.db.SessionID
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) serialSettingsHandler(mgr *SerialPortManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, mgr.Settings())
	}
}

func (s *Server) serialReloadHandler(mgr *SerialPortManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		var req SerialSettings
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		result, err := mgr.Reload(r.Context(), req)
		if err != nil {
			httputil.WriteJSON(w, http.StatusInternalServerError, SerialReloadResult{Success: false, Message: err.Error()})
			return
		}
		httputil.WriteJSONOK(w, result)
	}
}
