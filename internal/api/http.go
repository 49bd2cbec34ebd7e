package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prizedraw/internal/draw"
	"prizedraw/internal/lockreg"
	"prizedraw/internal/obs"
	"prizedraw/internal/payment"
	"prizedraw/internal/storage"
)

type Deps struct {
	Engine    *draw.Engine
	Payments  *payment.Service
	Registry  *lockreg.Registry
	Store     *storage.Store // backups; optional
	BackupDir string
	Gatherer  prometheus.Gatherer // nil = default registry
	Logger    *obs.Logger
	// RetryAfter is the hint returned with TIMED_OUT responses.
	RetryAfter time.Duration
}

type Server struct {
	d   Deps
	mux *http.ServeMux
}

type contextKey string

const requestIDKey contextKey = "req_id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func NewServer(d Deps) *Server {
	if d.RetryAfter <= 0 {
		d.RetryAfter = 500 * time.Millisecond
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{d: d, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("/v1/draws/", s.handleDraws)
	s.mux.HandleFunc("/v1/admin/locks", s.handleDiagnostics)
	s.mux.HandleFunc("/v1/admin/locks/force-release", s.handleForceRelease)
	s.mux.HandleFunc("/v1/admin/backup", s.handleBackup)
}

func (s *Server) handleDraws(w http.ResponseWriter, r *http.Request) {
	// Expected:
	// /v1/draws/{type}/run      POST
	// /v1/draws/{type}/pending  GET
	// /v1/draws/{type}/confirm  POST
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/draws/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}
	drawType := draw.DrawType(parts[0])
	if _, err := s.d.Engine.Catalog().Lookup(drawType); err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}

	switch parts[1] {
	case "run":
		if !allow(w, r, http.MethodPost) {
			return
		}
		s.handleRun(w, r, drawType)
	case "pending":
		if !allow(w, r, http.MethodGet) {
			return
		}
		s.handlePending(w, r, drawType)
	case "confirm":
		if !allow(w, r, http.MethodPost) {
			return
		}
		s.handleConfirm(w, r, drawType)
	default:
		writeErr(w, http.StatusNotFound, "unknown action")
	}
}

// --- Handlers ---

type runResp struct {
	draw.DrawResult
	RequestID        string `json:"request_id"`
	RecommendedRetry int64  `json:"recommended_retry_ms,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, drawType draw.DrawType) {
	res, err := s.d.Engine.RunDraw(r.Context(), drawType)
	out := runResp{DrawResult: res, RequestID: requestID(r.Context())}

	switch res.Outcome {
	case draw.WinnerSelected, draw.AlreadyRun, draw.NoEligibleParticipants:
		writeJSON(w, http.StatusOK, out)
	case draw.TimedOut:
		out.Reason = string(draw.TimedOut)
		out.RecommendedRetry = s.d.RetryAfter.Milliseconds()
		writeJSON(w, http.StatusConflict, out)
	default:
		if err != nil {
			out.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, out)
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, drawType draw.DrawType) {
	list, err := s.d.Engine.PendingWinners(r.Context(), drawType)
	if err != nil {
		if errors.Is(err, lockreg.ErrTimedOut) {
			s.writeTimedOut(w)
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []draw.PendingWinner{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"draw_type": drawType, "pending": list})
}

type confirmReq struct {
	WinnerID   string `json:"winner_id"`
	OperatorID string `json:"operator_id"`
}

type confirmResp struct {
	payment.ConfirmResult
	RequestID        string `json:"request_id"`
	RecommendedRetry int64  `json:"recommended_retry_ms,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, drawType draw.DrawType) {
	var req confirmReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.WinnerID == "" || req.OperatorID == "" {
		writeErr(w, http.StatusBadRequest, "winner_id and operator_id required")
		return
	}

	res, err := s.d.Payments.Confirm(r.Context(), req.WinnerID, req.OperatorID, drawType)
	out := confirmResp{ConfirmResult: res, RequestID: requestID(r.Context())}

	switch res.Outcome {
	case payment.Success, payment.AlreadyConfirmed:
		writeJSON(w, http.StatusOK, out)
	case payment.NotFound:
		writeJSON(w, http.StatusNotFound, out)
	case payment.TimedOut:
		out.Reason = string(payment.TimedOut)
		out.RecommendedRetry = s.d.RetryAfter.Milliseconds()
		writeJSON(w, http.StatusConflict, out)
	default:
		if err != nil {
			out.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, out)
	}
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.d.Registry.Diagnostics())
}

type forceReleaseReq struct {
	MaxHoldSeconds int64 `json:"max_hold_seconds"`
}

type forceReleaseResp struct {
	Released []lockreg.Resource `json:"released"`
}

func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req forceReleaseReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	// a missing field decodes as 0, which would free every live lock
	if req.MaxHoldSeconds <= 0 {
		writeErr(w, http.StatusBadRequest, "max_hold_seconds must be > 0")
		return
	}
	released := s.d.Registry.ForceReleaseStale(time.Duration(req.MaxHoldSeconds) * time.Second)
	s.d.Logger.Warn(map[string]interface{}{
		"op":               "force_release_request",
		"request_id":       requestID(r.Context()),
		"max_hold_seconds": req.MaxHoldSeconds,
		"released":         len(released),
	})
	writeJSON(w, http.StatusOK, forceReleaseResp{Released: released})
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.d.Store == nil || s.d.BackupDir == "" {
		writeErr(w, http.StatusNotImplemented, "backups not configured")
		return
	}
	path, err := s.d.Store.Backup(r.Context(), s.d.Registry, s.d.BackupDir, 0)
	if err != nil {
		if errors.Is(err, lockreg.ErrTimedOut) {
			s.writeTimedOut(w)
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// --- helpers ---

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (s *Server) writeTimedOut(w http.ResponseWriter) {
	writeJSON(w, http.StatusConflict, map[string]interface{}{
		"reason":               string(draw.TimedOut),
		"recommended_retry_ms": s.d.RetryAfter.Milliseconds(),
	})
}

func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
