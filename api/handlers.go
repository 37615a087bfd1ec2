package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"greenhouse/models"
	"greenhouse/services"

	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20

	defaultSpikeSec = 5.0
	maxSpikeSec     = 24 * 60 * 60.0
)

// Deps are the components the HTTP layer talks to.
type Deps struct {
	Pipeline  *services.Pipeline
	Hub       *services.Hub
	History   *services.RollingHistory
	Sampler   *services.Sampler
	Control   *services.ControlGateway
	Notifier  *services.Notifier
	ReportKey string
	Clock     func() time.Time
}

type Handler struct {
	Deps
	logger *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Handler{Deps: deps, logger: logger}
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// HandleStatus reports link health, notifier counters and pause state.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"link":     h.Pipeline.Status(),
		"channel":  h.Notifier.ChannelName(),
		"notifier": h.Notifier.Stats(),
		"paused":   h.Control.Paused(),
	})
}

func (h *Handler) HandleSensors(w http.ResponseWriter, r *http.Request) {
	reading, err := h.Pipeline.Latest()
	if errors.Is(err, services.ErrNoReading) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleHistory returns up to ?limit= readings, oldest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.History.Recent(limit))
}

func (h *Handler) HandleControl(w http.ResponseWriter, r *http.Request) {
	var cmd models.ControlCommand
	if err := decodeBody(w, r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.Control.Apply(r.Context(), cmd)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"intent":        result.Intent,
		"received":      cmd,
		"forwarded":     result.Forwarded,
		"forward_error": result.ForwardError,
		"alert":         result.Alert,
	})
}

// requireReportKey enforces the x-api-key shared secret when one is set.
func (h *Handler) requireReportKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.ReportKey != "" {
			key := r.Header.Get("x-api-key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(h.ReportKey)) != 1 {
				h.logger.Warn("Rejected alert report with invalid key", zap.String("remote", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
					"ok":    false,
					"error": "unauthorized (invalid x-api-key)",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HandleReportAlert(w http.ResponseWriter, r *http.Request) {
	var req services.ReportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch h.Pipeline.Report(req) {
	case services.OutcomeSuppressed:
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "skipped": true, "reason": "cooldown"})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "sent": true})
	}
}

type spikeRequest struct {
	Field       string   `json:"field"`
	Value       *float64 `json:"value"`
	DurationSec *float64 `json:"durationSec"`
}

func (h *Handler) HandleInjectSpike(w http.ResponseWriter, r *http.Request) {
	var req spikeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, "field required")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value required")
		return
	}

	durationSec := defaultSpikeSec
	if req.DurationSec != nil && *req.DurationSec > 0 {
		durationSec = *req.DurationSec
	}
	if durationSec > maxSpikeSec {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("durationSec must not exceed %.0f", maxSpikeSec))
		return
	}

	d := time.Duration(durationSec * float64(time.Second))
	if err := h.Sampler.Inject(req.Field, *req.Value, d, h.Clock()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"field":       req.Field,
		"value":       *req.Value,
		"durationSec": durationSec,
	})
}

type testPushRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h *Handler) HandleTestPush(w http.ResponseWriter, r *http.Request) {
	req := testPushRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "Test"
	}
	if req.Body == "" {
		req.Body = "Test message from the greenhouse service"
	}

	outcome := h.Notifier.SendTest(r.Context(), req.Title, req.Body)
	if !outcome.Delivered {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"ok":       false,
			"error":    outcome.Reason,
			"attempts": outcome.Attempts,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"channel":  h.Notifier.ChannelName(),
		"attempts": outcome.Attempts,
	})
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
