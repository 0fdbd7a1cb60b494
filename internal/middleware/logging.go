package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"

	// maxCapturedErrorBody bounds how much of an error response is buffered
	// for the access log.
	maxCapturedErrorBody = 4 << 10
)

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
}

// Logging writes one access log line per request. Request bodies and error
// messages are never logged since they can echo credentials back; only the
// error code and details of the JSON envelope are attached.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(started).Milliseconds(),
			"client_ip", ClientIP(r),
		}
		if pattern := routePattern(r); pattern != "" {
			attrs = append(attrs, "route", pattern)
		}
		attrs = append(attrs, recorder.errorAttrs()...)

		slog.Log(r.Context(), levelForStatus(recorder.status), "request", attrs...)
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	errorBody   bytes.Buffer
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status >= http.StatusBadRequest {
		if room := maxCapturedErrorBody - rw.errorBody.Len(); room > 0 {
			rw.errorBody.Write(b[:min(len(b), room)])
		}
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) errorAttrs() []any {
	if rw.status < http.StatusBadRequest || rw.errorBody.Len() == 0 {
		return nil
	}

	var parsed errorEnvelope
	if err := json.Unmarshal(rw.errorBody.Bytes(), &parsed); err != nil || parsed.Error == nil {
		return nil
	}

	attrs := []any{"error_code", parsed.Error.Code}
	if parsed.Error.Details != "" {
		attrs = append(attrs, "error_details", parsed.Error.Details)
	}
	return attrs
}
