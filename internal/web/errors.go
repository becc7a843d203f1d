package web

// errors.go provides unified error response handling for the web layer.
//
// Errors are logged with full technical detail server-side and returned to
// clients as coded user messages from core.MapError. The HTTP status is
// derived from the same code, so a code always travels with one status.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
	"github.com/keboola/platform-libraries-sub003/internal/web/templates"
)

// ErrorResponse is the JSON body of an API error.
// Report is set when a staging run got far enough to produce results.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Action  string              `json:"action,omitempty"`
	Code    string              `json:"code"`
	Report  *core.StagingReport `json:"report,omitempty"`
}

// statusByCode maps error codes to HTTP statuses. Unlisted codes are 500.
var statusByCode = map[string]int{
	"CFG001": http.StatusBadRequest,
	"CFG002": http.StatusUnprocessableEntity,
	"CFG003": http.StatusUnprocessableEntity,
	"CFG004": http.StatusBadRequest,
	"CFG005": http.StatusBadRequest,
	"CFG006": http.StatusBadRequest,
	"CFG007": http.StatusBadRequest,
	"STO001": http.StatusNotFound,
	"STO002": http.StatusNotFound,
	"JOB001": http.StatusBadGateway,
	"JOB002": http.StatusGatewayTimeout,
	"SVC001": http.StatusTooManyRequests,
	"SVC002": http.StatusNotFound,
	"SVC003": http.StatusServiceUnavailable,
	"SVC004": http.StatusGatewayTimeout,
	"SVC005": http.StatusTooManyRequests,
}

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	if status, ok := statusByCode[core.MapError(err).Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// userMessage maps err to a client message. Request decoding problems are
// reported with their detail since they carry no server internals.
func userMessage(err error) core.UserMessage {
	if errors.Is(err, errBadRequest) {
		return core.UserMessage{
			Message: "The request is invalid",
			Action:  strings.TrimPrefix(err.Error(), errBadRequest.Error()+": "),
			Code:    "REQ001",
		}
	}
	return core.MapError(err)
}

// respondError logs err and writes a user-facing error.
// A zero statusCode derives the status from the error code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	s.respondErrorWithReport(w, r, err, statusCode, nil)
}

func (s *Server) respondErrorWithReport(w http.ResponseWriter, r *http.Request, err error, statusCode int, report *core.StagingReport) {
	userMsg := userMessage(err)
	if statusCode == 0 {
		statusCode = statusFor(err)
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, userMsg, statusCode)
	case wantsHTML(r):
		respondErrorHTML(w, userMsg, statusCode)
	default:
		respondErrorJSON(w, userMsg, statusCode, report)
	}
}

func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int, report *core.StagingReport) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Report:  report,
	})
}

func respondErrorHTML(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
}

func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsHTML reports whether a browser asked for a page. The API defaults to JSON.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}
