package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
	"github.com/keboola/platform-libraries-sub003/internal/web/templates"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// dashboardRuns is how many runs the dashboard shows.
const dashboardRuns = 25

// branchOverride replaces the configured branch for one request.
type branchOverride struct {
	BranchID   string `json:"branchId"`
	BranchName string `json:"branchName"`
	Mode       string `json:"mode"`
}

// stageRequest is the body of POST /api/stage.
type stageRequest struct {
	WorkspaceID      string                   `json:"workspaceId"`
	WorkspaceBackend string                   `json:"workspaceBackend"`
	Tables           []core.TableRef          `json:"tables"`
	Preserve         bool                     `json:"preserve"`
	Timeout          string                   `json:"timeout"`
	InputState       core.InputTableStateList `json:"inputState"`
	Branch           *branchOverride          `json:"branch"`
}

// resolveRequest is the body of POST /api/resolve.
type resolveRequest struct {
	Source         string          `json:"source"`
	SourceBranchID string          `json:"sourceBranchId"`
	Branch         *branchOverride `json:"branch"`
}

type resolveResponse struct {
	Source   string              `json:"source"`
	Physical core.PhysicalSource `json:"physical"`
}

// errBadRequest marks request decoding problems.
var errBadRequest = errors.New("bad request")

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	var body stageRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	req, err := s.stagingRequest(body)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := withRequester(r.Context(), r)
	report, err := s.service.PlanAndExecute(ctx, req)
	if err != nil {
		s.respondErrorWithReport(w, r, err, 0, report)
		return
	}
	writeJSON(w, report)
}

// stagingRequest applies the server defaults to a decoded body.
func (s *Server) stagingRequest(body stageRequest) (core.StagingRequest, error) {
	branch, err := s.branchFor(body.Branch)
	if err != nil {
		return core.StagingRequest{}, err
	}

	backend := s.defaults.Backend
	if body.WorkspaceBackend != "" {
		if backend, err = core.ParseBackend(body.WorkspaceBackend); err != nil {
			return core.StagingRequest{}, fmt.Errorf("%w: %w", errBadRequest, err)
		}
	}

	timeout := s.defaults.Timeout
	if body.Timeout != "" {
		d, err := time.ParseDuration(body.Timeout)
		if err != nil || d <= 0 {
			return core.StagingRequest{}, fmt.Errorf("%w: invalid timeout %q", errBadRequest, body.Timeout)
		}
		timeout = d
	}

	return core.StagingRequest{
		Tables:           body.Tables,
		Branch:           branch,
		WorkspaceID:      body.WorkspaceID,
		WorkspaceBackend: backend,
		Preserve:         body.Preserve,
		Timeout:          timeout,
		InputState:       body.InputState,
	}, nil
}

// branchFor returns the configured branch or the request's override.
// The default branch id always comes from the server.
func (s *Server) branchFor(o *branchOverride) (core.BranchContext, error) {
	if o == nil {
		return s.defaults.Branch, nil
	}
	mode := s.defaults.Branch.Mode
	if o.Mode != "" {
		m, err := core.ParseBranchStorageMode(o.Mode)
		if err != nil {
			return core.BranchContext{}, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		mode = m
	}
	bc, err := core.NewBranchContext(o.BranchID, o.BranchName, s.defaults.Branch.DefaultBranchID, mode)
	if err != nil {
		return core.BranchContext{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return bc, nil
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	branch, err := s.branchFor(body.Branch)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ref := core.TableRef{Source: body.Source, SourceBranchID: body.SourceBranchID}
	physical, err := s.service.ResolveSource(r.Context(), ref, branch)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Debug("source resolved",
		"source", body.Source,
		"physical", physical.TableID,
		"branch_id", physical.BranchID,
		"reason", physical.Reason,
	)
	writeJSON(w, resolveResponse{Source: body.Source, Physical: physical})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.RunFilter{
		WorkspaceID: q.Get("workspace"),
		Status:      core.RunStatus(q.Get("status")),
		Limit:       parseIntParam(r, "limit", 0),
		Offset:      parseIntParam(r, "offset", 0),
	}
	runs, err := s.service.ListRuns(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if runs == nil {
		runs = []core.RunRecord{}
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"limiter": s.service.LimiterStatus(),
		"branch":  s.defaults.Branch,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns(r.Context(), core.RunFilter{Limit: dashboardRuns})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := templates.DashboardData{
		Runs:    runs,
		Limiter: s.service.LimiterStatus(),
		Branch:  s.defaults.Branch,
	}
	if err := templates.Dashboard(data).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render dashboard", "error", err)
	}
}

// decodeJSON reads a single JSON object from the body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}

// parseIntParam parses a non-negative integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}
