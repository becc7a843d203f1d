package application

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keboola/platform-libraries-sub003/internal/config"
	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/manifest"
)

type fakeLookup struct {
	projectID string
	branchID  string
	err       error
	calls     int
}

func (f *fakeLookup) VerifyToken(context.Context) (string, error) {
	f.calls++
	return f.projectID, f.err
}

func (f *fakeLookup) DefaultBranchID(context.Context) (string, error) {
	f.calls++
	return f.branchID, f.err
}

func TestResolveBranch_LooksUpMissingIDs(t *testing.T) {
	api := &fakeLookup{projectID: "42", branchID: "100"}
	branch, projectID, err := resolveBranch(context.Background(), config.StorageConfig{
		BranchID:   "123",
		BranchName: "Dev 1",
		BranchMode: "emulated",
	}, api)
	if err != nil {
		t.Fatalf("resolveBranch() error = %v", err)
	}
	if projectID != "42" || branch.DefaultBranchID != "100" || branch.BranchID != "123" {
		t.Errorf("branch = %+v, project = %q", branch, projectID)
	}
	if branch.Mode != core.EmulatedBranchStorage {
		t.Errorf("Mode = %q, want emulated", branch.Mode)
	}
	if api.calls != 2 {
		t.Errorf("lookups = %d, want 2", api.calls)
	}
}

func TestResolveBranch_ConfiguredIDsSkipLookup(t *testing.T) {
	api := &fakeLookup{err: errors.New("must not be called")}
	branch, projectID, err := resolveBranch(context.Background(), config.StorageConfig{
		ProjectID:       "7",
		DefaultBranchID: "100",
		BranchMode:      "real",
	}, api)
	if err != nil {
		t.Fatalf("resolveBranch() error = %v", err)
	}
	if projectID != "7" || branch.IsDevBranch() || api.calls != 0 {
		t.Errorf("branch = %+v, project = %q, calls = %d", branch, projectID, api.calls)
	}
}

func TestResolveBranch_LookupError(t *testing.T) {
	api := &fakeLookup{err: errors.New("unauthorized")}
	if _, _, err := resolveBranch(context.Background(), config.StorageConfig{BranchMode: "real"}, api); err == nil {
		t.Error("resolveBranch() should fail when the token cannot be verified")
	}
}

func TestNewManifestWriter_File(t *testing.T) {
	w, err := NewManifestWriter(context.Background(), config.ManifestConfig{Dir: t.TempDir(), Format: "yaml"}, "https://connection.keboola.com")
	if err != nil {
		t.Fatalf("NewManifestWriter() error = %v", err)
	}
	if _, ok := w.(*manifest.FileWriter); !ok {
		t.Errorf("writer = %T, want *manifest.FileWriter", w)
	}
}

func TestNewManifestWriter_BadFormat(t *testing.T) {
	if _, err := NewManifestWriter(context.Background(), config.ManifestConfig{Dir: t.TempDir(), Format: "xml"}, ""); err == nil {
		t.Error("NewManifestWriter() should reject unknown formats")
	}
}

func TestNew_InMemoryHistory(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/storage/tokens/verify":
			w.Write([]byte(`{"owner": {"id": 42}}`))
		case "/v2/storage/dev-branches":
			w.Write([]byte(`[{"id": 100, "isDefault": true}, {"id": 123, "isDefault": false}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	cfg := &config.Config{
		Storage: config.StorageConfig{URL: api.URL, Token: "t", BranchMode: "real"},
		Staging: config.StagingConfig{
			MaxConcurrent:       2,
			MetadataConcurrency: 1,
			WorkspaceBackend:    "snowflake",
		},
		Manifest: config.ManifestConfig{Dir: t.TempDir(), Format: "json"},
	}

	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if app.Branch.DefaultBranchID != "100" || app.Backend != core.BackendSnowflake {
		t.Errorf("app = %+v", app)
	}
	if app.Service == nil {
		t.Fatal("Service is nil")
	}
	runs, err := app.Service.ListRuns(context.Background(), core.RunFilter{})
	if err != nil || len(runs) != 0 {
		t.Errorf("ListRuns() = %v, %v", runs, err)
	}
}
