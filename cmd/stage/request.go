package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keboola/platform-libraries-sub003/internal/core"
)

// requestFile is the YAML document describing one staging run.
type requestFile struct {
	WorkspaceID      string          `yaml:"workspace_id"`
	WorkspaceBackend string          `yaml:"workspace_backend"`
	Preserve         bool            `yaml:"preserve"`
	Timeout          string          `yaml:"timeout"`
	Branch           *branchSection  `yaml:"branch"`
	Tables           []core.TableRef `yaml:"tables"`
}

type branchSection struct {
	BranchID   string `yaml:"branch_id"`
	BranchName string `yaml:"branch_name"`
	Mode       string `yaml:"mode"`
}

// stateFile is the input state carried between runs.
type stateFile struct {
	Tables core.InputTableStateList `yaml:"tables"`
}

func loadRequestFile(path string) (requestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return requestFile{}, fmt.Errorf("read request file: %w", err)
	}
	return parseRequest(data)
}

func parseRequest(data []byte) (requestFile, error) {
	var req requestFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return requestFile{}, fmt.Errorf("parse request file: %w", err)
	}
	return req, nil
}

// toStagingRequest applies the configured defaults to the file.
func (f requestFile) toStagingRequest(defaultBranch core.BranchContext, defaultBackend core.Backend, defaultTimeout time.Duration) (core.StagingRequest, error) {
	branch := defaultBranch
	if f.Branch != nil {
		mode := defaultBranch.Mode
		if f.Branch.Mode != "" {
			m, err := core.ParseBranchStorageMode(f.Branch.Mode)
			if err != nil {
				return core.StagingRequest{}, err
			}
			mode = m
		}
		bc, err := core.NewBranchContext(f.Branch.BranchID, f.Branch.BranchName, defaultBranch.DefaultBranchID, mode)
		if err != nil {
			return core.StagingRequest{}, err
		}
		branch = bc
	}

	backend := defaultBackend
	if f.WorkspaceBackend != "" {
		b, err := core.ParseBackend(f.WorkspaceBackend)
		if err != nil {
			return core.StagingRequest{}, err
		}
		backend = b
	}

	timeout := defaultTimeout
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return core.StagingRequest{}, fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
		timeout = d
	}

	return core.StagingRequest{
		Tables:           f.Tables,
		Branch:           branch,
		WorkspaceID:      f.WorkspaceID,
		WorkspaceBackend: backend,
		Preserve:         f.Preserve,
		Timeout:          timeout,
	}, nil
}

// loadState reads the input state file. A missing file is an empty state.
func loadState(path string) (core.InputTableStateList, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var st stateFile
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return st.Tables, nil
}

func saveState(path string, state core.InputTableStateList) error {
	data, err := yaml.Marshal(stateFile{Tables: state})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
