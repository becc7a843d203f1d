package core

import (
	"fmt"
	"strings"
)

// BranchStorageMode selects how development branches store their tables.
type BranchStorageMode string

const (
	// RealBranchStorage duplicates tables physically per branch.
	RealBranchStorage BranchStorageMode = "real"
	// EmulatedBranchStorage addresses production tables through branch-prefixed bucket names.
	EmulatedBranchStorage BranchStorageMode = "emulated"
)

// ParseBranchStorageMode normalizes a mode name; empty means real storage.
func ParseBranchStorageMode(s string) (BranchStorageMode, error) {
	switch BranchStorageMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RealBranchStorage:
		return RealBranchStorage, nil
	case EmulatedBranchStorage:
		return EmulatedBranchStorage, nil
	}
	return "", fmt.Errorf("unknown branch storage mode: %q", s)
}

// BranchContext describes the branch a run executes in.
// It is built once per run and passed by value.
type BranchContext struct {
	BranchID        string            `json:"branchId,omitempty"`
	BranchName      string            `json:"branchName,omitempty"`
	DefaultBranchID string            `json:"defaultBranchId"`
	Mode            BranchStorageMode `json:"mode"`
}

// NewBranchContext validates and builds a BranchContext.
// An empty branchID means the run targets the default (production) branch.
func NewBranchContext(branchID, branchName, defaultBranchID string, mode BranchStorageMode) (BranchContext, error) {
	if mode == "" {
		mode = RealBranchStorage
	}
	if mode != RealBranchStorage && mode != EmulatedBranchStorage {
		return BranchContext{}, fmt.Errorf("unknown branch storage mode: %q", mode)
	}
	if branchID != "" && defaultBranchID == "" {
		return BranchContext{}, fmt.Errorf("default branch id is required when branch %s is set", branchID)
	}
	if mode == EmulatedBranchStorage && branchID != "" && branchID != defaultBranchID && SanitizeBranchName(branchName) == "" {
		return BranchContext{}, fmt.Errorf("branch %s needs a name usable as a bucket prefix", branchID)
	}
	return BranchContext{
		BranchID:        branchID,
		BranchName:      branchName,
		DefaultBranchID: defaultBranchID,
		Mode:            mode,
	}, nil
}

// IsDevBranch reports whether a development branch is active.
func (b BranchContext) IsDevBranch() bool {
	return b.BranchID != "" && b.BranchID != b.DefaultBranchID
}

// EffectiveBranchID returns the branch the run writes to.
func (b BranchContext) EffectiveBranchID() string {
	if b.BranchID != "" {
		return b.BranchID
	}
	return b.DefaultBranchID
}

// SanitizeBranchName turns a branch display name into a bucket-name prefix:
// lower case, runs of anything but [a-z0-9] collapsed to a single dash.
func SanitizeBranchName(name string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
