// Package governance loads the versioned governance lock artifacts that
// declare the permitted RBAC role set. The artifacts are read once at startup
// and are immutable for the process lifetime; changing them requires a deploy.
package governance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Artifact file names within the governance directory.
const (
	LockFileName         = "governance.lock.json"
	DeprecationsFileName = "deprecations.json"
	SnapshotsDirName     = "snapshots"
)

// LockFile is the primary governance artifact: the contract version and the
// closed role set with its entitlements.
type LockFile struct {
	ContractVersion string     `json:"contract_version"`
	GeneratedAt     string     `json:"generated_at"`
	Roles           []RoleSpec `json:"roles"`
}

// RoleSpec declares one governed role and the entitlements granted to it.
type RoleSpec struct {
	Name         string   `json:"name"`
	Entitlements []string `json:"entitlements"`
}

// Deprecations lists role and endpoint names scheduled for removal. A
// deprecated role is still governed; it only warns at startup.
type Deprecations struct {
	Roles     []string `json:"roles"`
	Endpoints []string `json:"endpoints"`
}

// ArtifactsStatus describes the health of the governance directory: required
// files that are absent, and files that exist but do not parse.
type ArtifactsStatus struct {
	Missing    []string
	Unreadable map[string]string
}

// OK reports whether every required artifact is present and parseable.
func (s ArtifactsStatus) OK() bool {
	return len(s.Missing) == 0 && len(s.Unreadable) == 0
}

// InspectArtifacts checks the required governance files in dir. A present but
// corrupt file is reported under Unreadable with the parse error, so the
// failure names the file instead of surfacing later as a generic load error.
// The snapshot for the lock's contract version is part of the required set; it
// can only be checked once the lock itself parses.
func InspectArtifacts(dir string) ArtifactsStatus {
	status := ArtifactsStatus{Unreadable: make(map[string]string)}

	lockPath := filepath.Join(dir, LockFileName)
	var lock *LockFile
	if _, err := os.Stat(lockPath); err != nil {
		status.Missing = append(status.Missing, lockPath)
	} else if lock, err = readLock(lockPath); err != nil {
		status.Unreadable[lockPath] = err.Error()
	}

	depPath := filepath.Join(dir, DeprecationsFileName)
	if _, err := os.Stat(depPath); err != nil {
		status.Missing = append(status.Missing, depPath)
	} else if _, err := readDeprecations(depPath); err != nil {
		status.Unreadable[depPath] = err.Error()
	}

	if lock != nil {
		snapPath := filepath.Join(dir, SnapshotsDirName, lock.ContractVersion+".json")
		if _, err := os.Stat(snapPath); err != nil {
			status.Missing = append(status.Missing, snapPath)
		}
	}

	sort.Strings(status.Missing)
	return status
}

// LoadArtifacts reads and strictly validates the governance artifacts in dir.
// Unknown JSON structure is rejected rather than passed through: a lock file
// whose shape drifted from the contract must fail startup, not silently load.
func LoadArtifacts(dir string) (*LockFile, *Deprecations, error) {
	lock, err := readLock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, nil, err
	}

	if lock.ContractVersion == "" {
		return nil, nil, fmt.Errorf("governance lock: contract_version is empty")
	}
	if len(lock.Roles) == 0 {
		return nil, nil, fmt.Errorf("governance lock: role set is empty")
	}
	seen := make(map[string]struct{}, len(lock.Roles))
	for _, role := range lock.Roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return nil, nil, fmt.Errorf("governance lock: role with empty name")
		}
		if _, dup := seen[name]; dup {
			return nil, nil, fmt.Errorf("governance lock: duplicate role %q", name)
		}
		seen[name] = struct{}{}
	}

	deps, err := readDeprecations(filepath.Join(dir, DeprecationsFileName))
	if err != nil {
		return nil, nil, err
	}

	// The snapshot must exist and parse as a lock file; its role set is not
	// authoritative (the lock is) but a corrupt snapshot still fails startup.
	snapPath := filepath.Join(dir, SnapshotsDirName, lock.ContractVersion+".json")
	if _, err := readLock(snapPath); err != nil {
		return nil, nil, fmt.Errorf("governance snapshot %s: %w", lock.ContractVersion, err)
	}

	return lock, deps, nil
}

func readLock(path string) (*LockFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open governance lock: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var lock LockFile
	if err := dec.Decode(&lock); err != nil {
		return nil, fmt.Errorf("parse governance lock %s: %w", filepath.Base(path), err)
	}
	return &lock, nil
}

func readDeprecations(path string) (*Deprecations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deprecations list: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var deps Deprecations
	if err := dec.Decode(&deps); err != nil {
		return nil, fmt.Errorf("parse deprecations list: %w", err)
	}
	return &deps, nil
}
