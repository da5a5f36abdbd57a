package undo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// ManifestEntry records what a manifest needs to know about one touched
// path: whether it existed before the step, and where its preimage lives.
type ManifestEntry struct {
	ExistedBefore bool   `json:"existed_before"`
	PathHash      string `json:"path_hash"`
	FileType      string `json:"file_type"`
}

// StepManifest lists every path touched by a step, keyed by relative path.
// Go's encoding/json sorts map keys when marshaling, giving the same
// deterministic ordering the reference implementation gets from a BTreeMap.
type StepManifest struct {
	StepID      StepID                   `json:"step_id"`
	Timestamp   string                   `json:"timestamp"`
	Command     string                   `json:"command,omitempty"`
	Entries     map[string]ManifestEntry `json:"entries"`
	Unprotected bool                     `json:"unprotected,omitempty"`
}

// newStepManifest creates an empty manifest for the given step, stamped
// with the current time.
func newStepManifest(stepID StepID) *StepManifest {
	return &StepManifest{
		StepID:    stepID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Entries:   map[string]ManifestEntry{},
	}
}

func (m *StepManifest) addEntry(relativePath, pathHash string, existedBefore bool, fileType string) {
	m.Entries[relativePath] = ManifestEntry{
		ExistedBefore: existedBefore,
		PathHash:      pathHash,
		FileType:      fileType,
	}
}

func (m *StepManifest) containsPath(relativePath string) bool {
	_, ok := m.Entries[relativePath]
	return ok
}

const manifestFileName = "manifest.json"

// writeTo persists the manifest to dir/manifest.json.
func (m *StepManifest) writeTo(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &ManifestError{Message: err.Error()}
	}
	return os.WriteFile(filepath.Join(dir, manifestFileName), data, 0o644)
}

// readManifestFrom loads a StepManifest from dir/manifest.json.
func readManifestFrom(dir string) (*StepManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, err
	}
	var m StepManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Message: err.Error()}
	}
	if m.Entries == nil {
		m.Entries = map[string]ManifestEntry{}
	}
	return &m, nil
}
