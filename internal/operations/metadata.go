package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kebairia/smb-snapshots/internal/snapshot"
)

// JournalSuffix is the file suffix of run records.
const JournalSuffix = ".json.zst"

// ShareStatus is the result of processing one share.
type ShareStatus string

const (
	StatusCreated ShareStatus = "created"
	StatusSkipped ShareStatus = "skipped"
	StatusFailed  ShareStatus = "failed"
)

// ShareResult records what happened to one share during a run.
type ShareResult struct {
	Name     string      `json:"name"`
	Status   ShareStatus `json:"status"`
	Snapshot string      `json:"snapshot,omitempty"`
	Removed  []string    `json:"removed,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Outcome is the result of a run. It doubles as the journal record.
type Outcome struct {
	ID             string        `json:"id"`
	DryRun         bool          `json:"dry_run"`
	Success        bool          `json:"success"`
	PreExecFailed  bool          `json:"pre_exec_failed,omitempty"`
	PostExecFailed bool          `json:"post_exec_failed,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration_ns"`
	Shares         []ShareResult `json:"shares"`
}

// Counts returns how many shares ended in each status.
func (o Outcome) Counts() map[ShareStatus]int {
	counts := map[ShareStatus]int{}
	for _, s := range o.Shares {
		counts[s.Status]++
	}
	return counts
}

// Write stores the outcome as a compressed JSON record in dirPath and returns
// the record path.
func (o *Outcome) Write(dirPath string) (string, error) {
	if err := EnsureDirectoryExist(dirPath); err != nil {
		return "", fmt.Errorf("ensure journal directory %q: %w", dirPath, err)
	}

	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run record: %w", err)
	}

	filePath := filepath.Join(dirPath, o.ID+JournalSuffix)
	if err := WriteZstd(filePath, data); err != nil {
		return "", fmt.Errorf("write run record %q: %w", filePath, err)
	}
	return filePath, nil
}

// Load reads a record written by Write.
func (o *Outcome) Load(filePath string) error {
	data, err := ReadZstd(filePath)
	if err != nil {
		return fmt.Errorf("couldn't read run record %q: %w", filePath, err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("decode run record %q: %w", filePath, err)
	}
	return nil
}

// ListRecords returns the run record paths in dirPath, oldest first. A
// missing directory holds no records.
func ListRecords(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read journal directory %q: %w", dirPath, err)
	}

	ids := []string{}
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), JournalSuffix)
		if entry.IsDir() || !ok || !snapshot.IsEntry(id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		paths = append(paths, filepath.Join(dirPath, id+JournalSuffix))
	}
	return paths, nil
}

// PruneRecords keeps the newest keep records and removes the rest.
func PruneRecords(dirPath string, keep int) ([]string, error) {
	paths, err := ListRecords(dirPath)
	if err != nil {
		return nil, err
	}

	victims := snapshot.SelectForRemoval(paths, keep)
	for _, path := range victims {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove run record %q: %w", path, err)
		}
	}
	return victims, nil
}

func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dirPath, err)
	}
	return nil
}
