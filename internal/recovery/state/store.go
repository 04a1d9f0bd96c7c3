package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists execution state under:
//
//	<baseDir>/.sarpipe/runs/<run-id>/
//
// with run.json, failure.json, trace.json, and checkpoints/<stage>.json.
// All writes are atomic and durable (file sync, atomic rename, dir sync).
type Store struct {
	baseDir string
}

// NewStore roots a store at baseDir, usually the working directory.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.baseDir, ".sarpipe", "runs")
}

// ListRunIDs returns all run IDs on disk, sorted lexicographically.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := strings.TrimSpace(e.Name())
		if name == "" {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

func (s *Store) tracePath(runID string) string {
	return filepath.Join(s.runDir(runID), "trace.json")
}

func (s *Store) checkpointsDir(runID string) string {
	return filepath.Join(s.runDir(runID), "checkpoints")
}

func (s *Store) checkpointPath(runID, stageID string) string {
	// Stage names come from workflow validation and are safe filenames.
	return filepath.Join(s.checkpointsDir(runID), stageID+".json")
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if err := ensureDirDurable(s.runDir(run.RunID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := writeFileAtomicDurable(s.runPath(run.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveCheckpoint(runID string, checkpoint Checkpoint) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	// Serialize cache_keys as [] rather than null.
	if checkpoint.CacheKeys == nil {
		checkpoint.CacheKeys = []string{}
	}

	if err := ensureDirDurable(s.checkpointsDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure checkpoints dir: %w", err)
	}
	data, err := jsonMarshalStable(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := writeFileAtomicDurable(s.checkpointPath(runID, checkpoint.StageID), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(runID, stageID string) (Checkpoint, error) {
	var checkpoint Checkpoint
	if strings.TrimSpace(runID) == "" {
		return Checkpoint{}, errors.New("runID is required")
	}
	if strings.TrimSpace(stageID) == "" {
		return Checkpoint{}, errors.New("stageID is required")
	}
	if err := readJSONStrict(s.checkpointPath(runID, stageID), &checkpoint); err != nil {
		return Checkpoint{}, err
	}
	if checkpoint.CacheKeys == nil {
		return Checkpoint{}, errors.New("invalid checkpoint on disk: cache_keys must be an array (not null)")
	}
	if err := checkpoint.Validate(); err != nil {
		return Checkpoint{}, fmt.Errorf("invalid checkpoint on disk: %w", err)
	}
	return checkpoint, nil
}

// LoadAllCheckpoints loads every checkpoint of a run, keyed by stage ID.
func (s *Store) LoadAllCheckpoints(runID string) (map[string]Checkpoint, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("runID is required")
	}
	entries, err := os.ReadDir(s.checkpointsDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Checkpoint{}, nil
		}
		return nil, err
	}

	out := make(map[string]Checkpoint)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		stageID := strings.TrimSuffix(name, ".json")
		if strings.TrimSpace(stageID) == "" {
			continue
		}
		cp, err := s.LoadCheckpoint(runID, stageID)
		if err != nil {
			return nil, err
		}
		out[stageID] = cp
	}
	return out, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	if err := writeFileAtomicDurable(s.failurePath(runID), data, 0o644); err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if strings.TrimSpace(runID) == "" {
		return Failure{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.failurePath(runID), &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

// SaveTrace persists the canonical trace bytes of a run.
func (s *Store) SaveTrace(runID string, canonical []byte) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if len(canonical) == 0 {
		return errors.New("trace bytes are required")
	}
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	if err := writeFileAtomicDurable(s.tracePath(runID), canonical, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// LoadTrace returns the canonical trace bytes of a run.
func (s *Store) LoadTrace(runID string) ([]byte, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("runID is required")
	}
	return os.ReadFile(s.tracePath(runID))
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := fsyncDir(parent); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
