package step

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CacheEntry is the stored result of one stage execution: stdout, stderr,
// exit code, and the harvested artifacts.
//
// Failed executions are cacheable, since a script that exits nonzero
// for a given input set will do so again, but failures never carry
// artifacts.
type CacheEntry struct {
	Hash      StepHash         `json:"hash"`
	Stdout    []byte           `json:"stdout"`
	Stderr    []byte           `json:"stderr"`
	ExitCode  int              `json:"exit_code"`
	Artifacts []CachedArtifact `json:"artifacts"`
}

// CachedArtifact is a single artifact stored in the cache.
type CachedArtifact struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// Cache stores and retrieves stage execution results by StepHash.
//
// A hash that has been seen before is never re-executed; its result is
// replayed exactly.
type Cache interface {
	// Has reports whether an entry exists for the hash.
	Has(hash StepHash) (bool, error)

	// Get retrieves an entry, or nil if absent.
	Get(hash StepHash) (*CacheEntry, error)

	// Put stores an entry.
	Put(entry *CacheEntry) error
}

// FileCache is a filesystem-backed Cache.
//
// Layout:
//
//	{CacheDir}/
//	  {hash[0:2]}/
//	    {hash}/
//	      metadata.json   (stdout, stderr, exit_code, artifact paths)
//	      artifacts/
//	        {index}.blob
type FileCache struct {
	CacheDir string
}

// NewFileCache creates a filesystem-backed cache rooted at cacheDir.
func NewFileCache(cacheDir string) *FileCache {
	return &FileCache{CacheDir: cacheDir}
}

// Has reports whether an entry exists for the hash.
func (c *FileCache) Has(hash StepHash) (bool, error) {
	metadataPath := filepath.Join(c.entryPath(hash), "metadata.json")
	_, err := os.Stat(metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking cache entry: %w", err)
	}
	return true, nil
}

// Get retrieves an entry by hash, loading artifact blobs from disk.
func (c *FileCache) Get(hash StepHash) (*CacheEntry, error) {
	entryDir := c.entryPath(hash)

	data, err := os.ReadFile(filepath.Join(entryDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}

	artifactsDir := filepath.Join(entryDir, "artifacts")
	for i := range entry.Artifacts {
		content, err := os.ReadFile(filepath.Join(artifactsDir, fmt.Sprintf("%d.blob", i)))
		if err != nil {
			return nil, fmt.Errorf("reading artifact %d: %w", i, err)
		}
		entry.Artifacts[i].Content = content
	}

	return &entry, nil
}

// Put stores an entry. The write goes to a temp directory first and is
// renamed into place, so a crash mid-write leaves a cache miss rather than
// corrupt metadata.
func (c *FileCache) Put(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}

	entryDir := c.entryPath(entry.Hash)
	parentDir := filepath.Dir(entryDir)

	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-"+string(entry.Hash)+"-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	artifactsDir := filepath.Join(tmpDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		return fmt.Errorf("creating cache artifacts dir: %w", err)
	}

	// Blobs first; metadata only appears once the blobs are complete.
	for i, artifact := range entry.Artifacts {
		blobPath := filepath.Join(artifactsDir, fmt.Sprintf("%d.blob", i))
		if err := writeFileAtomic(blobPath, artifact.Content, 0644); err != nil {
			return fmt.Errorf("writing artifact %d: %w", i, err)
		}
	}

	metadata := CacheEntry{
		Hash:      entry.Hash,
		Stdout:    entry.Stdout,
		Stderr:    entry.Stderr,
		ExitCode:  entry.ExitCode,
		Artifacts: make([]CachedArtifact, len(entry.Artifacts)),
	}
	for i, a := range entry.Artifacts {
		// Content lives in the blob files.
		metadata.Artifacts[i] = CachedArtifact{Path: a.Path}
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, "metadata.json"), data, 0644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not corruption.
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

func (c *FileCache) entryPath(hash StepHash) string {
	hashStr := string(hash)
	if len(hashStr) < 2 {
		return filepath.Join(c.CacheDir, hashStr)
	}
	return filepath.Join(c.CacheDir, hashStr[:2], hashStr)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryCache is an in-memory Cache for tests and short-lived invocations.
type MemoryCache struct {
	entries map[StepHash]*CacheEntry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[StepHash]*CacheEntry)}
}

// Has reports whether an entry exists.
func (c *MemoryCache) Has(hash StepHash) (bool, error) {
	_, exists := c.entries[hash]
	return exists, nil
}

// Get retrieves a deep copy of the entry, or nil if absent.
func (c *MemoryCache) Get(hash StepHash) (*CacheEntry, error) {
	entry, exists := c.entries[hash]
	if !exists {
		return nil, nil
	}
	return copyEntry(entry), nil
}

// Put stores a deep copy of the entry.
func (c *MemoryCache) Put(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	c.entries[entry.Hash] = copyEntry(entry)
	return nil
}

func copyEntry(entry *CacheEntry) *CacheEntry {
	cp := &CacheEntry{
		Hash:      entry.Hash,
		Stdout:    append([]byte(nil), entry.Stdout...),
		Stderr:    append([]byte(nil), entry.Stderr...),
		ExitCode:  entry.ExitCode,
		Artifacts: make([]CachedArtifact, len(entry.Artifacts)),
	}
	for i, a := range entry.Artifacts {
		cp.Artifacts[i] = CachedArtifact{
			Path:    a.Path,
			Content: append([]byte(nil), a.Content...),
		}
	}
	return cp
}
