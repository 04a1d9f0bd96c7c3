package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// Report summarizes a dataset directory after acquisition.
type Report struct {
	Dir        string
	Files      int
	TotalBytes uint64

	// Entries lists the immediate children of Dir with humanized sizes,
	// directories suffixed with a slash.
	Entries []string
}

// BuildReport walks dir and summarizes its contents.
func BuildReport(dir string) (*Report, error) {
	r := &Report{Dir: dir}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		r.Files++
		r.TotalBytes += uint64(info.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking dataset directory: %w", err)
	}

	children, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, fmt.Errorf("listing dataset directory: %w", err)
	}
	sort.Strings(children)
	for _, child := range children {
		info, err := os.Stat(child)
		if err != nil {
			return nil, fmt.Errorf("listing dataset directory: %w", err)
		}
		name := filepath.Base(child)
		if info.IsDir() {
			r.Entries = append(r.Entries, name+"/")
			continue
		}
		r.Entries = append(r.Entries, fmt.Sprintf("%s (%s)", name, humanize.Bytes(uint64(info.Size()))))
	}
	return r, nil
}

// String renders the report in a du-plus-ls shape for run logs.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d files, %s\n", r.Dir, r.Files, humanize.Bytes(r.TotalBytes))
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	return b.String()
}
