package dataset

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Extractor unpacks gzip tarballs in place.
type Extractor struct {
	Logger *zap.Logger
}

// NewExtractor builds an extractor; a nil logger is replaced by a no-op.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{Logger: logger}
}

// Extract unpacks archive into dir. Entries escaping dir (absolute paths
// or `..` traversal) fail the extraction, as do symlinks pointing outside
// of dir.
func (e *Extractor) Extract(archive, dir string) error {
	fh, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer fh.Close()

	gz, err := gzip.NewReader(fh)
	if err != nil {
		return fmt.Errorf("reading gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return fmt.Errorf("creating file: %w", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			files++
		case tar.TypeSymlink:
			if err := validateLinkTarget(dir, target, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", hdr.Name, err)
			}
		default:
			// Hard links, devices and the like are not expected in
			// scene tarballs.
			return fmt.Errorf("unsupported archive entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}

	e.Logger.Info("dataset extracted",
		zap.String("archive", archive),
		zap.Int("files", files))
	return nil
}

// securePath joins name under dir and rejects traversal outside of dir.
func securePath(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry %q has an absolute path", name)
	}
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	return target, nil
}

func validateLinkTarget(dir, linkPath, linkName string) error {
	if filepath.IsAbs(linkName) {
		return fmt.Errorf("archive symlink %q has an absolute target", linkPath)
	}
	resolved := filepath.Join(filepath.Dir(linkPath), linkName)
	if !strings.HasPrefix(resolved, filepath.Clean(dir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive symlink %q escapes the extraction directory", linkPath)
	}
	return nil
}
