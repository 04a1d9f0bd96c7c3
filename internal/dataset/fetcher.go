package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Fetcher downloads dataset archives over HTTP with Range-based resume.
//
// Partial downloads accumulate in a `.part` sibling of the destination;
// the completed file is committed with an atomic rename. When the server
// ignores the Range request the partial content is discarded and the
// download restarts from zero.
type Fetcher struct {
	Client *http.Client
	Logger *zap.Logger
}

// NewFetcher builds a fetcher with the default HTTP client and a no-op
// logger when nil is given.
func NewFetcher(client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{Client: client, Logger: logger}
}

// Fetch downloads url to dest. checksum, when non-empty, is the expected
// hex sha256 of the complete file; a mismatch removes the file and fails.
// An existing complete dest with a matching checksum is left untouched.
func (f *Fetcher) Fetch(ctx context.Context, url, dest, checksum string) error {
	if _, err := os.Stat(dest); err == nil {
		if checksum == "" {
			f.Logger.Info("dataset archive already present", zap.String("path", dest))
			return nil
		}
		ok, err := checksumMatches(dest, checksum)
		if err != nil {
			return err
		}
		if ok {
			f.Logger.Info("dataset archive already present and verified", zap.String("path", dest))
			return nil
		}
		// Stale or corrupt; refetch from scratch.
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("removing corrupt archive: %w", err)
		}
	}

	part := dest + ".part"
	offset := int64(0)
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building dataset request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching dataset: %w", err)
	}
	defer resp.Body.Close()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		f.Logger.Info("resuming dataset download",
			zap.String("url", url),
			zap.String("resumed_at", humanize.Bytes(uint64(offset))))
		out, err = os.OpenFile(part, os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		if offset > 0 {
			f.Logger.Warn("server ignored range request, restarting download",
				zap.String("url", url))
		}
		out, err = os.Create(part)
	default:
		return fmt.Errorf("fetching dataset: unexpected status %s", resp.Status)
	}
	if err != nil {
		return fmt.Errorf("opening partial file: %w", err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		// Keep the partial file for the next attempt.
		return fmt.Errorf("downloading dataset: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("flushing partial file: %w", closeErr)
	}

	if checksum != "" {
		ok, err := checksumMatches(part, checksum)
		if err != nil {
			return err
		}
		if !ok {
			os.Remove(part)
			return fmt.Errorf("dataset checksum mismatch for %s", dest)
		}
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("committing dataset archive: %w", err)
	}

	f.Logger.Info("dataset archive downloaded",
		zap.String("path", dest),
		zap.String("received", humanize.Bytes(uint64(n))))
	return nil
}

func checksumMatches(path, wantHex string) (bool, error) {
	fh, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("verifying checksum: %w", err)
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return false, fmt.Errorf("verifying checksum: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(got, wantHex), nil
}
