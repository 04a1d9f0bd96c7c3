package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rangeServer serves content honoring bytes=N- range requests.
func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(content)
			return
		}
		offStr := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
		off, err := strconv.Atoi(offStr)
		if err != nil || off < 0 || off > len(content) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", off, len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[off:])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_FullDownload(t *testing.T) {
	content := []byte("scene data payload")
	srv := rangeServer(t, content)

	dest := filepath.Join(t.TempDir(), "scenes.tar.gz")
	f := NewFetcher(srv.Client(), nil)

	require.NoError(t, f.Fetch(context.Background(), srv.URL, dest, sha256Of(content)))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "partial file must be renamed away")
}

func TestFetch_ResumesFromPartialFile(t *testing.T) {
	content := []byte("0123456789abcdefghij")
	srv := rangeServer(t, content)

	dir := t.TempDir()
	dest := filepath.Join(dir, "scenes.tar.gz")

	// A previous attempt got the first 8 bytes.
	require.NoError(t, os.WriteFile(dest+".part", content[:8], 0o644))

	f := NewFetcher(srv.Client(), nil)
	require.NoError(t, f.Fetch(context.Background(), srv.URL, dest, sha256Of(content)))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFetch_RestartsWhenServerIgnoresRange(t *testing.T) {
	content := []byte("full payload, no range support")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	dest := filepath.Join(dir, "scenes.tar.gz")
	require.NoError(t, os.WriteFile(dest+".part", []byte("stale bytes"), 0o644))

	f := NewFetcher(srv.Client(), nil)
	require.NoError(t, f.Fetch(context.Background(), srv.URL, dest, sha256Of(content)))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFetch_ChecksumMismatchRemovesPartial(t *testing.T) {
	srv := rangeServer(t, []byte("corrupted on the wire"))

	dir := t.TempDir()
	dest := filepath.Join(dir, "scenes.tar.gz")

	f := NewFetcher(srv.Client(), nil)
	err := f.Fetch(context.Background(), srv.URL, dest, sha256Of([]byte("expected content")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_VerifiedArchiveIsNotRefetched(t *testing.T) {
	content := []byte("already here")
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.Write(content)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "scenes.tar.gz")
	require.NoError(t, os.WriteFile(dest, content, 0o644))

	f := NewFetcher(srv.Client(), nil)
	require.NoError(t, f.Fetch(context.Background(), srv.URL, dest, sha256Of(content)))
	assert.Zero(t, requests, "verified archive must not be refetched")
}

func TestFetch_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(srv.Client(), nil)
	err := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x.tar.gz"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}
