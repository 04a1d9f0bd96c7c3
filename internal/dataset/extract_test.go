package dataset

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	body     string
	dir      bool
	linkName string
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		switch {
		case e.dir:
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     e.name,
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}))
		case e.linkName != "":
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     e.name,
				Typeflag: tar.TypeSymlink,
				Linkname: e.linkName,
				Mode:     0o777,
			}))
		default:
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name:     e.name,
				Typeflag: tar.TypeReg,
				Mode:     0o644,
				Size:     int64(len(e.body)),
			}))
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestExtract_UnpacksFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "scenes.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "raw_orig/", dir: true},
		{name: "raw_orig/scene1.tiff", body: "scene one"},
		{name: "raw_orig/scene2.tiff", body: "scene two"},
		{name: "dem.grd", body: "elevation grid"},
	})

	require.NoError(t, NewExtractor(nil).Extract(archive, dir))

	got, err := os.ReadFile(filepath.Join(dir, "raw_orig", "scene1.tiff"))
	require.NoError(t, err)
	assert.Equal(t, "scene one", string(got))

	got, err = os.ReadFile(filepath.Join(dir, "dem.grd"))
	require.NoError(t, err)
	assert.Equal(t, "elevation grid", string(got))
}

func TestExtract_CreatesMissingParentDirectories(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "scenes.tar.gz")

	// No explicit directory entry ahead of the nested file.
	writeTarGz(t, archive, []tarEntry{
		{name: "topo/dem/region.grd", body: "grid"},
	})

	require.NoError(t, NewExtractor(nil).Extract(archive, dir))

	_, err := os.Stat(filepath.Join(dir, "topo", "dem", "region.grd"))
	require.NoError(t, err)
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "../outside.txt", body: "escape"},
	})

	err := NewExtractor(nil).Extract(archive, filepath.Join(dir, "data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the extraction directory")
}

func TestExtract_RejectsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "/etc/passwd", body: "nope"},
	})

	err := NewExtractor(nil).Extract(archive, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute path")
}

func TestExtract_RejectsEscapingSymlink(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "link", linkName: "../../secrets"},
	})

	err := NewExtractor(nil).Extract(archive, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the extraction directory")
}

func TestExtract_AllowsInternalSymlink(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "scenes.tar.gz")
	writeTarGz(t, archive, []tarEntry{
		{name: "data/dem.grd", body: "grid"},
		{name: "latest.grd", linkName: "data/dem.grd"},
	})

	require.NoError(t, NewExtractor(nil).Extract(archive, dir))

	got, err := os.ReadFile(filepath.Join(dir, "latest.grd"))
	require.NoError(t, err)
	assert.Equal(t, "grid", string(got))
}
