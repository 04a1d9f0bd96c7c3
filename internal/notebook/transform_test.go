package notebook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureScript = `import sys
import pygmtsar

if 'google.colab' in sys.modules:
    from google.colab import drive
    drive.mount('/content/drive')

!pip install pygmtsar matplotlib seaborn

username = 'GoogleColab2023'
password = 'GoogleColab_2023'

scenes = download_scenes(username, password)
for scene in scenes:
    process(scene)
`

// Three interior blank lines: the kept separator, the blanked pip line,
// and the kept separator after it.
const fixtureWant = `import sys
import pygmtsar



if __name__ == '__main__':
    username = 'GoogleColab2023'
    password = 'GoogleColab_2023'

    scenes = download_scenes(username, password)
    for scene in scenes:
        process(scene)
`

func TestTransformer_EndToEndFixture(t *testing.T) {
	out, err := NewTransformer().Transform(fixtureScript)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(fixtureWant, out))

	// No Colab residue survives the rewrite.
	assert.NotContains(t, out, "google.colab")
	for _, line := range strings.Split(out, "\n") {
		assert.False(t, strings.HasPrefix(strings.TrimSpace(line), "!"),
			"shell escape survived: %q", line)
	}
	assert.Equal(t, 1, strings.Count(out, "if __name__ == '__main__':"))
}

func TestTransformer_Deterministic(t *testing.T) {
	tr := NewTransformer()

	first, err := tr.Transform(fixtureScript)
	require.NoError(t, err)
	second, err := tr.Transform(fixtureScript)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTransformer_PreservesTrailingNewlineChoice(t *testing.T) {
	tr := NewTransformer()

	withNL, err := tr.Transform("print('hi')\n")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", withNL)

	withoutNL, err := tr.Transform("print('hi')")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", withoutNL)
}

func TestTransformFile_WritesAtomicallyWithSourcePermissions(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "notebook_export.py")
	out := filepath.Join(dir, "standalone.py")

	require.NoError(t, os.WriteFile(in, []byte(fixtureScript), 0o755))

	require.NoError(t, NewTransformer().TransformFile(in, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, fixtureWant, string(got))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// No temp file left behind.
	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestTransformFile_MissingInput(t *testing.T) {
	dir := t.TempDir()

	err := NewTransformer().TransformFile(
		filepath.Join(dir, "missing.py"),
		filepath.Join(dir, "out.py"),
	)
	require.Error(t, err)
}
