package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Transformer converts a notebook-derived script into a standalone one.
type Transformer struct {
	pipeline *Pipeline
}

// NewTransformer builds the standard transformation: strip the Colab
// guard block, blank shell escapes, then move trailing module-level code
// under a main guard.
func NewTransformer() *Transformer {
	return NewTransformerWithRules(
		StripColabGuard{},
		BlankShellEscapes{},
		InjectMainGuard{},
	)
}

// NewTransformerWithRules builds a transformer over a custom rule set.
func NewTransformerWithRules(rules ...Rule) *Transformer {
	return &Transformer{pipeline: NewPipeline(rules...)}
}

// Transform rewrites the script text. A trailing newline in the input is
// preserved in the output.
func (t *Transformer) Transform(src string) (string, error) {
	trailingNewline := strings.HasSuffix(src, "\n")

	lines := strings.Split(src, "\n")
	if trailingNewline {
		// Split leaves a phantom empty element after the final newline.
		lines = lines[:len(lines)-1]
	}

	out, err := t.pipeline.Apply(lines)
	if err != nil {
		return "", err
	}

	joined := strings.Join(out, "\n")
	if trailingNewline && joined != "" {
		joined += "\n"
	}
	return joined, nil
}

// TransformFile reads inPath, transforms it, and writes the result to
// outPath atomically. outPath keeps the source file's permissions.
func (t *Transformer) TransformFile(inPath, outPath string) error {
	src, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	info, err := os.Stat(inPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	out, err := t.Transform(string(src))
	if err != nil {
		return fmt.Errorf("transforming %s: %w", filepath.Base(inPath), err)
	}

	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(out), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing transformed script: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing transformed script: %w", err)
	}
	return nil
}
