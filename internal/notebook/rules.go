package notebook

import "strings"

// Default pattern literals for scripts exported from Google Colab.
const (
	DefaultColabGuard = "if 'google.colab' in sys.modules:"
	DefaultMainMarker = "username = 'GoogleColab2023'"
	DefaultIndent     = "    "
)

// StripColabGuard removes the block starting at the first line containing
// Pattern through the next blank line, both ends inclusive. When no blank
// line follows the match, the block extends to the end of the script. The
// rule applies repeatedly, so multiple guard blocks are all removed.
type StripColabGuard struct {
	// Pattern is matched as a substring. Empty means DefaultColabGuard.
	Pattern string
}

func (r StripColabGuard) Name() string { return "strip-colab-guard" }

func (r StripColabGuard) pattern() string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return DefaultColabGuard
}

func (r StripColabGuard) Apply(lines []string) ([]string, error) {
	pattern := r.pattern()

	out := make([]string, 0, len(lines))
	inBlock := false
	for _, line := range lines {
		if inBlock {
			if strings.TrimSpace(line) == "" {
				inBlock = false
			}
			continue
		}
		if strings.Contains(line, pattern) {
			inBlock = true
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// BlankShellEscapes blanks lines whose first non-whitespace character is
// `!`, the notebook shell-escape syntax. Lines are blanked rather than
// removed so surrounding line numbers survive for error reporting.
type BlankShellEscapes struct{}

func (BlankShellEscapes) Name() string { return "blank-shell-escapes" }

func (BlankShellEscapes) Apply(lines []string) ([]string, error) {
	out := make([]string, len(lines))
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "!") {
			out[i] = ""
			continue
		}
		out[i] = line
	}
	return out, nil
}

// InjectMainGuard indents every line from the first line containing Marker
// (that line included) by one level and inserts a main guard immediately
// before the region. Blank lines inside the region stay blank instead of
// gaining trailing whitespace. When the marker never appears the script is
// returned unchanged.
type InjectMainGuard struct {
	// Marker is matched as a substring. Empty means DefaultMainMarker.
	Marker string

	// Indent is the indentation unit. Empty means DefaultIndent.
	Indent string
}

func (r InjectMainGuard) Name() string { return "inject-main-guard" }

func (r InjectMainGuard) Apply(lines []string) ([]string, error) {
	marker := r.Marker
	if marker == "" {
		marker = DefaultMainMarker
	}
	indent := r.Indent
	if indent == "" {
		indent = DefaultIndent
	}

	start := -1
	for i, line := range lines {
		if strings.Contains(line, marker) {
			start = i
			break
		}
	}
	if start < 0 {
		return lines, nil
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:start]...)
	out = append(out, "if __name__ == '__main__':")
	for _, line := range lines[start:] {
		if strings.TrimSpace(line) == "" {
			out = append(out, line)
			continue
		}
		out = append(out, indent+line)
	}
	return out, nil
}
