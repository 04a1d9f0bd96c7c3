// Package notebook rewrites notebook-derived Python scripts into standalone
// executables.
//
// Scripts exported from hosted notebooks carry environment-specific
// residue: a Colab detection block, shell-escape lines, and module-level
// code that must move under a main guard before the script can be imported
// or run directly. Each concern is an independent Rule; a Pipeline applies
// them in order. Rules leave non-matching lines byte-identical.
package notebook

// A Rule transforms a script, represented as lines without terminators.
type Rule interface {
	// Name identifies the rule in errors and logs.
	Name() string

	Apply(lines []string) ([]string, error)
}

// Pipeline applies rules in order.
type Pipeline struct {
	rules []Rule
}

// NewPipeline builds a pipeline over the given rules.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: rules}
}

// Apply runs every rule in order and returns the transformed lines.
func (p *Pipeline) Apply(lines []string) ([]string, error) {
	out := lines
	for _, r := range p.rules {
		next, err := r.Apply(out)
		if err != nil {
			return nil, &RuleError{Rule: r.Name(), Err: err}
		}
		out = next
	}
	return out, nil
}
