package workflow

// Combination is one cell of the workflow matrix.
type Combination struct {
	OS          string
	Interpreter string
}

// Combinations expands the matrix into the full cross product, in declared
// order (OS outer, interpreter inner). A nil or empty matrix yields one
// empty combination so every workflow runs at least once.
func Combinations(m *Matrix) []Combination {
	oses := []string{""}
	interps := []string{""}
	if m != nil && len(m.OS) > 0 {
		oses = m.OS
	}
	if m != nil && len(m.Interpreter) > 0 {
		interps = m.Interpreter
	}

	out := make([]Combination, 0, len(oses)*len(interps))
	for _, o := range oses {
		for _, p := range interps {
			out = append(out, Combination{OS: o, Interpreter: p})
		}
	}
	return out
}

// ApplyCombination returns a copy of the document specialized to one
// matrix cell: the combination is visible to every stage through
// MATRIX_OS and MATRIX_INTERPRETER, and notebook stages with no explicit
// interpreter inherit the cell's interpreter.
func ApplyCombination(doc *Document, c Combination) *Document {
	out := &Document{Name: doc.Name, Stages: make([]StageDef, len(doc.Stages))}
	for i, s := range doc.Stages {
		spec := s
		spec.Env = cloneEnv(s.Env)
		if c.OS != "" {
			spec.Env["MATRIX_OS"] = c.OS
		}
		if c.Interpreter != "" {
			spec.Env["MATRIX_INTERPRETER"] = c.Interpreter
			if spec.Notebook != nil && spec.Notebook.Interpreter == "" {
				nb := *spec.Notebook
				nb.Interpreter = c.Interpreter
				spec.Notebook = &nb
			}
		}
		if len(spec.Env) == 0 {
			spec.Env = nil
		}
		out.Stages[i] = spec
	}
	return out
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+2)
	for k, v := range env {
		out[k] = v
	}
	return out
}
