// Package step executes a single pipeline stage in a controlled environment.
//
// A stage is the unit the harness hashes, caches, and replays: provisioning
// the processing toolchain, fetching a fixture dataset, adapting a notebook
// script, or running the adapted script against the toolchain binaries.
//
// Design constraints:
//   - No implied fields (e.g., creation timestamps) that could change a
//     stage's identity between runs
//   - All fields are explicit and observable
//   - Structures support exact serialization for hash computation
package step

// Step is a declarative definition of one unit of pipeline work.
//
// Identity is content-based: the command, the explicit environment, the
// declared outputs, and the resolved input contents all contribute to the
// step hash. Implicit dependencies (host packages, ambient env vars) do not.
type Step struct {
	// Name is the logical identifier for the step.
	// Used for addressing graph edges and reporting; it does not affect
	// the step hash.
	Name string `json:"name" yaml:"name"`

	// Inputs is a list of file paths or glob patterns.
	// Expansion is deterministic and strictly sorted before hashing.
	Inputs []string `json:"inputs" yaml:"inputs"`

	// Run is the command string, interpreted by `sh -c` exactly as given.
	Run string `json:"run" yaml:"run"`

	// Env is the explicit environment for the step. Only variables listed
	// here (plus executor-level passthrough and PATH assembly) are visible
	// to the command.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Outputs is the list of files or directories the step is expected to
	// produce. Only declared outputs are eligible for artifact capture.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}
