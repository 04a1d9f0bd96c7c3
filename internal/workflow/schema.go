package workflow

import (
	"fmt"
	"strings"

	"sarpipe/internal/dataset"
	"sarpipe/internal/toolchain"
)

// Kind selects how a stage executes.
type Kind string

const (
	// KindRun executes a shell command through the step engine.
	KindRun Kind = "run"

	// KindToolchain builds and installs the processing toolchain.
	KindToolchain Kind = "toolchain"

	// KindDataset downloads and extracts a dataset archive.
	KindDataset Kind = "dataset"

	// KindNotebook converts a notebook-style script and executes it.
	KindNotebook Kind = "notebook"
)

// NotebookSpec configures a notebook stage.
type NotebookSpec struct {
	// Source is the notebook-derived Python script to convert.
	Source string `yaml:"source" json:"source"`

	// Output is where the converted script is written.
	Output string `yaml:"output" json:"output"`

	// Interpreter runs the converted script. Defaults to python3.
	Interpreter string `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
}

// StageDef is one stage of a workflow document.
type StageDef struct {
	Name    string            `yaml:"name" json:"name"`
	Kind    Kind              `yaml:"kind,omitempty" json:"kind,omitempty"`
	Run     string            `yaml:"run,omitempty" json:"run,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Inputs  []string          `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs []string          `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Needs   []string          `yaml:"needs,omitempty" json:"needs,omitempty"`

	Dataset   *dataset.Spec   `yaml:"dataset,omitempty" json:"dataset,omitempty"`
	Notebook  *NotebookSpec   `yaml:"notebook,omitempty" json:"notebook,omitempty"`
	Toolchain *toolchain.Spec `yaml:"toolchain,omitempty" json:"toolchain,omitempty"`
}

// Matrix expands a workflow into one run per combination.
type Matrix struct {
	OS          []string `yaml:"os,omitempty" json:"os,omitempty"`
	Interpreter []string `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
}

// Document is a parsed workflow file.
type Document struct {
	Name   string     `yaml:"name,omitempty" json:"name,omitempty"`
	Matrix *Matrix    `yaml:"matrix,omitempty" json:"matrix,omitempty"`
	Stages []StageDef `yaml:"stages" json:"stages"`
}

// SchemaError marks a workflow file that parsed but does not describe a
// valid pipeline. The CLI maps it to the configuration exit code.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	if e == nil {
		return ""
	}
	return "workflow schema: " + e.Message
}

func schemaErrf(format string, args ...any) error {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// Validate checks document-level structure. Graph-level problems such as
// cycles surface later, when the document is compiled.
func (d *Document) Validate() error {
	if d == nil {
		return schemaErrf("empty document")
	}
	if len(d.Stages) == 0 {
		return schemaErrf("no stages")
	}

	seen := make(map[string]bool, len(d.Stages))
	toolchainStages := 0
	for i, s := range d.Stages {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return schemaErrf("stage %d has no name", i)
		}
		if seen[name] {
			return schemaErrf("duplicate stage name %q", name)
		}
		seen[name] = true

		switch kindOf(s) {
		case KindRun:
			if strings.TrimSpace(s.Run) == "" {
				return schemaErrf("stage %q has no run command", name)
			}
		case KindToolchain:
			toolchainStages++
			if s.Toolchain == nil {
				return schemaErrf("stage %q is a toolchain stage without a toolchain block", name)
			}
			if err := s.Toolchain.Validate(); err != nil {
				return schemaErrf("stage %q: %v", name, err)
			}
		case KindDataset:
			if s.Dataset == nil {
				return schemaErrf("stage %q is a dataset stage without a dataset block", name)
			}
			if strings.TrimSpace(s.Dataset.Source) == "" {
				return schemaErrf("stage %q has no dataset source", name)
			}
			if strings.TrimSpace(s.Dataset.Dir) == "" {
				return schemaErrf("stage %q has no dataset dir", name)
			}
		case KindNotebook:
			if s.Notebook == nil {
				return schemaErrf("stage %q is a notebook stage without a notebook block", name)
			}
			if strings.TrimSpace(s.Notebook.Source) == "" || strings.TrimSpace(s.Notebook.Output) == "" {
				return schemaErrf("stage %q needs notebook source and output", name)
			}
		default:
			return schemaErrf("stage %q has unknown kind %q", name, s.Kind)
		}
	}
	if toolchainStages > 1 {
		return schemaErrf("at most one toolchain stage is allowed")
	}

	for _, s := range d.Stages {
		for _, need := range s.Needs {
			if !seen[need] {
				return schemaErrf("stage %q needs unknown stage %q", s.Name, need)
			}
			if need == s.Name {
				return schemaErrf("stage %q needs itself", s.Name)
			}
		}
	}
	return nil
}

func kindOf(s StageDef) Kind {
	if s.Kind == "" {
		return KindRun
	}
	return s.Kind
}
