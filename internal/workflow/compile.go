package workflow

import (
	"strings"

	"go.uber.org/zap"

	"sarpipe/internal/pipeline"
	"sarpipe/internal/step"
	"sarpipe/internal/toolchain"
)

// Plan is a compiled workflow: the stage graph the executor runs plus the
// per-stage definitions the kind dispatcher needs.
type Plan struct {
	Graph *pipeline.StageGraph

	// Defs maps stage names to their original definitions. Stages
	// synthesized from a toolchain block are not present; they are plain
	// shell stages.
	Defs map[string]StageDef

	// ToolchainBin is the installed toolchain's bin directory when the
	// workflow has a toolchain stage, for prepending to downstream stage
	// PATHs. Empty otherwise.
	ToolchainBin string
}

// Compile lowers a validated document into an executable stage graph.
//
// A toolchain stage expands into the builder's clone/configure/build/
// install stages. Dependencies on the toolchain stage attach to its
// install stage, and the toolchain's own needs attach to its source
// stage. Dataset and notebook stages become synthetic steps whose command
// strings exist to give them a stable hash identity; the dispatcher
// executes them natively.
func Compile(doc *Document, logger *zap.Logger) (*Plan, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var stages []step.Step
	var edges []pipeline.Edge
	var toolchainBin string
	defs := make(map[string]StageDef)

	// endpoint maps a user-visible stage name to the graph stage that
	// downstream needs should point at. Resolved up front so a need on a
	// toolchain stage declared later in the file still lands on its
	// install stage.
	endpoint := make(map[string]string, len(doc.Stages))
	for _, s := range doc.Stages {
		if kindOf(s) == KindToolchain {
			endpoint[s.Name] = toolchain.StageInstall
		} else {
			endpoint[s.Name] = s.Name
		}
	}

	for _, s := range doc.Stages {
		switch kindOf(s) {
		case KindToolchain:
			if err := rejectBuilderNameCollisions(doc); err != nil {
				return nil, err
			}
			b, err := toolchain.NewBuilder(*s.Toolchain, logger)
			if err != nil {
				return nil, schemaErrf("stage %q: %v", s.Name, err)
			}
			tStages, tEdges := b.Stages()
			toolchainBin = b.BinDir()
			stages = append(stages, tStages...)
			edges = append(edges, tEdges...)
			for _, need := range s.Needs {
				edges = append(edges, pipeline.Edge{From: endpoint[need], To: toolchain.StageSource})
			}

		case KindDataset:
			st := step.Step{
				Name: s.Name,
				Run:  "dataset acquire " + s.Dataset.Source,
				Env:  s.Env,
			}
			stages = append(stages, st)
			defs[s.Name] = s
			edges = append(edges, needEdges(endpoint, s)...)

		case KindNotebook:
			interp := s.Notebook.Interpreter
			if interp == "" {
				interp = "python3"
			}
			st := step.Step{
				Name:    s.Name,
				Run:     interp + " " + s.Notebook.Output,
				Env:     s.Env,
				Inputs:  append(append([]string(nil), s.Inputs...), s.Notebook.Source),
				Outputs: s.Outputs,
			}
			stages = append(stages, st)
			defs[s.Name] = s
			edges = append(edges, needEdges(endpoint, s)...)

		default:
			st := step.Step{
				Name:    s.Name,
				Run:     s.Run,
				Env:     s.Env,
				Inputs:  s.Inputs,
				Outputs: s.Outputs,
			}
			stages = append(stages, st)
			edges = append(edges, needEdges(endpoint, s)...)
		}
	}

	g, err := pipeline.NewStageGraph(stages, edges)
	if err != nil {
		return nil, schemaErrf("%v", err)
	}
	return &Plan{Graph: g, Defs: defs, ToolchainBin: toolchainBin}, nil
}

func needEdges(endpoint map[string]string, s StageDef) []pipeline.Edge {
	out := make([]pipeline.Edge, 0, len(s.Needs))
	for _, need := range s.Needs {
		out = append(out, pipeline.Edge{From: endpoint[need], To: s.Name})
	}
	return out
}

func rejectBuilderNameCollisions(doc *Document) error {
	reserved := map[string]bool{
		toolchain.StageSource:    true,
		toolchain.StageConfigure: true,
		toolchain.StageBuild:     true,
		toolchain.StageInstall:   true,
	}
	for _, s := range doc.Stages {
		if kindOf(s) != KindToolchain && reserved[strings.TrimSpace(s.Name)] {
			return schemaErrf("stage name %q is reserved for toolchain stages", s.Name)
		}
	}
	return nil
}
