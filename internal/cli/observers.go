package cli

import (
	"go.uber.org/zap"

	"sarpipe/internal/pipeline"
	"sarpipe/internal/recovery/state"
	"sarpipe/internal/trace"
)

// multiObserver fans out executor notifications.
type multiObserver []pipeline.Observer

func (m multiObserver) StageFinished(name string, st pipeline.StageState, result *pipeline.StageResult) {
	for _, o := range m {
		if o != nil {
			o.StageFinished(name, st, result)
		}
	}
}

// checkpointObserver persists a checkpoint after every successfully
// finished stage. Checkpoint failures are logged rather than fatal; a
// missing checkpoint only costs a re-execution on the next resume.
type checkpointObserver struct {
	runID     string
	graph     *pipeline.StageGraph
	validator *state.CheckpointValidator
	recorder  *trace.Recorder
	logger    *zap.Logger
}

func (o *checkpointObserver) StageFinished(name string, st pipeline.StageState, result *pipeline.StageResult) {
	if !pipeline.IsSuccessful(st) || result == nil || result.ExitCode != 0 {
		return
	}
	node, ok := o.graph.Node(name)
	if !ok {
		return
	}
	_, err := o.validator.CreateAndSave(o.runID, name, result.Hash, result.ExitCode,
		node.Step.Outputs, o.recorder.Snapshot())
	if err != nil {
		o.logger.Warn("checkpoint not saved",
			zap.String("stage", name),
			zap.Error(err))
	}
}
