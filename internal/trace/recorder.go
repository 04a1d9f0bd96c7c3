package trace

import (
	"sync"

	"sarpipe/internal/pipeline"
)

// Recorder is a concurrency-safe in-memory event collector. It implements
// pipeline.Observer, so it can be attached to an executor directly.
//
// Recording order does not matter: canonical ordering is computed when the
// trace is built. Record is inert; it never panics and never errors.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record appends one event.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// StageFinished translates a terminal stage state into trace events.
func (r *Recorder) StageFinished(name string, state pipeline.StageState, result *pipeline.StageResult) {
	switch state {
	case pipeline.StageCompleted:
		r.Record(Event{Kind: EventStageExecuted, StageID: name})
	case pipeline.StageCached:
		r.Record(Event{Kind: EventStageCached, StageID: name})
		if result != nil && result.ArtifactsRestored > 0 {
			r.Record(Event{Kind: EventStageArtifactsRestored, StageID: name})
		}
	case pipeline.StageFailed:
		r.Record(Event{Kind: EventStageFailed, StageID: name})
	case pipeline.StageSkipped:
		r.Record(Event{Kind: EventStageSkipped, StageID: name})
	}
}

// Snapshot returns a point-in-time copy of the recorded events.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical ExecutionTrace from the recorded events.
func (r *Recorder) Trace(graphHash string) ExecutionTrace {
	tr := ExecutionTrace{GraphHash: graphHash}
	tr.Events = r.Snapshot()
	tr.Canonicalize()
	return tr
}

// FromResult builds the complete canonical trace of a finished run from
// its GraphResult. Unlike the streaming Recorder, this includes SKIPPED
// stages, which never reach an executor observer because failure
// propagation marks them terminal in bulk.
func FromResult(res *pipeline.GraphResult) ExecutionTrace {
	tr := ExecutionTrace{GraphHash: string(res.GraphHash)}
	for name, state := range res.FinalState {
		switch state {
		case pipeline.StageCompleted:
			tr.Events = append(tr.Events, Event{Kind: EventStageExecuted, StageID: name})
		case pipeline.StageCached:
			tr.Events = append(tr.Events, Event{Kind: EventStageCached, StageID: name})
		case pipeline.StageFailed:
			tr.Events = append(tr.Events, Event{Kind: EventStageFailed, StageID: name})
		case pipeline.StageSkipped:
			tr.Events = append(tr.Events, Event{
				Kind:    EventStageSkipped,
				StageID: name,
				Reason:  "UpstreamFailed",
			})
		}
	}
	tr.Canonicalize()
	return tr
}
