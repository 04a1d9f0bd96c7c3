// Package trace produces canonical, deterministic records of pipeline
// runs: which stages executed, replayed from cache, failed, or were
// skipped. Traces capture logical decisions only; two runs that make the
// same decisions produce byte-identical traces regardless of timing or
// concurrency.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of one graph execution.
//
// Invariants:
//   - No timestamps, durations, pointers, or other runtime-dependent values.
//   - Events are totally ordered by Canonicalize, not by wall-clock order.
//   - Once canonicalized the trace must be treated as immutable.
type ExecutionTrace struct {
	GraphHash string
	Events    []Event
}

// EventKind discriminates trace events. The string values are part of the
// canonical bytes; do not rename.
type EventKind string

const (
	EventStageInvalidated       EventKind = "StageInvalidated"
	EventStageArtifactsRestored EventKind = "StageArtifactsRestored"
	EventStageCached            EventKind = "StageCached"
	EventStageExecuted          EventKind = "StageExecuted"
	EventStageFailed            EventKind = "StageFailed"
	EventStageSkipped           EventKind = "StageSkipped"
)

// Event is a single logical decision.
//
// Optional fields must be set deterministically: empty slices normalize to
// nil and artifact lists are sorted during canonicalization.
type Event struct {
	Kind EventKind

	// StageID names the stage the event refers to.
	StageID string

	// Reason is a stable reason code, e.g. "InputChanged" or
	// "UpstreamFailed".
	Reason string

	// CauseStageID records the upstream stage responsible, e.g. the
	// failed stage that caused a skip.
	CauseStageID string

	// Artifacts lists restored artifact identifiers.
	Artifacts []string
}

// Validate checks basic invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graph hash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.StageID == "" {
			return fmt.Errorf("events[%d].stageId is required", i)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form:
// artifact lists sorted, empty lists nil, events stably sorted by
// (stageId, kind order, reason, causeStageId, artifacts).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.StageID != b.StageID {
			return a.StageID < b.StageID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseStageID != b.CauseStageID {
			return a.CauseStageID < b.CauseStageID
		}
		return lessStringSlices(a.Artifacts, b.Artifacts)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventStageInvalidated:
		return 10
	case EventStageArtifactsRestored:
		return 20
	case EventStageCached:
		return 30
	case EventStageExecuted:
		return 40
	case EventStageFailed:
		return 50
	case EventStageSkipped:
		return 60
	default:
		return 1000
	}
}

func lessStringSlices(a, b []string) bool {
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	for i := 0; i < min; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding. It canonicalizes a
// copy so the caller's slices are not mutated.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash}
	cp.Events = make([]Event, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes the field order so the encoding is stable.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graph hash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"graphHash\":")
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteByte(',')

	buf.WriteString("\"events\":[")
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var artifacts []string
	if len(e.Artifacts) > 0 {
		artifacts = make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"kind\":")
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.StageID != "" {
		buf.WriteString(",\"stageId\":")
		sb, _ := json.Marshal(e.StageID)
		buf.Write(sb)
	}
	if e.Reason != "" {
		buf.WriteString(",\"reason\":")
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.CauseStageID != "" {
		buf.WriteString(",\"causeStageId\":")
		cb, _ := json.Marshal(e.CauseStageID)
		buf.Write(cb)
	}
	if len(artifacts) > 0 {
		buf.WriteString(",\"artifacts\":[")
		for i := range artifacts {
			if i > 0 {
				buf.WriteByte(',')
			}
			ab, _ := json.Marshal(artifacts[i])
			buf.Write(ab)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
