package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sarpipe/internal/step"
)

// Observer is notified after each stage reaches a terminal state. The run
// store uses this to persist checkpoints; the trace recorder uses it to
// collect events. Observers must not influence execution.
type Observer interface {
	StageFinished(name string, state StageState, result *StageResult)
}

// Executor executes a StageGraph deterministically.
//
// The serial mode processes the scheduler's ordered ready list one stage
// at a time. The parallel mode dispatches by increasing topological depth,
// lexically within a depth, over a bounded worker pool. Both modes produce
// the same terminal states for the same inputs.
type Executor struct {
	Graph    *StageGraph
	Runner   StageRunner
	Observer Observer

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with every stage initialized to PENDING.
func NewExecutor(g *StageGraph, runner StageRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = StagePending
	}

	return &Executor{Graph: g, Runner: runner, state: state}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

func (e *Executor) notify(name string, state StageState, result *StageResult) {
	if e.Observer != nil {
		e.Observer.StageFinished(name, state, result)
	}
}

type runRecords struct {
	order      []string
	stepHashes map[string]step.StepHash
	stdout     map[string][]byte
	stderr     map[string][]byte
	exitCodes  map[string]int
}

func newRunRecords(n int) *runRecords {
	return &runRecords{
		order:      make([]string, 0, n),
		stepHashes: make(map[string]step.StepHash, n),
		stdout:     make(map[string][]byte, n),
		stderr:     make(map[string][]byte, n),
		exitCodes:  make(map[string]int, n),
	}
}

func (rec *runRecords) record(name string, res *StageResult) {
	rec.stepHashes[name] = res.Hash
	rec.stdout[name] = res.Stdout
	rec.stderr[name] = res.Stderr
	rec.exitCodes[name] = res.ExitCode
}

func (e *Executor) result(rec *runRecords) *GraphResult {
	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     e.StateSnapshot(),
		ExecutionOrder: rec.order,
		StepHashes:     rec.stepHashes,
		Stdout:         rec.stdout,
		Stderr:         rec.stderr,
		ExitCode:       rec.exitCodes,
	}
}

// RunSerial executes the graph one stage at a time.
//
// All state mutations happen under a single mutex, the scheduler is polled
// deterministically, and the next stage is always the first element of the
// scheduler's ordered list.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rec := newRunRecords(len(e.Graph.nodes))

	for {
		e.mu.Lock()
		ready := ReadyStages(e.Graph, e.state)

		if len(ready) == 0 {
			// Either finished, or deadlocked from inconsistent state.
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if allTerminal {
				return e.result(rec), nil
			}
			return nil, fmt.Errorf("no ready stages but graph not finished")
		}

		next := ready[0]
		task := e.Graph.nodesByName[next].Step

		probeRes, cached, err := e.Runner.Probe(ctx, task)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("probing cache for %q: %w", next, err)
		}
		if cached {
			if probeRes == nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("probing cache for %q: nil result", next)
			}
			if err := Transition(e.state, next, StagePending, StageCached); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			rec.record(next, probeRes)
			e.mu.Unlock()
			e.notify(next, StageCached, probeRes)
			continue
		}

		if err := Transition(e.state, next, StagePending, StageRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		// Execute outside the lock.
		runRes, err := e.Runner.Run(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if runRes == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		rec.order = append(rec.order, next)
		rec.record(next, runRes)

		if runRes.ExitCode == 0 {
			if err := Transition(e.state, next, StageRunning, StageCompleted); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.mu.Unlock()
			e.notify(next, StageCompleted, runRes)
			continue
		}

		if err := FailAndPropagate(e.Graph, e.state, next); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()
		e.notify(next, StageFailed, runRes)
	}
}

type workItem struct {
	name string
	task step.Step
}

type workResult struct {
	name   string
	result *StageResult
	err    error
}

// RunParallel executes the graph with up to concurrency workers.
//
// Determinism strategy: depth-staged dispatch. Stages are dispatched in
// increasing topological depth, lexically within a depth, and a depth
// stage completes fully before the next one starts. State reads/writes
// are synchronized by e.mu; execution happens outside the lock.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	maxDepth := 0
	for _, d := range e.Graph.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	byDepth := make([][]string, maxDepth+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.Runner.Run(ctx, w.task)
				doneCh <- workResult{name: w.name, result: res, err: err}
			}
		}()
	}

	rec := newRunRecords(len(e.Graph.nodes))
	inFlight := 0

	depsSatisfied := func(idx int) bool {
		for _, p := range e.Graph.incoming[idx] {
			if !IsSuccessful(e.state[e.Graph.nodes[p].Name]) {
				return false
			}
		}
		return true
	}

	for depth := 0; depth <= maxDepth; depth++ {
		names := byDepth[depth]
		nextToStart := 0

		for {
			// Dispatch as many stages as possible for this depth. Observer
			// notifications are deferred until the lock is released.
			var cachedNotify []workResult
			e.mu.Lock()
			for inFlight < concurrency && nextToStart < len(names) {
				name := names[nextToStart]
				node := e.Graph.nodesByName[name]
				st := e.state[name]

				// Already terminal (e.g. skipped by an earlier failure).
				if IsTerminal(st) {
					nextToStart++
					continue
				}
				if st != StagePending {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("unexpected non-pending state for %q: %s", name, st)
				}
				if !depsSatisfied(node.canonicalIndex) {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("stage %q at depth %d is pending but dependencies are not successful", name, depth)
				}

				res, cached, err := e.Runner.Probe(ctx, node.Step)
				if err != nil {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("probing cache for %q: %w", name, err)
				}
				if cached {
					if res == nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, fmt.Errorf("probing cache for %q: nil result", name)
					}
					if err := Transition(e.state, name, StagePending, StageCached); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
					rec.record(name, res)
					nextToStart++
					cachedNotify = append(cachedNotify, workResult{name: name, result: res})
					continue
				}

				if err := Transition(e.state, name, StagePending, StageRunning); err != nil {
					e.mu.Unlock()
					stopWorkers()
					return nil, err
				}
				rec.order = append(rec.order, name)
				inFlight++
				nextToStart++
				workCh <- workItem{name: name, task: node.Step}
			}

			stageDone := nextToStart >= len(names) && inFlight == 0
			e.mu.Unlock()
			for _, c := range cachedNotify {
				e.notify(c.name, StageCached, c.result)
			}
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				stopWorkers()
				return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case r := <-doneCh:
				if r.err != nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: %w", r.name, r.err)
				}
				if r.result == nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: nil result", r.name)
				}

				e.mu.Lock()
				if cur := e.state[r.name]; cur != StageRunning {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("completion for %q but state is %s", r.name, cur)
				}

				rec.record(r.name, r.result)

				var terminal StageState
				if r.result.ExitCode == 0 {
					if err := Transition(e.state, r.name, StageRunning, StageCompleted); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
					terminal = StageCompleted
				} else {
					if err := FailAndPropagate(e.Graph, e.state, r.name); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
					terminal = StageFailed
				}
				inFlight--
				e.mu.Unlock()
				e.notify(r.name, terminal, r.result)
			}
		}
	}

	stopWorkers()
	return e.result(rec), nil
}
