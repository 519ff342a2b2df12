package executor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Status is the lifecycle state of a task within one request's DAG.
type Status string

const (
	StatusTodo    Status = "TODO"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Operator is the closed set of task kinds the pipeline dispatches on.
type Operator string

const (
	OperatorAnalysis         Operator = "analysis"
	OperatorExtractionRender Operator = "extraction-render"
	OperatorAggregation      Operator = "aggregation"
)

func (op Operator) Valid() bool {
	switch op {
	case OperatorAnalysis, OperatorExtractionRender, OperatorAggregation:
		return true
	}
	return false
}

// Task is a node in the execution DAG. Result is set exactly once, on the
// transition to DONE, and never rewritten afterwards.
type Task struct {
	ID           int
	Operator     Operator
	RendererHint string
	DependsOn    []int
	Status       Status
	Result       any
	MaxRetries   int
	RetryDelay   time.Duration
}

// ErrUnknownDependency indicates a dependency reference that is missing from the graph.
var ErrUnknownDependency = fmt.Errorf("unknown dependency")

// ErrCycleDetected indicates the graph contains a cycle.
var ErrCycleDetected = fmt.Errorf("cycle detected")

// ErrDuplicateTask indicates two tasks declared the same id.
var ErrDuplicateTask = fmt.Errorf("duplicate task id")

// ErrUnknownOperator indicates an operator outside the closed enumeration.
var ErrUnknownOperator = fmt.Errorf("unknown operator kind")

// ErrDependencyNotSatisfied means a task was about to run before all of its
// dependencies reached DONE. The topological order makes that impossible
// unless the executor itself is wrong, so it is a bug signal, not an expected
// runtime condition.
var ErrDependencyNotSatisfied = fmt.Errorf("dependency not satisfied")

// Graph is a validated set of tasks keyed by id, with the execution order
// fixed at construction.
type Graph struct {
	Tasks map[int]*Task
	order []int
}

// NewGraph validates a declared task list: operators must belong to the
// closed set, ids must be unique, every dependency must name an existing task
// and the graph must be acyclic. Ties in the topological order break by
// ascending id so execution is deterministic.
func NewGraph(tasks []Task) (*Graph, error) {
	byID := make(map[int]*Task, len(tasks))
	for i := range tasks {
		t := tasks[i]
		if !t.Operator.Valid() {
			return nil, fmt.Errorf("%w: %q (task %d)", ErrUnknownOperator, t.Operator, t.ID)
		}
		if _, ok := byID[t.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateTask, t.ID)
		}
		if t.Status == "" {
			t.Status = StatusTodo
		}
		byID[t.ID] = &t
	}

	indegree := make(map[int]int, len(byID))
	adjacency := make(map[int][]int, len(byID))
	for id, task := range byID {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range task.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %d -> %d", ErrUnknownDependency, id, dep)
			}
			adjacency[dep] = append(adjacency[dep], id)
			indegree[id]++
		}
	}

	queue := make([]int, 0, len(byID))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Ints(queue)

	order := make([]int, 0, len(byID))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, next := range adjacency[current] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
		sort.Ints(queue)
	}
	if len(order) != len(byID) {
		return nil, ErrCycleDetected
	}

	return &Graph{Tasks: byID, order: order}, nil
}

// Order returns a copy of the fixed execution order.
func (g *Graph) Order() []int {
	out := make([]int, len(g.order))
	copy(out, g.order)
	return out
}

// Result returns the materialized result of a DONE task.
func (g *Graph) Result(id int) (any, bool) {
	t, ok := g.Tasks[id]
	if !ok || t.Status != StatusDone {
		return nil, false
	}
	return t.Result, true
}

// TaskRunner executes the concrete work for a task. deps maps each declared
// upstream id to its materialized result.
type TaskRunner interface {
	RunTask(ctx context.Context, runID string, task Task, deps map[int]any) (any, error)
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	Transition   func(context.Context, Task, Status)
	RetryCounter func(context.Context, Task, int)
	Duration     func(context.Context, Task, time.Duration)
}

// Executor runs tasks strictly in dependency order, one at a time. The render
// task consumes the analysis task's validated output, so there is nothing to
// parallelize inside a single request.
type Executor struct {
	checkpoints CheckpointManager
	metrics     Metrics
	logger      *log.Logger
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointManager sets the checkpoint manager implementation.
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(ex *Executor) {
		ex.checkpoints = mgr
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithLogger sets the executor's diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(ex *Executor) {
		ex.logger = l
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{logger: log.New(log.Writer(), "[EXEC] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

func (e *Executor) transition(ctx context.Context, task *Task, status Status) {
	task.Status = status
	e.logger.Printf("run task %d (%s): -> %s", task.ID, task.Operator, status)
	if e.metrics.Transition != nil {
		e.metrics.Transition(ctx, *task, status)
	}
}

// Execute walks the graph in its fixed order and returns the ids that ran to
// completion. A failing task is marked FAILED and every transitive dependent
// is failed without starting; the first error is returned so the request
// surfaces the failure instead of presenting a partial result as success.
// Cancellation fails the remaining tasks the same way.
func (e *Executor) Execute(ctx context.Context, runID string, g *Graph, runner TaskRunner) ([]int, error) {
	if e.checkpoints == nil {
		e.checkpoints = NewNoopCheckpointManager()
	}
	if err := e.checkpoints.StartRun(ctx, runID); err != nil {
		return nil, err
	}

	executed := make([]int, 0, len(g.order))
	var firstErr error

	for _, id := range g.order {
		task := g.Tasks[id]

		if err := ctx.Err(); err != nil {
			e.transition(ctx, task, StatusFailed)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		upstreamFailed := false
		deps := make(map[int]any, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			switch g.Tasks[dep].Status {
			case StatusDone:
				deps[dep] = g.Tasks[dep].Result
			case StatusFailed:
				upstreamFailed = true
			default:
				return executed, fmt.Errorf("%w: task %d waiting on task %d (%s)", ErrDependencyNotSatisfied, id, dep, g.Tasks[dep].Status)
			}
		}
		if upstreamFailed {
			e.logger.Printf("run task %d: upstream failed, not starting", id)
			e.transition(ctx, task, StatusFailed)
			continue
		}

		e.transition(ctx, task, StatusRunning)
		if err := e.runWithRetries(ctx, runID, task, deps, runner); err != nil {
			e.transition(ctx, task, StatusFailed)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.transition(ctx, task, StatusDone)
		executed = append(executed, id)
	}

	return executed, firstErr
}

func (e *Executor) runWithRetries(ctx context.Context, runID string, task *Task, deps map[int]any, runner TaskRunner) error {
	maxRetries := task.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempt := 0
	for {
		attemptStart := time.Now()
		if err := e.checkpoints.SaveTaskStart(ctx, runID, *task, attempt); err != nil {
			return err
		}
		var result any
		var runErr error
		if runner != nil {
			result, runErr = runner.RunTask(ctx, runID, *task, deps)
		}
		if runErr == nil {
			task.Result = result
			if err := e.checkpoints.SaveTaskSuccess(ctx, runID, *task, attempt); err != nil {
				return err
			}
			if e.metrics.Duration != nil {
				e.metrics.Duration(ctx, *task, time.Since(attemptStart))
			}
			return nil
		}
		nextAttempt := attempt + 1
		if err := e.checkpoints.SaveTaskFailure(ctx, runID, *task, nextAttempt, runErr); err != nil {
			return err
		}
		if e.metrics.RetryCounter != nil {
			e.metrics.RetryCounter(ctx, *task, nextAttempt)
		}
		if nextAttempt > maxRetries {
			return runErr
		}
		if task.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(task.RetryDelay):
			}
		}
		attempt = nextAttempt
	}
}
