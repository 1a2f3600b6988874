package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
)

// State represents the position of a service in its pipeline
type State int

const (
	StateIdle State = iota
	StateAttaching
	StatePulling
	StateRestoring
	StateBuilding
	StateTestBuilding
	StateMaterializing
	StateResolvingPort
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAttaching:
		return "ATTACHING"
	case StatePulling:
		return "PULLING"
	case StateRestoring:
		return "RESTORING"
	case StateBuilding:
		return "BUILDING"
	case StateTestBuilding:
		return "TEST_BUILDING"
	case StateMaterializing:
		return "MATERIALIZING"
	case StateResolvingPort:
		return "RESOLVING_PORT"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Pipeline names
const (
	PipelineProvisioning = "provisioning"
	PipelineRebuild      = "rebuild"
	PipelineDiscovery    = "discovery"
)

// Stage names
const (
	StageAttach          = "attach"
	StagePull            = "pull"
	StageRestore         = "restore"
	StageBuild           = "build"
	StageTestBuild       = "test-build"
	StageMaterialize     = "materialize"
	StageResolveViewPort = "resolve-view-port"
)

// Stage is one step of a pipeline
type Stage struct {
	Name  string
	State State
	Run   func(ctx context.Context) error
}

// StageObserver records stage timings
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

// OperationResult is the settled outcome of one service pipeline
type OperationResult struct {
	Subject     *topology.ServiceDescriptor
	Pipeline    string
	State       State
	FailedStage string
	Success     bool
	Err         error
}

// StageError tags a stage failure with the service it happened on
type StageError struct {
	Service string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// BatchError reports every failed pipeline of a fan-out
type BatchError struct {
	Operation string
	Total     int
	Failed    []*OperationResult
}

func (e *BatchError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		keys = append(keys, fmt.Sprintf("%s (%s)", r.Subject.Key, r.FailedStage))
	}
	return fmt.Sprintf("%s failed for %d of %d services: %s, run `nest reset` once the cause is fixed",
		e.Operation, len(e.Failed), e.Total, strings.Join(keys, ", "))
}

// Unwrap exposes the stage errors to errors.Is and errors.As
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, r := range e.Failed {
		errs = append(errs, r.Err)
	}
	return errs
}

// FailedKeys returns the keys of the failed services
func (e *BatchError) FailedKeys() []string {
	keys := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		keys = append(keys, r.Subject.Key)
	}
	return keys
}

// RunStages runs stages in order and stops at the first failure. The context
// is checked before every stage. Exactly one terminal progress line is
// emitted for the subject. observer may be nil.
func RunStages(ctx context.Context, sink reporting.ProgressSink, subject *topology.ServiceDescriptor, pipeline string, observer StageObserver, stages ...Stage) *OperationResult {
	result := &OperationResult{
		Subject:  subject,
		Pipeline: pipeline,
		State:    StateIdle,
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return fail(sink, result, stage.Name, err)
		}

		result.State = stage.State
		started := time.Now()
		err := stage.Run(ctx)
		if observer != nil {
			observer.ObserveStage(stage.Name, time.Since(started), err)
		}
		if err != nil {
			return fail(sink, result, stage.Name, err)
		}
	}

	result.State = StateDone
	result.Success = true
	sink.Step(subject.Key, fmt.Sprintf("%s %s done", subject.ContainerName, pipeline))
	return result
}

func fail(sink reporting.ProgressSink, result *OperationResult, stage string, err error) *OperationResult {
	result.State = StateFailed
	result.FailedStage = stage
	result.Err = &StageError{Service: result.Subject.Key, Stage: stage, Err: err}
	sink.Fail(result.Subject.Key, fmt.Sprintf("%s failed: %v", stage, err))
	return result
}

// Job is one pipeline of a fan-out
type Job struct {
	Subject  *topology.ServiceDescriptor
	Pipeline string
	Stages   []Stage
}

// FanOut runs every job concurrently and waits for all of them to settle.
// Results are in job order.
func FanOut(ctx context.Context, sink reporting.ProgressSink, observer StageObserver, jobs []Job) []*OperationResult {
	results := make([]*OperationResult, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = RunStages(ctx, sink, job.Subject, job.Pipeline, observer, job.Stages...)
		}()
	}
	wg.Wait()

	return results
}

// Settle returns a *BatchError when any result failed
func Settle(operation string, results []*OperationResult) error {
	failed := make([]*OperationResult, 0)
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &BatchError{Operation: operation, Total: len(results), Failed: failed}
}
