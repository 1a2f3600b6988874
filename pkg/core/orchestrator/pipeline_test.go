package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
)

func recordStage(name string, state State, trace *[]string, err error) Stage {
	return Stage{
		Name:  name,
		State: state,
		Run: func(ctx context.Context) error {
			*trace = append(*trace, name)
			return err
		},
	}
}

type stageLog struct {
	mutex  sync.Mutex
	stages []string
}

func (l *stageLog) ObserveStage(stage string, elapsed time.Duration, err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stages = append(l.stages, fmt.Sprintf("%s:%t", stage, err == nil))
}

func TestRunStagesInOrder(t *testing.T) {
	var trace []string
	sink := reporting.NewMemorySink()
	observer := &stageLog{}
	svc := &topology.ServiceDescriptor{Key: "app1", ContainerName: "c_app1"}

	result := RunStages(context.Background(), sink, svc, PipelineProvisioning, observer,
		recordStage(StageAttach, StateAttaching, &trace, nil),
		recordStage(StagePull, StatePulling, &trace, nil),
		recordStage(StageBuild, StateBuilding, &trace, nil),
	)

	assert.True(t, result.Success)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, []string{StageAttach, StagePull, StageBuild}, trace)
	assert.Equal(t, []string{"attach:true", "pull:true", "build:true"}, observer.stages)
	assert.Equal(t, []reporting.ProgressLine{{Subject: "app1", Message: "c_app1 provisioning done"}}, sink.Lines())
}

func TestRunStagesStopsAtFirstFailure(t *testing.T) {
	var trace []string
	sink := reporting.NewMemorySink()
	svc := &topology.ServiceDescriptor{Key: "app1", ContainerName: "c_app1"}
	boom := errors.New("exit status 1")

	result := RunStages(context.Background(), sink, svc, PipelineRebuild, nil,
		recordStage(StageAttach, StateAttaching, &trace, nil),
		recordStage(StageBuild, StateBuilding, &trace, boom),
		recordStage(StageMaterialize, StateMaterializing, &trace, nil),
	)

	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StageBuild, result.FailedStage)
	assert.ErrorIs(t, result.Err, boom)
	assert.Equal(t, []string{StageAttach, StageBuild}, trace)

	var stageErr *StageError
	require.True(t, errors.As(result.Err, &stageErr))
	assert.Equal(t, "app1", stageErr.Service)

	lines := sink.Lines()
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Failed)
}

func TestRunStagesHonoursCancellation(t *testing.T) {
	var trace []string
	ctx, cancel := context.WithCancel(context.Background())
	svc := &topology.ServiceDescriptor{Key: "worker", ContainerName: "c_worker"}

	cancelling := Stage{
		Name:  StageAttach,
		State: StateAttaching,
		Run: func(ctx context.Context) error {
			trace = append(trace, StageAttach)
			cancel()
			return nil
		},
	}

	result := RunStages(ctx, reporting.NewMemorySink(), svc, PipelineRebuild, nil,
		cancelling,
		recordStage(StageBuild, StateBuilding, &trace, nil),
	)

	assert.Equal(t, []string{StageAttach}, trace)
	assert.Equal(t, StageBuild, result.FailedStage)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestFanOutSettlesEveryJob(t *testing.T) {
	sink := reporting.NewMemorySink()
	release := make(chan struct{})

	slow := &topology.ServiceDescriptor{Key: "slow", ContainerName: "c_slow"}
	broken := &topology.ServiceDescriptor{Key: "broken", ContainerName: "c_broken"}
	fast := &topology.ServiceDescriptor{Key: "fast", ContainerName: "c_fast"}

	jobs := []Job{
		{Subject: slow, Pipeline: PipelineDiscovery, Stages: []Stage{{
			Name: StageResolveViewPort, State: StateResolvingPort,
			Run: func(ctx context.Context) error { <-release; return nil },
		}}},
		{Subject: broken, Pipeline: PipelineProvisioning, Stages: []Stage{{
			Name: StageAttach, State: StateAttaching,
			Run: func(ctx context.Context) error { close(release); return errors.New("no such container") },
		}}},
		{Subject: fast, Pipeline: PipelineDiscovery, Stages: []Stage{{
			Name: StageResolveViewPort, State: StateResolvingPort,
			Run: func(ctx context.Context) error { return nil },
		}}},
	}

	results := FanOut(context.Background(), sink, nil, jobs)
	require.Len(t, results, 3)
	assert.Equal(t, "slow", results[0].Subject.Key)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)

	err := Settle("reset", results)
	var batch *BatchError
	require.True(t, errors.As(err, &batch))
	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, []string{"broken"}, batch.FailedKeys())
	assert.Contains(t, err.Error(), "broken (attach)")
	assert.Contains(t, err.Error(), "nest reset")
}

func TestSettleAllSucceeded(t *testing.T) {
	results := []*OperationResult{{Success: true, State: StateDone}}
	assert.NoError(t, Settle("reset", results))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "RESOLVING_PORT", StateResolvingPort.String())
	assert.Equal(t, "DONE", StateDone.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
