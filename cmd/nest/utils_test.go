package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/core/orchestrator"
	"github.com/inkton/nester-develop/pkg/topology"
)

func TestConvertResults(t *testing.T) {
	results := []*orchestrator.OperationResult{
		{
			Subject:     &topology.ServiceDescriptor{Key: "app1", ContainerName: "c_app1", Role: topology.RoleApp},
			Pipeline:    orchestrator.PipelineProvisioning,
			State:       orchestrator.StateFailed,
			FailedStage: orchestrator.StageBuild,
			Err:         errors.New("exit code 1"),
		},
		{
			Subject:  &topology.ServiceDescriptor{Key: "storage-mariadb", ContainerName: "c_storage", Kind: topology.KindStorage},
			Pipeline: orchestrator.PipelineDiscovery,
			State:    orchestrator.StateDone,
			Success:  true,
		},
	}

	converted := convertResults(results)
	require.Len(t, converted, 2)

	assert.Equal(t, "app", converted[0].Role)
	assert.Equal(t, "FAILED", converted[0].State)
	assert.Equal(t, "build", converted[0].FailedStage)
	assert.Equal(t, "exit code 1", converted[0].Error)

	assert.Equal(t, "storage", converted[1].Kind)
	assert.Equal(t, "DONE", converted[1].State)
	assert.True(t, converted[1].Success)
	assert.Empty(t, converted[1].Error)
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "-", formatPorts(nil))
	assert.Equal(t, "0.0.0.0:32769->22/tcp, 0.0.0.0:5000->5000/tcp", formatPorts(map[string]string{
		"5000/tcp": "0.0.0.0:5000",
		"22/tcp":   "0.0.0.0:32769",
	}))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"scaffold"}, {"up"}, {"down"}, {"reset"},
		{"pull"}, {"push"}, {"deploy"}, {"build"}, {"restore"}, {"clean"}, {"clear"}, {"kill"}, {"test-build"},
		{"data", "up"}, {"data", "down"}, {"kick", "ci"}, {"kick", "cd"},
		{"view"}, {"select"}, {"folder", "create"}, {"folder", "fetch"}, {"checkout"},
		{"unit-test-pid"}, {"status"}, {"stop"}, {"config", "init"}, {"report", "list"}, {"report", "show"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		name := path[len(path)-1]
		assert.True(t, cmd.Name() == name || cmd.HasAlias(name), path)
	}
}
