package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkton/nester-develop/pkg/reporting"
)

func fakeCompose(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compose script needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "docker-compose")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0755))
	return script
}

func TestArgs(t *testing.T) {
	c := New(Config{Command: "docker compose", Document: "/work/shop.devkit"}, nil)
	assert.Equal(t, []string{"docker", "compose", "--file", "/work/shop.devkit", "up", "-d"}, c.Args("up", "-d"))

	c = New(Config{Document: "shop.devkit"}, nil)
	assert.Equal(t, []string{"docker-compose", "--file", "shop.devkit", "down"}, c.Args("down"))
}

func TestUpReportsOutput(t *testing.T) {
	root := t.TempDir()
	script := fakeCompose(t, "echo \"$@\"\necho 'Creating c_app1 ... done' >&2\n")
	sink := reporting.NewMemorySink()

	c := New(Config{Command: script, Document: "shop.devkit", Root: root}, nil)
	require.NoError(t, c.Up(context.Background(), sink))

	var messages []string
	for _, line := range sink.Lines() {
		messages = append(messages, line.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "--file shop.devkit up -d")
	assert.Contains(t, joined, "Creating c_app1 ... done")
}

func TestDownFailure(t *testing.T) {
	script := fakeCompose(t, "echo 'Cannot connect to the Docker daemon' >&2\nexit 1\n")

	err := New(Config{Command: script, Document: "shop.devkit"}, nil).Down(context.Background(), reporting.NewMemorySink())
	assert.True(t, errors.Is(err, ErrComposeFailed))
}
