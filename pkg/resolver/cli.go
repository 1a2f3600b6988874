package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CLIPortQuery runs `docker port <container> <port>`
type CLIPortQuery struct {
	Binary string
}

// HostPort implements PortQuery
func (q CLIPortQuery) HostPort(ctx context.Context, container string, containerPort int) (string, error) {
	return output(ctx, q.Binary, "port", container, strconv.Itoa(containerPort))
}

// CLIMachineIP runs `docker-machine ip`
type CLIMachineIP struct {
	Binary string
}

// MachineIP implements HostIPQuery
func (q CLIMachineIP) MachineIP(ctx context.Context) (string, error) {
	return output(ctx, q.Binary, "ip")
}

func output(ctx context.Context, binary string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("%s %s: %w", binary, strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("%s %s: %w: %s", binary, strings.Join(args, " "), err, msg)
	}

	return stdout.String(), nil
}
