package docker

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/inkton/nester-develop/pkg/discovery"
)

// Client wraps the Docker API client for container inspection and exec
type Client struct {
	cli *client.Client
}

// New creates a new Docker client from the environment
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Client{cli: cli}, nil
}

// Close closes the Docker client connection
func (c *Client) Close() error {
	if c.cli != nil {
		return c.cli.Close()
	}
	return nil
}

// Ping checks the daemon is reachable
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

// GetContainer inspects a container by name or ID
func (c *Client) GetContainer(ctx context.Context, name string) (*discovery.Container, error) {
	ctr, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	return inspectToContainer(ctr), nil
}

// HostPort returns the host binding of a TCP container port as "host:port"
func (c *Client) HostPort(ctx context.Context, container string, containerPort int) (string, error) {
	ctr, err := c.cli.ContainerInspect(ctx, container)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", container, err)
	}

	if ctr.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", container)
	}

	port, err := nat.NewPort("tcp", fmt.Sprintf("%d", containerPort))
	if err != nil {
		return "", fmt.Errorf("invalid container port %d: %w", containerPort, err)
	}

	bindings, ok := ctr.NetworkSettings.Ports[port]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("no public port %s published for %s", port, container)
	}

	return formatBinding(bindings[0]), nil
}

// ExecCommand executes a command in a container and returns its combined output
func (c *Client) ExecCommand(ctx context.Context, container string, cmd []string) (string, error) {
	execConfig := types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := c.cli.ContainerExecCreate(ctx, container, execConfig)
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := c.cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return "", fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer resp.Close()

	// Without a TTY the stream is multiplexed
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return stdout.String(), fmt.Errorf("failed to read output: %w", err)
	}
	output := stdout.String() + stderr.String()

	inspectResp, err := c.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return output, fmt.Errorf("failed to inspect exec: %w", err)
	}

	if inspectResp.ExitCode != 0 {
		return output, fmt.Errorf("command exited with code %d: %s", inspectResp.ExitCode, strings.TrimSpace(output))
	}

	return output, nil
}

func inspectToContainer(ctr types.ContainerJSON) *discovery.Container {
	out := &discovery.Container{
		Name:  strings.TrimPrefix(ctr.Name, "/"),
		Ports: make(map[string]string),
	}

	if len(ctr.ID) >= 12 {
		out.ID = ctr.ID[:12]
	} else {
		out.ID = ctr.ID
	}

	if ctr.Config != nil {
		out.Image = ctr.Config.Image
	}

	if ctr.State != nil {
		out.State = ctr.State.Status
		out.Running = ctr.State.Running
	}

	if ctr.NetworkSettings != nil {
		for _, network := range ctr.NetworkSettings.Networks {
			if network != nil && network.IPAddress != "" {
				out.IP = network.IPAddress
				break
			}
		}

		for port, bindings := range ctr.NetworkSettings.Ports {
			if len(bindings) > 0 {
				out.Ports[string(port)] = formatBinding(bindings[0])
			}
		}
	}

	return out
}

func formatBinding(b nat.PortBinding) string {
	host := b.HostIP
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, b.HostPort)
}
