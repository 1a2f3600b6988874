// Package resolver discovers dynamic host port bindings and the docker host IP.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/inkton/nester-develop/pkg/reporting"
	"github.com/inkton/nester-develop/pkg/topology"
)

// Container ports with a fixed meaning
const (
	HTTPPort = 5000
	SSHPort  = 22
)

// LoopbackIP is used when the docker host IP cannot be queried
const LoopbackIP = "127.0.0.1"

var (
	// ErrPortResolutionFailed wraps every failed port query
	ErrPortResolutionFailed = errors.New("port resolution failed")

	// ErrNoViewPort is returned for services without a known view port
	ErrNoViewPort = errors.New("no view port known for service")
)

// DefaultViewPorts maps service keys to the container port serving their UI
var DefaultViewPorts = map[string]int{
	"storage-mariadb": 80,
	"batch-rabbitmq":  15672,
	"build-jenkins":   8080,
	"db-mariadb":      80,
	"queue-rabbitmq":  15672,
}

// PortQuery asks the container runtime for the host binding of a container port
type PortQuery interface {
	HostPort(ctx context.Context, container string, containerPort int) (string, error)
}

// HostIPQuery asks for the IP of the docker host
type HostIPQuery interface {
	MachineIP(ctx context.Context) (string, error)
}

// Resolver injects resolved ports into service environments
type Resolver struct {
	ports     PortQuery
	machine   HostIPQuery
	viewPorts map[string]int
	logger    *reporting.Logger
}

// New creates a resolver. overrides extends or replaces DefaultViewPorts.
func New(ports PortQuery, machine HostIPQuery, overrides map[string]int, logger *reporting.Logger) *Resolver {
	viewPorts := make(map[string]int, len(DefaultViewPorts)+len(overrides))
	for k, v := range DefaultViewPorts {
		viewPorts[k] = v
	}
	for k, v := range overrides {
		viewPorts[k] = v
	}

	if logger == nil {
		logger = reporting.NopLogger()
	}

	return &Resolver{
		ports:     ports,
		machine:   machine,
		viewPorts: viewPorts,
		logger:    logger,
	}
}

// ResolvePort queries the host binding of containerPort and stores the host
// port under envKey in the service environment
func (r *Resolver) ResolvePort(ctx context.Context, svc *topology.ServiceDescriptor, containerPort int, envKey string) error {
	answer, err := r.ports.HostPort(ctx, svc.ContainerName, containerPort)
	if err != nil {
		return fmt.Errorf("%w: %s port %d: %v", ErrPortResolutionFailed, svc.ContainerName, containerPort, err)
	}

	port, err := ParseHostPort(answer)
	if err != nil {
		return fmt.Errorf("%w: %s port %d: %v", ErrPortResolutionFailed, svc.ContainerName, containerPort, err)
	}

	svc.Set(envKey, strconv.Itoa(port))
	r.logger.Debug("Port resolved", "service", svc.Key, "container_port", containerPort, "host_port", port)
	return nil
}

// ViewPort returns the container port queried for a service's UI
func (r *Resolver) ViewPort(key string) (int, error) {
	port, ok := r.viewPorts[key]
	if !ok {
		return 0, fmt.Errorf("%w: %w %s, add it under topology.view_ports", ErrPortResolutionFailed, ErrNoViewPort, key)
	}
	return port, nil
}

// ResolveViewPort resolves the UI port of an infrastructure service into
// NEST_SERVICE_VIEW_PORT
func (r *Resolver) ResolveViewPort(ctx context.Context, svc *topology.ServiceDescriptor) error {
	port, err := r.ViewPort(svc.Key)
	if err != nil {
		return err
	}
	return r.ResolvePort(ctx, svc, port, topology.EnvServiceViewPort)
}

// ResolveHostIP returns the docker host IP, or the loopback address when it
// cannot be queried
func (r *Resolver) ResolveHostIP(ctx context.Context) string {
	if r.machine == nil {
		r.logger.Info("No docker machine configured, using loopback", "ip", LoopbackIP)
		return LoopbackIP
	}

	ip, err := r.machine.MachineIP(ctx)
	if err != nil {
		r.logger.Warn("Docker machine IP unavailable, using loopback", "ip", LoopbackIP, "error", err)
		return LoopbackIP
	}

	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		r.logger.Warn("Docker machine returned an invalid IP, using loopback", "answer", ip, "ip", LoopbackIP)
		return LoopbackIP
	}

	r.logger.Info("Docker host IP resolved", "ip", ip)
	return ip
}

// ParseHostPort extracts the port of a "host:port" answer. Only the first
// line of a multi-line answer is considered.
func ParseHostPort(answer string) (int, error) {
	line := strings.TrimSpace(answer)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	i := strings.LastIndex(line, ":")
	if i < 0 {
		return 0, fmt.Errorf("malformed binding %q: missing ':'", line)
	}

	port, err := strconv.Atoi(line[i+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed binding %q: %v", line, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("malformed binding %q: port out of range", line)
	}

	return port, nil
}
