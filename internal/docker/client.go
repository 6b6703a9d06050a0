// Package docker wraps the Docker Engine API for the read-only inspection
// and signalling opsctl performs outside of compose: health probes, log
// tailing for timeout diagnostics, and reverse-proxy reloads.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// HealthState is the tri-state a container reports through its healthcheck.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthStarting  HealthState = "starting"
	HealthUnhealthy HealthState = "unhealthy"
	// HealthUnknown covers containers with no healthcheck or not running.
	HealthUnknown HealthState = "unknown"
)

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New creates a Docker client from environment defaults, optionally pinned
// to an explicit host.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	var ping types.Ping
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// ContainerHealth reports the health state of a named container. Containers
// without a declared healthcheck map to HealthHealthy while running, since
// running is the strongest signal they expose.
func (c *Client) ContainerHealth(ctx context.Context, name string) (HealthState, error) {
	if strings.TrimSpace(name) == "" {
		return HealthUnknown, fmt.Errorf("container name cannot be empty")
	}
	inspect, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return HealthUnknown, fmt.Errorf("container %s not found", name)
		}
		return HealthUnknown, fmt.Errorf("inspect container %s: %w", name, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return HealthUnknown, fmt.Errorf("container %s is not running", name)
	}
	if inspect.State.Health == nil {
		return HealthHealthy, nil
	}
	switch strings.ToLower(inspect.State.Health.Status) {
	case "healthy":
		return HealthHealthy, nil
	case "starting":
		return HealthStarting, nil
	case "unhealthy":
		return HealthUnhealthy, nil
	default:
		return HealthUnknown, nil
	}
}

// TailLogs returns the last n lines of a container's combined output. Used
// to surface diagnostics when a readiness poll times out.
func (c *Client) TailLogs(ctx context.Context, name string, n int) (string, error) {
	if n <= 0 {
		n = 50
	}
	rc, err := c.inner.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(n),
	})
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", name, err)
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return "", fmt.Errorf("demux container logs %s: %w", name, err)
	}
	return out.String(), nil
}

// Signal sends a signal to a running container. opsctl uses HUP to make
// nginx pick up renewed certificates without a restart.
func (c *Client) Signal(ctx context.Context, name, signal string) error {
	if err := c.inner.ContainerKill(ctx, name, signal); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %s not found", name)
		}
		return fmt.Errorf("signal container %s: %w", name, err)
	}
	return nil
}

// ContainerPorts returns the published port bindings of a container.
func (c *Client) ContainerPorts(ctx context.Context, name string) (nat.PortMap, error) {
	inspect, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", name, err)
	}
	if inspect.NetworkSettings == nil || inspect.NetworkSettings.Ports == nil {
		return nat.PortMap{}, nil
	}
	return inspect.NetworkSettings.Ports, nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
