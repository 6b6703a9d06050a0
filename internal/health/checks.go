// Package health provides the status checks fed to the readiness poller.
// Every check is read-only and safe to invoke repeatedly.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/reportstack/opsctl/internal/docker"
	"github.com/reportstack/opsctl/internal/readiness"
)

// Postgres reports healthy once the database accepts a connection and
// answers a ping.
func Postgres(dsn string) readiness.CheckFunc {
	return func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer conn.Close(ctx)
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		return nil
	}
}

// Redis reports healthy once the cache answers PING.
func Redis(addr, password string, db int) readiness.CheckFunc {
	return func(ctx context.Context) error {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// HTTP reports healthy when url answers with a 2xx status.
func HTTP(client *http.Client, url string) readiness.CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health endpoint %s returned %d", url, resp.StatusCode)
		}
		return nil
	}
}

// ContainerInspector is the slice of the docker client the container check
// needs; tests substitute a fake.
type ContainerInspector interface {
	ContainerHealth(ctx context.Context, name string) (docker.HealthState, error)
}

// Container reports healthy when the named container's healthcheck does.
// The starting and unhealthy states count as ordinary failures so the
// poller keeps retrying until its budget runs out.
func Container(inspector ContainerInspector, name string) readiness.CheckFunc {
	return func(ctx context.Context) error {
		state, err := inspector.ContainerHealth(ctx, name)
		if err != nil {
			return err
		}
		if state != docker.HealthHealthy {
			return fmt.Errorf("container %s is %s", name, state)
		}
		return nil
	}
}
