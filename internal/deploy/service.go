// Package deploy runs the production rollout and local bootstrap pipelines
// against the compose stack, gating every dependent step behind a bounded
// readiness poll.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/reportstack/opsctl/internal/compose"
	"github.com/reportstack/opsctl/internal/config"
	"github.com/reportstack/opsctl/internal/docker"
	"github.com/reportstack/opsctl/internal/health"
	"github.com/reportstack/opsctl/internal/readiness"
)

// Orchestrator is the slice of the compose runner the pipelines use.
type Orchestrator interface {
	Pull(ctx context.Context, services ...string) error
	Build(ctx context.Context, services ...string) error
	Up(ctx context.Context, services ...string) error
	RunRm(ctx context.Context, service string, cmd ...string) error
	Ps(ctx context.Context) (string, error)
}

// Engine is the slice of the docker client the pipelines use for
// diagnostics, health inspection, and proxy reloads.
type Engine interface {
	ContainerHealth(ctx context.Context, name string) (docker.HealthState, error)
	ContainerPorts(ctx context.Context, name string) (nat.PortMap, error)
	TailLogs(ctx context.Context, name string, n int) (string, error)
	Signal(ctx context.Context, name, signal string) error
}

const diagnosticLogLines = 50

// Service coordinates deployment and bootstrap of the stack.
type Service struct {
	cfg    config.Config
	file   compose.File
	orch   Orchestrator
	engine Engine
	logger *slog.Logger

	// readiness checks, swapped by tests
	dbCheck      readiness.CheckFunc
	vectorCheck  readiness.CheckFunc
	cacheCheck   readiness.CheckFunc
	backendCheck readiness.CheckFunc

	// sleep override for tests
	sleep readiness.SleepFunc
}

// New wires a deploy service with real readiness checks.
func New(cfg config.Config, file compose.File, orch Orchestrator, engine Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	return &Service{
		cfg:          cfg,
		file:         file,
		orch:         orch,
		engine:       engine,
		logger:       logger,
		dbCheck:      health.Postgres(cfg.DatabaseURL()),
		vectorCheck:  health.HTTP(httpClient, cfg.QdrantReadyURL()),
		cacheCheck:   health.Redis(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB),
		backendCheck: health.HTTP(httpClient, cfg.HealthURL),
	}
}

// Deploy runs the production rollout: validate configuration, pull and
// build images, start the stack, wait for the database and backend to
// become ready, then reload the proxy. The first failing step terminates
// the run; a readiness timeout additionally surfaces the dependent
// service's recent log output.
func (s *Service) Deploy(ctx context.Context) error {
	if err := s.cfg.Validate(config.ScopeDeploy); err != nil {
		return err
	}
	if err := s.file.RequireServices(s.cfg.BackendService, s.cfg.DatabaseService, s.cfg.ProxyService); err != nil {
		return err
	}
	log := s.logger.With("deploy_id", uuid.NewString(), "domain", s.cfg.Domain)
	log.Info("deployment started")

	steps := []Step{
		{Name: "pull images", Run: func(ctx context.Context) error {
			return s.orch.Pull(ctx)
		}},
		{Name: "build images", Run: func(ctx context.Context) error {
			return s.orch.Build(ctx)
		}},
		{Name: "start stack", Run: func(ctx context.Context) error {
			return s.orch.Up(ctx)
		}},
		{Name: "wait for database", Run: func(ctx context.Context) error {
			return s.waitReady(ctx, log, "database", s.dbCheck, s.containerFor(s.cfg.DatabaseService))
		}},
		{Name: "wait for backend", Run: func(ctx context.Context) error {
			return s.waitReady(ctx, log, "backend", s.backendCheck, s.containerFor(s.cfg.BackendService))
		}},
		{Name: "reload proxy", Run: func(ctx context.Context) error {
			return s.engine.Signal(ctx, s.containerFor(s.cfg.ProxyService), "HUP")
		}},
	}
	if err := runSteps(ctx, log, steps); err != nil {
		return err
	}
	log.Info("deployment completed")
	return nil
}

// Bootstrap brings a local environment up from nothing: start the data
// services, wait for each to accept work, run the backend's database
// initialization once the database is ready, then start everything else.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.cfg.Validate(config.ScopeBootstrap); err != nil {
		return err
	}
	dataServices := []string{s.cfg.DatabaseService, s.cfg.VectorService, s.cfg.CacheService}
	if err := s.file.RequireServices(append(dataServices, s.cfg.BackendService)...); err != nil {
		return err
	}
	log := s.logger.With("run_id", uuid.NewString())
	log.Info("bootstrap started")

	steps := []Step{
		{Name: "start data services", Run: func(ctx context.Context) error {
			return s.orch.Up(ctx, dataServices...)
		}},
		{Name: "wait for database", Run: func(ctx context.Context) error {
			return s.waitReady(ctx, log, "database", s.dbCheck, s.containerFor(s.cfg.DatabaseService))
		}},
		{Name: "wait for vector store", Run: func(ctx context.Context) error {
			return s.waitReady(ctx, log, "vector store", s.vectorCheck, s.containerFor(s.cfg.VectorService))
		}},
		{Name: "wait for cache", Run: func(ctx context.Context) error {
			return s.waitReady(ctx, log, "cache", s.cacheCheck, s.containerFor(s.cfg.CacheService))
		}},
		{Name: "initialize database", Run: func(ctx context.Context) error {
			cmd := strings.Fields(s.cfg.BackendInitCmd)
			if len(cmd) == 0 {
				return nil
			}
			return s.orch.RunRm(ctx, s.cfg.BackendService, cmd...)
		}},
		{Name: "start remaining services", Run: func(ctx context.Context) error {
			return s.orch.Up(ctx)
		}},
	}
	if err := runSteps(ctx, log, steps); err != nil {
		return err
	}
	log.Info("bootstrap completed")
	return nil
}

// ServiceStatus is one row of the status summary.
type ServiceStatus struct {
	Service   string
	Container string
	Health    docker.HealthState
	Ports     string
	Detail    string
}

// Status reports the health and published ports of every declared service.
func (s *Service) Status(ctx context.Context) ([]ServiceStatus, error) {
	if listing, err := s.orch.Ps(ctx); err == nil && listing != "" {
		s.logger.Debug("compose process listing", "output", listing)
	}
	var out []ServiceStatus
	for _, name := range s.file.ServiceNames() {
		container := s.containerFor(name)
		state, err := s.engine.ContainerHealth(ctx, container)
		detail := ""
		ports := ""
		if err != nil {
			detail = err.Error()
		} else if portMap, perr := s.engine.ContainerPorts(ctx, container); perr == nil {
			ports = formatPorts(portMap)
		}
		out = append(out, ServiceStatus{
			Service:   name,
			Container: container,
			Health:    state,
			Ports:     ports,
			Detail:    detail,
		})
	}
	return out, nil
}

func formatPorts(portMap nat.PortMap) string {
	var parts []string
	for port, bindings := range portMap {
		for _, b := range bindings {
			parts = append(parts, fmt.Sprintf("%s:%s->%s", b.HostIP, b.HostPort, port))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func (s *Service) containerFor(service string) string {
	return s.file.ContainerName(s.cfg.ComposeProject, service)
}

// waitReady polls a check within the configured budget. On timeout the
// dependent container's recent logs are attached to the failure so the
// operator sees why it never came up.
func (s *Service) waitReady(ctx context.Context, log *slog.Logger, name string, check readiness.CheckFunc, container string) error {
	poller := readiness.Poller{
		Attempts: s.cfg.ReadyAttempts,
		Interval: s.cfg.ReadyInterval,
		Sleep:    s.sleep,
		OnAttempt: func(attempt, max int, err error) {
			log.Info("waiting for service", "service", name, "attempt", fmt.Sprintf("%d/%d", attempt, max), "reason", err)
		},
	}
	result, err := poller.Wait(ctx, check)
	if result == readiness.Ready {
		log.Info("service ready", "service", name)
		return nil
	}
	if container != "" && s.engine != nil {
		if tail, tailErr := s.engine.TailLogs(ctx, container, diagnosticLogLines); tailErr == nil && tail != "" {
			log.Error("service diagnostics", "service", name, "container", container, "logs", tail)
		}
	}
	return fmt.Errorf("%s readiness: %w", name, err)
}
