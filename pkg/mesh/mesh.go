package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/config"
	"github.com/igorsilveira/caremesh/pkg/gateway"
	"github.com/igorsilveira/caremesh/pkg/records"
	"github.com/igorsilveira/caremesh/pkg/router"
	"github.com/igorsilveira/caremesh/pkg/specialist"
	"github.com/igorsilveira/caremesh/pkg/store"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"github.com/igorsilveira/caremesh/pkg/toolbackend"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Mesh is one process serving the router, the specialist agents that are
// not configured as remote, and the record backend.
type Mesh struct {
	Gateway  *gateway.Gateway
	Router   *router.Router
	Runtime  *a2a.Runtime
	Agents   map[string]*a2a.Runtime
	Backend  *toolbackend.Client
	AuditLog *audit.Logger

	db     *store.Store
	logger *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (m *Mesh, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := store.New(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	m = &Mesh{db: db, logger: logger, Agents: map[string]*a2a.Runtime{}}
	defer func() {
		if err != nil {
			m.Close()
		}
	}()

	m.AuditLog, err = audit.New(db.DB())
	if err != nil {
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}
	repo, err := records.New(ctx, db.DB())
	if err != nil {
		return nil, err
	}
	recordServer := records.NewServer(records.ServerConfig{
		Repository: repo,
		AuditLog:   m.AuditLog,
		Logger:     logger,
	})

	m.Backend = toolbackend.New(toolbackend.Config{
		Timeout:  cfg.BackendTimeout(),
		AuditLog: m.AuditLog,
		Logger:   logger,
	})
	transport, err := backendTransport(ctx, cfg.Backend, recordServer)
	if err != nil {
		return nil, err
	}
	if err := m.Backend.Connect(ctx, transport); err != nil {
		return nil, err
	}

	base := externalURL(cfg.Gateway)
	local := map[string]struct {
		card a2a.AgentCard
		exec a2a.Executor
	}{
		specialist.NameData:      {specialist.DataCard(base + gateway.AgentsPrefix + specialist.NameData), specialist.NewData(m.Backend)},
		specialist.NameTriage:    {specialist.TriageCard(base + gateway.AgentsPrefix + specialist.NameTriage), specialist.NewTriage()},
		specialist.NameInsurance: {specialist.InsuranceCard(base + gateway.AgentsPrefix + specialist.NameInsurance), specialist.NewInsurance()},
	}

	var agents []a2a.Agent
	handlers := map[string]http.Handler{}
	for name, def := range local {
		if remote, ok := cfg.Agents[name]; ok && remote.URL != "" {
			client := a2a.NewClient(a2a.ClientConfig{Name: name, BaseURL: remote.URL, AuthToken: remote.AuthToken})
			if _, err := client.FetchCard(ctx); err != nil {
				logger.Warn("remote agent card unavailable", slog.String("agent", name), slog.String("err", err.Error()))
			}
			agents = append(agents, client)
			continue
		}
		rt := a2a.NewRuntime(a2a.RuntimeConfig{
			Card:     def.card,
			Executor: def.exec,
			AuditLog: m.AuditLog,
			Logger:   logger,
		})
		m.Agents[name] = rt
		agents = append(agents, rt)
		handlers[name] = a2a.NewHandler(a2a.HandlerConfig{Runtime: rt, Logger: logger, AuthToken: cfg.Gateway.AuthToken})
	}

	m.Router, err = router.New(router.Config{
		Agents:      agents,
		Rules:       cfg.Router.Rules,
		Fallback:    cfg.Router.Fallback,
		CallTimeout: cfg.CallTimeout(),
		AuditLog:    m.AuditLog,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	m.Runtime = a2a.NewRuntime(a2a.RuntimeConfig{
		Card:     router.Card(base),
		Executor: m.Router,
		AuditLog: m.AuditLog,
		Logger:   logger,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	m.Gateway = gateway.New(gateway.Config{
		Bind:        cfg.Gateway.Bind,
		Port:        cfg.Gateway.Port,
		Root:        a2a.NewHandler(a2a.HandlerConfig{Runtime: m.Runtime, Logger: logger, AuthToken: cfg.Gateway.AuthToken}),
		Agents:      handlers,
		Records:     recordServer.Handler(),
		MetricsPath: metricsPath,
		Ready:       m.Backend.Ping,
		Logger:      logger,
	})

	logger.Info("mesh assembled",
		slog.Int("local_agents", len(m.Agents)),
		slog.Int("remote_agents", len(agents)-len(m.Agents)),
		slog.String("backend", cfg.Backend.Mode),
	)
	return m, nil
}

func backendTransport(ctx context.Context, cfg config.BackendConfig, srv *records.Server) (mcpsdk.Transport, error) {
	switch cfg.Mode {
	case config.BackendHTTP:
		return toolbackend.HTTPTransport(cfg.URL, nil), nil
	case config.BackendCommand:
		return toolbackend.CommandTransport(ctx, cfg.Command, cfg.Args, cfg.Env), nil
	default:
		serverSide, clientSide := mcpsdk.NewInMemoryTransports()
		if _, err := srv.MCP().Connect(ctx, serverSide, nil); err != nil {
			return nil, fmt.Errorf("starting in-process record backend: %w", err)
		}
		return clientSide, nil
	}
}

func externalURL(cfg config.GatewayConfig) string {
	if cfg.ExternalURL != "" {
		return strings.TrimRight(cfg.ExternalURL, "/")
	}
	host := cfg.Bind
	switch host {
	case "", "loopback":
		host = "127.0.0.1"
	case "lan", "all":
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Port)
}

// Run serves the gateway until ctx is done.
func (m *Mesh) Run(ctx context.Context) error {
	return m.Gateway.Start(telemetry.WithLogger(ctx, m.logger))
}

func (m *Mesh) Close() error {
	var errs []error
	if m.Backend != nil {
		errs = append(errs, m.Backend.Close())
	}
	if m.db != nil {
		errs = append(errs, m.db.Close())
	}
	return errors.Join(errs...)
}
