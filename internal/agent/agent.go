// Package agent is the remote backup agent. It runs next to a database the
// manager cannot reach, polls the manager for work and uploads the dumps.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/edvin/dbbackup/internal/config"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/strategy"
	"github.com/edvin/dbbackup/internal/supervisor"
)

// localServerName names the single server an agent backs up. It becomes a
// path segment of every artifact.
const localServerName = "Agent"

// LocalServer builds the server the agent dumps from its configuration.
func LocalServer(cfg config.AgentConfig) (model.Server, error) {
	t, err := model.ParseDatabaseType(cfg.DatabaseType)
	if err != nil {
		return model.Server{}, err
	}
	server := model.Server{
		ID:       1,
		Name:     localServerName,
		Type:     t,
		Host:     cfg.DatabaseHost,
		Port:     cfg.DatabasePort,
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
	}
	if server.Port == 0 {
		server.Port = t.DefaultPort()
	}
	if t == model.DatabaseSQLite {
		server.User = model.SQLiteSentinelUser
		server.Port = model.SQLiteSentinelPort
	}
	return server, nil
}

// Agent wires the heartbeat and the local API together.
type Agent struct {
	Heartbeat *Heartbeat
	API       *API
	server    *http.Server
	logger    zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (*Agent, error) {
	server, err := LocalServer(cfg.Agent)
	if err != nil {
		return nil, err
	}
	registry, err := strategy.DefaultRegistry(cfg.BackupTempDir, strategy.Deps{Logger: logger})
	if err != nil {
		return nil, err
	}
	st, err := registry.For(server)
	if err != nil {
		return nil, err
	}

	client := NewManagerClient(cfg.Agent.ManagerURL, cfg.Agent.Token, cfg.Agent.URL, logger)
	api := NewAPI(cfg.Agent.Token, st, logger)

	return &Agent{
		Heartbeat: NewHeartbeat(client, st, cfg.Agent.PingInterval, logger),
		API:       api,
		server: &http.Server{
			Addr:              cfg.Agent.ListenAddr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}, nil
}

// Supervisor returns a tree running the heartbeat and the local API.
func (a *Agent) Supervisor() *suture.Supervisor {
	sup := supervisor.New("backup-agent", a.logger)
	sup.Add(a.Heartbeat)
	sup.Add(supervisor.NewHTTPService("agent-api", a.server))
	return sup
}

// Run blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info().Str("addr", a.server.Addr).Msg("starting backup agent")
	if err := a.Supervisor().Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent supervisor: %w", err)
	}
	return nil
}
