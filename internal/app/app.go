// Package app assembles a settlement node from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/segyhp/settlement-engine/internal/config"
	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/handler"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/rail"
	"github.com/segyhp/settlement-engine/internal/rail/manual"
	"github.com/segyhp/settlement-engine/internal/rail/swift"
	"github.com/segyhp/settlement-engine/internal/rail/xrp"
	"github.com/segyhp/settlement-engine/internal/repository"
	"github.com/segyhp/settlement-engine/internal/service"
	"github.com/segyhp/settlement-engine/pkg/auth"
	"github.com/segyhp/settlement-engine/pkg/signer"
	"github.com/segyhp/settlement-engine/pkg/telemetry"
)

// App holds the wired components of one node.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	DB           *sqlx.DB
	Redis        *redis.Client
	Rails        *rail.Registry
	Oracle       *oracle.Service
	Obligations  *service.ObligationService
	Orchestrator *service.SettlementOrchestrator

	shutdownTelemetry telemetry.ShutdownFunc
}

// New connects to the stores and wires the services. An empty REDIS_ADDR keeps
// checkpoints in memory, which only suits single-process development.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Server.Env,
		SampleRate:  cfg.Telemetry.SampleRate,
		Insecure:    !cfg.IsProduction(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown

	a.DB, err = repository.OpenDB(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, a.DB); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	var checkpoints repository.CheckpointRepository
	if cfg.Redis.Addr != "" {
		a.Redis = repository.OpenRedis(cfg)
		checkpoints = repository.NewCheckpointRepository(a.Redis, cfg.GetCheckpointTTL())
	} else {
		logger.WarnContext(ctx, "REDIS_ADDR not set, orchestration checkpoints will not survive a restart")
		checkpoints = repository.NewMemoryCheckpointRepository()
	}

	obligations := repository.NewObligationRepository(a.DB)
	identities := repository.NewIdentityRepository(a.DB)

	sig, err := nodeSigner(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Rails, err = buildRails(cfg, sig)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Oracle = oracle.NewService(NodeParty(cfg).Name, sig, a.Rails, cfg.GetPollInterval(), logger)
	client, err := oracleClient(cfg, a.Oracle)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Obligations = service.NewObligationService(obligations, identities, checkpoints, logger)
	a.Orchestrator = service.NewSettlementOrchestrator(
		obligations,
		checkpoints,
		identities,
		a.Rails,
		client,
		a.Obligations,
		service.OrchestratorConfig{PreflightOverpaymentCheck: cfg.Settlement.PreflightOverpayment},
		logger,
	)

	logger.InfoContext(ctx, "node ready",
		"party", NodeParty(cfg).Name,
		"oracle_key", a.Oracle.Identity().Key,
		"remote_oracle", cfg.Settlement.OracleURL != "",
	)
	return a, nil
}

// NodeParty is the well-known identity of this node's operator.
func NodeParty(cfg *config.Config) domain.Party {
	name := cfg.Auth.PartyName
	if name == "" {
		name = cfg.Auth.PartyKey
	}
	return domain.Party{Key: cfg.Auth.PartyKey, Name: name}
}

// Router builds the HTTP surface of the node.
func (a *App) Router() http.Handler {
	return handler.NewRouter(handler.Routes{
		Health:      handler.NewHealthHandler(a.DB, a.Redis, a.Config.GetHealthTimeout()),
		Obligations: handler.NewObligationHandler(a.Obligations, a.Orchestrator, a.Logger),
		Oracle:      handler.NewOracleHandler(a.Oracle, a.Logger),
	}, a.Config.Auth.JWTSecret, a.Logger)
}

// Close releases the stores and flushes traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}

func nodeSigner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*signer.Signer, error) {
	if cfg.Auth.SigningSeed != "" {
		sig, err := signer.FromSeed(cfg.Auth.SigningSeed)
		if err != nil {
			return nil, fmt.Errorf("NODE_SIGNING_SEED: %w", err)
		}
		return sig, nil
	}
	logger.WarnContext(ctx, "NODE_SIGNING_SEED not set, using an ephemeral signing key")
	return signer.New()
}

// buildRails registers the rails that have configuration. The manual rail is always available.
func buildRails(cfg *config.Config, sig *signer.Signer) (*rail.Registry, error) {
	registry := rail.NewRegistry()
	registry.RegisterAdapter(manual.NewAdapter())

	limit := rate.Limit(cfg.Rails.XRPRateLimit)
	if cfg.Rails.XRPWriteURL != "" {
		rates, err := cfg.GetXRPFXRates()
		if err != nil {
			return nil, err
		}
		writer := xrp.NewClient(cfg.Rails.XRPWriteURL, limit, nil)
		registry.RegisterAdapter(xrp.NewAdapter(writer, rail.NewFixedRates("XRP", rates), xrp.AdapterConfig{
			Account:        cfg.Rails.XRPAccount,
			Secret:         cfg.Rails.XRPSecret,
			ReserveMargin:  cfg.GetReserveMargin(),
			DeadlineOffset: uint32(cfg.Settlement.LedgerDeadlineOffset),
		}))
	}
	if urls := cfg.GetXRPReadURLs(); len(urls) > 0 {
		nodes := make([]xrp.ReadClient, 0, len(urls))
		for _, u := range urls {
			nodes = append(nodes, xrp.NewClient(u, limit, nil))
		}
		registry.RegisterVerifier(domain.RailXRP, xrp.NewVerifier(nodes...))
	}

	if cfg.Rails.SWIFTURL != "" {
		gateway := swift.NewClient(cfg.Rails.SWIFTURL, cfg.Rails.SWIFTAPIKey, limit, nil)
		registry.RegisterAdapter(swift.NewAdapter(gateway, sig, cfg.Rails.SWIFTAccount))
		registry.RegisterVerifier(domain.RailSWIFT, swift.NewVerifier(gateway))
	}
	return registry, nil
}

// oracleClient reaches the configured remote oracle, or this node's own oracle.
func oracleClient(cfg *config.Config, local *oracle.Service) (oracle.Client, error) {
	if cfg.Settlement.OracleURL == "" {
		return oracle.NewLocalClient(local), nil
	}
	var token string
	if cfg.Auth.JWTSecret != "" {
		party := NodeParty(cfg)
		var err error
		token, err = auth.IssueToken(cfg.Auth.JWTSecret, party.Key, party.Name, 0)
		if err != nil {
			return nil, fmt.Errorf("issue oracle token: %w", err)
		}
	}
	return oracle.NewHTTPClient(cfg.Settlement.OracleURL, token, cfg.GetOracleTimeout()), nil
}
