// Command server runs the majordomo webhook handler platform.
//
// Configuration is read from a YAML file (--config, MAJORDOMO_CONFIG,
// ./config.yaml or /etc/majordomo/config.yaml) and environment variables.
// The legacy variables PORT, HANDLER_PATH, API_KEYS_PATH, SLACK_TOKEN and
// GITHUB_TOKEN are still honored.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/rhuss/majordomo/pkg/auth"
	"github.com/rhuss/majordomo/pkg/broker"
	"github.com/rhuss/majordomo/pkg/chat"
	"github.com/rhuss/majordomo/pkg/config"
	"github.com/rhuss/majordomo/pkg/debug"
	"github.com/rhuss/majordomo/pkg/dispatch"
	"github.com/rhuss/majordomo/pkg/engine"
	"github.com/rhuss/majordomo/pkg/engine/hclexpr"
	"github.com/rhuss/majordomo/pkg/engine/starlark"
	"github.com/rhuss/majordomo/pkg/events"
	"github.com/rhuss/majordomo/pkg/github"
	"github.com/rhuss/majordomo/pkg/mcpserver"
	"github.com/rhuss/majordomo/pkg/registry"
	"github.com/rhuss/majordomo/pkg/storage"
	"github.com/rhuss/majordomo/pkg/storage/file"
	"github.com/rhuss/majordomo/pkg/storage/postgres"
	transporthttp "github.com/rhuss/majordomo/pkg/transport/http"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("majordomo", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("majordomo", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	unknown := debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()
	if len(unknown) > 0 {
		logger.Warn("unknown debug categories", "categories", unknown, "known", debug.Known)
	}

	ctx := context.Background()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	keys := auth.NewKeyStore()
	loadAPIKeys(ctx, keys, store, logger)

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return err
	}

	handlers := registry.New(eng, store, registry.WithLogger(logger))
	handlers.Load(ctx)

	chatClient := newChatClient(cfg.Slack)
	issueClient, err := newIssueClient(cfg.GitHub)
	if err != nil {
		return err
	}

	brokerOpts := []broker.Option{broker.WithLogger(logger)}
	if chatClient != nil {
		brokerOpts = append(brokerOpts, broker.WithChat(chatClient))
	}
	if issueClient != nil {
		brokerOpts = append(brokerOpts, broker.WithIssues(issueClient))
	}
	brokers := broker.NewFactory(brokerOpts...)

	dispatcher := dispatch.New(handlers, eng, brokers, dispatch.WithLogger(logger))

	svc := transporthttp.Services{
		Invoker:  dispatcher,
		Handlers: handlers,
		Keys:     keys,
		Health:   store,
	}
	if n := cfg.Server.InvocationsPerMinute; n > 0 {
		svc.Limiter = auth.NewInProcessLimiter(n)
	}

	srv := transporthttp.NewServer(svc,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithSlackSigningSecret(cfg.Slack.SigningSecret),
		transporthttp.WithLogger(logger),
	)
	adapter := srv.Adapter()

	// Events reach handlers through the same middleware as POST /h/{address}.
	// Without a chat client channel IDs cannot be resolved, so events are
	// acknowledged and dropped.
	if chatClient != nil {
		adapter.SetEventRouter(events.NewRouter(chatClient, adapter.Invoker(), logger))
	}

	if cfg.Observability.Metrics.Enabled {
		adapter.Mount("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	if cfg.MCP.Enabled {
		var mcpOpts []mcpserver.Option
		if svc.Limiter != nil {
			mcpOpts = append(mcpOpts, mcpserver.WithLimiter(svc.Limiter))
		}
		var h http.Handler = mcpserver.New(version, adapter.Invoker(), handlers, keys, logger, mcpOpts...).Handler()
		if cfg.MCP.RequireAuth {
			h = auth.Middleware(keys)(h)
		}
		adapter.Mount(cfg.MCP.Path, h)
	}

	logger.Info("majordomo configured",
		"version", version,
		"storage", cfg.Storage.Type,
		"engine", eng.Name(),
		"handlers", handlers.Len(),
		"api_keys", keys.Len(),
		"chat", brokers.ChatEnabled(),
		"tickets", brokers.TicketsEnabled(),
		"mcp", cfg.MCP.Enabled,
	)

	return srv.ListenAndServe()
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MigrateOnStart:  cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return s, nil
	default:
		slog.Info("storage enabled", "type", "file", "handlers_path", cfg.HandlersPath, "api_keys_path", cfg.APIKeysPath)
		return file.New(cfg.HandlersPath, cfg.APIKeysPath), nil
	}
}

func newEngine(cfg config.EngineConfig) (engine.Engine, error) {
	ec := engine.Config{MaxSteps: cfg.MaxSteps, MaxValueSize: cfg.MaxValueSize}
	switch cfg.Language {
	case "starlark":
		return starlark.New(ec), nil
	case "hcl":
		return hclexpr.New(ec), nil
	default:
		return nil, fmt.Errorf("unknown engine language %q", cfg.Language)
	}
}

func newChatClient(cfg config.SlackConfig) *chat.Client {
	var opts []chat.Option
	if cfg.BaseURL != "" {
		opts = append(opts, chat.WithBaseURL(cfg.BaseURL))
	}
	return chat.New(cfg.Token, opts...)
}

func newIssueClient(cfg config.GitHubConfig) (*github.Client, error) {
	var opts []github.Option
	if cfg.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(cfg.BaseURL))
	}

	if cfg.AppAuth() {
		pem, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading github app key: %w", err)
		}
		c, err := github.NewWithApp(cfg.AppID, cfg.InstallationID, pem, opts...)
		if err != nil {
			return nil, fmt.Errorf("github app auth: %w", err)
		}
		return c, nil
	}
	return github.NewWithToken(cfg.Token, opts...), nil
}

// loadAPIKeys fills keys from src. A missing or unreadable key list is
// logged and leaves the set empty; it never stops startup.
func loadAPIKeys(ctx context.Context, keys *auth.KeyStore, src auth.KeySource, logger *slog.Logger) {
	err := keys.Load(ctx, src)
	switch {
	case err == nil:
		return
	case errors.Is(err, storage.ErrNotFound):
		logger.Warn("no api keys configured, every authenticated request will fail", "error", err)
	default:
		logger.Warn("api key list unreadable, starting with no keys", "error", err)
	}
}
