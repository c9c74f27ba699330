package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/agentrelay/adapters/agent"
	"github.com/layer-3/agentrelay/adapters/events"
	"github.com/layer-3/agentrelay/adapters/ledger"
	"github.com/layer-3/agentrelay/adapters/nearauth"
	"github.com/layer-3/agentrelay/adapters/store"
	"github.com/layer-3/agentrelay/internal/config"
	"github.com/layer-3/agentrelay/ports"
	"github.com/layer-3/agentrelay/service"
	relayhttp "github.com/layer-3/agentrelay/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the run poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().String("addr", ":3001", "HTTP listen address")
	_ = opts.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	relayStore := store.NewRedisStore(redisClient)
	if err := relayStore.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	publisher, err := newEventPublisher(cfg.Events, redisClient)
	if err != nil {
		return err
	}

	keys, err := nearauth.NewRPCKeyAuthority(ctx, cfg.Near.RPCURL, cfg.Near.Timeout)
	if err != nil {
		return fmt.Errorf("dial key authority: %w", err)
	}
	defer keys.Close()

	credentials, err := newCredentialSource(cfg.Agent, cfg.Session.TTL)
	if err != nil {
		return err
	}

	notifier, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          cfg.EVM.RPCURL,
		PrivateKey:      cfg.EVM.PrivateKey,
		ContractAddress: cfg.EVM.ContractAddress,
		GasTipGwei:      cfg.EVM.GasTipGwei,
		MaxAttempts:     cfg.Ledger.MaxAttempts,
		Timeout:         cfg.Ledger.Timeout,
	}, relayStore, logger.Named("ledger"))
	if err != nil {
		return fmt.Errorf("dial ledger: %w", err)
	}
	defer notifier.Close()

	agents := agent.NewFactory(cfg.Agent.BaseURL, cfg.Agent.AssistantID, cfg.Agent.Timeout)

	relay := service.NewRelayService(service.Deps{
		Verifier:    nearauth.NewVerifier(keys, logger.Named("auth")),
		Sessions:    relayStore,
		Runs:        relayStore,
		Agents:      agents,
		Credentials: credentials,
		Ledger:      notifier,
		Events:      publisher,
		Logger:      logger.Named("relay"),
	}, cfg.Session.TTL)

	poller := service.NewPoller(relayStore, agents, notifier, publisher, logger.Named("poller"), service.PollerConfig{
		Interval:    cfg.Poller.Interval,
		CallTimeout: cfg.Poller.CallTimeout,
		MaxRunAge:   cfg.Poller.MaxRunAge,
	})
	if renewer, ok := credentials.(ports.CredentialRenewer); ok {
		poller.SetRenewer(renewer)
	}
	poller.Start(ctx)
	defer poller.Stop()

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           relayhttp.SetupRouter(relay, relayStore, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("ledger_sender", notifier.Sender()))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newEventPublisher(cfg config.EventsConfig, client *redis.Client) (ports.EventPublisher, error) {
	if !cfg.Enabled {
		return events.Noop{}, nil
	}
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	return events.NewWatermillPublisher(publisher, cfg.TopicPrefix), nil
}

func newCredentialSource(cfg config.AgentConfig, ttl time.Duration) (ports.CredentialSource, error) {
	if cfg.AuthMode != config.AuthModeJWT {
		return agent.AssertionCredentials{}, nil
	}
	source, err := agent.LoadJWTCredentials(cfg.JWTKeyFile, ttl)
	if err != nil {
		return nil, fmt.Errorf("load agent jwt key: %w", err)
	}
	return source, nil
}
