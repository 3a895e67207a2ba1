package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/httpapi"
	"github.com/chatgw/gateway/internal/httpapi/middleware"
	"github.com/chatgw/gateway/internal/infrastructure/config"
	"github.com/chatgw/gateway/internal/infrastructure/crypto"
	"github.com/chatgw/gateway/internal/infrastructure/keyring"
	"github.com/chatgw/gateway/internal/infrastructure/logger"
	"github.com/chatgw/gateway/internal/infrastructure/persistence"
	"github.com/chatgw/gateway/internal/infrastructure/store"
	"github.com/chatgw/gateway/internal/llm/balancer"
	"github.com/chatgw/gateway/internal/llm/forwarder"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting gateway", zap.String("name", appName), zap.String("version", appVersion))

	masterKey, err := resolveMasterKey(cfg.Security)
	if err != nil {
		return fmt.Errorf("resolve master key: %w", err)
	}

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	bal := balancer.New(balancer.Strategy(cfg.Balancer.Strategy), cfg.Balancer.CooldownBase, cfg.Balancer.CooldownMax, cfg.Balancer.FailThreshold)

	st, err := store.New(db, masterKey, bal, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := seedAccounts(ctx, st, cfg.Accounts); err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}

	adapters := buildAdapterRegistry(ctx, st, log)
	fwd := forwarder.New(st, bal, cfg.Forward.MaxRetries, cfg.Forward.RetryDelay, log)

	deps := httpapi.NewDeps(st, fwd, adapters, log, time.Now())

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keySource := middleware.StaticKeys(cfg.Auth.APIKeys)
	watcher, err := config.NewWatcher(cfg.Auth, log)
	if err != nil {
		log.Warn("config hot-reload disabled: failed to arm file watcher", zap.Error(err))
	} else {
		watcher.Start(serveCtx)
		keySource = watcher.APIKeys
	}

	server := httpapi.New(cfg.Gateway, keySource, deps)
	if err := server.Start(serveCtx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	log.Info("gateway stopped")
	return nil
}

// resolveMasterKey obtains the credential-at-rest encryption key, trying
// the OS keyring first, falling back to an operator-supplied environment
// variable, mirroring the precedence the pack's own keyring package
// documents.
func resolveMasterKey(sec config.SecurityConfig) ([]byte, error) {
	if sec.UseKeyring && keyring.Available() {
		if key, err := keyring.Get(sec.KeyringService); err == nil {
			return key, nil
		}
	}

	passphrase := os.Getenv(sec.MasterKeyEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("no master key in keyring and %s is unset", sec.MasterKeyEnv)
	}
	key, err := crypto.DeriveKey(passphrase)
	if err != nil {
		return nil, err
	}
	if sec.UseKeyring && keyring.Available() {
		if err := keyring.Set(sec.KeyringService, key); err != nil {
			return key, nil // best-effort: keep running even if we can't persist it
		}
	}
	return key, nil
}

func seedAccounts(ctx context.Context, st *store.Store, seeds []config.AccountSeed) error {
	for _, s := range seeds {
		provider := model.ProviderID(s.ProviderID)
		if !provider.Valid() {
			return fmt.Errorf("unknown provider in config.accounts: %q", s.ProviderID)
		}
		if err := st.SeedAccounts(ctx, provider, s.Label, model.Credential(s.Credential), s.Priority, s.DailyQuota, s.DeleteSessionAfterChat); err != nil {
			return fmt.Errorf("seed account %s/%s: %w", provider, s.Label, err)
		}
	}
	return nil
}

// buildAdapterRegistry instantiates one adapter per provider that has a
// registered factory, logging a warning for any catalog provider still
// missing one rather than failing startup — useful while bringing vendors
// online incrementally.
func buildAdapterRegistry(ctx context.Context, st *store.Store, log *zap.Logger) map[model.ProviderID]vendor.Adapter {
	adapters := make(map[model.ProviderID]vendor.Adapter)
	for _, id := range model.AllProviders {
		p, err := st.Provider(ctx, id)
		if err != nil {
			log.Warn("provider missing from catalog", zap.String("provider", string(id)), zap.Error(err))
			continue
		}
		adapter, err := vendor.Create(id, p.BaseURL, log.With(zap.String("provider", string(id))))
		if err != nil {
			log.Warn("no adapter registered for provider", zap.String("provider", string(id)), zap.Error(err))
			continue
		}
		adapters[id] = adapter
	}
	return adapters
}
