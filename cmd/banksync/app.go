package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/openledger/banksync/internal/aggregator"
	"github.com/openledger/banksync/internal/category"
	"github.com/openledger/banksync/internal/config"
	"github.com/openledger/banksync/internal/ledger"
	"github.com/openledger/banksync/internal/lock"
	"github.com/openledger/banksync/internal/quota"
	"github.com/openledger/banksync/internal/ratelimit"
	"github.com/openledger/banksync/internal/storage"
	"github.com/openledger/banksync/internal/syncer"
	"github.com/openledger/banksync/internal/vault"
	"github.com/openledger/banksync/internal/webhook"
)

// app bundles the wired application services behind one constructor so every
// command assembles the same stack.
type app struct {
	cfg          *config.Config
	store        *storage.SQLiteStorage
	vault        *vault.Vault
	client       *aggregator.Client
	locks        *lock.Manager
	quotas       *quota.Enforcer
	categories   *category.Mapper
	orchestrator *syncer.Orchestrator
	ledger       *ledger.Ledger
	processor    *webhook.Processor
}

func buildApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	credVault, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	// The token bucket lives in shared storage so every process draining the
	// same aggregator credentials shares one budget.
	bucket := ratelimit.NewBucket(store, "ratelimit:aggregator", ratelimit.Options{
		Capacity: int64(cfg.Aggregator.RateLimit),
	})

	client, err := aggregator.NewClient(aggregator.Config{
		BaseURL:      cfg.Aggregator.BaseURL,
		ClientID:     cfg.Aggregator.ClientID,
		ClientSecret: cfg.Aggregator.ClientSecret,
		RateLimit:    int64(cfg.Aggregator.RateLimit),
		Timeout:      cfg.Aggregator.Timeout,
	}, bucket)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create aggregator client: %w", err)
	}

	locks := lock.NewManager(store, lock.Options{
		LeaseTTL: cfg.Sync.LockLeaseTTL,
		MaxWait:  cfg.Sync.LockMaxWait,
	})
	quotas := quota.NewEnforcer(store)
	categories := category.NewMapper(store, cfg.Sync.CategoryRefresh)

	orchestrator := syncer.New(store, client, locks, quotas, categories, credVault, syncer.Options{
		OverlapDays:  cfg.Sync.OverlapDays,
		FallbackDays: cfg.Sync.FallbackDays,
	})

	eventLedger := ledger.New(store, cfg.Webhook.RetryLimit)
	processor := webhook.NewProcessor(eventLedger, store, orchestrator, cfg.Webhook.Workers, cfg.Webhook.QueueDepth)

	return &app{
		cfg:          cfg,
		store:        store,
		vault:        credVault,
		client:       client,
		locks:        locks,
		quotas:       quotas,
		categories:   categories,
		orchestrator: orchestrator,
		ledger:       eventLedger,
		processor:    processor,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close storage: %v\n", err)
	}
}
