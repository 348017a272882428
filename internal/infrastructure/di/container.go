// Package di assembles the service's dependency graph.
package di

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/payout-service/payout_service/internal/api/handlers"
	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/domain/services/rates"
	"github.com/payout-service/payout_service/internal/domain/services/reconciliation"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/internal/infrastructure/adapters"
	"github.com/payout-service/payout_service/internal/infrastructure/adapters/chains"
	"github.com/payout-service/payout_service/internal/infrastructure/cache"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/internal/infrastructure/repositories"
	"github.com/payout-service/payout_service/pkg/logger"
)

// Container holds the wired application components
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *sqlx.DB
	Redis  cache.RedisClient

	Withdrawals *repositories.RequestRepository
	Payouts     *repositories.RequestRepository
	Intents     *repositories.IntentRepository
	Balances    *repositories.BalanceRepository

	Registry     *settlement.Registry
	Converter    *rates.Service
	Orchestrator *settlement.Orchestrator
	Reconciler   *reconciliation.Service

	SettlementHandlers *handlers.SettlementHandlers
	CoreHandlers       *handlers.CoreHandlers
}

// Build wires all components from config, database and cache connections
func Build(cfg *config.Config, log *logger.Logger, db *sqlx.DB, redisClient cache.RedisClient) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log,
		DB:     db,
		Redis:  redisClient,
	}

	c.Withdrawals = repositories.NewWithdrawalRepository(db)
	c.Payouts = repositories.NewPayoutRepository(db)
	c.Intents = repositories.NewIntentRepository(db)
	c.Balances = repositories.NewBalanceRepository(db)

	feed := rates.NewHTTPFeed(cfg.Rates, log)
	c.Converter = rates.NewService(feed, redisClient,
		time.Duration(cfg.Rates.CacheTTL)*time.Second, log)

	registry, err := buildRegistry(cfg.Chains, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build adapter registry: %w", err)
	}
	c.Registry = registry

	c.Orchestrator = settlement.NewOrchestrator(
		c.Withdrawals, c.Payouts, c.Intents, c.Registry, c.Converter,
		settlement.Config{
			TransferTimeout: time.Duration(cfg.Settlement.TransferTimeoutSeconds) * time.Second,
			ReserveTimeout:  time.Duration(cfg.Settlement.ReserveTimeoutSeconds) * time.Second,
		},
		log,
	)

	alerts := adapters.NewAlertService(cfg.Email, cfg.Reconciliation.AlertRecipient, log.Zap())
	var alertSender reconciliation.AlertSender
	if alerts != nil {
		alertSender = alerts
	}
	c.Reconciler = reconciliation.NewService(
		c.Intents, c.Withdrawals, c.Payouts, c.Registry, alertSender,
		time.Duration(cfg.Reconciliation.GracePeriodSeconds)*time.Second, log)

	c.SettlementHandlers = handlers.NewSettlementHandlers(c.Orchestrator, c.Withdrawals, c.Payouts, c.Balances, log)
	c.CoreHandlers = handlers.NewCoreHandlers(db, c.Reconciler, log)

	return c, nil
}

// buildRegistry constructs one adapter per supported route
func buildRegistry(cfg config.ChainsConfig, log *logger.Logger) (*settlement.Registry, error) {
	var list []settlement.Adapter

	for _, currency := range []entities.Currency{entities.CurrencyTRX, entities.CurrencyUSDT} {
		a, err := chains.NewTronAdapter(cfg.Tron, currency, log)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}

	for _, currency := range []entities.Currency{entities.CurrencyETH, entities.CurrencyUSDT} {
		a, err := chains.NewEthereumAdapter(cfg.Ethereum, currency, log)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}

	for _, currency := range []entities.Currency{entities.CurrencySOL, entities.CurrencyUSDC} {
		a, err := chains.NewSolanaAdapter(cfg.Solana, currency, log)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}

	return settlement.NewRegistry(list...)
}
