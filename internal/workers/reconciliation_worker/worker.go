// Package reconciliation_worker schedules periodic reconciliation sweeps.
package reconciliation_worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/payout-service/payout_service/internal/domain/services/reconciliation"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
)

type Worker struct {
	service *reconciliation.Service
	cfg     config.ReconciliationConfig
	cron    *cron.Cron
	logger  *zap.Logger
}

func NewWorker(service *reconciliation.Service, cfg config.ReconciliationConfig, logger *zap.Logger) *Worker {
	return &Worker{
		service: service,
		cfg:     cfg,
		cron:    cron.New(),
		logger:  logger,
	}
}

func (w *Worker) Start() error {
	sweep := w.cfg.SweepSchedule
	if sweep == "" {
		sweep = "*/5 * * * *"
	}
	deep := w.cfg.DeepSchedule
	if deep == "" {
		deep = "0 3 * * *"
	}

	// Frequent sweep bounded tightly; it only touches a recent batch
	_, err := w.cron.AddFunc(sweep, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := w.service.Run(ctx); err != nil {
			w.logger.Error("Reconciliation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	// Daily deep run with a wider timeout for chain history lookups
	_, err = w.cron.AddFunc(deep, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if _, err := w.service.Run(ctx); err != nil {
			w.logger.Error("Daily reconciliation run failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Reconciliation worker started",
		zap.String("sweep_schedule", sweep),
		zap.String("deep_schedule", deep))
	return nil
}

func (w *Worker) Stop() {
	w.cron.Stop()
	w.logger.Info("Reconciliation worker stopped")
}
