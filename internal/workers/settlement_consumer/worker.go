// Package settlement_consumer triggers settlements from a Kafka topic. Each
// message names a pending request; processing goes through the same
// orchestrator entry points as the admin API, so duplicate deliveries are
// harmless.
package settlement_consumer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
)

// SettlementRequested is the wire shape on the settlement topic
type SettlementRequested struct {
	Kind entities.RequestKind `json:"kind"`
	ID   int64                `json:"id"`
}

type Worker struct {
	orchestrator *settlement.Orchestrator
	reader       *kafka.Reader
	logger       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(orchestrator *settlement.Orchestrator, cfg config.KafkaConfig, logger *zap.Logger) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})

	return &Worker{
		orchestrator: orchestrator,
		reader:       reader,
		logger:       logger,
	}
}

func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("Settlement consumer started",
		zap.String("topic", w.reader.Config().Topic),
		zap.String("group_id", w.reader.Config().GroupID))
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		m, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("kafka read failed", zap.Error(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var ev SettlementRequested
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			w.logger.Warn("invalid settlement message",
				zap.ByteString("value", m.Value), zap.Error(err))
			continue
		}

		w.process(ctx, ev)
	}
}

func (w *Worker) process(ctx context.Context, ev SettlementRequested) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var err error
	switch ev.Kind {
	case entities.RequestKindWithdrawal:
		_, err = w.orchestrator.ProcessWithdraw(ctx, ev.ID)
	case entities.RequestKindPayout:
		_, err = w.orchestrator.ProcessPayout(ctx, ev.ID)
	default:
		w.logger.Warn("unknown settlement kind", zap.String("kind", string(ev.Kind)))
		return
	}

	if err != nil {
		// AlreadyProcessed is the expected outcome of a redelivery
		if de, ok := domainerrors.GetDomainError(err); ok && de.Code == domainerrors.CodeAlreadyProcessed {
			w.logger.Debug("settlement already processed",
				zap.String("kind", string(ev.Kind)), zap.Int64("id", ev.ID))
			return
		}
		w.logger.Error("settlement from queue failed",
			zap.String("kind", string(ev.Kind)), zap.Int64("id", ev.ID), zap.Error(err))
	}
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.reader.Close(); err != nil {
		w.logger.Warn("kafka reader close failed", zap.Error(err))
	}
	w.wg.Wait()
	w.logger.Info("Settlement consumer stopped")
}
