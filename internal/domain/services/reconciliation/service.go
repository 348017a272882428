// Package reconciliation resolves transfer intents whose outcome was lost:
// it asks the owning chain adapter whether the transfer landed and either
// completes the request or releases the claim so it can be retried.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/pkg/logger"
	"github.com/payout-service/payout_service/pkg/metrics"
)

// IntentStore is the subset of intent persistence reconciliation needs
type IntentStore interface {
	ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]*entities.TransferIntent, error)
	CountUnresolved(ctx context.Context) (int64, error)
	MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string) error
	MarkAbandoned(ctx context.Context, id uuid.UUID) error
}

// RequestStore completes requests whose transfers were found on chain
type RequestStore interface {
	Kind() entities.RequestKind
	MarkCompleted(ctx context.Context, id int64, txHash string) (*entities.SettlementRequest, error)
}

// AlertSender notifies operators about intents that need manual attention
type AlertSender interface {
	SendAlert(ctx context.Context, subject string, lines []string) error
}

// Report summarizes one reconciliation run
type Report struct {
	Scanned    int       `json:"scanned"`
	Confirmed  int       `json:"confirmed"`
	Abandoned  int       `json:"abandoned"`
	Unresolved int       `json:"unresolved"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service runs reconciliation sweeps over unresolved transfer intents
type Service struct {
	intents     IntentStore
	withdrawals RequestStore
	payouts     RequestStore
	registry    *settlement.Registry
	alerts      AlertSender
	gracePeriod time.Duration
	batchSize   int
	logger      *logger.Logger
}

// NewService creates a reconciliation service
func NewService(intents IntentStore, withdrawals, payouts RequestStore, registry *settlement.Registry, alerts AlertSender, gracePeriod time.Duration, log *logger.Logger) *Service {
	if gracePeriod == 0 {
		gracePeriod = 5 * time.Minute
	}
	return &Service{
		intents:     intents,
		withdrawals: withdrawals,
		payouts:     payouts,
		registry:    registry,
		alerts:      alerts,
		gracePeriod: gracePeriod,
		batchSize:   100,
		logger:      log,
	}
}

// Run scans submitted intents older than the grace period and resolves each
// against its chain. Intents it cannot resolve are reported to operators.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	cutoff := time.Now().Add(-s.gracePeriod)
	intents, err := s.intents.ListUnresolved(ctx, cutoff, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved intents: %w", err)
	}

	var stuck []string
	for _, intent := range intents {
		report.Scanned++
		outcome, err := s.resolve(ctx, intent)
		if err != nil {
			report.Unresolved++
			s.logger.Warn("intent resolution failed",
				"intent_id", intent.ID,
				"kind", intent.Kind,
				"request_id", intent.RequestID,
				"error", err)
			stuck = append(stuck, describeIntent(intent, err))
			continue
		}
		switch outcome {
		case entities.IntentStateConfirmed:
			report.Confirmed++
		case entities.IntentStateAbandoned:
			report.Abandoned++
		}
	}

	if count, err := s.intents.CountUnresolved(ctx); err == nil {
		metrics.IntentsUnresolved.Set(float64(count))
	}

	if len(stuck) > 0 && s.alerts != nil {
		subject := fmt.Sprintf("settlement reconciliation: %d intents need attention", len(stuck))
		if err := s.alerts.SendAlert(ctx, subject, stuck); err != nil {
			s.logger.Error("failed to send reconciliation alert", "error", err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.logger.Info("reconciliation run finished",
		"scanned", report.Scanned,
		"confirmed", report.Confirmed,
		"abandoned", report.Abandoned,
		"unresolved", report.Unresolved)

	return report, nil
}

// resolve queries the chain for one intent and applies the outcome
func (s *Service) resolve(ctx context.Context, intent *entities.TransferIntent) (entities.IntentState, error) {
	adapter, err := s.registry.Resolve(intent.Blockchain, intent.Currency)
	if err != nil {
		return "", err
	}

	result, found, err := adapter.LookupTransfer(ctx, intent)
	if err != nil {
		return "", err
	}

	if found && result.Success {
		if err := s.intents.MarkConfirmed(ctx, intent.ID, result.TxHash); err != nil {
			return "", err
		}
		store := s.storeFor(intent.Kind)
		if _, err := store.MarkCompleted(ctx, intent.RequestID, result.TxHash); err != nil {
			// Confirmed intent with an unfinishable request needs a human
			return "", fmt.Errorf("intent confirmed but request completion failed: %w", err)
		}
		s.logger.Info("intent confirmed from chain",
			"intent_id", intent.ID, "request_id", intent.RequestID, "tx_hash", result.TxHash)
		return entities.IntentStateConfirmed, nil
	}

	// Definitively absent or definitively failed on chain: release the
	// claim so the request becomes retryable.
	if err := s.intents.MarkAbandoned(ctx, intent.ID); err != nil {
		return "", err
	}
	s.logger.Info("intent abandoned, request retryable",
		"intent_id", intent.ID, "request_id", intent.RequestID, "found", found)
	return entities.IntentStateAbandoned, nil
}

func (s *Service) storeFor(kind entities.RequestKind) RequestStore {
	if kind == entities.RequestKindPayout {
		return s.payouts
	}
	return s.withdrawals
}

func describeIntent(intent *entities.TransferIntent, err error) string {
	return fmt.Sprintf("%s request %d (%s/%s, %s to %s): %v",
		intent.Kind, intent.RequestID, intent.Blockchain, intent.Currency,
		intent.Amount.String(), intent.Destination, err)
}
