package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
	"github.com/payout-service/payout_service/internal/infrastructure/repositories"
	"github.com/payout-service/payout_service/pkg/logger"
	"github.com/payout-service/payout_service/pkg/metrics"
)

// RequestStore persists settlement requests of one kind
type RequestStore interface {
	Kind() entities.RequestKind
	GetByID(ctx context.Context, id int64) (*entities.SettlementRequest, error)
	MarkCompleted(ctx context.Context, id int64, txHash string) (*entities.SettlementRequest, error)
	MarkFailed(ctx context.Context, id int64, reason string) (*entities.SettlementRequest, error)
	CompleteWithCredit(ctx context.Context, id, userID int64, currency entities.Currency, amount decimal.Decimal) (*entities.SettlementRequest, *entities.Balance, error)
}

// IntentStore persists transfer intents
type IntentStore interface {
	Claim(ctx context.Context, kind entities.RequestKind, requestID int64, blockchain entities.Blockchain, currency entities.Currency, destination string, amount decimal.Decimal) (*entities.TransferIntent, error)
	GetActive(ctx context.Context, kind entities.RequestKind, requestID int64) (*entities.TransferIntent, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string) error
	MarkAbandoned(ctx context.Context, id uuid.UUID) error
}

// Converter converts amounts between currencies
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to entities.Currency) (decimal.Decimal, error)
}

// Config bounds the orchestrator's external calls
type Config struct {
	TransferTimeout time.Duration
	ReserveTimeout  time.Duration
}

// Orchestrator drives a settlement request from pending to a terminal state
type Orchestrator struct {
	withdrawals RequestStore
	payouts     RequestStore
	intents     IntentStore
	registry    *Registry
	converter   Converter
	config      Config
	logger      *logger.Logger
}

// NewOrchestrator creates a settlement orchestrator
func NewOrchestrator(withdrawals, payouts RequestStore, intents IntentStore, registry *Registry, converter Converter, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = 60 * time.Second
	}
	if cfg.ReserveTimeout == 0 {
		cfg.ReserveTimeout = 10 * time.Second
	}
	return &Orchestrator{
		withdrawals: withdrawals,
		payouts:     payouts,
		intents:     intents,
		registry:    registry,
		converter:   converter,
		config:      cfg,
		logger:      log,
	}
}

// ProcessWithdraw settles a pending withdrawal on chain
func (o *Orchestrator) ProcessWithdraw(ctx context.Context, id int64) (*entities.SettlementRequest, error) {
	req, err := o.loadPending(ctx, o.withdrawals, id)
	if err != nil {
		o.countOutcome(entities.RequestKindWithdrawal, err, "completed")
		return nil, err
	}

	result, err := o.settleOnChain(ctx, o.withdrawals, req)
	o.countOutcome(entities.RequestKindWithdrawal, err, "completed")
	return result, err
}

// ProcessPayout settles a pending payout. Payouts attributable to an internal
// user are credited to their balance; anonymous payouts go on chain.
func (o *Orchestrator) ProcessPayout(ctx context.Context, id int64) (*entities.SettlementRequest, error) {
	req, err := o.loadPending(ctx, o.payouts, id)
	if err != nil {
		o.countOutcome(entities.RequestKindPayout, err, "completed")
		return nil, err
	}

	var result *entities.SettlementRequest
	if req.UserID != nil {
		result, err = o.settleToLedger(ctx, req)
	} else {
		result, err = o.settleOnChain(ctx, o.payouts, req)
	}
	o.countOutcome(entities.RequestKindPayout, err, "completed")
	return result, err
}

// DeclineWithdraw fails a pending withdrawal with an operator-supplied reason
func (o *Orchestrator) DeclineWithdraw(ctx context.Context, id int64, reason string) (*entities.SettlementRequest, error) {
	result, err := o.decline(ctx, o.withdrawals, id, reason)
	o.countOutcome(entities.RequestKindWithdrawal, err, "declined")
	return result, err
}

// DeclinePayout fails a pending payout with an operator-supplied reason
func (o *Orchestrator) DeclinePayout(ctx context.Context, id int64, reason string) (*entities.SettlementRequest, error) {
	result, err := o.decline(ctx, o.payouts, id, reason)
	o.countOutcome(entities.RequestKindPayout, err, "declined")
	return result, err
}

// decline moves a pending request to failed. A live transfer intent blocks
// the decline: value may already have moved for this request.
func (o *Orchestrator) decline(ctx context.Context, store RequestStore, id int64, reason string) (*entities.SettlementRequest, error) {
	req, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, domainerrors.AlreadyProcessedError(id, string(req.Status))
	}

	active, err := o.intents.GetActive(ctx, store.Kind(), id)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if active.State != entities.IntentStateCreated {
			return nil, domainerrors.TransferAmbiguousError(id)
		}
		return nil, domainerrors.AlreadyProcessedError(id, "processing")
	}

	updated, err := store.MarkFailed(ctx, id, reason)
	if err != nil {
		return nil, err
	}

	o.logger.Info("request declined",
		"kind", store.Kind(),
		"request_id", id,
		"reason", reason)

	return updated, nil
}

// loadPending fetches the request and applies the gates every settlement
// path shares: the request must exist, be pending, and name a recipient.
func (o *Orchestrator) loadPending(ctx context.Context, store RequestStore, id int64) (*entities.SettlementRequest, error) {
	req, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !req.IsPending() {
		return nil, domainerrors.AlreadyProcessedError(id, string(req.Status))
	}

	if !req.HasRecipient() {
		return nil, domainerrors.MissingRecipientError(id)
	}

	return req, nil
}

// settleToLedger credits the payout to the user's internal balance. No
// conversion, no reserve check, no chain call; the credit and the status
// flip commit atomically in the store.
func (o *Orchestrator) settleToLedger(ctx context.Context, req *entities.SettlementRequest) (*entities.SettlementRequest, error) {
	updated, balance, err := o.payouts.CompleteWithCredit(ctx, req.ID, *req.UserID, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}

	o.logger.Info("payout settled to ledger",
		"request_id", req.ID,
		"user_id", *req.UserID,
		"currency", req.Currency,
		"amount", req.Amount.String(),
		"new_balance", balance.Amount.String())

	return updated, nil
}

func (o *Orchestrator) settleOnChain(ctx context.Context, store RequestStore, req *entities.SettlementRequest) (*entities.SettlementRequest, error) {
	adapter, err := o.registry.Resolve(req.Blockchain, req.Currency)
	if err != nil {
		return nil, err
	}

	// Request amounts arrive in the route's accounting denomination;
	// price the transfer in the on-chain currency at current rates.
	transferAmount, err := o.converter.Convert(ctx, req.Amount, adapter.AccountingCurrency(), req.Currency)
	if err != nil {
		return nil, err
	}

	if adapter.ChecksReserve() {
		if err := o.checkReserve(ctx, adapter, req, transferAmount); err != nil {
			return nil, err
		}
	}

	intent, err := o.claimIntent(ctx, store, req, transferAmount)
	if err != nil {
		return nil, err
	}

	txHash, err := o.submitTransfer(ctx, adapter, req, intent, transferAmount)
	if err != nil {
		return nil, err
	}

	updated, err := store.MarkCompleted(ctx, req.ID, txHash)
	if err != nil {
		// The transfer landed but the status flip lost. The confirmed
		// intent keeps the record; surface the conflict as-is.
		o.logger.Error("transfer confirmed but completion CAS failed",
			"request_id", req.ID, "tx_hash", txHash, "error", err)
		return nil, err
	}

	o.logger.Info("request settled on chain",
		"kind", store.Kind(),
		"request_id", req.ID,
		"blockchain", req.Blockchain,
		"currency", req.Currency,
		"tx_hash", txHash)

	return updated, nil
}

func (o *Orchestrator) checkReserve(ctx context.Context, adapter Adapter, req *entities.SettlementRequest, amount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.ReserveTimeout)
	defer cancel()

	check, err := adapter.CheckReserve(ctx, amount)
	if err != nil {
		metrics.ReserveCheckFailures.WithLabelValues(string(req.Blockchain), string(req.Currency)).Inc()
		return domainerrors.ReserveInsufficientError("reserve check unavailable: " + err.Error())
	}
	if !check.Allowed {
		metrics.ReserveCheckFailures.WithLabelValues(string(req.Blockchain), string(req.Currency)).Inc()
		o.logger.Warn("reserve check refused transfer",
			"request_id", req.ID,
			"blockchain", req.Blockchain,
			"currency", req.Currency,
			"reason", check.Reason)
		return domainerrors.ReserveInsufficientError(check.Reason)
	}
	return nil
}

// claimIntent inserts the durable claim that makes this attempt the only one
// allowed to submit a transfer for the request.
func (o *Orchestrator) claimIntent(ctx context.Context, store RequestStore, req *entities.SettlementRequest, amount decimal.Decimal) (*entities.TransferIntent, error) {
	intent, err := o.intents.Claim(ctx, store.Kind(), req.ID, req.Blockchain, req.Currency, req.Destination, amount)
	if err == nil {
		return intent, nil
	}

	if !errors.Is(err, repositories.ErrIntentExists) {
		return nil, err
	}

	active, lookupErr := o.intents.GetActive(ctx, store.Kind(), req.ID)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if active != nil && active.State != entities.IntentStateCreated {
		// A transfer already left the process for this request
		return nil, domainerrors.TransferAmbiguousError(req.ID)
	}
	return nil, domainerrors.AlreadyProcessedError(req.ID, "processing")
}

func (o *Orchestrator) submitTransfer(ctx context.Context, adapter Adapter, req *entities.SettlementRequest, intent *entities.TransferIntent, amount decimal.Decimal) (string, error) {
	if err := o.intents.MarkSubmitted(ctx, intent.ID); err != nil {
		if abandonErr := o.intents.MarkAbandoned(ctx, intent.ID); abandonErr != nil {
			o.logger.Error("failed to release unsubmitted intent",
				"intent_id", intent.ID, "error", abandonErr)
		}
		return "", err
	}

	transferCtx, cancel := context.WithTimeout(ctx, o.config.TransferTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.Transfer(transferCtx, req.UserID, req.Destination, amount)
	metrics.TransferDuration.WithLabelValues(string(req.Blockchain), string(req.Currency)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil && result.Success:
		if err := o.intents.MarkConfirmed(ctx, intent.ID, result.TxHash); err != nil {
			o.logger.Error("failed to confirm transfer intent",
				"intent_id", intent.ID, "tx_hash", result.TxHash, "error", err)
		}
		return result.TxHash, nil

	case isAmbiguous(err):
		// The transfer may have landed. The intent stays submitted and
		// blocks retries until reconciliation resolves it.
		o.logger.Error("transfer outcome unknown, awaiting reconciliation",
			"request_id", req.ID, "intent_id", intent.ID, "error", err)
		return "", domainerrors.TransferAmbiguousError(req.ID)

	default:
		// Definitive rejection: release the claim so the request stays
		// retryable.
		if abandonErr := o.intents.MarkAbandoned(ctx, intent.ID); abandonErr != nil {
			o.logger.Error("failed to abandon transfer intent",
				"intent_id", intent.ID, "error", abandonErr)
		}
		if err == nil {
			err = errors.New("chain rejected transfer")
		}
		return "", domainerrors.TransferFailedError(err)
	}
}

func isAmbiguous(err error) bool {
	return errors.Is(err, ErrOutcomeUnknown) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func (o *Orchestrator) countOutcome(kind entities.RequestKind, err error, success string) {
	outcome := success
	if err != nil {
		outcome = "error"
		if de, ok := domainerrors.GetDomainError(err); ok {
			outcome = de.Code
		}
	}
	metrics.SettlementsTotal.WithLabelValues(string(kind), outcome).Inc()
}
