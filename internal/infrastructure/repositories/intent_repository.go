package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/pkg/tracing"
)

const intentColumns = `id, kind, request_id, blockchain, currency, destination,
	amount, state, tx_hash, created_at, updated_at`

// ErrIntentExists is returned by Claim when a non-abandoned intent already
// holds the request.
var ErrIntentExists = fmt.Errorf("transfer intent already exists")

// IntentRepository persists transfer intents. The insert in Claim is the
// mechanism that makes a transfer submission happen at most once per request:
// a partial unique index on (kind, request_id) over non-abandoned states
// rejects every claimant but the first.
type IntentRepository struct {
	db *sqlx.DB
}

// NewIntentRepository creates a new intent repository
func NewIntentRepository(db *sqlx.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Claim records the intention to transfer for a request. Returns
// ErrIntentExists when another processor already claimed it.
func (r *IntentRepository) Claim(ctx context.Context, kind entities.RequestKind, requestID int64, blockchain entities.Blockchain, currency entities.Currency, destination string, amount decimal.Decimal) (*entities.TransferIntent, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "INSERT", Table: "transfer_intents"})

	query := fmt.Sprintf(`
		INSERT INTO transfer_intents (id, kind, request_id, blockchain, currency, destination, amount, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING %s
	`, intentColumns)

	var intent entities.TransferIntent
	err := r.db.GetContext(ctx, &intent, query,
		uuid.New(), kind, requestID, blockchain, currency, destination, amount, entities.IntentStateCreated)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrIntentExists
		}
		return nil, fmt.Errorf("failed to claim transfer intent: %w", err)
	}
	tracing.EndDBSpan(span, nil, 1)

	return &intent, nil
}

// GetActive returns the non-abandoned intent for a request, if any
func (r *IntentRepository) GetActive(ctx context.Context, kind entities.RequestKind, requestID int64) (*entities.TransferIntent, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "SELECT", Table: "transfer_intents"})

	query := fmt.Sprintf(`
		SELECT %s FROM transfer_intents
		WHERE kind = $1 AND request_id = $2 AND state <> $3
	`, intentColumns)

	var intent entities.TransferIntent
	err := r.db.GetContext(ctx, &intent, query, kind, requestID, entities.IntentStateAbandoned)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transfer intent: %w", err)
	}
	tracing.EndDBSpan(span, nil, 1)

	return &intent, nil
}

// MarkSubmitted transitions an intent to submitted just before the transfer
// leaves the process
func (r *IntentRepository) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, entities.IntentStateCreated, entities.IntentStateSubmitted, nil)
}

// MarkConfirmed records the transaction hash and closes the intent
func (r *IntentRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string) error {
	return r.transition(ctx, id, entities.IntentStateSubmitted, entities.IntentStateConfirmed, &txHash)
}

// MarkAbandoned releases the claim so the request becomes retryable. Valid
// from created (transfer never submitted) or submitted (reconciliation found
// no matching transaction on chain).
func (r *IntentRepository) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "UPDATE", Table: "transfer_intents"})

	query := `
		UPDATE transfer_intents
		SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state IN ($3, $4)
	`

	res, err := r.db.ExecContext(ctx, query,
		entities.IntentStateAbandoned, id, entities.IntentStateCreated, entities.IntentStateSubmitted)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return fmt.Errorf("failed to abandon transfer intent: %w", err)
	}
	rows, _ := res.RowsAffected()
	tracing.EndDBSpan(span, nil, rows)

	if rows == 0 {
		return fmt.Errorf("transfer intent %s not in an abandonable state", id)
	}
	return nil
}

func (r *IntentRepository) transition(ctx context.Context, id uuid.UUID, from, to entities.IntentState, txHash *string) error {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "UPDATE", Table: "transfer_intents"})

	query := `
		UPDATE transfer_intents
		SET state = $1, tx_hash = COALESCE($2, tx_hash), updated_at = NOW()
		WHERE id = $3 AND state = $4
	`

	res, err := r.db.ExecContext(ctx, query, to, txHash, id, from)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return fmt.Errorf("failed to transition transfer intent: %w", err)
	}
	rows, _ := res.RowsAffected()
	tracing.EndDBSpan(span, nil, rows)

	if rows == 0 {
		return fmt.Errorf("transfer intent %s not in state %s", id, from)
	}
	return nil
}

// ListUnresolved returns submitted intents older than the cutoff, the
// reconciliation work queue
func (r *IntentRepository) ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]*entities.TransferIntent, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "SELECT", Table: "transfer_intents"})

	query := fmt.Sprintf(`
		SELECT %s FROM transfer_intents
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, intentColumns)

	var intents []*entities.TransferIntent
	err := r.db.SelectContext(ctx, &intents, query, entities.IntentStateSubmitted, olderThan, limit)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		return nil, fmt.Errorf("failed to list unresolved intents: %w", err)
	}
	tracing.EndDBSpan(span, nil, int64(len(intents)))

	return intents, nil
}

// CountUnresolved returns the number of submitted intents awaiting resolution
func (r *IntentRepository) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM transfer_intents WHERE state = $1`, entities.IntentStateSubmitted)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved intents: %w", err)
	}
	return count, nil
}
