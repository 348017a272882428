package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/infrastructure/database"
	"github.com/payout-service/payout_service/pkg/tracing"
)

// LedgerTxLabel is recorded in tx_hash for requests settled internally
const LedgerTxLabel = "internal:ledger"

// CompleteWithCredit settles a request to the internal ledger: the status
// compare-and-set and the balance upsert commit in one transaction, so the
// credit happens exactly once no matter how many processors race.
func (r *RequestRepository) CompleteWithCredit(ctx context.Context, id, userID int64, currency entities.Currency, amount decimal.Decimal) (*entities.SettlementRequest, *entities.Balance, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "UPDATE", Table: r.table})

	var req entities.SettlementRequest
	var balance entities.Balance

	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		casQuery := fmt.Sprintf(`
			UPDATE %s
			SET status = $1, tx_hash = $2, updated_at = $3, completed_at = $3
			WHERE id = $4 AND status = $5
			RETURNING %s
		`, r.table, requestColumns)

		if err := tx.GetContext(ctx, &req, casQuery,
			entities.RequestStatusCompleted, LedgerTxLabel, time.Now().UTC(), id, entities.RequestStatusPending); err != nil {
			return err
		}

		return tx.GetContext(ctx, &balance, creditBalanceQuery, userID, currency, amount)
	})

	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		if err == sql.ErrNoRows {
			return nil, nil, r.alreadyProcessed(ctx, id)
		}
		return nil, nil, fmt.Errorf("failed to settle request to ledger: %w", err)
	}
	tracing.EndDBSpan(span, nil, 1)

	r.hydrate(&req)
	return &req, &balance, nil
}
