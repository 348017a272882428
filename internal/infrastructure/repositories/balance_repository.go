package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/pkg/tracing"
)

// creditBalanceQuery upserts one (user, currency) holding. Shared with the
// ledger settlement path so both credit paths stay identical.
const creditBalanceQuery = `
	INSERT INTO balances (user_id, currency, amount, created_at, updated_at)
	VALUES ($1, $2, $3, NOW(), NOW())
	ON CONFLICT (user_id, currency)
	DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
	RETURNING id, user_id, currency, amount, created_at, updated_at
`

// BalanceRepository persists user balances
type BalanceRepository struct {
	db *sqlx.DB
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Credit atomically increments a user's balance in one currency, creating the
// row if it does not exist, and returns the updated balance. Amount must be
// positive; the ledger is increment-only from this service.
func (r *BalanceRepository) Credit(ctx context.Context, userID int64, currency entities.Currency, amount decimal.Decimal) (*entities.Balance, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "INSERT", Table: "balances"})

	var balance entities.Balance
	err := r.db.GetContext(ctx, &balance, creditBalanceQuery, userID, currency, amount)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}
	tracing.EndDBSpan(span, nil, 1)

	return &balance, nil
}

// Get returns a user's balance in one currency, zero if no row exists
func (r *BalanceRepository) Get(ctx context.Context, userID int64, currency entities.Currency) (*entities.Balance, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "SELECT", Table: "balances"})

	query := `
		SELECT id, user_id, currency, amount, created_at, updated_at
		FROM balances
		WHERE user_id = $1 AND currency = $2
	`

	var balance entities.Balance
	err := r.db.GetContext(ctx, &balance, query, userID, currency)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		if err == sql.ErrNoRows {
			return &entities.Balance{
				UserID:   userID,
				Currency: currency,
				Amount:   decimal.Zero,
			}, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	tracing.EndDBSpan(span, nil, 1)

	return &balance, nil
}
