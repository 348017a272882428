package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
	"github.com/payout-service/payout_service/pkg/tracing"
)

const requestColumns = `id, user_id, blockchain, currency, amount, destination,
	status, tx_hash, fail_reason, created_at, updated_at, completed_at`

// RequestRepository persists settlement requests of one kind. Withdrawals and
// payouts live in separate tables with the same shape.
type RequestRepository struct {
	db    *sqlx.DB
	table string
	kind  entities.RequestKind
}

// NewWithdrawalRepository creates a repository over withdraw_requests
func NewWithdrawalRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db, table: "withdraw_requests", kind: entities.RequestKindWithdrawal}
}

// NewPayoutRepository creates a repository over payouts
func NewPayoutRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db, table: "payouts", kind: entities.RequestKindPayout}
}

// Kind returns the request kind this repository serves
func (r *RequestRepository) Kind() entities.RequestKind {
	return r.kind
}

func (r *RequestRepository) hydrate(row *entities.SettlementRequest) {
	row.Kind = r.kind
}

// GetByID retrieves a settlement request by id
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entities.SettlementRequest, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "SELECT", Table: r.table})

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, requestColumns, r.table)

	var req entities.SettlementRequest
	err := r.db.GetContext(ctx, &req, query, id)
	if err != nil {
		tracing.EndDBSpan(span, err, -1)
		if err == sql.ErrNoRows {
			return nil, domainerrors.RequestNotFoundError(string(r.kind), id)
		}
		return nil, fmt.Errorf("failed to get %s request: %w", r.kind, err)
	}
	tracing.EndDBSpan(span, nil, 1)

	r.hydrate(&req)
	return &req, nil
}

// MarkCompleted transitions a pending request to completed, recording the
// transaction hash. The status guard in the WHERE clause is the only thing
// standing between two concurrent processors, so it is never relaxed.
func (r *RequestRepository) MarkCompleted(ctx context.Context, id int64, txHash string) (*entities.SettlementRequest, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "UPDATE", Table: r.table})

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, tx_hash = $2, updated_at = $3, completed_at = $3
		WHERE id = $4 AND status = $5
		RETURNING %s
	`, r.table, requestColumns)

	var req entities.SettlementRequest
	err := r.db.GetContext(ctx, &req, query,
		entities.RequestStatusCompleted, txHash, time.Now().UTC(), id, entities.RequestStatusPending)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		if err == sql.ErrNoRows {
			return nil, r.alreadyProcessed(ctx, id)
		}
		return nil, fmt.Errorf("failed to complete %s request: %w", r.kind, err)
	}
	tracing.EndDBSpan(span, nil, 1)

	r.hydrate(&req)
	return &req, nil
}

// MarkFailed transitions a pending request to failed with a reason.
// Same compare-and-set guard as MarkCompleted.
func (r *RequestRepository) MarkFailed(ctx context.Context, id int64, reason string) (*entities.SettlementRequest, error) {
	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "UPDATE", Table: r.table})

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, fail_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING %s
	`, r.table, requestColumns)

	var req entities.SettlementRequest
	err := r.db.GetContext(ctx, &req, query,
		entities.RequestStatusFailed, reason, time.Now().UTC(), id, entities.RequestStatusPending)
	if err != nil {
		tracing.EndDBSpan(span, err, 0)
		if err == sql.ErrNoRows {
			return nil, r.alreadyProcessed(ctx, id)
		}
		return nil, fmt.Errorf("failed to fail %s request: %w", r.kind, err)
	}
	tracing.EndDBSpan(span, nil, 1)

	r.hydrate(&req)
	return &req, nil
}

// alreadyProcessed distinguishes a missing row from one that lost the CAS race
func (r *RequestRepository) alreadyProcessed(ctx context.Context, id int64) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domainerrors.AlreadyProcessedError(id, string(current.Status))
}

// List returns a page of requests matching the filter plus the total count
func (r *RequestRepository) List(ctx context.Context, filter entities.RequestFilter) ([]*entities.SettlementRequest, int64, error) {
	filter.Normalize()

	conditions := []string{}
	args := []interface{}{}
	arg := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", arg))
		args = append(args, *filter.Status)
		arg++
	}
	if filter.Currency != nil {
		conditions = append(conditions, fmt.Sprintf("currency = $%d", arg))
		args = append(args, *filter.Currency)
		arg++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(destination ILIKE $%d OR CAST(id AS TEXT) = $%d OR CAST(user_id AS TEXT) = $%d)", arg, arg+1, arg+2))
		args = append(args, "%"+filter.Search+"%", filter.Search, filter.Search)
		arg += 3
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	ctx, span := tracing.StartDBSpan(ctx, tracing.DBSpanConfig{Operation: "SELECT", Table: r.table})

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.table, where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		tracing.EndDBSpan(span, err, -1)
		return nil, 0, fmt.Errorf("failed to count %s requests: %w", r.kind, err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, requestColumns, r.table, where, arg, arg+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var rows []*entities.SettlementRequest
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.EndDBSpan(span, err, -1)
		return nil, 0, fmt.Errorf("failed to list %s requests: %w", r.kind, err)
	}
	tracing.EndDBSpan(span, nil, int64(len(rows)))

	for _, row := range rows {
		r.hydrate(row)
	}
	return rows, total, nil
}
