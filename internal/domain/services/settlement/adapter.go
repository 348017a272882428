// Package settlement executes pending withdraw and payout requests: it
// resolves the chain route, prices the transfer, gates it on hot wallet
// reserves and a durable intent claim, then submits and records the outcome.
package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
)

// ErrOutcomeUnknown is returned by adapters when a transfer was submitted but
// its outcome could not be observed (timeout, dropped connection). The
// request must not be blindly retried; reconciliation resolves it.
var ErrOutcomeUnknown = errors.New("transfer outcome unknown")

// Adapter moves value on one (blockchain, currency) route. Implementations
// are thin wrappers over chain RPC endpoints and hold no request state.
type Adapter interface {
	// Route identifies the (blockchain, currency) pair this adapter serves
	Route() (entities.Blockchain, entities.Currency)

	// AccountingCurrency is the denomination request amounts arrive in.
	// When it differs from the route currency the orchestrator converts
	// before transferring.
	AccountingCurrency() entities.Currency

	// ChecksReserve reports whether this route enforces a hot wallet
	// reserve check. Declared explicitly so a route without a check reads
	// as a decision, not an omission.
	ChecksReserve() bool

	// CheckReserve verifies the hot wallet can cover the transfer.
	// Only called when ChecksReserve is true.
	CheckReserve(ctx context.Context, amount decimal.Decimal) (*entities.ReserveCheck, error)

	// Transfer submits the transfer. Returns ErrOutcomeUnknown when
	// submission may or may not have landed on chain.
	Transfer(ctx context.Context, userID *int64, to string, amount decimal.Decimal) (*entities.TransferResult, error)

	// LookupTransfer searches the chain for a transaction matching the
	// intent. found=false with nil error means definitively absent.
	LookupTransfer(ctx context.Context, intent *entities.TransferIntent) (result *entities.TransferResult, found bool, err error)
}
