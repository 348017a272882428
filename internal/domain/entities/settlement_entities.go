package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Blockchain identifies the network a transfer settles on
type Blockchain string

const (
	BlockchainTron     Blockchain = "tron"
	BlockchainEthereum Blockchain = "ethereum"
	BlockchainSolana   Blockchain = "solana"
)

// Validate checks if the blockchain is one we settle on
func (b Blockchain) Validate() error {
	switch b {
	case BlockchainTron, BlockchainEthereum, BlockchainSolana:
		return nil
	default:
		return fmt.Errorf("invalid blockchain: %s", b)
	}
}

// IsValid checks if the blockchain is valid
func (b Blockchain) IsValid() bool {
	return b.Validate() == nil
}

// Currency is an asset denomination, either an on-chain token or a fiat
// accounting unit
type Currency string

const (
	CurrencyTRX  Currency = "TRX"
	CurrencyETH  Currency = "ETH"
	CurrencySOL  Currency = "SOL"
	CurrencyUSDT Currency = "USDT"
	CurrencyUSDC Currency = "USDC"
	CurrencyUSD  Currency = "USD"
)

// Validate checks if the currency is known
func (c Currency) Validate() error {
	switch c {
	case CurrencyTRX, CurrencyETH, CurrencySOL, CurrencyUSDT, CurrencyUSDC, CurrencyUSD:
		return nil
	default:
		return fmt.Errorf("invalid currency: %s", c)
	}
}

// IsValid checks if the currency is valid
func (c Currency) IsValid() bool {
	return c.Validate() == nil
}

// RequestStatus represents the lifecycle state of a settlement request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailed    RequestStatus = "failed"
)

// Validate checks if the status is valid
func (s RequestStatus) Validate() error {
	switch s {
	case RequestStatusPending, RequestStatusCompleted, RequestStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid request status: %s", s)
	}
}

// IsTerminal returns true once the request can no longer be settled
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// RequestKind distinguishes the two settlement queues
type RequestKind string

const (
	RequestKindWithdrawal RequestKind = "withdrawal"
	RequestKindPayout     RequestKind = "payout"
)

// Validate checks if the kind is valid
func (k RequestKind) Validate() error {
	switch k {
	case RequestKindWithdrawal, RequestKindPayout:
		return nil
	default:
		return fmt.Errorf("invalid request kind: %s", k)
	}
}

// SettlementRequest is a pending obligation to move value to a recipient.
// Withdrawals and payouts share this shape; UserID is set only on payouts
// attributable to an internal account.
type SettlementRequest struct {
	ID          int64           `json:"id" db:"id"`
	Kind        RequestKind     `json:"kind" db:"kind"`
	UserID      *int64          `json:"user_id,omitempty" db:"user_id"`
	Blockchain  Blockchain      `json:"blockchain" db:"blockchain"`
	Currency    Currency        `json:"currency" db:"currency"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Destination string          `json:"destination" db:"destination"`
	Status      RequestStatus   `json:"status" db:"status"`
	TxHash      *string         `json:"tx_hash,omitempty" db:"tx_hash"`
	FailReason  *string         `json:"fail_reason,omitempty" db:"fail_reason"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// HasRecipient reports whether the request carries a destination address
func (r *SettlementRequest) HasRecipient() bool {
	return r.Destination != ""
}

// IsPending reports whether the request is still eligible for settlement
func (r *SettlementRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// RequestFilter narrows admin listings
type RequestFilter struct {
	Status   *RequestStatus `json:"status,omitempty"`
	Currency *Currency      `json:"currency,omitempty"`
	Search   string         `json:"search,omitempty"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// Normalize clamps pagination to sane bounds
func (f *RequestFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// Balance is a user's internal holding in one currency
type Balance struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Currency  Currency        `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// IntentState tracks the lifecycle of a transfer intent
type IntentState string

const (
	IntentStateCreated   IntentState = "created"
	IntentStateSubmitted IntentState = "submitted"
	IntentStateConfirmed IntentState = "confirmed"
	IntentStateAbandoned IntentState = "abandoned"
)

// Validate checks if the intent state is valid
func (s IntentState) Validate() error {
	switch s {
	case IntentStateCreated, IntentStateSubmitted, IntentStateConfirmed, IntentStateAbandoned:
		return nil
	default:
		return fmt.Errorf("invalid intent state: %s", s)
	}
}

// TransferIntent is the durable claim recorded before any value leaves the
// hot wallet. At most one non-abandoned intent exists per request, which is
// what makes concurrent settlement attempts safe.
type TransferIntent struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Kind        RequestKind     `json:"kind" db:"kind"`
	RequestID   int64           `json:"request_id" db:"request_id"`
	Blockchain  Blockchain      `json:"blockchain" db:"blockchain"`
	Currency    Currency        `json:"currency" db:"currency"`
	Destination string          `json:"destination" db:"destination"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	State       IntentState     `json:"state" db:"state"`
	TxHash      *string         `json:"tx_hash,omitempty" db:"tx_hash"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ReserveCheck is the outcome of a hot wallet reserve check
type ReserveCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// TransferResult is the outcome of an on-chain transfer submission
type TransferResult struct {
	TxHash  string `json:"tx_hash"`
	Success bool   `json:"success"`
}
