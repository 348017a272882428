package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
	"github.com/payout-service/payout_service/internal/infrastructure/repositories"
	"github.com/payout-service/payout_service/pkg/logger"
)

type MockRequestStore struct {
	mock.Mock
	kind entities.RequestKind
}

func (m *MockRequestStore) Kind() entities.RequestKind {
	return m.kind
}

func (m *MockRequestStore) GetByID(ctx context.Context, id int64) (*entities.SettlementRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementRequest), args.Error(1)
}

func (m *MockRequestStore) MarkCompleted(ctx context.Context, id int64, txHash string) (*entities.SettlementRequest, error) {
	args := m.Called(ctx, id, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementRequest), args.Error(1)
}

func (m *MockRequestStore) MarkFailed(ctx context.Context, id int64, reason string) (*entities.SettlementRequest, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SettlementRequest), args.Error(1)
}

func (m *MockRequestStore) CompleteWithCredit(ctx context.Context, id, userID int64, currency entities.Currency, amount decimal.Decimal) (*entities.SettlementRequest, *entities.Balance, error) {
	args := m.Called(ctx, id, userID, currency, amount)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*entities.SettlementRequest), args.Get(1).(*entities.Balance), args.Error(2)
}

type MockIntentStore struct {
	mock.Mock
}

func (m *MockIntentStore) Claim(ctx context.Context, kind entities.RequestKind, requestID int64, blockchain entities.Blockchain, currency entities.Currency, destination string, amount decimal.Decimal) (*entities.TransferIntent, error) {
	args := m.Called(ctx, kind, requestID, blockchain, currency, destination, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TransferIntent), args.Error(1)
}

func (m *MockIntentStore) GetActive(ctx context.Context, kind entities.RequestKind, requestID int64) (*entities.TransferIntent, error) {
	args := m.Called(ctx, kind, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TransferIntent), args.Error(1)
}

func (m *MockIntentStore) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockIntentStore) MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string) error {
	return m.Called(ctx, id, txHash).Error(0)
}

func (m *MockIntentStore) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockConverter struct {
	mock.Mock
}

func (m *MockConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to entities.Currency) (decimal.Decimal, error) {
	args := m.Called(ctx, amount, from, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockAdapter struct {
	mock.Mock
	blockchain entities.Blockchain
	currency   entities.Currency
	accounting entities.Currency
	reserves   bool
}

func (m *MockAdapter) Route() (entities.Blockchain, entities.Currency) {
	return m.blockchain, m.currency
}

func (m *MockAdapter) AccountingCurrency() entities.Currency {
	return m.accounting
}

func (m *MockAdapter) ChecksReserve() bool {
	return m.reserves
}

func (m *MockAdapter) CheckReserve(ctx context.Context, amount decimal.Decimal) (*entities.ReserveCheck, error) {
	args := m.Called(ctx, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReserveCheck), args.Error(1)
}

func (m *MockAdapter) Transfer(ctx context.Context, userID *int64, to string, amount decimal.Decimal) (*entities.TransferResult, error) {
	args := m.Called(ctx, userID, to, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TransferResult), args.Error(1)
}

func (m *MockAdapter) LookupTransfer(ctx context.Context, intent *entities.TransferIntent) (*entities.TransferResult, bool, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*entities.TransferResult), args.Bool(1), args.Error(2)
}

func testLogger() *logger.Logger {
	return logger.New("error", "test")
}

func pendingWithdrawal(id int64, blockchain entities.Blockchain, currency entities.Currency, amount string) *entities.SettlementRequest {
	return &entities.SettlementRequest{
		ID:          id,
		Kind:        entities.RequestKindWithdrawal,
		Blockchain:  blockchain,
		Currency:    currency,
		Amount:      decimal.RequireFromString(amount),
		Destination: "addr-dest-1",
		Status:      entities.RequestStatusPending,
	}
}

func newIntent(kind entities.RequestKind, requestID int64) *entities.TransferIntent {
	return &entities.TransferIntent{
		ID:        uuid.New(),
		Kind:      kind,
		RequestID: requestID,
		State:     entities.IntentStateCreated,
	}
}

func newTestOrchestrator(t *testing.T, withdrawals, payouts *MockRequestStore, intents *MockIntentStore, converter *MockConverter, adapters ...Adapter) *Orchestrator {
	t.Helper()
	registry, err := NewRegistry(adapters...)
	require.NoError(t, err)
	return NewOrchestrator(withdrawals, payouts, intents, registry, converter, Config{}, testLogger())
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	de, ok := domainerrors.GetDomainError(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	return de.Code
}

func TestProcessWithdraw_SolanaUSDCSuccess(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}
	adapter := &MockAdapter{
		blockchain: entities.BlockchainSolana,
		currency:   entities.CurrencyUSDC,
		accounting: entities.CurrencyUSD,
		reserves:   true,
	}

	req := pendingWithdrawal(11, entities.BlockchainSolana, entities.CurrencyUSDC, "100")
	converted := decimal.RequireFromString("99.85")
	intent := newIntent(entities.RequestKindWithdrawal, 11)

	withdrawals.On("GetByID", mock.Anything, int64(11)).Return(req, nil)
	converter.On("Convert", mock.Anything, req.Amount, entities.CurrencyUSD, entities.CurrencyUSDC).Return(converted, nil)
	adapter.On("CheckReserve", mock.Anything, converted).Return(&entities.ReserveCheck{Allowed: true}, nil)
	intents.On("Claim", mock.Anything, entities.RequestKindWithdrawal, int64(11), entities.BlockchainSolana, entities.CurrencyUSDC, "addr-dest-1", converted).Return(intent, nil)
	intents.On("MarkSubmitted", mock.Anything, intent.ID).Return(nil)
	adapter.On("Transfer", mock.Anything, (*int64)(nil), "addr-dest-1", converted).
		Return(&entities.TransferResult{TxHash: "sig123", Success: true}, nil)
	intents.On("MarkConfirmed", mock.Anything, intent.ID, "sig123").Return(nil)

	completed := *req
	completed.Status = entities.RequestStatusCompleted
	txHash := "sig123"
	completed.TxHash = &txHash
	withdrawals.On("MarkCompleted", mock.Anything, int64(11), "sig123").Return(&completed, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
	result, err := o.ProcessWithdraw(context.Background(), 11)

	require.NoError(t, err)
	assert.Equal(t, entities.RequestStatusCompleted, result.Status)
	assert.Equal(t, "sig123", *result.TxHash)
	withdrawals.AssertExpectations(t)
	intents.AssertExpectations(t)
	adapter.AssertExpectations(t)
}

func TestProcessWithdraw_ReserveRefusedLeavesRequestPending(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}
	adapter := &MockAdapter{
		blockchain: entities.BlockchainSolana,
		currency:   entities.CurrencySOL,
		accounting: entities.CurrencyUSD,
		reserves:   true,
	}

	req := pendingWithdrawal(5, entities.BlockchainSolana, entities.CurrencySOL, "250")
	converted := decimal.RequireFromString("1.5")

	withdrawals.On("GetByID", mock.Anything, int64(5)).Return(req, nil)
	converter.On("Convert", mock.Anything, req.Amount, entities.CurrencyUSD, entities.CurrencySOL).Return(converted, nil)
	adapter.On("CheckReserve", mock.Anything, converted).
		Return(&entities.ReserveCheck{Allowed: false, Reason: "insufficient hot wallet balance"}, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
	_, err := o.ProcessWithdraw(context.Background(), 5)

	assert.Equal(t, domainerrors.CodeReserveInsufficient, errCode(t, err))
	de, _ := domainerrors.GetDomainError(err)
	assert.True(t, de.IsRetryable())
	assert.Contains(t, de.Message, "insufficient hot wallet balance")
	// No claim, no transfer
	intents.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	adapter.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessPayout_UserPayoutCreditsLedgerOnce(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	userID := int64(42)
	amount := decimal.RequireFromString("10")
	req := &entities.SettlementRequest{
		ID:          7,
		Kind:        entities.RequestKindPayout,
		UserID:      &userID,
		Blockchain:  entities.BlockchainTron,
		Currency:    entities.CurrencyUSDT,
		Amount:      amount,
		Destination: "TAddr9",
		Status:      entities.RequestStatusPending,
	}
	completed := *req
	completed.Status = entities.RequestStatusCompleted
	balance := &entities.Balance{UserID: 42, Currency: entities.CurrencyUSDT, Amount: amount}

	payouts.On("GetByID", mock.Anything, int64(7)).Return(req, nil)
	payouts.On("CompleteWithCredit", mock.Anything, int64(7), int64(42), entities.CurrencyUSDT, amount).
		Return(&completed, balance, nil).Once()

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter)
	result, err := o.ProcessPayout(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, entities.RequestStatusCompleted, result.Status)
	payouts.AssertExpectations(t)
	// Ledger path never prices or touches a chain
	converter.AssertNotCalled(t, "Convert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	intents.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessPayout_CompletedRequestIsRejected(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	req := &entities.SettlementRequest{
		ID:          7,
		Kind:        entities.RequestKindPayout,
		Currency:    entities.CurrencyUSDT,
		Blockchain:  entities.BlockchainTron,
		Amount:      decimal.RequireFromString("10"),
		Destination: "TAddr9",
		Status:      entities.RequestStatusCompleted,
	}
	payouts.On("GetByID", mock.Anything, int64(7)).Return(req, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter)
	_, err := o.ProcessPayout(context.Background(), 7)

	assert.Equal(t, domainerrors.CodeAlreadyProcessed, errCode(t, err))
	payouts.AssertNotCalled(t, "CompleteWithCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	intents.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWithdraw_MissingRecipient(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	req := pendingWithdrawal(3, entities.BlockchainTron, entities.CurrencyTRX, "50")
	req.Destination = ""
	withdrawals.On("GetByID", mock.Anything, int64(3)).Return(req, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter)
	_, err := o.ProcessWithdraw(context.Background(), 3)

	assert.Equal(t, domainerrors.CodeMissingRecipient, errCode(t, err))
}

func TestProcessWithdraw_UnsupportedRoute(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	// Registry only knows Tron/TRX
	adapter := &MockAdapter{
		blockchain: entities.BlockchainTron,
		currency:   entities.CurrencyTRX,
		accounting: entities.CurrencyUSDT,
	}

	req := pendingWithdrawal(9, entities.BlockchainEthereum, entities.CurrencyETH, "1")
	withdrawals.On("GetByID", mock.Anything, int64(9)).Return(req, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
	_, err := o.ProcessWithdraw(context.Background(), 9)

	assert.Equal(t, domainerrors.CodeUnsupportedRoute, errCode(t, err))
}

func TestProcessWithdraw_ConversionFailureAbortsBeforeClaim(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}
	adapter := &MockAdapter{
		blockchain: entities.BlockchainTron,
		currency:   entities.CurrencyTRX,
		accounting: entities.CurrencyUSDT,
	}

	req := pendingWithdrawal(4, entities.BlockchainTron, entities.CurrencyTRX, "75")
	withdrawals.On("GetByID", mock.Anything, int64(4)).Return(req, nil)
	converter.On("Convert", mock.Anything, req.Amount, entities.CurrencyUSDT, entities.CurrencyTRX).
		Return(decimal.Zero, domainerrors.ConversionUnavailableError("USDT", "TRX", errors.New("feed down")))

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
	_, err := o.ProcessWithdraw(context.Background(), 4)

	assert.Equal(t, domainerrors.CodeConversionUnavailable, errCode(t, err))
	intents.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWithdraw_TransferRejectionReleasesClaim(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}
	adapter := &MockAdapter{
		blockchain: entities.BlockchainTron,
		currency:   entities.CurrencyUSDT,
		accounting: entities.CurrencyUSDT,
	}

	req := pendingWithdrawal(6, entities.BlockchainTron, entities.CurrencyUSDT, "20")
	intent := newIntent(entities.RequestKindWithdrawal, 6)

	withdrawals.On("GetByID", mock.Anything, int64(6)).Return(req, nil)
	// Same-denomination route still goes through the converter, which
	// passes the amount through untouched
	converter.On("Convert", mock.Anything, req.Amount, entities.CurrencyUSDT, entities.CurrencyUSDT).Return(req.Amount, nil)
	intents.On("Claim", mock.Anything, entities.RequestKindWithdrawal, int64(6), entities.BlockchainTron, entities.CurrencyUSDT, "addr-dest-1", req.Amount).Return(intent, nil)
	intents.On("MarkSubmitted", mock.Anything, intent.ID).Return(nil)
	adapter.On("Transfer", mock.Anything, (*int64)(nil), "addr-dest-1", req.Amount).
		Return(nil, errors.New("bandwidth exhausted"))
	intents.On("MarkAbandoned", mock.Anything, intent.ID).Return(nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
	_, err := o.ProcessWithdraw(context.Background(), 6)

	assert.Equal(t, domainerrors.CodeTransferFailed, errCode(t, err))
	de, _ := domainerrors.GetDomainError(err)
	assert.True(t, de.IsRetryable())
	intents.AssertExpectations(t)
	withdrawals.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWithdraw_AmbiguousOutcomeKeepsClaim(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}
	adapter := &MockAdapter{
		blockchain: entities.BlockchainEthereum,
		currency:   entities.CurrencyUSDT,
		accounting: entities.CurrencyUSDT,
	}

	req := pendingWithdrawal(8, entities.BlockchainEthereum, entities.CurrencyUSDT, "500")
	intent := newIntent(entities.RequestKindWithdrawal, 8)

	withdrawals.On("GetByID", mock.Anything, int64(8)).Return(req, nil)
	converter.On("Convert", mock.Anything, req.Amount, entities.CurrencyUSDT, entities.CurrencyUSDT).Return(req.Amount, nil)
	intents.On("Claim", mock.Anything, entities.RequestKindWithdrawal, int64(8), entities.BlockchainEthereum, entities.CurrencyUSDT, "addr-dest-1", req.Amount).Return(intent, nil)
	intents.On("MarkSubmitted", mock.Anything, intent.ID).Return(nil)
	adapter.On("Transfer", mock.Anything, (*int64)(nil), "addr-dest-1", req.Amount).
		Return(nil, fmt.Errorf("eth transfer: %w", ErrOutcomeUnknown))

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
	_, err := o.ProcessWithdraw(context.Background(), 8)

	assert.Equal(t, domainerrors.CodeTransferAmbiguous, errCode(t, err))
	// The claim must survive so nothing resubmits before reconciliation
	intents.AssertNotCalled(t, "MarkAbandoned", mock.Anything, mock.Anything)
	withdrawals.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWithdraw_LostClaimRace(t *testing.T) {
	tests := []struct {
		name     string
		active   *entities.TransferIntent
		wantCode string
	}{
		{
			name:     "another processor mid flight",
			active:   &entities.TransferIntent{ID: uuid.New(), State: entities.IntentStateCreated},
			wantCode: domainerrors.CodeAlreadyProcessed,
		},
		{
			name:     "transfer already submitted",
			active:   &entities.TransferIntent{ID: uuid.New(), State: entities.IntentStateSubmitted},
			wantCode: domainerrors.CodeTransferAmbiguous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
			payouts := &MockRequestStore{kind: entities.RequestKindPayout}
			intents := &MockIntentStore{}
			converter := &MockConverter{}
			adapter := &MockAdapter{
				blockchain: entities.BlockchainTron,
				currency:   entities.CurrencyUSDT,
				accounting: entities.CurrencyUSDT,
			}

			req := pendingWithdrawal(12, entities.BlockchainTron, entities.CurrencyUSDT, "30")
			withdrawals.On("GetByID", mock.Anything, int64(12)).Return(req, nil)
			converter.On("Convert", mock.Anything, req.Amount, entities.CurrencyUSDT, entities.CurrencyUSDT).Return(req.Amount, nil)
			intents.On("Claim", mock.Anything, entities.RequestKindWithdrawal, int64(12), entities.BlockchainTron, entities.CurrencyUSDT, "addr-dest-1", req.Amount).
				Return(nil, repositories.ErrIntentExists)
			intents.On("GetActive", mock.Anything, entities.RequestKindWithdrawal, int64(12)).Return(tt.active, nil)

			o := newTestOrchestrator(t, withdrawals, payouts, intents, converter, adapter)
			_, err := o.ProcessWithdraw(context.Background(), 12)

			assert.Equal(t, tt.wantCode, errCode(t, err))
			adapter.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDeclineWithdraw_MarksFailed(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	req := pendingWithdrawal(15, entities.BlockchainTron, entities.CurrencyTRX, "60")
	failed := *req
	failed.Status = entities.RequestStatusFailed
	reason := "destination flagged by compliance"
	failed.FailReason = &reason

	withdrawals.On("GetByID", mock.Anything, int64(15)).Return(req, nil)
	intents.On("GetActive", mock.Anything, entities.RequestKindWithdrawal, int64(15)).Return(nil, nil)
	withdrawals.On("MarkFailed", mock.Anything, int64(15), reason).Return(&failed, nil).Once()

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter)
	result, err := o.DeclineWithdraw(context.Background(), 15, reason)

	require.NoError(t, err)
	assert.Equal(t, entities.RequestStatusFailed, result.Status)
	assert.Equal(t, reason, *result.FailReason)
	withdrawals.AssertExpectations(t)
}

func TestDeclineWithdraw_BlockedBySubmittedIntent(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	req := pendingWithdrawal(16, entities.BlockchainTron, entities.CurrencyTRX, "60")
	withdrawals.On("GetByID", mock.Anything, int64(16)).Return(req, nil)
	intents.On("GetActive", mock.Anything, entities.RequestKindWithdrawal, int64(16)).
		Return(&entities.TransferIntent{ID: uuid.New(), State: entities.IntentStateSubmitted}, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter)
	_, err := o.DeclineWithdraw(context.Background(), 16, "operator decision")

	// A transfer may already have left the process for this request
	assert.Equal(t, domainerrors.CodeTransferAmbiguous, errCode(t, err))
	withdrawals.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeclinePayout_CompletedRequestIsRejected(t *testing.T) {
	withdrawals := &MockRequestStore{kind: entities.RequestKindWithdrawal}
	payouts := &MockRequestStore{kind: entities.RequestKindPayout}
	intents := &MockIntentStore{}
	converter := &MockConverter{}

	req := pendingWithdrawal(17, entities.BlockchainTron, entities.CurrencyUSDT, "10")
	req.Kind = entities.RequestKindPayout
	req.Status = entities.RequestStatusCompleted
	payouts.On("GetByID", mock.Anything, int64(17)).Return(req, nil)

	o := newTestOrchestrator(t, withdrawals, payouts, intents, converter)
	_, err := o.DeclinePayout(context.Background(), 17, "operator decision")

	assert.Equal(t, domainerrors.CodeAlreadyProcessed, errCode(t, err))
	payouts.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

// fakeIntentStore enforces the one-live-claim rule like the database index
type fakeIntentStore struct {
	mu     sync.Mutex
	claims map[string]*entities.TransferIntent
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{claims: make(map[string]*entities.TransferIntent)}
}

func (f *fakeIntentStore) key(kind entities.RequestKind, requestID int64) string {
	return fmt.Sprintf("%s:%d", kind, requestID)
}

func (f *fakeIntentStore) Claim(ctx context.Context, kind entities.RequestKind, requestID int64, blockchain entities.Blockchain, currency entities.Currency, destination string, amount decimal.Decimal) (*entities.TransferIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.key(kind, requestID)
	if existing, ok := f.claims[key]; ok && existing.State != entities.IntentStateAbandoned {
		return nil, repositories.ErrIntentExists
	}
	intent := &entities.TransferIntent{
		ID:        uuid.New(),
		Kind:      kind,
		RequestID: requestID,
		State:     entities.IntentStateCreated,
	}
	f.claims[key] = intent
	return intent, nil
}

func (f *fakeIntentStore) GetActive(ctx context.Context, kind entities.RequestKind, requestID int64) (*entities.TransferIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.claims[f.key(kind, requestID)]; ok && intent.State != entities.IntentStateAbandoned {
		return intent, nil
	}
	return nil, nil
}

func (f *fakeIntentStore) setState(id uuid.UUID, state entities.IntentState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, intent := range f.claims {
		if intent.ID == id {
			intent.State = state
			return nil
		}
	}
	return fmt.Errorf("intent %s not found", id)
}

func (f *fakeIntentStore) MarkSubmitted(ctx context.Context, id uuid.UUID) error {
	return f.setState(id, entities.IntentStateSubmitted)
}

func (f *fakeIntentStore) MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string) error {
	return f.setState(id, entities.IntentStateConfirmed)
}

func (f *fakeIntentStore) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	return f.setState(id, entities.IntentStateAbandoned)
}

// fakeRequestStore applies the pending-status CAS under a mutex
type fakeRequestStore struct {
	mu  sync.Mutex
	req *entities.SettlementRequest
}

func (f *fakeRequestStore) Kind() entities.RequestKind { return entities.RequestKindWithdrawal }

func (f *fakeRequestStore) GetByID(ctx context.Context, id int64) (*entities.SettlementRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.req
	return &copied, nil
}

func (f *fakeRequestStore) MarkCompleted(ctx context.Context, id int64, txHash string) (*entities.SettlementRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.req.Status != entities.RequestStatusPending {
		return nil, domainerrors.AlreadyProcessedError(id, string(f.req.Status))
	}
	f.req.Status = entities.RequestStatusCompleted
	f.req.TxHash = &txHash
	copied := *f.req
	return &copied, nil
}

func (f *fakeRequestStore) MarkFailed(ctx context.Context, id int64, reason string) (*entities.SettlementRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.req.Status != entities.RequestStatusPending {
		return nil, domainerrors.AlreadyProcessedError(id, string(f.req.Status))
	}
	f.req.Status = entities.RequestStatusFailed
	copied := *f.req
	return &copied, nil
}

func (f *fakeRequestStore) CompleteWithCredit(ctx context.Context, id, userID int64, currency entities.Currency, amount decimal.Decimal) (*entities.SettlementRequest, *entities.Balance, error) {
	return nil, nil, fmt.Errorf("not used")
}

// countingAdapter counts transfer submissions
type countingAdapter struct {
	mu        sync.Mutex
	transfers int
}

func (a *countingAdapter) Route() (entities.Blockchain, entities.Currency) {
	return entities.BlockchainTron, entities.CurrencyUSDT
}
func (a *countingAdapter) AccountingCurrency() entities.Currency { return entities.CurrencyUSDT }
func (a *countingAdapter) ChecksReserve() bool                   { return false }
func (a *countingAdapter) CheckReserve(ctx context.Context, amount decimal.Decimal) (*entities.ReserveCheck, error) {
	return &entities.ReserveCheck{Allowed: true}, nil
}
func (a *countingAdapter) Transfer(ctx context.Context, userID *int64, to string, amount decimal.Decimal) (*entities.TransferResult, error) {
	a.mu.Lock()
	a.transfers++
	a.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return &entities.TransferResult{TxHash: "tx-once", Success: true}, nil
}
func (a *countingAdapter) LookupTransfer(ctx context.Context, intent *entities.TransferIntent) (*entities.TransferResult, bool, error) {
	return nil, false, nil
}

type passthroughConverter struct{}

func (passthroughConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to entities.Currency) (decimal.Decimal, error) {
	return amount, nil
}

func TestProcessWithdraw_ConcurrentCallersSubmitOnce(t *testing.T) {
	store := &fakeRequestStore{req: pendingWithdrawal(77, entities.BlockchainTron, entities.CurrencyUSDT, "40")}
	intents := newFakeIntentStore()
	adapter := &countingAdapter{}

	registry, err := NewRegistry(adapter)
	require.NoError(t, err)
	o := NewOrchestrator(store, store, intents, registry, passthroughConverter{}, Config{}, testLogger())

	const callers = 8
	var wg sync.WaitGroup
	successes := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.ProcessWithdraw(context.Background(), 77); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	assert.Equal(t, 1, adapter.transfers, "exactly one transfer must reach the chain")
	assert.Equal(t, 1, len(successes), "exactly one caller wins")
	assert.Equal(t, entities.RequestStatusCompleted, store.req.Status)
}
