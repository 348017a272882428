package chains

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/pkg/logger"
)

const (
	ethDecimals     = 18
	erc20Decimals   = 6 // USDT
	erc20TransferFn = "0xa9059cbb" // transfer(address,uint256)
)

// EthereumAdapter settles ETH and ERC-20 USDT transfers through a node that
// holds the hot wallet account (eth_sendTransaction)
type EthereumAdapter struct {
	client   *rpcClient
	cfg      config.ChainConfig
	currency entities.Currency
	logger   *logger.Logger
}

// NewEthereumAdapter creates an adapter for one Ethereum route (ETH or USDT)
func NewEthereumAdapter(cfg config.ChainConfig, currency entities.Currency, log *logger.Logger) (*EthereumAdapter, error) {
	if currency != entities.CurrencyETH && currency != entities.CurrencyUSDT {
		return nil, fmt.Errorf("unsupported ethereum currency: %s", currency)
	}
	if currency == entities.CurrencyUSDT && cfg.TokenContract == "" {
		return nil, fmt.Errorf("ethereum USDT route requires a token contract address")
	}
	return &EthereumAdapter{
		client:   newRPCClient("ethereum-"+string(currency), cfg),
		cfg:      cfg,
		currency: currency,
		logger:   log,
	}, nil
}

// Route returns ethereum plus the configured currency
func (a *EthereumAdapter) Route() (entities.Blockchain, entities.Currency) {
	return entities.BlockchainEthereum, a.currency
}

// AccountingCurrency is USDT for every Ethereum route
func (a *EthereumAdapter) AccountingCurrency() entities.Currency {
	return entities.CurrencyUSDT
}

// ChecksReserve is false: Ethereum hot wallets are replenished out of band
func (a *EthereumAdapter) ChecksReserve() bool {
	return false
}

// CheckReserve always allows; see ChecksReserve
func (a *EthereumAdapter) CheckReserve(ctx context.Context, amount decimal.Decimal) (*entities.ReserveCheck, error) {
	return &entities.ReserveCheck{Allowed: true}, nil
}

// Transfer submits an ETH or ERC-20 transfer from the hot wallet account
func (a *EthereumAdapter) Transfer(ctx context.Context, userID *int64, to string, amount decimal.Decimal) (*entities.TransferResult, error) {
	tx := map[string]interface{}{
		"from": a.cfg.HotWalletAddress,
	}

	if a.currency == entities.CurrencyETH {
		wei := amount.Shift(ethDecimals).Truncate(0)
		tx["to"] = to
		tx["value"] = hexBig(wei)
	} else {
		units := amount.Shift(erc20Decimals).Truncate(0)
		addrWord, err := padAddress(to)
		if err != nil {
			return nil, fmt.Errorf("ethereum transfer rejected: %w", err)
		}
		amountWord, err := padUint(units)
		if err != nil {
			return nil, fmt.Errorf("ethereum transfer rejected: %w", err)
		}
		tx["to"] = a.cfg.TokenContract
		tx["value"] = "0x0"
		tx["data"] = erc20TransferFn + addrWord + amountWord
	}

	var txHash string
	if err := a.client.call(ctx, "eth_sendTransaction", []interface{}{tx}, &txHash); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("ethereum transfer: %w", settlement.ErrOutcomeUnknown)
		}
		return nil, fmt.Errorf("ethereum transfer failed: %w", err)
	}

	return &entities.TransferResult{TxHash: txHash, Success: true}, nil
}

type ethTxReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
}

// LookupTransfer resolves an intent that recorded a transaction hash before
// the outcome was lost. Without a hash there is nothing to match against the
// chain without an index, so the intent stays unresolved for the operator.
func (a *EthereumAdapter) LookupTransfer(ctx context.Context, intent *entities.TransferIntent) (*entities.TransferResult, bool, error) {
	if intent.TxHash == nil || *intent.TxHash == "" {
		return nil, false, fmt.Errorf("ethereum lookup requires a transaction hash")
	}

	var receipt *ethTxReceipt
	if err := a.client.call(ctx, "eth_getTransactionReceipt", []interface{}{*intent.TxHash}, &receipt); err != nil {
		return nil, false, fmt.Errorf("ethereum receipt lookup failed: %w", err)
	}
	if receipt == nil {
		return nil, false, nil
	}

	return &entities.TransferResult{
		TxHash:  receipt.TransactionHash,
		Success: receipt.Status == "0x1",
	}, true, nil
}

// hexBig renders a decimal integer as an 0x-prefixed hex quantity
func hexBig(d decimal.Decimal) string {
	return "0x" + d.BigInt().Text(16)
}

// padAddress left-pads a hex address to a 32-byte ABI word. Destinations come
// from request rows, so over-long or empty input is rejected, never padded.
func padAddress(addr string) (string, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(addr), "0x")
	if len(trimmed) == 0 || len(trimmed) > 64 {
		return "", fmt.Errorf("invalid ethereum address %q", addr)
	}
	return strings.Repeat("0", 64-len(trimmed)) + trimmed, nil
}

// padUint left-pads an integer amount to a 32-byte ABI word
func padUint(d decimal.Decimal) (string, error) {
	if d.IsNegative() {
		return "", fmt.Errorf("amount %s is negative", d)
	}
	hex := d.BigInt().Text(16)
	if len(hex) > 64 {
		return "", fmt.Errorf("amount %s does not fit a uint256 word", d)
	}
	return strings.Repeat("0", 64-len(hex)) + hex, nil
}
