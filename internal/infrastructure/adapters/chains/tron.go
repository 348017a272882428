package chains

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/pkg/logger"
)

// TRX and TRC-20 USDT both carry 6 decimal places
const tronDecimals = 6

// TronAdapter settles TRX and TRC-20 USDT transfers through a Tron full node
type TronAdapter struct {
	client   *rpcClient
	cfg      config.ChainConfig
	currency entities.Currency
	logger   *logger.Logger
}

// NewTronAdapter creates an adapter for one Tron route (TRX or USDT)
func NewTronAdapter(cfg config.ChainConfig, currency entities.Currency, log *logger.Logger) (*TronAdapter, error) {
	if currency != entities.CurrencyTRX && currency != entities.CurrencyUSDT {
		return nil, fmt.Errorf("unsupported tron currency: %s", currency)
	}
	if currency == entities.CurrencyUSDT && cfg.TokenContract == "" {
		return nil, fmt.Errorf("tron USDT route requires a token contract address")
	}
	return &TronAdapter{
		client:   newRPCClient("tron-"+string(currency), cfg),
		cfg:      cfg,
		currency: currency,
		logger:   log,
	}, nil
}

// Route returns tron plus the configured currency
func (a *TronAdapter) Route() (entities.Blockchain, entities.Currency) {
	return entities.BlockchainTron, a.currency
}

// AccountingCurrency is USDT for every Tron route: requests arrive priced in
// USDT and TRX payouts are converted at settlement time.
func (a *TronAdapter) AccountingCurrency() entities.Currency {
	return entities.CurrencyUSDT
}

// ChecksReserve is false: Tron hot wallets are kept topped up out of band and
// a short transfer simply fails at the node.
func (a *TronAdapter) ChecksReserve() bool {
	return false
}

// CheckReserve always allows; see ChecksReserve
func (a *TronAdapter) CheckReserve(ctx context.Context, amount decimal.Decimal) (*entities.ReserveCheck, error) {
	return &entities.ReserveCheck{Allowed: true}, nil
}

type tronTransferResponse struct {
	Result bool   `json:"result"`
	TxID   string `json:"txid"`
	Code   string `json:"code"`
	Msg    string `json:"message"`
}

// Transfer submits a TRX or TRC-20 transfer signed with the hot wallet key
func (a *TronAdapter) Transfer(ctx context.Context, userID *int64, to string, amount decimal.Decimal) (*entities.TransferResult, error) {
	sun := amount.Shift(tronDecimals).Truncate(0)

	var path string
	body := map[string]interface{}{
		"privateKey": a.cfg.HotWalletKey,
		"toAddress":  to,
		"amount":     sun.IntPart(),
	}
	if a.currency == entities.CurrencyTRX {
		path = "/wallet/easytransferbyprivate"
	} else {
		path = "/wallet/easytransferassetbyprivate"
		body["assetId"] = a.cfg.TokenContract
	}

	var resp tronTransferResponse
	if err := a.client.post(ctx, path, body, &resp); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("tron transfer: %w", settlement.ErrOutcomeUnknown)
		}
		return nil, fmt.Errorf("tron transfer failed: %w", err)
	}

	if !resp.Result {
		return &entities.TransferResult{Success: false}, fmt.Errorf("tron node rejected transfer: %s %s", resp.Code, resp.Msg)
	}

	return &entities.TransferResult{TxHash: resp.TxID, Success: true}, nil
}

type tronAccountTx struct {
	TxID     string `json:"txID"`
	ToAddr   string `json:"to_address"`
	Amount   int64  `json:"amount"`
	Contract string `json:"contract_address"`
}

type tronTxListResponse struct {
	Data []tronAccountTx `json:"data"`
}

// LookupTransfer scans recent outgoing hot wallet transactions for one
// matching the intent's destination and amount
func (a *TronAdapter) LookupTransfer(ctx context.Context, intent *entities.TransferIntent) (*entities.TransferResult, bool, error) {
	body := map[string]interface{}{
		"address":         a.cfg.HotWalletAddress,
		"only_from":       true,
		"limit":           50,
		"min_timestamp":   intent.CreatedAt.UnixMilli(),
		"order_by":        "block_timestamp,desc",
		"search_internal": false,
	}

	var resp tronTxListResponse
	if err := a.client.post(ctx, "/v1/accounts/transactions", body, &resp); err != nil {
		return nil, false, fmt.Errorf("tron transaction lookup failed: %w", err)
	}

	wantAmount := intent.Amount.Shift(tronDecimals).Truncate(0).IntPart()
	for _, tx := range resp.Data {
		if tx.ToAddr == intent.Destination && tx.Amount == wantAmount {
			return &entities.TransferResult{TxHash: tx.TxID, Success: true}, true, nil
		}
	}
	return nil, false, nil
}
