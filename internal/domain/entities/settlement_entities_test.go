package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockchainValidate(t *testing.T) {
	assert.NoError(t, BlockchainTron.Validate())
	assert.NoError(t, BlockchainEthereum.Validate())
	assert.NoError(t, BlockchainSolana.Validate())
	assert.Error(t, Blockchain("bitcoin").Validate())
}

func TestCurrencyValidate(t *testing.T) {
	for _, c := range []Currency{CurrencyTRX, CurrencyETH, CurrencySOL, CurrencyUSDT, CurrencyUSDC, CurrencyUSD} {
		assert.NoError(t, c.Validate())
	}
	assert.Error(t, Currency("DOGE").Validate())
}

func TestRequestStatusIsTerminal(t *testing.T) {
	assert.False(t, RequestStatusPending.IsTerminal())
	assert.True(t, RequestStatusCompleted.IsTerminal())
	assert.True(t, RequestStatusFailed.IsTerminal())
}

func TestRequestFilterNormalize(t *testing.T) {
	tests := []struct {
		name         string
		page, size   int
		wantPage     int
		wantPageSize int
	}{
		{"defaults", 0, 0, 1, 20},
		{"negative page", -3, 50, 1, 50},
		{"oversized page size", 2, 500, 2, 20},
		{"in range untouched", 4, 25, 4, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := RequestFilter{Page: tt.page, PageSize: tt.size}
			f.Normalize()
			assert.Equal(t, tt.wantPage, f.Page)
			assert.Equal(t, tt.wantPageSize, f.PageSize)
		})
	}
}

func TestSettlementRequestHelpers(t *testing.T) {
	req := SettlementRequest{Status: RequestStatusPending, Destination: "addr"}
	assert.True(t, req.IsPending())
	assert.True(t, req.HasRecipient())

	req.Status = RequestStatusCompleted
	req.Destination = ""
	assert.False(t, req.IsPending())
	assert.False(t, req.HasRecipient())
}
