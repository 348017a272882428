package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func testContext(t *testing.T, method, path, body string, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(method, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	return c, recorder
}

func TestDeclineWithdrawal_RequiresReason(t *testing.T) {
	h := &SettlementHandlers{}
	c, recorder := testContext(t, http.MethodPost, "/withdrawals/5/decline", `{}`,
		gin.Params{{Key: "id", Value: "5"}})

	h.DeclineWithdrawal(c)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), ErrCodeInvalidRequest)
}

func TestDeclineWithdrawal_RejectsInvalidID(t *testing.T) {
	h := &SettlementHandlers{}
	c, recorder := testContext(t, http.MethodPost, "/withdrawals/abc/decline", `{"reason":"x"}`,
		gin.Params{{Key: "id", Value: "abc"}})

	h.DeclineWithdrawal(c)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), ErrCodeInvalidID)
}

func TestGetUserBalance_RejectsInvalidCurrency(t *testing.T) {
	h := &SettlementHandlers{}
	c, recorder := testContext(t, http.MethodGet, "/users/42/balances/DOGE", "",
		gin.Params{{Key: "id", Value: "42"}, {Key: "currency", Value: "DOGE"}})

	h.GetUserBalance(c)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), ErrCodeInvalidRequest)
}

func TestGetUserBalance_RejectsInvalidID(t *testing.T) {
	h := &SettlementHandlers{}
	c, recorder := testContext(t, http.MethodGet, "/users/0/balances/USDT", "",
		gin.Params{{Key: "id", Value: "0"}, {Key: "currency", Value: "USDT"}})

	h.GetUserBalance(c)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), ErrCodeInvalidID)
}
