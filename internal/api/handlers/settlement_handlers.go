package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/domain/services/settlement"
	"github.com/payout-service/payout_service/internal/infrastructure/repositories"
	"github.com/payout-service/payout_service/pkg/logger"
)

// SettlementHandlers serves the admin settlement endpoints
type SettlementHandlers struct {
	orchestrator *settlement.Orchestrator
	withdrawals  *repositories.RequestRepository
	payouts      *repositories.RequestRepository
	balances     *repositories.BalanceRepository
	logger       *logger.Logger
}

// NewSettlementHandlers creates settlement handlers
func NewSettlementHandlers(orchestrator *settlement.Orchestrator, withdrawals, payouts *repositories.RequestRepository, balances *repositories.BalanceRepository, log *logger.Logger) *SettlementHandlers {
	return &SettlementHandlers{
		orchestrator: orchestrator,
		withdrawals:  withdrawals,
		payouts:      payouts,
		balances:     balances,
		logger:       log,
	}
}

type declineRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ProcessWithdrawal settles a pending withdrawal
// POST /api/v1/admin/withdrawals/:id/process
func (h *SettlementHandlers) ProcessWithdrawal(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.orchestrator.ProcessWithdraw(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ProcessPayout settles a pending payout
// POST /api/v1/admin/payouts/:id/process
func (h *SettlementHandlers) ProcessPayout(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.orchestrator.ProcessPayout(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// DeclineWithdrawal fails a pending withdrawal with a reason
// POST /api/v1/admin/withdrawals/:id/decline
func (h *SettlementHandlers) DeclineWithdrawal(c *gin.Context) {
	h.decline(c, h.orchestrator.DeclineWithdraw)
}

// DeclinePayout fails a pending payout with a reason
// POST /api/v1/admin/payouts/:id/decline
func (h *SettlementHandlers) DeclinePayout(c *gin.Context) {
	h.decline(c, h.orchestrator.DeclinePayout)
}

func (h *SettlementHandlers) decline(c *gin.Context, fn func(context.Context, int64, string) (*entities.SettlementRequest, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body declineRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "reason is required", nil)
		return
	}

	result, err := fn(c.Request.Context(), id, body.Reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetUserBalance returns one user's internal holding in one currency
// GET /api/v1/admin/users/:id/balances/:currency
func (h *SettlementHandlers) GetUserBalance(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	currency := entities.Currency(c.Param("currency"))
	if err := currency.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), nil)
		return
	}

	balance, err := h.balances.Get(c.Request.Context(), id, currency)
	if err != nil {
		h.logger.Error("balance lookup failed", "user_id", id, "currency", currency, "error", err)
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error", nil)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// GetWithdrawal returns one withdrawal request
// GET /api/v1/admin/withdrawals/:id
func (h *SettlementHandlers) GetWithdrawal(c *gin.Context) {
	h.getRequest(c, h.withdrawals)
}

// GetPayout returns one payout request
// GET /api/v1/admin/payouts/:id
func (h *SettlementHandlers) GetPayout(c *gin.Context) {
	h.getRequest(c, h.payouts)
}

// ListWithdrawals returns a filtered page of withdrawal requests
// GET /api/v1/admin/withdrawals?status=&currency=&search=&page=&page_size=
func (h *SettlementHandlers) ListWithdrawals(c *gin.Context) {
	h.listRequests(c, h.withdrawals)
}

// ListPayouts returns a filtered page of payout requests
// GET /api/v1/admin/payouts?status=&currency=&search=&page=&page_size=
func (h *SettlementHandlers) ListPayouts(c *gin.Context) {
	h.listRequests(c, h.payouts)
}

func (h *SettlementHandlers) getRequest(c *gin.Context, store *repositories.RequestRepository) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	req, err := store.GetByID(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

func (h *SettlementHandlers) listRequests(c *gin.Context, store *repositories.RequestRepository) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}

	rows, total, err := store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("request listing failed", "kind", store.Kind(), "error", err)
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error", nil)
		return
	}

	c.JSON(http.StatusOK, entities.PaginatedResponse{
		Data:     rows,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func parseFilter(c *gin.Context) (entities.RequestFilter, bool) {
	var filter entities.RequestFilter

	if raw := c.Query("status"); raw != "" {
		status := entities.RequestStatus(raw)
		if err := status.Validate(); err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), nil)
			return filter, false
		}
		filter.Status = &status
	}

	if raw := c.Query("currency"); raw != "" {
		currency := entities.Currency(raw)
		if err := currency.Validate(); err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), nil)
			return filter, false
		}
		filter.Currency = &currency
	}

	filter.Search = c.Query("search")
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	filter.Normalize()

	return filter, true
}
