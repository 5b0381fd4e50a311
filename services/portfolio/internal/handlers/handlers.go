package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AfshinJalili/kryptbroker/libs/auth"
	"github.com/AfshinJalili/kryptbroker/libs/httpmiddleware"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/service"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerService interface {
	GetBalances(ctx context.Context, accountID uuid.UUID) (ledger.Balances, error)
	Convert(ctx context.Context, in service.ConvertInput) (*service.ConvertResult, error)
	Transfer(ctx context.Context, in service.TransferInput) (*service.TransferResult, error)
}

type StrategyService interface {
	CreateStrategy(ctx context.Context, authorID uuid.UUID, allocations []service.AllocationInput) (*storage.Strategy, error)
	GetStrategy(ctx context.Context, code string) (*storage.Strategy, error)
	ExecuteStrategy(ctx context.Context, accountID uuid.UUID, code string) (*service.ExecuteResult, error)
}

type Handler struct {
	Ledger     LedgerService
	Strategies StrategyService
	Logger     *slog.Logger
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

type convertRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount json.RawMessage `json:"amount"`
}

type transferRequest struct {
	Symbol string          `json:"symbol"`
	Amount json.RawMessage `json:"amount"`
	To     string          `json:"to"`
}

type allocationItem struct {
	Symbol string          `json:"symbol"`
	Amount json.RawMessage `json:"amount"`
}

type createStrategyRequest struct {
	Allocations []allocationItem `json:"allocations"`
}

type executeStrategyRequest struct {
	Code string `json:"code"`
}

type portfolioResponse struct {
	Portfolio map[string]string `json:"portfolio"`
}

type convertResponse struct {
	Message   string            `json:"message"`
	ToAmount  string            `json:"toAmount"`
	Portfolio map[string]string `json:"portfolio"`
}

type transferResponse struct {
	Message   string            `json:"message"`
	Portfolio map[string]string `json:"portfolio"`
}

type createStrategyResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type allocationResponse struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type strategyResponse struct {
	Code          string               `json:"code"`
	Allocations   []allocationResponse `json:"allocations"`
	TotalRequired string               `json:"totalRequired"`
}

type legResponse struct {
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	Received string `json:"received"`
}

type executeResponse struct {
	Message   string            `json:"message"`
	Legs      []legResponse     `json:"legs"`
	Portfolio map[string]string `json:"portfolio"`
}

func New(ledgerSvc LedgerService, strategies StrategyService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Ledger: ledgerSvc, Strategies: strategies, Logger: logger}
}

func (h *Handler) Register(r gin.IRouter, jwtSecret []byte) {
	api := r.Group("/api", auth.Middleware(jwtSecret))

	trade := api.Group("/trade")
	trade.GET("/portfolio", h.GetPortfolio)
	trade.POST("/convert", h.Convert)
	trade.POST("/transfer", h.Transfer)

	copyTrade := api.Group("/copy")
	copyTrade.POST("/create", h.CreateStrategy)
	copyTrade.GET("/strategy", h.GetStrategy)
	copyTrade.POST("/execute", h.ExecuteStrategy)
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}

	balances, err := h.Ledger.GetBalances(c.Request.Context(), accountID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, portfolioResponse{Portfolio: balances.Strings()})
}

func (h *Handler) Convert(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}

	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "from and to are required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	res, err := h.Ledger.Convert(requestContext(c), service.ConvertInput{
		AccountID: accountID,
		From:      req.From,
		To:        req.To,
		Amount:    amount,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	q := res.Conversion
	c.JSON(http.StatusOK, convertResponse{
		Message:   fmt.Sprintf("Converted %s %s to %s %s", q.FromAmount.String(), q.From, q.ToAmount.String(), q.To),
		ToAmount:  q.ToAmount.String(),
		Portfolio: res.Balances.Strings(),
	})
}

func (h *Handler) Transfer(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || strings.TrimSpace(req.To) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbol and to are required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	res, err := h.Ledger.Transfer(requestContext(c), service.TransferInput{
		SenderID:     accountID,
		RecipientKey: req.To,
		Symbol:       req.Symbol,
		Amount:       amount,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, transferResponse{
		Message:   fmt.Sprintf("Transferred %s %s to %s", res.Amount.String(), res.Symbol, strings.TrimSpace(req.To)),
		Portfolio: res.Balances.Strings(),
	})
}

func (h *Handler) CreateStrategy(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}

	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	allocations := make([]service.AllocationInput, 0, len(req.Allocations))
	for i, item := range req.Allocations {
		amount, err := parseAmount(item.Amount)
		if err != nil {
			h.writeServiceError(c, fmt.Errorf("allocation %d: %w", i, err))
			return
		}
		allocations = append(allocations, service.AllocationInput{Symbol: item.Symbol, Amount: amount})
	}

	strategy, err := h.Strategies.CreateStrategy(requestContext(c), accountID, allocations)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createStrategyResponse{Message: "Strategy created", Code: strategy.Code})
}

func (h *Handler) GetStrategy(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "code is required")
		return
	}

	strategy, err := h.Strategies.GetStrategy(c.Request.Context(), code)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	allocations := make([]allocationResponse, len(strategy.Allocations))
	for i, a := range strategy.Allocations {
		allocations[i] = allocationResponse{Symbol: a.Symbol.String(), Amount: a.Amount.String()}
	}
	c.JSON(http.StatusOK, strategyResponse{
		Code:          strategy.Code,
		Allocations:   allocations,
		TotalRequired: strategy.TotalRequired().String(),
	})
}

func (h *Handler) ExecuteStrategy(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing account")
		return
	}

	var req executeStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "code is required")
		return
	}

	res, err := h.Strategies.ExecuteStrategy(requestContext(c), accountID, req.Code)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	legs := make([]legResponse, len(res.Legs))
	for i, leg := range res.Legs {
		legs[i] = legResponse{Symbol: leg.Symbol.String(), Amount: leg.Amount.String(), Received: leg.Received.String()}
	}
	c.JSON(http.StatusOK, executeResponse{
		Message:   fmt.Sprintf("Strategy %s executed", res.Strategy.Code),
		Legs:      legs,
		Portfolio: res.Balances.Strings(),
	})
}

// parseAmount accepts a JSON number or a decimal string.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ledger.ErrInvalidAmount)
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("%w: amount must be numeric", ledger.ErrInvalidAmount)
		}
		text = strings.TrimSpace(s)
	}
	return ledger.ParseAmount(text)
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(c, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, ledger.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, ledger.ErrRecipientNotFound):
		writeError(c, http.StatusNotFound, "RECIPIENT_NOT_FOUND", "recipient not found")
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	case errors.Is(err, ledger.ErrStrategyNotFound):
		writeError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", "strategy not found")
	case errors.Is(err, ledger.ErrPriceUnavailable):
		h.Logger.Warn("price unavailable", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusServiceUnavailable, "PRICE_UNAVAILABLE", "price unavailable, try again later")
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(c, http.StatusConflict, "CONCURRENT_MODIFICATION", "account was modified concurrently, try again")
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

func accountIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	return auth.AccountID(c)
}

func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if id := c.GetString(httpmiddleware.RequestIDHeader); id != "" {
		ctx = service.WithCorrelationID(ctx, id)
	}
	return ctx
}
