package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/auth"
	"github.com/AfshinJalili/kryptbroker/services/activity/internal/service"
	"github.com/AfshinJalili/kryptbroker/services/activity/internal/storage"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	history *service.HistoryService
	logger  *slog.Logger
}

func New(history *service.HistoryService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{history: history, logger: logger}
}

func (h *Handler) Register(r gin.IRouter, jwtSecret []byte) {
	group := r.Group("/api/trade", auth.Middleware(jwtSecret))
	group.GET("/history", h.History)
}

type leg struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type entryView struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Sent           *leg      `json:"sent,omitempty"`
	Received       *leg      `json:"received,omitempty"`
	CounterpartyID string    `json:"counterpartyId,omitempty"`
	Strategy       string    `json:"strategy,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type historyResponse struct {
	History []entryView `json:"history"`
	Next    string      `json:"next,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (h *Handler) History(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "unauthorized"})
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "limit must be an integer"})
			return
		}
		limit = n
	}

	var before *storage.Cursor
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		cursor, err := storage.ParseCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid cursor"})
			return
		}
		before = &cursor
	}

	page, err := h.history.History(c.Request.Context(), accountID, limit, before, strings.TrimSpace(c.Query("kind")))
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
			return
		}
		h.logger.Error("history lookup failed", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	resp := historyResponse{History: make([]entryView, 0, len(page.Entries))}
	for _, e := range page.Entries {
		resp.History = append(resp.History, toView(e))
	}
	if page.Next != nil {
		resp.Next = page.Next.String()
	}
	c.JSON(http.StatusOK, resp)
}

func toView(e storage.Entry) entryView {
	v := entryView{
		ID:         e.ID.String(),
		Kind:       e.Kind,
		Strategy:   e.Reference,
		OccurredAt: e.OccurredAt.UTC(),
	}
	if e.SentSymbol != "" {
		v.Sent = &leg{Symbol: e.SentSymbol, Amount: e.SentAmount.String()}
	}
	if e.ReceivedSymbol != "" {
		v.Received = &leg{Symbol: e.ReceivedSymbol, Amount: e.ReceivedAmount.String()}
	}
	if e.Counterparty != nil {
		v.CounterpartyID = e.Counterparty.String()
	}
	return v
}
