package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"log/slog"

	"github.com/fynor/exchange/internal/ledger"
	"github.com/fynor/exchange/internal/service"
	"github.com/fynor/exchange/internal/storage"
	"github.com/fynor/exchange/internal/validation"
)

type WalletService interface {
	ListBalances(ctx context.Context, userID uuid.UUID) ([]storage.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error)
	Deposit(ctx context.Context, input service.TransferInput) (service.TransferResult, error)
	Withdraw(ctx context.Context, input service.TransferInput) (service.TransferResult, error)
}

type WalletHandler struct {
	service WalletService
	logger  *slog.Logger
}

func NewWalletHandler(svc WalletService, logger *slog.Logger) *WalletHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletHandler{service: svc, logger: logger}
}

func (h *WalletHandler) Register(group *gin.RouterGroup) {
	group.GET("/wallet/balances", h.ListBalances)
	group.GET("/wallet/transactions", h.ListTransactions)
	group.POST("/wallet/deposits", h.Deposit)
	group.POST("/wallet/withdrawals", h.Withdraw)
}

type balanceItem struct {
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Total     string `json:"total"`
	UpdatedAt string `json:"updated_at"`
}

type transactionItem struct {
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	TxHash        string `json:"tx_hash,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type transferRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type transferResponse struct {
	Transaction transactionItem `json:"transaction"`
	Balance     balanceItem     `json:"balance"`
}

func (h *WalletHandler) ListBalances(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	wallets, err := h.service.ListBalances(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list balances failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "request failed, retry later", nil)
		return
	}

	items := make([]balanceItem, 0, len(wallets))
	for _, w := range wallets {
		items = append(items, toBalanceItem(w))
	}
	c.JSON(http.StatusOK, gin.H{"balances": items})
}

func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	records, err := h.service.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list transactions failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "request failed, retry later", nil)
		return
	}

	items := make([]transactionItem, 0, len(records))
	for _, rec := range records {
		items = append(items, toTransactionItem(rec))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (h *WalletHandler) Deposit(c *gin.Context) {
	h.transfer(c, h.service.Deposit)
}

func (h *WalletHandler) Withdraw(c *gin.Context) {
	h.transfer(c, h.service.Withdraw)
}

func (h *WalletHandler) transfer(c *gin.Context, apply func(context.Context, service.TransferInput) (service.TransferResult, error)) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	result, err := apply(c.Request.Context(), service.TransferInput{
		UserID: userID,
		Asset:  req.Asset,
		Amount: req.Amount,
	})
	if err != nil {
		h.writeTransferError(c, err)
		return
	}

	c.JSON(http.StatusCreated, transferResponse{
		Transaction: toTransactionItem(result.Transaction),
		Balance:     toBalanceItem(result.Wallet),
	})
}

func (h *WalletHandler) writeTransferError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", verrs)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance", nil)
	default:
		h.logger.Error("wallet transfer failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "request failed, retry later", nil)
	}
}

func toBalanceItem(w storage.Wallet) balanceItem {
	return balanceItem{
		Asset:     w.Asset,
		Available: w.Available.String(),
		Locked:    w.Locked.String(),
		Total:     w.Available.Add(w.Locked).String(),
		UpdatedAt: w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toTransactionItem(rec storage.Transaction) transactionItem {
	return transactionItem{
		TransactionID: rec.ID.String(),
		Type:          string(rec.Type),
		Asset:         rec.Asset,
		Amount:        rec.Amount.String(),
		Status:        string(rec.Status),
		TxHash:        rec.TxHash,
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
