package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/fynor/exchange/internal/storage"
	"github.com/fynor/exchange/internal/validation"
	"github.com/fynor/exchange/libs/kafka"
)

type WalletStore interface {
	ListWallets(ctx context.Context, userID uuid.UUID) ([]storage.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error)
	Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string) (storage.Transaction, storage.Wallet, error)
	Withdraw(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string) (storage.Transaction, storage.Wallet, error)
}

type WalletService struct {
	store    WalletStore
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
}

func NewWalletService(store WalletStore, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{
		store:    store,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *WalletService) ListBalances(ctx context.Context, userID uuid.UUID) ([]storage.Wallet, error) {
	return s.store.ListWallets(ctx, userID)
}

func (s *WalletService) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

type TransferInput struct {
	UserID uuid.UUID
	Asset  string
	Amount string
}

type TransferResult struct {
	Transaction storage.Transaction
	Wallet      storage.Wallet
}

// Deposit simulates an on-chain deposit: the credit lands immediately
// and the transaction records a synthetic reference hash.
func (s *WalletService) Deposit(ctx context.Context, input TransferInput) (TransferResult, error) {
	return s.transfer(ctx, input, storage.TransactionDeposit)
}

func (s *WalletService) Withdraw(ctx context.Context, input TransferInput) (TransferResult, error) {
	return s.transfer(ctx, input, storage.TransactionWithdrawal)
}

func (s *WalletService) transfer(ctx context.Context, input TransferInput, kind storage.TransactionType) (TransferResult, error) {
	if errs := validation.ValidateTransferRequest(input.Asset, input.Amount); len(errs) > 0 {
		s.observeTransfer(kind, statusRejected)
		return TransferResult{}, errs
	}

	asset := validation.NormalizeAsset(input.Asset)
	amount, err := validation.ParsePositiveDecimal(input.Amount, "amount")
	if err != nil {
		s.observeTransfer(kind, statusRejected)
		return TransferResult{}, validation.ValidationErrors{{Field: "amount", Message: err.Error()}}
	}

	var record storage.Transaction
	var wallet storage.Wallet
	if kind == storage.TransactionDeposit {
		record, wallet, err = s.store.Deposit(ctx, input.UserID, asset, amount, newTxHash())
	} else {
		record, wallet, err = s.store.Withdraw(ctx, input.UserID, asset, amount, newTxHash())
	}
	if err != nil {
		s.observeTransfer(kind, statusRejected)
		return TransferResult{}, err
	}

	s.observeTransfer(kind, statusAccepted)
	s.publishTransactionEvent(ctx, record)
	return TransferResult{Transaction: record, Wallet: wallet}, nil
}

func (s *WalletService) observeTransfer(kind storage.TransactionType, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WalletTransfers.WithLabelValues(strings.ToLower(string(kind)), status).Inc()
}

type transactionEventPayload struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	TxHash        string `json:"tx_hash,omitempty"`
}

func (s *WalletService) publishTransactionEvent(ctx context.Context, record storage.Transaction) {
	if s.producer == nil {
		return
	}

	payload, err := json.Marshal(transactionEventPayload{
		TransactionID: record.ID.String(),
		UserID:        record.UserID.String(),
		Type:          string(record.Type),
		Asset:         record.Asset,
		Amount:        record.Amount.String(),
		Status:        string(record.Status),
		TxHash:        record.TxHash,
	})
	if err != nil {
		s.logger.Error("marshal transaction event failed", "transaction_id", record.ID, "error", err)
		return
	}

	eventID := kafka.DeterministicEventID(record.ID.String(), kafka.EventTransactionRecorded)
	envelope := kafka.NewEnvelopeWithID(eventID, kafka.EventTransactionRecorded, payload)
	if _, _, err := s.producer.PublishJSON(ctx, kafka.TopicTransactionEvents, record.UserID.String(), envelope); err != nil {
		s.logger.Error("publish transaction event failed", "transaction_id", record.ID, "error", err)
	}
}

func newTxHash() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "0x" + uuid.NewString()
	}
	return "0x" + hex.EncodeToString(buf)
}
