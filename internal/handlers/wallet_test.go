package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fynor/exchange/internal/ledger"
	"github.com/fynor/exchange/internal/service"
	"github.com/fynor/exchange/internal/storage"
	"github.com/fynor/exchange/internal/validation"
	"github.com/fynor/exchange/libs/auth"
)

type stubWalletService struct {
	balances       []storage.Wallet
	balancesErr    error
	transactions   []storage.Transaction
	txErr          error
	depositResult  service.TransferResult
	depositErr     error
	withdrawResult service.TransferResult
	withdrawErr    error

	lastTransfer service.TransferInput
}

func (s *stubWalletService) ListBalances(context.Context, uuid.UUID) ([]storage.Wallet, error) {
	return s.balances, s.balancesErr
}

func (s *stubWalletService) ListTransactions(context.Context, uuid.UUID, int) ([]storage.Transaction, error) {
	return s.transactions, s.txErr
}

func (s *stubWalletService) Deposit(_ context.Context, input service.TransferInput) (service.TransferResult, error) {
	s.lastTransfer = input
	return s.depositResult, s.depositErr
}

func (s *stubWalletService) Withdraw(_ context.Context, input service.TransferInput) (service.TransferResult, error) {
	s.lastTransfer = input
	return s.withdrawResult, s.withdrawErr
}

func newWalletRouter(svc WalletService, authed bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/")
	if authed {
		group.Use(func(c *gin.Context) {
			c.Set(auth.ContextUserIDKey, uuid.NewString())
			c.Next()
		})
	}
	NewWalletHandler(svc, nil).Register(group)
	return r
}

func sampleWallet(asset, available, locked string) storage.Wallet {
	av, _ := decimal.NewFromString(available)
	lk, _ := decimal.NewFromString(locked)
	now := time.Now().UTC()
	return storage.Wallet{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Asset:     asset,
		Available: av,
		Locked:    lk,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleTransaction(txType storage.TransactionType, amount string) storage.Transaction {
	amt, _ := decimal.NewFromString(amount)
	return storage.Transaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Type:      txType,
		Asset:     "USDT",
		Amount:    amt,
		Status:    storage.TransactionCompleted,
		TxHash:    "0xabc",
		CreatedAt: time.Now().UTC(),
	}
}

func TestListBalancesIncludesTotal(t *testing.T) {
	svc := &stubWalletService{balances: []storage.Wallet{sampleWallet("USDT", "40", "60")}}
	router := newWalletRouter(svc, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet/balances", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Balances []balanceItem `json:"balances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Balances) != 1 {
		t.Fatalf("balances = %d, want 1", len(resp.Balances))
	}
	got := resp.Balances[0]
	if got.Asset != "USDT" || got.Available != "40" || got.Locked != "60" || got.Total != "100" {
		t.Fatalf("unexpected balance item: %+v", got)
	}
}

func TestListBalancesRequiresAuth(t *testing.T) {
	router := newWalletRouter(&stubWalletService{}, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet/balances", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestDepositCreated(t *testing.T) {
	svc := &stubWalletService{depositResult: service.TransferResult{
		Transaction: sampleTransaction(storage.TransactionDeposit, "250"),
		Wallet:      sampleWallet("USDT", "250", "0"),
	}}
	router := newWalletRouter(svc, true)

	body, _ := json.Marshal(map[string]string{"asset": "usdt", "amount": "250"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/wallet/deposits", bytes.NewReader(body))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastTransfer.Asset != "usdt" || svc.lastTransfer.Amount != "250" {
		t.Fatalf("transfer input = %+v", svc.lastTransfer)
	}
	var resp transferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transaction.Type != string(storage.TransactionDeposit) {
		t.Fatalf("transaction type = %s", resp.Transaction.Type)
	}
	if resp.Balance.Available != "250" {
		t.Fatalf("available = %s, want 250", resp.Balance.Available)
	}
}

func TestWithdrawErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "validation",
			err:      validation.ValidationErrors{{Field: "amount", Message: "must be a positive decimal"}},
			wantCode: http.StatusBadRequest,
			wantBody: "INVALID_REQUEST",
		},
		{
			name:     "insufficient",
			err:      ledger.ErrInsufficientBalance,
			wantCode: http.StatusBadRequest,
			wantBody: "INSUFFICIENT_BALANCE",
		},
		{
			name:     "internal",
			err:      context.DeadlineExceeded,
			wantCode: http.StatusInternalServerError,
			wantBody: "INTERNAL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubWalletService{withdrawErr: tc.err}
			router := newWalletRouter(svc, true)

			body, _ := json.Marshal(map[string]string{"asset": "USDT", "amount": "50"})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/wallet/withdrawals", bytes.NewReader(body))
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if !bytes.Contains(rec.Body.Bytes(), []byte(tc.wantBody)) {
				t.Fatalf("body %s missing %s", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestTransferRejectsMalformedBody(t *testing.T) {
	router := newWalletRouter(&stubWalletService{}, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/wallet/deposits", bytes.NewReader([]byte("{")))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTransactionsRejectsBadLimit(t *testing.T) {
	router := newWalletRouter(&stubWalletService{}, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet/transactions?limit=abc", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListTransactions(t *testing.T) {
	svc := &stubWalletService{transactions: []storage.Transaction{
		sampleTransaction(storage.TransactionWithdrawal, "10"),
		sampleTransaction(storage.TransactionDeposit, "100"),
	}}
	router := newWalletRouter(svc, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet/transactions?limit=10", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Transactions []transactionItem `json:"transactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(resp.Transactions))
	}
}
