package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fynor/exchange/internal/ledger"
	"github.com/fynor/exchange/internal/storage"
	"github.com/fynor/exchange/internal/symbols"
)

// fakeStore mirrors the Postgres store's semantics in memory. A single
// mutex stands in for the database row locks, so concurrent callers
// observe the same serialized outcomes as against Postgres.
type fakeStore struct {
	mu       sync.Mutex
	registry *symbols.Registry
	wallets  map[string]*storage.Wallet // userID:asset
	orders   map[uuid.UUID]*storage.Order
	byClient map[string]uuid.UUID // userID:clientOrderID
	txs      []storage.Transaction
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		registry: symbols.Default(),
		wallets:  make(map[string]*storage.Wallet),
		orders:   make(map[uuid.UUID]*storage.Order),
		byClient: make(map[string]uuid.UUID),
	}
}

func walletKey(userID uuid.UUID, asset string) string {
	return userID.String() + ":" + asset
}

func (f *fakeStore) wallet(userID uuid.UUID, asset string) *storage.Wallet {
	key := walletKey(userID, asset)
	w, ok := f.wallets[key]
	if !ok {
		w = &storage.Wallet{
			ID:        uuid.New(),
			UserID:    userID,
			Asset:     asset,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
		}
		f.wallets[key] = w
	}
	return w
}

func (f *fakeStore) PlaceOrder(_ context.Context, params storage.PlaceOrderParams) (storage.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clientKey := params.UserID.String() + ":" + params.ClientOrderID
	if existingID, ok := f.byClient[clientKey]; ok {
		return *f.orders[existingID], false, nil
	}

	w := f.wallet(params.UserID, params.LockAsset)
	next, err := ledger.Lock(ledger.Balance{Available: w.Available, Locked: w.Locked}, params.LockAmount)
	if err != nil {
		return storage.Order{}, false, err
	}
	w.Available, w.Locked = next.Available, next.Locked

	f.seq++
	now := time.Now().UTC().Add(time.Duration(f.seq) * time.Microsecond)
	order := storage.Order{
		ID:             uuid.New(),
		ClientOrderID:  params.ClientOrderID,
		UserID:         params.UserID,
		Symbol:         params.Symbol,
		Side:           params.Side,
		Type:           params.Type,
		Price:          params.Price,
		Quantity:       params.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         storage.OrderStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.orders[order.ID] = &order
	f.byClient[clientKey] = order.ID
	return order, true, nil
}

func (f *fakeStore) CancelOrder(_ context.Context, userID, orderID uuid.UUID) (storage.Order, decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.UserID != userID {
		return storage.Order{}, decimal.Zero, storage.ErrOrderNotFound
	}
	if !order.Status.Cancellable() {
		return storage.Order{}, decimal.Zero, fmt.Errorf("%w: %s", storage.ErrInvalidStatus, order.Status)
	}

	pair, err := f.registry.Resolve(order.Symbol)
	if err != nil {
		return storage.Order{}, decimal.Zero, err
	}
	remaining := order.RemainingQuantity()
	asset, amount := pair.Base, remaining
	if order.Side == storage.SideBuy {
		asset, amount = pair.Quote, order.Price.Mul(remaining)
	}

	if amount.Sign() > 0 {
		w := f.wallet(userID, asset)
		next, err := ledger.Release(ledger.Balance{Available: w.Available, Locked: w.Locked}, amount)
		if err != nil {
			return storage.Order{}, decimal.Zero, err
		}
		w.Available, w.Locked = next.Available, next.Locked
	}

	order.Status = storage.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	return *order, amount, nil
}

func (f *fakeStore) GetOrder(_ context.Context, userID, orderID uuid.UUID) (storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok || order.UserID != userID {
		return storage.Order{}, storage.ErrOrderNotFound
	}
	return *order, nil
}

func (f *fakeStore) ListOrders(_ context.Context, params storage.ListOrdersParams) ([]storage.Order, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []storage.Order
	for _, order := range f.orders {
		if order.UserID != params.UserID {
			continue
		}
		if params.Status != "" && order.Status != params.Status {
			continue
		}
		if params.Symbol != "" && order.Symbol != params.Symbol {
			continue
		}
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, "", nil
}

func (f *fakeStore) ListWallets(_ context.Context, userID uuid.UUID) ([]storage.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []storage.Wallet
	for _, w := range f.wallets {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (f *fakeStore) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []storage.Transaction
	for i := len(f.txs) - 1; i >= 0; i-- {
		if f.txs[i].UserID == userID {
			out = append(out, f.txs[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Deposit(_ context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string) (storage.Transaction, storage.Wallet, error) {
	return f.applyTransfer(userID, asset, amount, txHash, storage.TransactionDeposit)
}

func (f *fakeStore) Withdraw(_ context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string) (storage.Transaction, storage.Wallet, error) {
	return f.applyTransfer(userID, asset, amount, txHash, storage.TransactionWithdrawal)
}

func (f *fakeStore) applyTransfer(userID uuid.UUID, asset string, amount decimal.Decimal, txHash string, kind storage.TransactionType) (storage.Transaction, storage.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.wallet(userID, asset)
	balance := ledger.Balance{Available: w.Available, Locked: w.Locked}
	var next ledger.Balance
	var err error
	if kind == storage.TransactionDeposit {
		next, err = ledger.Credit(balance, amount)
	} else {
		next, err = ledger.Debit(balance, amount)
	}
	if err != nil {
		return storage.Transaction{}, storage.Wallet{}, err
	}
	w.Available, w.Locked = next.Available, next.Locked

	now := time.Now().UTC()
	record := storage.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      kind,
		Asset:     asset,
		Amount:    amount,
		Status:    storage.TransactionCompleted,
		TxHash:    txHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.txs = append(f.txs, record)
	return record, *w, nil
}

// fakePublisher records published envelopes.
type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
}

func (p *fakePublisher) PublishJSON(_ context.Context, topic, key string, _ any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	return 0, int64(len(p.topics)), nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}
