// Package storage persists wallets, orders and transactions in
// Postgres. Order placement and cancellation run as single database
// transactions holding row locks, so concurrent requests against the
// same wallet or order serialize on the database.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fynor/exchange/internal/ledger"
	"github.com/fynor/exchange/internal/symbols"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidStatus = errors.New("order status does not allow this transition")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// SymbolResolver maps stored symbol strings back to their pair so the
// store can compute the lock asset during cancellation and fills.
type SymbolResolver interface {
	Resolve(raw string) (symbols.Pair, error)
}

type Store struct {
	pool    *pgxpool.Pool
	symbols SymbolResolver
	logger  *slog.Logger
}

func New(pool *pgxpool.Pool, resolver SymbolResolver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:    pool,
		symbols: resolver,
		logger:  logger,
	}
}

// PlaceOrder locks params.LockAmount of params.LockAsset on the user's
// wallet and inserts the order row, all in one transaction. When a
// client order id replays, the previously stored order is returned and
// created is false; no second lock is taken.
func (s *Store) PlaceOrder(ctx context.Context, params PlaceOrderParams) (Order, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	wallet, err := s.getOrCreateWalletForUpdate(ctx, tx, params.UserID, params.LockAsset)
	if err != nil {
		return Order{}, false, err
	}

	locked, err := ledger.Lock(walletBalance(wallet), params.LockAmount)
	if err != nil {
		return Order{}, false, err
	}
	if err := s.updateWalletBalance(ctx, tx, wallet.ID, locked); err != nil {
		return Order{}, false, err
	}

	order := Order{
		ID:             uuid.New(),
		ClientOrderID:  params.ClientOrderID,
		UserID:         params.UserID,
		Symbol:         params.Symbol,
		Side:           params.Side,
		Type:           params.Type,
		Price:          params.Price,
		Quantity:       params.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         OrderStatusOpen,
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, client_order_id, user_id, symbol, side, type, price, quantity, filled_quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::numeric, $8, 0, $9, $10, $10)
	`, order.ID, order.ClientOrderID, order.UserID, order.Symbol, string(order.Side),
		string(order.Type), priceArg(order), order.Quantity.String(), string(order.Status), now)
	if err != nil {
		if isUniqueViolation(err) {
			// Replayed client order id: drop this attempt's lock and
			// hand back the order the first attempt stored.
			_ = tx.Rollback(ctx)
			committed = true
			existing, lookupErr := s.getOrderByClientID(ctx, params.UserID, params.ClientOrderID)
			if lookupErr != nil {
				return Order{}, false, lookupErr
			}
			return existing, false, nil
		}
		return Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	committed = true
	return order, true, nil
}

// CancelOrder transitions an OPEN or PARTIAL order owned by userID to
// CANCELLED and releases the remaining lock back to available funds.
// Orders that do not exist or belong to someone else report the same
// not-found error.
func (s *Store) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (Order, decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, decimal.Zero, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	order, err := s.getOrderForUpdate(ctx, tx, userID, orderID)
	if err != nil {
		return Order{}, decimal.Zero, err
	}
	if !order.Status.Cancellable() {
		return Order{}, decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidStatus, order.Status)
	}

	asset, amount, err := s.remainingLock(order)
	if err != nil {
		return Order{}, decimal.Zero, err
	}

	if amount.Sign() > 0 {
		wallet, err := s.getOrCreateWalletForUpdate(ctx, tx, userID, asset)
		if err != nil {
			return Order{}, decimal.Zero, err
		}
		released, err := ledger.Release(walletBalance(wallet), amount)
		if err != nil {
			s.logger.Error("lock release exceeds locked balance",
				"order_id", orderID, "asset", asset, "amount", amount.String(), "error", err)
			return Order{}, decimal.Zero, err
		}
		if err := s.updateWalletBalance(ctx, tx, wallet.ID, released); err != nil {
			return Order{}, decimal.Zero, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3
	`, string(OrderStatusCancelled), now, order.ID); err != nil {
		return Order{}, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, decimal.Zero, err
	}
	committed = true

	order.Status = OrderStatusCancelled
	order.UpdatedAt = now
	return order, amount, nil
}

// ApplyFill settles quantity of an order at its limit price: the lock
// side's reserved funds are consumed and the opposite asset credited.
// The order moves to PARTIAL, or FILLED once fully consumed. This is
// the settlement path a matching engine would drive; nothing in the
// HTTP surface reaches it yet.
func (s *Store) ApplyFill(ctx context.Context, orderID uuid.UUID, quantity decimal.Decimal) (Order, error) {
	if quantity.Sign() <= 0 {
		return Order{}, fmt.Errorf("fill quantity must be positive")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	order, err := s.getAnyOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !order.Status.Cancellable() {
		return Order{}, fmt.Errorf("%w: %s", ErrInvalidStatus, order.Status)
	}
	if quantity.GreaterThan(order.RemainingQuantity()) {
		return Order{}, fmt.Errorf("fill %s exceeds remaining %s",
			quantity.String(), order.RemainingQuantity().String())
	}

	pair, err := s.symbols.Resolve(order.Symbol)
	if err != nil {
		return Order{}, err
	}

	notional := order.Price.Mul(quantity)
	debitAsset, debitAmount := pair.Quote, notional
	creditAsset, creditAmount := pair.Base, quantity
	if order.Side == SideSell {
		debitAsset, debitAmount = pair.Base, quantity
		creditAsset, creditAmount = pair.Quote, notional
	}

	// Lock both wallet rows in asset order so concurrent fills of
	// opposite-side orders for the same user cannot deadlock.
	lockOrder := []string{debitAsset, creditAsset}
	if lockOrder[1] < lockOrder[0] {
		lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
	}
	lockedWallets := make(map[string]Wallet, 2)
	for _, asset := range lockOrder {
		w, err := s.getOrCreateWalletForUpdate(ctx, tx, order.UserID, asset)
		if err != nil {
			return Order{}, err
		}
		lockedWallets[asset] = w
	}

	debitWallet := lockedWallets[debitAsset]
	settled, err := ledger.Settle(walletBalance(debitWallet), debitAmount)
	if err != nil {
		return Order{}, err
	}
	if err := s.updateWalletBalance(ctx, tx, debitWallet.ID, settled); err != nil {
		return Order{}, err
	}

	creditWallet := lockedWallets[creditAsset]
	credited, err := ledger.Credit(walletBalance(creditWallet), creditAmount)
	if err != nil {
		return Order{}, err
	}
	if err := s.updateWalletBalance(ctx, tx, creditWallet.ID, credited); err != nil {
		return Order{}, err
	}

	order.FilledQuantity = order.FilledQuantity.Add(quantity)
	order.Status = OrderStatusPartial
	if order.FilledQuantity.Equal(order.Quantity) {
		order.Status = OrderStatusFilled
	}
	now := time.Now().UTC()
	order.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET filled_quantity = $1, status = $2, updated_at = $3 WHERE id = $4
	`, order.FilledQuantity.String(), string(order.Status), now, order.ID); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	committed = true
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_order_id, user_id, symbol, side, type, COALESCE(price::text, ''), quantity::text, filled_quantity::text, status, created_at, updated_at
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, orderID, userID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, params ListOrdersParams) ([]Order, string, error) {
	limit := clampLimit(params.Limit)

	query := `
		SELECT id, client_order_id, user_id, symbol, side, type, COALESCE(price::text, ''), quantity::text, filled_quantity::text, status, created_at, updated_at
		FROM orders
		WHERE user_id = $1
	`
	args := []any{params.UserID}
	idx := 2

	if params.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(params.Status))
		idx++
	}
	if params.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", idx)
		args = append(args, params.Symbol)
		idx++
	}
	if params.Cursor != "" {
		ts, id, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", idx, idx+1)
		args = append(args, ts, id)
		idx += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", idx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	orders := make([]Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, "", err
		}
		orders = append(orders, order)
	}
	if rows.Err() != nil {
		return nil, "", rows.Err()
	}

	var nextCursor string
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return orders, nextCursor, nil
}

func (s *Store) ListWallets(ctx context.Context, userID uuid.UUID) ([]Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, asset, available::text, locked::text, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
		ORDER BY asset
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (s *Store) GetWallet(ctx context.Context, userID uuid.UUID, asset string) (Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, asset, available::text, locked::text, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND asset = $2
	`, userID, strings.ToUpper(asset))
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{
				UserID:    userID,
				Asset:     strings.ToUpper(asset),
				Available: decimal.Zero,
				Locked:    decimal.Zero,
			}, nil
		}
		return Wallet{}, err
	}
	return w, nil
}

// Deposit credits available funds and records a COMPLETED transaction.
func (s *Store) Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string) (Transaction, Wallet, error) {
	return s.applyTransfer(ctx, userID, asset, amount, txHash, TransactionDeposit)
}

// Withdraw debits available funds and records a COMPLETED transaction.
// Locked funds cannot be withdrawn.
func (s *Store) Withdraw(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string) (Transaction, Wallet, error) {
	return s.applyTransfer(ctx, userID, asset, amount, txHash, TransactionWithdrawal)
}

func (s *Store) applyTransfer(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal, txHash string, kind TransactionType) (Transaction, Wallet, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, Wallet{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	wallet, err := s.getOrCreateWalletForUpdate(ctx, tx, userID, asset)
	if err != nil {
		return Transaction{}, Wallet{}, err
	}

	var next ledger.Balance
	if kind == TransactionDeposit {
		next, err = ledger.Credit(walletBalance(wallet), amount)
	} else {
		next, err = ledger.Debit(walletBalance(wallet), amount)
	}
	if err != nil {
		return Transaction{}, Wallet{}, err
	}
	if err := s.updateWalletBalance(ctx, tx, wallet.ID, next); err != nil {
		return Transaction{}, Wallet{}, err
	}

	now := time.Now().UTC()
	record := Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      kind,
		Asset:     asset,
		Amount:    amount,
		Status:    TransactionCompleted,
		TxHash:    txHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, asset, amount, status, tx_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)
	`, record.ID, record.UserID, string(record.Type), record.Asset,
		record.Amount.String(), string(record.Status), record.TxHash, now); err != nil {
		return Transaction{}, Wallet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, Wallet{}, err
	}
	committed = true

	wallet.Available = next.Available
	wallet.Locked = next.Locked
	wallet.UpdatedAt = now
	return record, wallet, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, asset, amount::text, status, COALESCE(tx_hash, ''), created_at, updated_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Transaction
	for rows.Next() {
		var rec Transaction
		var amountStr, kind, status string
		if err := rows.Scan(&rec.ID, &rec.UserID, &kind, &rec.Asset, &amountStr,
			&status, &rec.TxHash, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Type = TransactionType(kind)
		rec.Status = TransactionStatus(status)
		rec.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// remainingLock computes the asset and amount still reserved by an
// order: BUY holds quote at price*remaining, SELL holds base at
// remaining.
func (s *Store) remainingLock(order Order) (string, decimal.Decimal, error) {
	pair, err := s.symbols.Resolve(order.Symbol)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("resolve order symbol %q: %w", order.Symbol, err)
	}
	remaining := order.RemainingQuantity()
	if order.Side == SideBuy {
		return pair.Quote, order.Price.Mul(remaining), nil
	}
	return pair.Base, remaining, nil
}

func (s *Store) getOrCreateWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string) (Wallet, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))

	wallet, err := s.getWalletForUpdate(ctx, tx, userID, asset)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, asset, available, locked)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (user_id, asset) DO NOTHING
	`, userID, asset); err != nil {
		return Wallet{}, err
	}

	return s.getWalletForUpdate(ctx, tx, userID, asset)
}

func (s *Store) getWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string) (Wallet, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, asset, available::text, locked::text, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE
	`, userID, asset)
	return scanWallet(row)
}

func (s *Store) updateWalletBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, b ledger.Balance) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET available = $1, locked = $2, updated_at = $3 WHERE id = $4
	`, b.Available.String(), b.Locked.String(), time.Now().UTC(), walletID)
	return err
}

func (s *Store) getOrderForUpdate(ctx context.Context, tx pgx.Tx, userID, orderID uuid.UUID) (Order, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, client_order_id, user_id, symbol, side, type, COALESCE(price::text, ''), quantity::text, filled_quantity::text, status, created_at, updated_at
		FROM orders
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, orderID, userID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

func (s *Store) getAnyOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (Order, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, client_order_id, user_id, symbol, side, type, COALESCE(price::text, ''), quantity::text, filled_quantity::text, status, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

func (s *Store) getOrderByClientID(ctx context.Context, userID uuid.UUID, clientOrderID string) (Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_order_id, user_id, symbol, side, type, COALESCE(price::text, ''), quantity::text, filled_quantity::text, status, created_at, updated_at
		FROM orders
		WHERE user_id = $1 AND client_order_id = $2
	`, userID, clientOrderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var order Order
	var side, kind, status, priceStr, quantityStr, filledStr string
	if err := row.Scan(&order.ID, &order.ClientOrderID, &order.UserID, &order.Symbol,
		&side, &kind, &priceStr, &quantityStr, &filledStr, &status,
		&order.CreatedAt, &order.UpdatedAt); err != nil {
		return Order{}, err
	}
	order.Side = Side(side)
	order.Type = OrderType(kind)
	order.Status = OrderStatus(status)

	var err error
	if priceStr != "" {
		order.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return Order{}, fmt.Errorf("parse order price: %w", err)
		}
	}
	order.Quantity, err = decimal.NewFromString(quantityStr)
	if err != nil {
		return Order{}, fmt.Errorf("parse order quantity: %w", err)
	}
	order.FilledQuantity, err = decimal.NewFromString(filledStr)
	if err != nil {
		return Order{}, fmt.Errorf("parse order filled quantity: %w", err)
	}
	return order, nil
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	var availableStr, lockedStr string
	if err := row.Scan(&w.ID, &w.UserID, &w.Asset, &availableStr, &lockedStr,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	var err error
	w.Available, err = decimal.NewFromString(availableStr)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse available balance: %w", err)
	}
	w.Locked, err = decimal.NewFromString(lockedStr)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse locked balance: %w", err)
	}
	return w, nil
}

func walletBalance(w Wallet) ledger.Balance {
	return ledger.Balance{Available: w.Available, Locked: w.Locked}
}

func priceArg(order Order) string {
	if order.Type == OrderTypeMarket || order.Price.Sign() <= 0 {
		return ""
	}
	return order.Price.String()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func encodeCursor(ts time.Time, id uuid.UUID) string {
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id.String())
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	return ts, id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
