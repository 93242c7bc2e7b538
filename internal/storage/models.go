package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Cancellable reports whether an order in this status still holds a
// balance lock that a cancel would release.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusOpen || s == OrderStatusPartial
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID             uuid.UUID
	ClientOrderID  string
	UserID         uuid.UUID
	Symbol         string
	Side           Side
	Type           OrderType
	Price          decimal.Decimal // zero for market orders
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RemainingQuantity is the unfilled portion still covered by the lock.
func (o Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

type Transaction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      TransactionType
	Asset     string
	Amount    decimal.Decimal
	Status    TransactionStatus
	TxHash    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PlaceOrderParams struct {
	UserID        uuid.UUID
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	LockAsset     string
	LockAmount    decimal.Decimal
}

type ListOrdersParams struct {
	UserID uuid.UUID
	Status OrderStatus // optional
	Symbol string      // optional, canonical form
	Limit  int
	Cursor string
}
