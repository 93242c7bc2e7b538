// Package service implements the order lifecycle and wallet use cases
// on top of the storage layer. Handlers translate its errors into the
// HTTP taxonomy; services never see gin.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/fynor/exchange/internal/storage"
	"github.com/fynor/exchange/internal/symbols"
	"github.com/fynor/exchange/internal/validation"
	"github.com/fynor/exchange/libs/kafka"
)

const (
	statusAccepted = "accepted"
	statusRejected = "rejected"
)

// ErrMarketUnsupported rejects MARKET orders: without a matching
// engine there is no execution price to lock against.
var ErrMarketUnsupported = errors.New("market orders are not supported")

type OrderStore interface {
	PlaceOrder(ctx context.Context, params storage.PlaceOrderParams) (storage.Order, bool, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (storage.Order, decimal.Decimal, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (storage.Order, error)
	ListOrders(ctx context.Context, params storage.ListOrdersParams) ([]storage.Order, string, error)
}

type OrderService struct {
	store    OrderStore
	registry *symbols.Registry
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
}

func NewOrderService(store OrderStore, registry *symbols.Registry, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:    store,
		registry: registry,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
	}
}

type PlaceOrderInput struct {
	UserID        uuid.UUID
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	Price         string
}

type PlaceOrderResult struct {
	Order   storage.Order
	Created bool
}

func (s *OrderService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (PlaceOrderResult, error) {
	start := time.Now()

	if errs := validation.ValidateOrderRequest(input.Symbol, input.Side, input.Type, input.Quantity, input.Price); len(errs) > 0 {
		s.observePlacement(statusRejected, start)
		return PlaceOrderResult{}, errs
	}

	pair, err := s.registry.Resolve(input.Symbol)
	if err != nil {
		s.observePlacement(statusRejected, start)
		return PlaceOrderResult{}, err
	}

	orderType := storage.OrderType(strings.ToUpper(strings.TrimSpace(input.Type)))
	if orderType == storage.OrderTypeMarket {
		s.observePlacement(statusRejected, start)
		return PlaceOrderResult{}, ErrMarketUnsupported
	}

	side := storage.Side(strings.ToUpper(strings.TrimSpace(input.Side)))
	quantity, err := validation.ParsePositiveDecimal(input.Quantity, "quantity")
	if err != nil {
		s.observePlacement(statusRejected, start)
		return PlaceOrderResult{}, validation.ValidationErrors{{Field: "quantity", Message: err.Error()}}
	}
	price, err := validation.ParsePositiveDecimal(input.Price, "price")
	if err != nil {
		s.observePlacement(statusRejected, start)
		return PlaceOrderResult{}, validation.ValidationErrors{{Field: "price", Message: err.Error()}}
	}

	lockAsset := pair.Quote
	lockAmount := price.Mul(quantity)
	if side == storage.SideSell {
		lockAsset = pair.Base
		lockAmount = quantity
	}

	clientOrderID := strings.TrimSpace(input.ClientOrderID)
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	order, created, err := s.store.PlaceOrder(ctx, storage.PlaceOrderParams{
		UserID:        input.UserID,
		ClientOrderID: clientOrderID,
		Symbol:        pair.Symbol,
		Side:          side,
		Type:          orderType,
		Price:         price,
		Quantity:      quantity,
		LockAsset:     lockAsset,
		LockAmount:    lockAmount,
	})
	if err != nil {
		s.observePlacement(statusRejected, start)
		return PlaceOrderResult{}, err
	}

	s.observePlacement(statusAccepted, start)
	if s.metrics != nil && created {
		amount, _ := lockAmount.Float64()
		s.metrics.BalanceLockAmount.WithLabelValues(lockAsset).Observe(amount)
	}
	if created {
		s.publishOrderEvent(ctx, kafka.EventOrderPlaced, order)
	}

	return PlaceOrderResult{Order: order, Created: created}, nil
}

type CancelOrderResult struct {
	Order          storage.Order
	ReleasedAmount decimal.Decimal
}

func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (CancelOrderResult, error) {
	order, released, err := s.store.CancelOrder(ctx, userID, orderID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.OrderCancellations.WithLabelValues(statusRejected).Inc()
		}
		return CancelOrderResult{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderCancellations.WithLabelValues(statusAccepted).Inc()
	}
	s.publishOrderEvent(ctx, kafka.EventOrderCancelled, order)

	return CancelOrderResult{Order: order, ReleasedAmount: released}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (storage.Order, error) {
	return s.store.GetOrder(ctx, userID, orderID)
}

type ListOrdersInput struct {
	UserID uuid.UUID
	Status string
	Symbol string
	Limit  int
	Cursor string
}

func (s *OrderService) ListOrders(ctx context.Context, input ListOrdersInput) ([]storage.Order, string, error) {
	params := storage.ListOrdersParams{
		UserID: input.UserID,
		Limit:  input.Limit,
		Cursor: input.Cursor,
	}

	if raw := strings.TrimSpace(input.Status); raw != "" {
		status := storage.OrderStatus(strings.ToUpper(raw))
		switch status {
		case storage.OrderStatusOpen, storage.OrderStatusPartial, storage.OrderStatusFilled, storage.OrderStatusCancelled:
			params.Status = status
		default:
			return nil, "", validation.ValidationErrors{{Field: "status", Message: fmt.Sprintf("unknown status %q", raw)}}
		}
	}

	if raw := strings.TrimSpace(input.Symbol); raw != "" {
		pair, err := s.registry.Resolve(raw)
		if err != nil {
			return nil, "", err
		}
		params.Symbol = pair.Symbol
	}

	return s.store.ListOrders(ctx, params)
}

func (s *OrderService) observePlacement(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OrderPlacements.WithLabelValues(status).Inc()
	s.metrics.OrderPlacementLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

type orderEventPayload struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Price          string `json:"price,omitempty"`
	Quantity       string `json:"quantity"`
	FilledQuantity string `json:"filled_quantity"`
	Status         string `json:"status"`
}

func (s *OrderService) publishOrderEvent(ctx context.Context, eventType string, order storage.Order) {
	if s.producer == nil {
		return
	}

	payload, err := json.Marshal(orderEventPayload{
		OrderID:        order.ID.String(),
		UserID:         order.UserID.String(),
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           string(order.Type),
		Price:          order.Price.String(),
		Quantity:       order.Quantity.String(),
		FilledQuantity: order.FilledQuantity.String(),
		Status:         string(order.Status),
	})
	if err != nil {
		s.logger.Error("marshal order event failed", "order_id", order.ID, "error", err)
		return
	}

	eventID := kafka.DeterministicEventID(order.ID.String(), eventType, string(order.Status))
	envelope := kafka.NewEnvelopeWithID(eventID, eventType, payload)
	if _, _, err := s.producer.PublishJSON(ctx, kafka.TopicOrderEvents, order.ID.String(), envelope); err != nil {
		// Events are best effort: the order state is already durable.
		s.logger.Error("publish order event failed", "order_id", order.ID, "event_type", eventType, "error", err)
	}
}
