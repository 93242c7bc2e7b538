// Package handlers wires the service layer to gin routes and maps
// service errors onto the HTTP error taxonomy.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/fynor/exchange/internal/ledger"
	"github.com/fynor/exchange/internal/rate"
	"github.com/fynor/exchange/internal/service"
	"github.com/fynor/exchange/internal/storage"
	"github.com/fynor/exchange/internal/symbols"
	"github.com/fynor/exchange/internal/validation"
	"github.com/fynor/exchange/libs/auth"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, input service.PlaceOrderInput) (service.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (service.CancelOrderResult, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (storage.Order, error)
	ListOrders(ctx context.Context, input service.ListOrdersInput) ([]storage.Order, string, error)
}

type OrdersHandler struct {
	service OrderService
	limiter rate.Limiter
	logger  *slog.Logger
}

func NewOrdersHandler(svc OrderService, limiter rate.Limiter, logger *slog.Logger) *OrdersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrdersHandler{service: svc, limiter: limiter, logger: logger}
}

func (h *OrdersHandler) Register(group *gin.RouterGroup) {
	group.POST("/orders", h.PlaceOrder)
	group.GET("/orders", h.ListOrders)
	group.GET("/orders/:id", h.GetOrder)
	group.DELETE("/orders/:id", h.CancelOrder)
}

type placeOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
}

type orderItem struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Price          string `json:"price,omitempty"`
	Quantity       string `json:"quantity"`
	FilledQuantity string `json:"filled_quantity"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type listOrdersResponse struct {
	Orders     []orderItem `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type cancelOrderResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	ReleasedAmount string `json:"released_amount"`
}

func (h *OrdersHandler) PlaceOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Allow(c.Request.Context(), userID.String(), time.Now())
		if err != nil {
			h.logger.Error("rate limiter failed", "error", err)
		} else if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many order requests", nil)
			return
		}
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	clientOrderID := strings.TrimSpace(req.ClientOrderID)
	if clientOrderID == "" {
		clientOrderID = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	result, err := h.service.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID:        userID,
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	c.JSON(status, toOrderItem(result.Order))
}

func (h *OrdersHandler) CancelOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		// Malformed ids get the same answer as unknown ones.
		writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}

	result, err := h.service.CancelOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, cancelOrderResponse{
		OrderID:        result.Order.ID.String(),
		Status:         string(result.Order.Status),
		ReleasedAmount: result.ReleasedAmount.String(),
	})
}

func (h *OrdersHandler) GetOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderItem(order))
}

func (h *OrdersHandler) ListOrders(c *gin.Context) {
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

	orders, nextCursor, err := h.service.ListOrders(c.Request.Context(), service.ListOrdersInput{
		UserID: userID,
		Status: c.Query("status"),
		Symbol: c.Query("symbol"),
		Limit:  limit,
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	items := make([]orderItem, 0, len(orders))
	for _, order := range orders {
		items = append(items, toOrderItem(order))
	}
	c.JSON(http.StatusOK, listOrdersResponse{Orders: items, NextCursor: nextCursor})
}

func (h *OrdersHandler) writeServiceError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", verrs)
	case errors.Is(err, symbols.ErrUnknownSymbol):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unsupported symbol", nil)
	case errors.Is(err, service.ErrMarketUnsupported):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "market orders are not supported", nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance", nil)
	case errors.Is(err, storage.ErrOrderNotFound):
		writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.Is(err, storage.ErrInvalidStatus):
		writeError(c, http.StatusConflict, "INVALID_STATE", "order cannot transition from its current status", nil)
	case errors.Is(err, storage.ErrInvalidCursor):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid cursor", nil)
	default:
		h.logger.Error("order request failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "request failed, retry later", nil)
	}
}

func toOrderItem(order storage.Order) orderItem {
	item := orderItem{
		OrderID:        order.ID.String(),
		ClientOrderID:  order.ClientOrderID,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           string(order.Type),
		Quantity:       order.Quantity.String(),
		FilledQuantity: order.FilledQuantity.String(),
		Status:         string(order.Status),
		CreatedAt:      order.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !order.Price.Equal(decimal.Zero) {
		item.Price = order.Price.String()
	}
	return item
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}
