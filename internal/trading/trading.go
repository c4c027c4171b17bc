package trading

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/types"
	"github.com/ksred/klear-gateway/pkg/response"
)

const maxListLimit = 1000

// Service validates and dispatches orders. Order state is never kept
// locally: every read goes back to the exchange.
type Service struct {
	client exchange.Client
	store  Store
	flight singleflight.Group
}

// NewService creates a trading service. store may be nil, in which case
// deduplication is left entirely to the exchange.
func NewService(client exchange.Client, store Store) *Service {
	return &Service{
		client: client,
		store:  store,
	}
}

type placement struct {
	order       *types.Order
	fingerprint string
}

// PlaceOrder validates intent and submits it under the caller's client_order_id.
// Resubmitting a known client_order_id with the same parameters returns the
// existing order instead of creating another one.
func (s *Service) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	if err := validateIntent(&intent); err != nil {
		return nil, err
	}
	fingerprint := fingerprintOf(intent)

	v, err, shared := s.flight.Do(intent.ClientOrderID, func() (interface{}, error) {
		order, err := s.place(ctx, intent, fingerprint)
		if err != nil {
			return nil, err
		}
		return placement{order: order, fingerprint: fingerprint}, nil
	})
	if err != nil {
		return nil, apierror.Translate(err)
	}

	result := v.(placement)
	if shared && result.fingerprint != fingerprint {
		return nil, conflict(intent.ClientOrderID)
	}
	return result.order, nil
}

func (s *Service) place(ctx context.Context, intent types.OrderIntent, fingerprint string) (*types.Order, error) {
	logger := log.With().
		Str("component", "trading").
		Str("client_order_id", intent.ClientOrderID).
		Str("product_id", intent.ProductID).
		Logger()

	if s.store != nil {
		record, err := s.store.GetIdempotencyRecord(intent.ClientOrderID)
		if err != nil {
			logger.Warn().Err(err).Msg("idempotency lookup failed, relying on exchange deduplication")
		}
		if record != nil {
			if record.Fingerprint != fingerprint {
				return nil, conflict(intent.ClientOrderID)
			}
			logger.Info().Str("order_id", record.OrderID).Msg("returning existing order for client_order_id")
			return s.client.GetOrder(ctx, record.OrderID)
		}
	}

	var (
		order *types.Order
		err   error
	)
	switch intent.OrderType {
	case types.OrderTypeLimit:
		order, err = s.client.PlaceLimitOrder(ctx, intent)
	default:
		order, err = s.client.PlaceMarketOrder(ctx, intent)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("order placement failed")
		return nil, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("side", string(intent.Side)).
		Str("order_type", string(intent.OrderType)).
		Str("status", string(order.Status)).
		Msg("order placed")

	if s.store != nil {
		record := &IdempotencyRecord{
			ClientOrderID: intent.ClientOrderID,
			OrderID:       order.OrderID,
			Fingerprint:   fingerprint,
		}
		if err := s.store.SaveIdempotencyRecord(record); err != nil {
			logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to record client_order_id")
		}
	}
	return order, nil
}

// GetOrder re-fetches the order from the exchange
func (s *Service) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apierror.Invalid("order id is required")
	}
	order, err := s.client.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	return order, nil
}

// ListOrders returns the exchange's orders matching filter
func (s *Service) ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	if filter.Side != "" && !filter.Side.Valid() {
		return nil, apierror.Invalid("invalid side %q: must be buy or sell", filter.Side)
	}
	for _, status := range filter.Statuses {
		switch status {
		case types.StatusPending, types.StatusOpen, types.StatusFilled, types.StatusCancelled, types.StatusRejected:
		default:
			return nil, apierror.Invalid("invalid order status %q", status)
		}
	}
	if filter.Limit < 0 || filter.Limit > maxListLimit {
		return nil, apierror.Invalid("limit must be between 0 and %d", maxListLimit)
	}

	orders, err := s.client.ListOrders(ctx, filter)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	if orders == nil {
		orders = []types.Order{}
	}
	return orders, nil
}

// CancelOrder asks the exchange to cancel orderID. A refusal (for example
// because the order is already terminal) is returned as a result, not an
// error; only an order the exchange does not know fails with NotFound.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*types.CancelResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apierror.Invalid("order id is required")
	}
	result, err := s.client.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	if !result.Success && result.FailureReason == exchange.CodeUnknownCancelOrder {
		return nil, apierror.New(apierror.NotFound, "order %s not found", orderID)
	}

	log.Info().
		Str("component", "trading").
		Str("order_id", orderID).
		Bool("success", result.Success).
		Str("failure_reason", result.FailureReason).
		Msg("cancel requested")
	return result, nil
}

func validateIntent(intent *types.OrderIntent) error {
	if !intent.Side.Valid() {
		return apierror.Invalid("invalid order side %q: must be buy or sell", intent.Side)
	}
	if !intent.OrderType.Valid() {
		return apierror.Invalid("invalid order type %q: must be market or limit", intent.OrderType)
	}

	intent.ClientOrderID = strings.TrimSpace(intent.ClientOrderID)
	if intent.ClientOrderID == "" {
		return apierror.Invalid("client_order_id is required")
	}
	intent.ProductID = strings.TrimSpace(intent.ProductID)
	if intent.ProductID == "" {
		return apierror.Invalid("product_id is required")
	}

	size, err := positiveDecimal("base_size", intent.BaseSize)
	if err != nil {
		return err
	}
	intent.BaseSize = size.String()

	switch intent.OrderType {
	case types.OrderTypeLimit:
		price, err := positiveDecimal("limit_price", intent.LimitPrice)
		if err != nil {
			return err
		}
		intent.LimitPrice = price.String()
	case types.OrderTypeMarket:
		if strings.TrimSpace(intent.LimitPrice) != "" {
			return apierror.Invalid("limit_price is only allowed on limit orders")
		}
		if intent.PostOnly {
			return apierror.Invalid("post_only is only allowed on limit orders")
		}
	}
	return nil
}

func positiveDecimal(field, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, apierror.Invalid("%s is required", field)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, apierror.Invalid("%s %q is not a valid decimal", field, value)
	}
	if !d.IsPositive() {
		return decimal.Zero, apierror.Invalid("%s must be greater than zero", field)
	}
	return d, nil
}

// fingerprintOf identifies the economic content of an already validated intent
func fingerprintOf(intent types.OrderIntent) string {
	return strings.Join([]string{
		intent.ProductID,
		string(intent.Side),
		string(intent.OrderType),
		intent.BaseSize,
		intent.LimitPrice,
		strconv.FormatBool(intent.PostOnly),
	}, "|")
}

func conflict(clientOrderID string) error {
	return apierror.Invalid("client_order_id %s was already used for a different order", clientOrderID)
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type marketOrderRequest struct {
	ClientOrderID string       `json:"client_order_id"`
	ProductID     string       `json:"product_id"`
	Side          string       `json:"side"`
	BaseSize      types.Amount `json:"base_size"`
}

type limitOrderRequest struct {
	ClientOrderID string       `json:"client_order_id"`
	ProductID     string       `json:"product_id"`
	Side          string       `json:"side"`
	BaseSize      types.Amount `json:"base_size"`
	LimitPrice    types.Amount `json:"limit_price"`
	PostOnly      bool         `json:"post_only"`
}

// PlaceMarketOrderHandler handles POST /order
func (h *GinHandlers) PlaceMarketOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req marketOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		order, err := h.service.PlaceOrder(c.Request.Context(), types.OrderIntent{
			ClientOrderID: req.ClientOrderID,
			ProductID:     req.ProductID,
			Side:          types.Side(req.Side),
			OrderType:     types.OrderTypeMarket,
			BaseSize:      req.BaseSize.String(),
		})
		response.Handle(c, order, err)
	}
}

// PlaceLimitOrderHandler handles POST /limit_order. Limit orders are always
// good-till-cancelled.
func (h *GinHandlers) PlaceLimitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req limitOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		order, err := h.service.PlaceOrder(c.Request.Context(), types.OrderIntent{
			ClientOrderID: req.ClientOrderID,
			ProductID:     req.ProductID,
			Side:          types.Side(req.Side),
			OrderType:     types.OrderTypeLimit,
			BaseSize:      req.BaseSize.String(),
			LimitPrice:    req.LimitPrice.String(),
			PostOnly:      req.PostOnly,
		})
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler handles GET /orders?product_id=&status=&side=&limit=
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter types.OrderFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			response.BadRequest(c, "invalid query: "+err.Error())
			return
		}

		orders, err := h.service.ListOrders(c.Request.Context(), filter)
		response.Handle(c, orders, err)
	}
}

// GetOrderHandler handles GET /orders/:id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Request.Context(), c.Param("id"))
		response.Handle(c, order, err)
	}
}

// CancelOrderHandler handles DELETE /orders/:id/cancel
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"))
		response.Handle(c, result, err)
	}
}
