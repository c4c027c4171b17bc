package market

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/types"
	"github.com/ksred/klear-gateway/pkg/response"
)

const (
	defaultCandleWindow = 30 * 24 * time.Hour
	maxCandles          = 350
	defaultTradeLimit   = 5
	maxTradeLimit       = 1000
)

// Service serves public market data from the exchange
type Service struct {
	client exchange.Client
	now    func() time.Time
}

// NewService creates a market data service backed by client
func NewService(client exchange.Client) *Service {
	return &Service{client: client, now: time.Now}
}

// GetCandles returns candles for productID. A zero window means the last
// 30 days; an empty granularity means ONE_DAY.
func (s *Service) GetCandles(ctx context.Context, productID string, window types.TimeRange, granularity types.Granularity) ([]types.Candle, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apierror.Invalid("product_id is required")
	}
	if granularity == "" {
		granularity = types.OneDay
	}
	if !granularity.Valid() {
		return nil, apierror.Invalid("invalid granularity %q", granularity)
	}
	if window.End.IsZero() {
		window.End = s.now()
	}
	if window.Start.IsZero() {
		window.Start = window.End.Add(-defaultCandleWindow)
	}
	if !window.Start.Before(window.End) {
		return nil, apierror.Invalid("start must be before end")
	}
	if window.End.Sub(window.Start)/granularity.Duration() > maxCandles {
		return nil, apierror.Invalid("window spans more than %d %s candles", maxCandles, granularity)
	}

	candles, err := s.client.GetCandles(ctx, productID, window, granularity)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	if candles == nil {
		candles = []types.Candle{}
	}
	return candles, nil
}

// GetMarketTrades returns up to limit recent trades; zero means the default of 5
func (s *Service) GetMarketTrades(ctx context.Context, productID string, limit int) (*types.MarketTrades, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apierror.Invalid("product_id is required")
	}
	if limit == 0 {
		limit = defaultTradeLimit
	}
	if limit < 0 || limit > maxTradeLimit {
		return nil, apierror.Invalid("limit must be between 1 and %d", maxTradeLimit)
	}
	trades, err := s.client.GetMarketTrades(ctx, productID, limit)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	return trades, nil
}

// GetBestBidAsk returns the top of book for each product in productIDs
func (s *Service) GetBestBidAsk(ctx context.Context, productIDs []string) ([]types.PriceBook, error) {
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, apierror.Invalid("at least one product_id is required")
	}
	books, err := s.client.GetBestBidAsk(ctx, ids)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	if len(books) == 0 {
		return nil, apierror.New(apierror.NotFound, "no price book for %s", strings.Join(ids, ","))
	}
	return books, nil
}

// GetServerTime returns the exchange clock
func (s *Service) GetServerTime(ctx context.Context) (*types.ServerTime, error) {
	serverTime, err := s.client.GetServerTime(ctx)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	return serverTime, nil
}

// parseTime accepts RFC3339, unix seconds or a YYYY-MM-DD date (UTC midnight)
func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, apierror.Invalid("%s %q must be RFC3339, unix seconds or YYYY-MM-DD", field, value)
}

// GinHandlers contains HTTP handlers for market data endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the market data HTTP handlers
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetCandlesHandler handles GET /candles/:product_id?start=&end=&granularity=
func (h *GinHandlers) GetCandlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, err := parseTime("start", c.Query("start"))
		if err != nil {
			response.Error(c, err)
			return
		}
		end, err := parseTime("end", c.Query("end"))
		if err != nil {
			response.Error(c, err)
			return
		}
		granularity := types.Granularity(strings.ToUpper(c.Query("granularity")))

		candles, err := h.service.GetCandles(c.Request.Context(), c.Param("product_id"), types.TimeRange{Start: start, End: end}, granularity)
		response.Handle(c, candles, err)
	}
}

// GetMarketTradesHandler handles GET /trades/:product_id?limit=
func (h *GinHandlers) GetMarketTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				response.BadRequest(c, "limit must be an integer")
				return
			}
			limit = n
		}
		trades, err := h.service.GetMarketTrades(c.Request.Context(), c.Param("product_id"), limit)
		response.Handle(c, trades, err)
	}
}

// GetBestBidAskHandler handles GET /best_bid_ask/:product_id. Several
// products may be requested as a comma separated list.
func (h *GinHandlers) GetBestBidAskHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := h.service.GetBestBidAsk(c.Request.Context(), strings.Split(c.Param("product_id"), ","))
		response.Handle(c, books, err)
	}
}

// GetServerTimeHandler handles GET /server_time
func (h *GinHandlers) GetServerTimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		serverTime, err := h.service.GetServerTime(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"server_time": serverTime})
	}
}
