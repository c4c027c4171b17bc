package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-gateway/internal/types"
)

type fakeCoinbase struct {
	*httptest.Server
	hits atomic.Int32
	last atomic.Value // *http.Request
	body atomic.Value // []byte
}

// newFakeCoinbase serves routes keyed by "METHOD path"
func newFakeCoinbase(t *testing.T, routes map[string]http.HandlerFunc) *fakeCoinbase {
	t.Helper()
	f := &fakeCoinbase{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.last.Store(r)
		f.body.Store(body)

		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"NOT_FOUND","message":"route not found"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestCoinbase(t *testing.T, f *fakeCoinbase, signed bool) *Coinbase {
	t.Helper()
	cfg := CoinbaseConfig{BaseURL: f.URL, Timeout: 5 * time.Second}
	if signed {
		secret, _ := ecKeyPEM(t)
		signer, err := NewSigner("key", secret)
		require.NoError(t, err)
		cfg.Signer = signer
	}
	c, err := NewCoinbase(cfg)
	require.NoError(t, err)
	return c
}

func TestCoinbaseGetAccountsPaginates(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"GET /api/v3/brokerage/accounts": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("cursor") == "" {
				writeJSON(w, http.StatusOK, map[string]any{
					"accounts": []map[string]any{{"uuid": "a1", "currency": "BTC", "available_balance": map[string]string{"value": "1.5", "currency": "BTC"}}},
					"has_next": true,
					"cursor":   "next",
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"accounts": []map[string]any{{"uuid": "a2", "currency": "USD"}},
				"has_next": false,
			})
		},
	})
	c := newTestCoinbase(t, f, true)

	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "1.5", accounts[0].AvailableBalance.Value)
	assert.Equal(t, "a2", accounts[1].UUID)
	assert.Equal(t, int32(2), f.hits.Load())

	req := f.last.Load().(*http.Request)
	assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Bearer "))
}

func TestCoinbasePlaceMarketOrder(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"POST /api/v3/brokerage/orders": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success":          true,
				"success_response": map[string]string{"order_id": "ex-1", "client_order_id": "abc"},
			})
		},
	})
	c := newTestCoinbase(t, f, false)

	order, err := c.PlaceMarketOrder(context.Background(), types.OrderIntent{
		ClientOrderID: "abc", ProductID: "BTC-USD", Side: types.SideBuy, OrderType: types.OrderTypeMarket, BaseSize: "0.01",
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", order.OrderID)
	assert.Equal(t, types.StatusPending, order.Status)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.body.Load().([]byte), &sent))
	assert.Equal(t, "abc", sent["client_order_id"])
	assert.Equal(t, "BUY", sent["side"])
	config := sent["order_configuration"].(map[string]any)
	assert.Contains(t, config, "market_market_ioc")
}

func TestCoinbasePlaceLimitOrderUsesGTC(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"POST /api/v3/brokerage/orders": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "order_id": "ex-2"})
		},
	})
	c := newTestCoinbase(t, f, false)

	order, err := c.PlaceLimitOrder(context.Background(), types.OrderIntent{
		ClientOrderID: "lim", ProductID: "BTC-USD", Side: types.SideSell, OrderType: types.OrderTypeLimit,
		BaseSize: "0.5", LimitPrice: "70000", PostOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-2", order.OrderID)
	assert.Equal(t, types.OrderTypeLimit, order.OrderType)

	var sent struct {
		OrderConfiguration struct {
			LimitLimitGTC *cbLimitGTC `json:"limit_limit_gtc"`
		} `json:"order_configuration"`
	}
	require.NoError(t, json.Unmarshal(f.body.Load().([]byte), &sent))
	require.NotNil(t, sent.OrderConfiguration.LimitLimitGTC)
	assert.Equal(t, "70000", sent.OrderConfiguration.LimitLimitGTC.LimitPrice)
	assert.True(t, sent.OrderConfiguration.LimitLimitGTC.PostOnly)
}

func TestCoinbaseOrderRejection(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"POST /api/v3/brokerage/orders": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success":        false,
				"failure_reason": "UNKNOWN_FAILURE_REASON",
				"error_response": map[string]string{
					"error":                    "INSUFFICIENT_FUND",
					"message":                  "Insufficient balance in source account",
					"preview_failure_reason":   "PREVIEW_INSUFFICIENT_FUND",
					"new_order_failure_reason": "",
				},
			})
		},
	})
	c := newTestCoinbase(t, f, false)

	_, err := c.PlaceMarketOrder(context.Background(), types.OrderIntent{ClientOrderID: "abc", ProductID: "BTC-USD", Side: types.SideBuy, BaseSize: "100"})
	var failure *OrderFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "PREVIEW_INSUFFICIENT_FUND", failure.Reason)
	assert.Equal(t, "Insufficient balance in source account", failure.Message)
}

func TestCoinbaseGetOrderMapsStatus(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"GET /api/v3/brokerage/orders/historical/ex-1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"order": map[string]any{
				"order_id":        "ex-1",
				"client_order_id": "abc",
				"product_id":      "BTC-USD",
				"side":            "BUY",
				"status":          "EXPIRED",
				"order_configuration": map[string]any{
					"limit_limit_gtc": map[string]any{"base_size": "1", "limit_price": "10"},
				},
				"created_time": "2024-01-02T03:04:05Z",
			}})
		},
	})
	c := newTestCoinbase(t, f, false)

	order, err := c.GetOrder(context.Background(), "ex-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, order.Status)
	assert.Equal(t, types.SideBuy, order.Side)
	assert.Equal(t, types.OrderTypeLimit, order.OrderType)
	assert.Equal(t, "10", order.LimitPrice)
	assert.Equal(t, 2024, order.CreatedTime.Year())
}

func TestCoinbaseNotFoundBecomesAPIError(t *testing.T) {
	f := newFakeCoinbase(t, nil)
	c := newTestCoinbase(t, f, false)

	_, err := c.GetOrder(context.Background(), "does-not-exist")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, CodeNotFound, apiErr.Code)
	assert.Equal(t, "route not found", apiErr.Message)
}

func TestCoinbaseV2ErrorShape(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"GET /v2/accounts/acc/transactions": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []map[string]string{{"id": "authentication_error", "message": "invalid signature"}}})
		},
	})
	c := newTestCoinbase(t, f, false)

	_, err := c.GetTransactions(context.Background(), "acc")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "AUTHENTICATION_ERROR", apiErr.Code)
	assert.Equal(t, "invalid signature", apiErr.Message)
}

func TestCoinbaseDoesNotRetry(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"GET /api/v3/brokerage/time": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "UNAVAILABLE", "message": "try later"})
		},
	})
	c := newTestCoinbase(t, f, false)

	_, err := c.GetServerTime(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestCoinbaseListOrdersStatusQuery(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"GET /api/v3/brokerage/orders/historical/batch": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"orders": []any{}})
		},
	})
	c := newTestCoinbase(t, f, false)
	ctx := context.Background()

	_, err := c.ListOrders(ctx, types.OrderFilter{Statuses: []types.OrderStatus{types.StatusOpen, types.StatusOpen}})
	require.NoError(t, err)
	assert.Equal(t, "order_status=OPEN", f.last.Load().(*http.Request).URL.RawQuery)

	_, err = c.ListOrders(ctx, types.OrderFilter{
		ProductID: "BTC-USD",
		Statuses:  []types.OrderStatus{types.StatusCancelled, types.StatusPending, types.StatusCancelled},
	})
	require.NoError(t, err)
	query := f.last.Load().(*http.Request).URL.Query()
	assert.Equal(t, []string{"CANCELLED", "EXPIRED", "PENDING", "QUEUED"}, query["order_status"])
	assert.Equal(t, "BTC-USD", query.Get("product_ids"))

	hits := f.hits.Load()
	_, err = c.ListOrders(ctx, types.OrderFilter{Statuses: []types.OrderStatus{types.StatusOpen, types.StatusFilled}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CodeInvalidArgument, apiErr.Code)
	assert.Equal(t, hits, f.hits.Load())
}

func TestCoinbaseCancelOrder(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"POST /api/v3/brokerage/orders/batch_cancel": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{
				{"success": false, "failure_reason": "UNKNOWN_CANCEL_ORDER", "order_id": "gone"},
			}})
		},
	})
	c := newTestCoinbase(t, f, false)

	result, err := c.CancelOrder(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, CodeUnknownCancelOrder, result.FailureReason)
	assert.JSONEq(t, `{"order_ids":["gone"]}`, string(f.body.Load().([]byte)))
}

func TestCoinbaseMarketData(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"GET /api/v3/brokerage/products/BTC-USD/candles": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "ONE_HOUR", r.URL.Query().Get("granularity"))
			writeJSON(w, http.StatusOK, map[string]any{"candles": []map[string]string{
				{"start": "1704067200", "low": "1", "high": "2", "open": "1.5", "close": "1.7", "volume": "10"},
			}})
		},
		"GET /api/v3/brokerage/products/BTC-USD/ticker": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{
				"trades":   []map[string]string{{"trade_id": "t1", "product_id": "BTC-USD", "price": "65000", "size": "0.1", "side": "BUY", "time": "2024-01-01T00:00:00Z"}},
				"best_bid": "64999",
				"best_ask": "65001",
			})
		},
		"GET /api/v3/brokerage/best_bid_ask": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, r.URL.Query()["product_ids"])
			writeJSON(w, http.StatusOK, map[string]any{"pricebooks": []map[string]any{
				{"product_id": "BTC-USD", "bids": []map[string]string{{"price": "1", "size": "2"}}, "asks": []map[string]string{}},
			}})
		},
		"GET /api/v3/brokerage/time": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"iso": "2024-01-01T00:00:00Z", "epochSeconds": "1704067200", "epochMillis": "1704067200000"})
		},
	})
	c := newTestCoinbase(t, f, false)
	ctx := context.Background()

	end := time.Unix(1704070800, 0)
	candles, err := c.GetCandles(ctx, "BTC-USD", types.TimeRange{Start: end.Add(-time.Hour), End: end}, types.OneHour)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1704067200), candles[0].Start.Unix())

	trades, err := c.GetMarketTrades(ctx, "BTC-USD", 5)
	require.NoError(t, err)
	require.Len(t, trades.Trades, 1)
	assert.Equal(t, "buy", trades.Trades[0].Side)
	assert.Equal(t, "64999", trades.BestBid)

	books, err := c.GetBestBidAsk(ctx, []string{"BTC-USD", "ETH-USD"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "1", books[0].Bids[0].Price)

	serverTime, err := c.GetServerTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200), serverTime.EpochSeconds)
}

func TestCoinbasePortfolios(t *testing.T) {
	f := newFakeCoinbase(t, map[string]http.HandlerFunc{
		"POST /api/v3/brokerage/portfolios": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"portfolio": map[string]any{"name": "Savings", "uuid": "p1", "type": "CONSUMER"}})
		},
		"POST /api/v3/brokerage/portfolios/move_funds": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"source_portfolio_uuid": "p1", "target_portfolio_uuid": "p2"})
		},
		"POST /api/v3/brokerage/convert/quote": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"trade": map[string]any{
				"id":              "q1",
				"status":          "TRADE_STATUS_CREATED",
				"total":           map[string]string{"value": "99", "currency": "USDC"},
				"exchange_rate":   map[string]string{"value": "1", "currency": "USDC"},
				"total_fee":       map[string]any{"amount": map[string]string{"value": "1", "currency": "USDC"}},
				"source_currency": "USD",
			}})
		},
	})
	c := newTestCoinbase(t, f, false)
	ctx := context.Background()

	portfolio, err := c.CreatePortfolio(ctx, "Savings")
	require.NoError(t, err)
	assert.Equal(t, "p1", portfolio.UUID)

	result, err := c.MoveFunds(ctx, types.FundsTransfer{SourcePortfolioID: "p1", DestinationPortfolioID: "p2", Amount: "10", Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "p2", result.DestinationPortfolioID)
	assert.JSONEq(t, `{"funds":{"value":"10","currency":"USD"},"source_portfolio_uuid":"p1","target_portfolio_uuid":"p2"}`, string(f.body.Load().([]byte)))

	quote, err := c.CreateConvertQuote(ctx, "USD", "USDC", "100")
	require.NoError(t, err)
	assert.Equal(t, "q1", quote.TradeID)
	assert.Equal(t, "USDC", quote.ToCurrency)
	assert.Equal(t, "1", quote.TotalFee.Value)
}

func TestNewCoinbaseRejectsBadURL(t *testing.T) {
	_, err := NewCoinbase(CoinbaseConfig{BaseURL: "://nope"})
	assert.Error(t, err)
}
