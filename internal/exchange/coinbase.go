package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-gateway/internal/types"
)

const (
	DefaultBaseURL = "https://api.coinbase.com"
	brokeragePath  = "/api/v3/brokerage"
	pageLimit      = 250
)

// CoinbaseConfig configures the REST adapter
type CoinbaseConfig struct {
	BaseURL string
	Timeout time.Duration
	Signer  *Signer
}

// Coinbase talks to the Coinbase Advanced Trade REST API.
// It holds no state besides the HTTP client and credentials.
type Coinbase struct {
	rest   *resty.Client
	host   string
	signer *Signer
}

// NewCoinbase creates the REST adapter. Retries are disabled: every failure
// is surfaced to the caller exactly once.
func NewCoinbase(cfg CoinbaseConfig) (*Coinbase, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, errors.Errorf("invalid exchange base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "klear-gateway")

	return &Coinbase{rest: client, host: parsed.Host, signer: cfg.Signer}, nil
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
}

func (c *Coinbase) do(ctx context.Context, req call) error {
	r := c.rest.R().SetContext(ctx)
	if req.query != nil {
		r.SetQueryParamsFromValues(req.query)
	}
	if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}
	if req.out != nil {
		r.SetResult(req.out)
	}
	var apiErr errorBody
	r.SetError(&apiErr)

	if c.signer != nil {
		token, err := c.signer.RequestToken(req.method, c.host, req.path)
		if err != nil {
			return errors.Wrap(err, "sign request")
		}
		r.SetAuthToken(token)
	}

	started := time.Now()
	resp, err := r.Execute(req.method, req.path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.method, req.path)
	}

	log.Debug().
		Str("component", "coinbase").
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(started)).
		Msg("exchange call completed")

	if resp.IsError() {
		message := apiErr.message()
		if message == "" {
			message = strings.TrimSpace(string(resp.Body()))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode())
		}
		return &APIError{
			StatusCode: resp.StatusCode(),
			Code:       apiErr.code(),
			Message:    message,
			Path:       req.path,
		}
	}
	return nil
}

func brokerage(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return brokeragePath + fmt.Sprintf(format, escaped...)
}

// GetAccounts walks every page of the account listing
func (c *Coinbase) GetAccounts(ctx context.Context) ([]types.Account, error) {
	accounts := make([]types.Account, 0)
	cursor := ""
	for {
		query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var page cbAccountsResponse
		if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/accounts"), query: query, out: &page}); err != nil {
			return nil, err
		}
		for _, a := range page.Accounts {
			accounts = append(accounts, a.toAccount())
		}
		if !page.HasNext || page.Cursor == "" {
			return accounts, nil
		}
		cursor = page.Cursor
	}
}

func (c *Coinbase) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	var out cbAccountResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/accounts/%s", accountID), out: &out}); err != nil {
		return nil, err
	}
	account := out.Account.toAccount()
	return &account, nil
}

// PlaceMarketOrder submits an immediate-or-cancel market order sized in base currency
func (c *Coinbase) PlaceMarketOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	return c.createOrder(ctx, intent, cbOrderConfiguration{
		MarketMarketIOC: &cbMarketIOC{BaseSize: intent.BaseSize},
	})
}

// PlaceLimitOrder submits a good-till-cancelled limit order
func (c *Coinbase) PlaceLimitOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	return c.createOrder(ctx, intent, cbOrderConfiguration{
		LimitLimitGTC: &cbLimitGTC{BaseSize: intent.BaseSize, LimitPrice: intent.LimitPrice, PostOnly: intent.PostOnly},
	})
}

func (c *Coinbase) createOrder(ctx context.Context, intent types.OrderIntent, config cbOrderConfiguration) (*types.Order, error) {
	req := cbCreateOrderRequest{
		ClientOrderID:      intent.ClientOrderID,
		ProductID:          intent.ProductID,
		Side:               strings.ToUpper(string(intent.Side)),
		OrderConfiguration: config,
	}

	var out cbCreateOrderResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: brokerage("/orders"), body: req, out: &out}); err != nil {
		return nil, err
	}

	if !out.Success {
		failure := &OrderFailure{ClientOrderID: intent.ClientOrderID, Reason: out.FailureReason}
		if e := out.ErrorResponse; e != nil {
			failure.Message = e.Message
			for _, reason := range []string{e.NewOrderFailureReason, e.PreviewFailureReason, e.Error} {
				if reason != "" {
					failure.Reason = reason
					break
				}
			}
		}
		return nil, failure
	}

	orderID := out.OrderID
	if out.SuccessResponse != nil && out.SuccessResponse.OrderID != "" {
		orderID = out.SuccessResponse.OrderID
	}

	orderType := types.OrderTypeMarket
	if config.LimitLimitGTC != nil {
		orderType = types.OrderTypeLimit
	}
	return &types.Order{
		OrderID:       orderID,
		ClientOrderID: intent.ClientOrderID,
		ProductID:     intent.ProductID,
		Side:          intent.Side,
		OrderType:     orderType,
		BaseSize:      intent.BaseSize,
		LimitPrice:    intent.LimitPrice,
		Status:        types.StatusPending,
		CreatedTime:   time.Now().UTC(),
	}, nil
}

func (c *Coinbase) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var out cbOrderResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/orders/historical/%s", orderID), out: &out}); err != nil {
		return nil, err
	}
	order := out.Order.toOrder()
	return &order, nil
}

func (c *Coinbase) ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	query := url.Values{}
	if filter.ProductID != "" {
		query.Add("product_ids", filter.ProductID)
	}
	statuses, ok := orderStatusQuery(filter.Statuses)
	if !ok {
		return nil, invalid(brokerage("/orders/historical/batch"), "status open cannot be combined with other statuses")
	}
	for _, upstream := range statuses {
		query.Add("order_status", upstream)
	}
	if filter.Side != "" {
		query.Set("order_side", strings.ToUpper(string(filter.Side)))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out cbOrdersResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/orders/historical/batch"), query: query, out: &out}); err != nil {
		return nil, err
	}
	orders := make([]types.Order, 0, len(out.Orders))
	for _, o := range out.Orders {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

func (c *Coinbase) CancelOrder(ctx context.Context, orderID string) (*types.CancelResult, error) {
	body := map[string][]string{"order_ids": {orderID}}

	var out cbCancelResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: brokerage("/orders/batch_cancel"), body: body, out: &out}); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, errors.Errorf("cancel %s: exchange returned no result", orderID)
	}
	r := out.Results[0]
	if r.OrderID == "" {
		r.OrderID = orderID
	}
	return &types.CancelResult{OrderID: r.OrderID, Success: r.Success, FailureReason: r.FailureReason}, nil
}

// GetTransactions reads the account ledger from the v2 API
func (c *Coinbase) GetTransactions(ctx context.Context, accountID string) ([]types.Transaction, error) {
	path := "/v2/accounts/" + url.PathEscape(accountID) + "/transactions"
	var out cbTransactionsResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: path, out: &out}); err != nil {
		return nil, err
	}
	txns := make([]types.Transaction, 0, len(out.Data))
	for _, t := range out.Data {
		txns = append(txns, t.toTransaction(accountID))
	}
	return txns, nil
}

func (c *Coinbase) GetTransaction(ctx context.Context, accountID, transactionID string) (*types.Transaction, error) {
	path := "/v2/accounts/" + url.PathEscape(accountID) + "/transactions/" + url.PathEscape(transactionID)
	var out cbTransactionResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: path, out: &out}); err != nil {
		return nil, err
	}
	txn := out.Data.toTransaction(accountID)
	return &txn, nil
}

func (c *Coinbase) GetCandles(ctx context.Context, productID string, window types.TimeRange, granularity types.Granularity) ([]types.Candle, error) {
	query := url.Values{
		"start":       {strconv.FormatInt(window.Start.Unix(), 10)},
		"end":         {strconv.FormatInt(window.End.Unix(), 10)},
		"granularity": {string(granularity)},
	}
	var out cbCandlesResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/products/%s/candles", productID), query: query, out: &out}); err != nil {
		return nil, err
	}
	candles := make([]types.Candle, 0, len(out.Candles))
	for _, cd := range out.Candles {
		candles = append(candles, types.Candle{
			Start:  parseTime(cd.Start),
			Low:    cd.Low,
			High:   cd.High,
			Open:   cd.Open,
			Close:  cd.Close,
			Volume: cd.Volume,
		})
	}
	return candles, nil
}

func (c *Coinbase) GetMarketTrades(ctx context.Context, productID string, limit int) (*types.MarketTrades, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	var out cbTickerResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/products/%s/ticker", productID), query: query, out: &out}); err != nil {
		return nil, err
	}
	result := &types.MarketTrades{Trades: make([]types.Trade, 0, len(out.Trades)), BestBid: out.BestBid, BestAsk: out.BestAsk}
	for _, t := range out.Trades {
		result.Trades = append(result.Trades, types.Trade{
			TradeID:   t.TradeID,
			ProductID: t.ProductID,
			Price:     t.Price,
			Size:      t.Size,
			Side:      strings.ToLower(t.Side),
			Time:      parseTime(t.Time),
		})
	}
	return result, nil
}

func (c *Coinbase) GetBestBidAsk(ctx context.Context, productIDs []string) ([]types.PriceBook, error) {
	query := url.Values{"product_ids": productIDs}
	var out cbBestBidAskResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/best_bid_ask"), query: query, out: &out}); err != nil {
		return nil, err
	}
	books := make([]types.PriceBook, 0, len(out.PriceBooks))
	for _, b := range out.PriceBooks {
		books = append(books, types.PriceBook{ProductID: b.ProductID, Bids: b.Bids, Asks: b.Asks, Time: parseTime(b.Time)})
	}
	return books, nil
}

func (c *Coinbase) GetServerTime(ctx context.Context) (*types.ServerTime, error) {
	var out cbTimeResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: brokerage("/time"), out: &out}); err != nil {
		return nil, err
	}
	secs, _ := strconv.ParseInt(out.EpochSeconds, 10, 64)
	millis, _ := strconv.ParseInt(out.EpochMillis, 10, 64)
	return &types.ServerTime{ISO: out.ISO, EpochSeconds: secs, EpochMillis: millis}, nil
}

func (c *Coinbase) CreatePortfolio(ctx context.Context, name string) (*types.Portfolio, error) {
	var out cbPortfolioResponse
	body := map[string]string{"name": name}
	if err := c.do(ctx, call{method: http.MethodPost, path: brokerage("/portfolios"), body: body, out: &out}); err != nil {
		return nil, err
	}
	p := out.Portfolio
	return &types.Portfolio{UUID: p.UUID, Name: p.Name, Type: p.Type, Deleted: p.Deleted}, nil
}

// MoveFunds transfers between portfolios; the exchange debits and credits atomically
func (c *Coinbase) MoveFunds(ctx context.Context, transfer types.FundsTransfer) (*types.FundsTransferResult, error) {
	body := cbMoveFundsRequest{
		Funds:               cbBalance{Value: transfer.Amount, Currency: transfer.Currency},
		SourcePortfolioUUID: transfer.SourcePortfolioID,
		TargetPortfolioUUID: transfer.DestinationPortfolioID,
	}
	var out cbMoveFundsResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: brokerage("/portfolios/move_funds"), body: body, out: &out}); err != nil {
		return nil, err
	}
	return &types.FundsTransferResult{
		SourcePortfolioID:      out.SourcePortfolioUUID,
		DestinationPortfolioID: out.TargetPortfolioUUID,
	}, nil
}

func (c *Coinbase) CreateConvertQuote(ctx context.Context, fromCurrency, toCurrency, amount string) (*types.ConvertQuote, error) {
	body := cbConvertQuoteRequest{FromAccount: fromCurrency, ToAccount: toCurrency, Amount: amount}
	var out cbConvertQuoteResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: brokerage("/convert/quote"), body: body, out: &out}); err != nil {
		return nil, err
	}
	t := out.Trade
	from, to := t.SourceCurrency, t.TargetCurrency
	if from == "" {
		from = fromCurrency
	}
	if to == "" {
		to = toCurrency
	}
	return &types.ConvertQuote{
		TradeID:      t.ID,
		Status:       t.Status,
		FromCurrency: from,
		ToCurrency:   to,
		Amount:       types.Balance(t.UserEnteredAmount),
		Subtotal:     types.Balance(t.Subtotal),
		Total:        types.Balance(t.Total),
		TotalFee:     types.Balance(t.TotalFee.Amount),
		ExchangeRate: types.Balance(t.ExchangeRate),
	}, nil
}
