package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-gateway/internal/types"
)

const (
	maxPaperCandles  = 350
	defaultPortfolio = "default"
)

// PaperConfig seeds the simulated exchange
type PaperConfig struct {
	MarkPrices map[string]string `yaml:"mark_prices"` // product id -> price in quote currency
	Balances   map[string]string `yaml:"balances"`    // currency -> starting balance
}

// DefaultPaperConfig is enough to exercise every endpoint locally
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		MarkPrices: map[string]string{"BTC-USD": "65000", "ETH-USD": "3200", "SOL-USD": "150"},
		Balances:   map[string]string{"USD": "100000", "BTC": "1", "ETH": "10"},
	}
}

type paperAccount struct {
	account types.Account
	balance decimal.Decimal
	txns    []types.Transaction
}

type paperPortfolio struct {
	portfolio types.Portfolio
	funds     map[string]decimal.Decimal
}

// Paper simulates an exchange in memory: market orders fill at the mark
// price, limit orders rest until cancelled. It follows the same contract
// as the live adapter, including client_order_id dedupe and failure shapes.
type Paper struct {
	mu         sync.Mutex
	marks      map[string]decimal.Decimal
	accounts   map[string]*paperAccount // keyed by currency
	orders     map[string]*types.Order
	byClientID map[string]string
	trades     map[string][]types.Trade
	portfolios map[string]*paperPortfolio
	creations  int
	now        func() time.Time
}

// NewPaper builds a paper exchange from cfg
func NewPaper(cfg PaperConfig) (*Paper, error) {
	p := &Paper{
		marks:      make(map[string]decimal.Decimal),
		accounts:   make(map[string]*paperAccount),
		orders:     make(map[string]*types.Order),
		byClientID: make(map[string]string),
		trades:     make(map[string][]types.Trade),
		portfolios: make(map[string]*paperPortfolio),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for product, price := range cfg.MarkPrices {
		d, err := decimal.NewFromString(price)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("paper exchange: invalid mark price %q for %s", price, product)
		}
		p.marks[product] = d
	}

	funds := make(map[string]decimal.Decimal)
	for currency, amount := range cfg.Balances {
		d, err := decimal.NewFromString(amount)
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("paper exchange: invalid balance %q for %s", amount, currency)
		}
		p.account(currency).balance = d
		funds[currency] = d
	}
	p.portfolios[defaultPortfolio] = &paperPortfolio{
		portfolio: types.Portfolio{UUID: defaultPortfolio, Name: "Default", Type: "DEFAULT"},
		funds:     funds,
	}
	return p, nil
}

// Creations counts orders actually created, ignoring deduplicated resubmissions
func (p *Paper) Creations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creations
}

// SetOrderStatus forces an order into a state, as the exchange would when it matches or expires
func (p *Paper) SetOrderStatus(orderID string, status types.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return notFound("/orders/historical/"+orderID, "order "+orderID+" not found")
	}
	order.Status = status
	return nil
}

func notFound(path, message string) *APIError {
	return &APIError{StatusCode: http.StatusNotFound, Code: CodeNotFound, Message: message, Path: path}
}

func invalid(path, message string) *APIError {
	return &APIError{StatusCode: http.StatusBadRequest, Code: CodeInvalidArgument, Message: message, Path: path}
}

// account returns the account for currency, opening it on first use. Callers hold p.mu.
func (p *Paper) account(currency string) *paperAccount {
	if a, ok := p.accounts[currency]; ok {
		return a
	}
	a := &paperAccount{
		account: types.Account{
			UUID:     uuid.NewString(),
			Name:     currency + " Wallet",
			Currency: currency,
			Type:     "ACCOUNT_TYPE_CRYPTO",
			Active:   true,
			Ready:    true,
		},
		balance: decimal.Zero,
	}
	if currency == "USD" {
		a.account.Type = "ACCOUNT_TYPE_FIAT"
	}
	a.account.CreatedAt = p.now()
	p.accounts[currency] = a
	return a
}

func (p *Paper) accountByID(id string) (*paperAccount, bool) {
	for _, a := range p.accounts {
		if a.account.UUID == id {
			return a, true
		}
	}
	return nil, false
}

func (a *paperAccount) snapshot() types.Account {
	out := a.account
	out.AvailableBalance = types.Balance{Value: a.balance.String(), Currency: a.account.Currency}
	out.Hold = types.Balance{Value: "0", Currency: a.account.Currency}
	return out
}

func (p *Paper) GetAccounts(ctx context.Context) ([]types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	accounts := make([]types.Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		accounts = append(accounts, a.snapshot())
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Currency < accounts[j].Currency })
	return accounts, nil
}

func (p *Paper) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accountByID(accountID)
	if !ok {
		return nil, notFound("/accounts/"+accountID, "account "+accountID+" not found")
	}
	snap := a.snapshot()
	return &snap, nil
}

func (p *Paper) PlaceMarketOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	return p.place(intent, types.OrderTypeMarket)
}

func (p *Paper) PlaceLimitOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error) {
	return p.place(intent, types.OrderTypeLimit)
}

func (p *Paper) place(intent types.OrderIntent, orderType types.OrderType) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The exchange answers a resubmitted client_order_id with the original order
	if id, ok := p.byClientID[intent.ClientOrderID]; ok {
		existing := *p.orders[id]
		existing.Status = types.StatusPending
		return &existing, nil
	}

	mark, ok := p.marks[intent.ProductID]
	if !ok {
		return nil, &OrderFailure{ClientOrderID: intent.ClientOrderID, Reason: "INVALID_PRODUCT_ID", Message: "unknown product " + intent.ProductID}
	}
	size, err := decimal.NewFromString(intent.BaseSize)
	if err != nil || !size.IsPositive() {
		return nil, &OrderFailure{ClientOrderID: intent.ClientOrderID, Reason: "INVALID_SIZE_PRECISION", Message: "invalid base size"}
	}

	order := &types.Order{
		OrderID:       uuid.NewString(),
		ClientOrderID: intent.ClientOrderID,
		ProductID:     intent.ProductID,
		Side:          intent.Side,
		OrderType:     orderType,
		BaseSize:      intent.BaseSize,
		LimitPrice:    intent.LimitPrice,
		Status:        types.StatusPending,
		CreatedTime:   p.now(),
	}

	if orderType == types.OrderTypeMarket {
		if err := p.fill(order, size, mark); err != nil {
			return nil, err
		}
	} else {
		order.Status = types.StatusOpen
	}

	p.orders[order.OrderID] = order
	p.byClientID[order.ClientOrderID] = order.OrderID
	p.creations++

	log.Debug().
		Str("component", "paper_exchange").
		Str("order_id", order.OrderID).
		Str("client_order_id", order.ClientOrderID).
		Str("status", string(order.Status)).
		Msg("paper order accepted")

	accepted := *order
	accepted.Status = types.StatusPending
	return &accepted, nil
}

// fill settles a market order against balances. Callers hold p.mu.
func (p *Paper) fill(order *types.Order, size, price decimal.Decimal) error {
	base, quote, ok := strings.Cut(order.ProductID, "-")
	if !ok {
		return &OrderFailure{ClientOrderID: order.ClientOrderID, Reason: "INVALID_PRODUCT_ID"}
	}
	notional := size.Mul(price)
	baseAcct, quoteAcct := p.account(base), p.account(quote)

	debit, credit := quoteAcct, baseAcct
	debitAmt, creditAmt := notional, size
	if order.Side == types.SideSell {
		debit, credit = baseAcct, quoteAcct
		debitAmt, creditAmt = size, notional
	}
	if debit.balance.LessThan(debitAmt) {
		return &OrderFailure{ClientOrderID: order.ClientOrderID, Reason: "INSUFFICIENT_FUND", Message: "insufficient " + debit.account.Currency}
	}
	debit.balance = debit.balance.Sub(debitAmt)
	credit.balance = credit.balance.Add(creditAmt)

	now := p.now()
	p.record(debit, "trade", debitAmt.Neg(), now)
	p.record(credit, "trade", creditAmt, now)

	p.trades[order.ProductID] = append(p.trades[order.ProductID], types.Trade{
		TradeID:   uuid.NewString(),
		ProductID: order.ProductID,
		Price:     price.String(),
		Size:      size.String(),
		Side:      string(order.Side),
		Time:      now,
	})

	order.Status = types.StatusFilled
	order.FilledSize = size.String()
	order.AverageFilledPrice = price.String()
	order.TotalFees = "0"
	return nil
}

func (p *Paper) record(a *paperAccount, kind string, amount decimal.Decimal, at time.Time) {
	a.txns = append(a.txns, types.Transaction{
		ID:        uuid.NewString(),
		AccountID: a.account.UUID,
		Type:      kind,
		Status:    "completed",
		Amount:    amount.String(),
		Currency:  a.account.Currency,
		CreatedAt: at,
	})
}

func (p *Paper) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return nil, notFound("/orders/historical/"+orderID, "order "+orderID+" not found")
	}
	out := *order
	return &out, nil
}

func (p *Paper) ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error) {
	if _, ok := orderStatusQuery(filter.Statuses); !ok {
		return nil, invalid("/orders/historical/batch", "status open cannot be combined with other statuses")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := make([]types.Order, 0, len(p.orders))
	for _, o := range p.orders {
		if filter.ProductID != "" && o.ProductID != filter.ProductID {
			continue
		}
		if filter.Side != "" && o.Side != filter.Side {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, o.Status) {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedTime.After(orders[j].CreatedTime) })
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func containsStatus(statuses []types.OrderStatus, s types.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) (*types.CancelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return &types.CancelResult{OrderID: orderID, FailureReason: CodeUnknownCancelOrder}, nil
	}
	if !order.Status.CanTransition(types.StatusCancelled) {
		return &types.CancelResult{OrderID: orderID, FailureReason: "INVALID_CANCEL_REQUEST"}, nil
	}
	order.Status = types.StatusCancelled
	return &types.CancelResult{OrderID: orderID, Success: true}, nil
}

func (p *Paper) GetTransactions(ctx context.Context, accountID string) ([]types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accountByID(accountID)
	if !ok {
		return nil, notFound("/v2/accounts/"+accountID+"/transactions", "account "+accountID+" not found")
	}
	return append([]types.Transaction{}, a.txns...), nil
}

func (p *Paper) GetTransaction(ctx context.Context, accountID, transactionID string) (*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := "/v2/accounts/" + accountID + "/transactions/" + transactionID
	a, ok := p.accountByID(accountID)
	if !ok {
		return nil, notFound(path, "account "+accountID+" not found")
	}
	for _, t := range a.txns {
		if t.ID == transactionID {
			out := t
			return &out, nil
		}
	}
	return nil, notFound(path, "transaction "+transactionID+" not found")
}

func (p *Paper) GetCandles(ctx context.Context, productID string, window types.TimeRange, granularity types.Granularity) ([]types.Candle, error) {
	p.mu.Lock()
	mark, ok := p.marks[productID]
	p.mu.Unlock()

	path := "/products/" + productID + "/candles"
	if !ok {
		return nil, notFound(path, "product "+productID+" not found")
	}
	width := granularity.Duration()
	if width == 0 {
		return nil, invalid(path, "unsupported granularity "+string(granularity))
	}
	if !window.End.After(window.Start) {
		return nil, invalid(path, "end must be after start")
	}
	if window.End.Sub(window.Start)/width > maxPaperCandles {
		return nil, invalid(path, fmt.Sprintf("requested more than %d candles", maxPaperCandles))
	}

	price := mark.String()
	var candles []types.Candle
	for start := window.Start.Truncate(width); start.Before(window.End); start = start.Add(width) {
		candles = append(candles, types.Candle{Start: start, Low: price, High: price, Open: price, Close: price, Volume: "0"})
	}
	// newest first, as the exchange returns them
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (p *Paper) GetMarketTrades(ctx context.Context, productID string, limit int) (*types.MarketTrades, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mark, ok := p.marks[productID]
	if !ok {
		return nil, notFound("/products/"+productID+"/ticker", "product "+productID+" not found")
	}
	if limit < 0 {
		limit = 0
	}
	history := p.trades[productID]
	trades := make([]types.Trade, 0, limit)
	for i := len(history) - 1; i >= 0 && len(trades) < limit; i-- {
		trades = append(trades, history[i])
	}
	return &types.MarketTrades{Trades: trades, BestBid: mark.String(), BestAsk: mark.String()}, nil
}

func (p *Paper) GetBestBidAsk(ctx context.Context, productIDs []string) ([]types.PriceBook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	books := make([]types.PriceBook, 0, len(productIDs))
	for _, id := range productIDs {
		mark, ok := p.marks[id]
		if !ok {
			continue
		}
		level := []types.PriceLevel{{Price: mark.String(), Size: "1"}}
		books = append(books, types.PriceBook{ProductID: id, Bids: level, Asks: level, Time: p.now()})
	}
	return books, nil
}

func (p *Paper) GetServerTime(ctx context.Context) (*types.ServerTime, error) {
	now := p.now()
	return &types.ServerTime{ISO: now.Format(time.RFC3339Nano), EpochSeconds: now.Unix(), EpochMillis: now.UnixMilli()}, nil
}

func (p *Paper) CreatePortfolio(ctx context.Context, name string) (*types.Portfolio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.portfolios {
		if existing.portfolio.Name == name {
			return nil, invalid("/portfolios", "portfolio "+name+" already exists")
		}
	}
	pf := &paperPortfolio{
		portfolio: types.Portfolio{UUID: uuid.NewString(), Name: name, Type: "CONSUMER"},
		funds:     make(map[string]decimal.Decimal),
	}
	p.portfolios[pf.portfolio.UUID] = pf
	out := pf.portfolio
	return &out, nil
}

// Portfolio reports a portfolio with its current funds
func (p *Paper) Portfolio(id string) (*types.Portfolio, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf, ok := p.portfolios[id]
	if !ok {
		return nil, false
	}
	out := pf.portfolio
	for currency, amount := range pf.funds {
		out.Funds = append(out.Funds, types.Balance{Value: amount.String(), Currency: currency})
	}
	sort.Slice(out.Funds, func(i, j int) bool { return out.Funds[i].Currency < out.Funds[j].Currency })
	return &out, true
}

func (p *Paper) MoveFunds(ctx context.Context, transfer types.FundsTransfer) (*types.FundsTransferResult, error) {
	const path = "/portfolios/move_funds"
	p.mu.Lock()
	defer p.mu.Unlock()

	src, ok := p.portfolios[transfer.SourcePortfolioID]
	if !ok {
		return nil, notFound(path, "portfolio "+transfer.SourcePortfolioID+" not found")
	}
	dst, ok := p.portfolios[transfer.DestinationPortfolioID]
	if !ok {
		return nil, notFound(path, "portfolio "+transfer.DestinationPortfolioID+" not found")
	}
	amount, err := decimal.NewFromString(transfer.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, invalid(path, "invalid amount "+transfer.Amount)
	}
	if src.funds[transfer.Currency].LessThan(amount) {
		return nil, invalid(path, "insufficient "+transfer.Currency+" in source portfolio")
	}

	src.funds[transfer.Currency] = src.funds[transfer.Currency].Sub(amount)
	dst.funds[transfer.Currency] = dst.funds[transfer.Currency].Add(amount)

	return &types.FundsTransferResult{
		SourcePortfolioID:      transfer.SourcePortfolioID,
		DestinationPortfolioID: transfer.DestinationPortfolioID,
	}, nil
}

// rate prices one unit of from in to, directly, inverted, or through USD. Callers hold p.mu.
func (p *Paper) rate(from, to string) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if mark, ok := p.marks[from+"-"+to]; ok {
		return mark, true
	}
	if mark, ok := p.marks[to+"-"+from]; ok {
		return decimal.NewFromInt(1).Div(mark), true
	}
	if from != "USD" && to != "USD" {
		fromUSD, ok1 := p.rate(from, "USD")
		usdTo, ok2 := p.rate("USD", to)
		if ok1 && ok2 {
			return fromUSD.Mul(usdTo), true
		}
	}
	return decimal.Zero, false
}

func (p *Paper) CreateConvertQuote(ctx context.Context, fromCurrency, toCurrency, amount string) (*types.ConvertQuote, error) {
	const path = "/convert/quote"
	p.mu.Lock()
	defer p.mu.Unlock()

	qty, err := decimal.NewFromString(amount)
	if err != nil || !qty.IsPositive() {
		return nil, invalid(path, "invalid amount "+amount)
	}
	rate, ok := p.rate(fromCurrency, toCurrency)
	if !ok {
		return nil, invalid(path, fmt.Sprintf("no conversion from %s to %s", fromCurrency, toCurrency))
	}
	total := qty.Mul(rate).Round(8)
	return &types.ConvertQuote{
		TradeID:      uuid.NewString(),
		Status:       "TRADE_STATUS_CREATED",
		FromCurrency: fromCurrency,
		ToCurrency:   toCurrency,
		Amount:       types.Balance{Value: qty.String(), Currency: fromCurrency},
		Subtotal:     types.Balance{Value: total.String(), Currency: toCurrency},
		Total:        types.Balance{Value: total.String(), Currency: toCurrency},
		TotalFee:     types.Balance{Value: "0", Currency: toCurrency},
		ExchangeRate: types.Balance{Value: rate.Round(8).String(), Currency: toCurrency},
	}, nil
}
