package exchange

import (
	"strconv"
	"strings"
	"time"

	"github.com/ksred/klear-gateway/internal/types"
)

// Wire formats of the Advanced Trade (v3) and v2 APIs

type cbBalance struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type cbAccount struct {
	UUID             string    `json:"uuid"`
	Name             string    `json:"name"`
	Currency         string    `json:"currency"`
	AvailableBalance cbBalance `json:"available_balance"`
	Hold             cbBalance `json:"hold"`
	Default          bool      `json:"default"`
	Active           bool      `json:"active"`
	Ready            bool      `json:"ready"`
	Type             string    `json:"type"`
	CreatedAt        string    `json:"created_at"`
	UpdatedAt        string    `json:"updated_at"`
}

type cbAccountsResponse struct {
	Accounts []cbAccount `json:"accounts"`
	HasNext  bool        `json:"has_next"`
	Cursor   string      `json:"cursor"`
}

type cbAccountResponse struct {
	Account cbAccount `json:"account"`
}

type cbMarketIOC struct {
	BaseSize string `json:"base_size,omitempty"`
}

type cbLimitGTC struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

type cbOrderConfiguration struct {
	MarketMarketIOC *cbMarketIOC `json:"market_market_ioc,omitempty"`
	LimitLimitGTC   *cbLimitGTC  `json:"limit_limit_gtc,omitempty"`
}

type cbCreateOrderRequest struct {
	ClientOrderID      string               `json:"client_order_id"`
	ProductID          string               `json:"product_id"`
	Side               string               `json:"side"`
	OrderConfiguration cbOrderConfiguration `json:"order_configuration"`
}

type cbCreateOrderResponse struct {
	Success         bool   `json:"success"`
	FailureReason   string `json:"failure_reason"`
	OrderID         string `json:"order_id"`
	SuccessResponse *struct {
		OrderID       string `json:"order_id"`
		ProductID     string `json:"product_id"`
		Side          string `json:"side"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"success_response"`
	ErrorResponse *struct {
		Error                 string `json:"error"`
		Message               string `json:"message"`
		ErrorDetails          string `json:"error_details"`
		PreviewFailureReason  string `json:"preview_failure_reason"`
		NewOrderFailureReason string `json:"new_order_failure_reason"`
	} `json:"error_response"`
}

type cbOrder struct {
	OrderID            string               `json:"order_id"`
	ClientOrderID      string               `json:"client_order_id"`
	ProductID          string               `json:"product_id"`
	Side               string               `json:"side"`
	Status             string               `json:"status"`
	OrderType          string               `json:"order_type"`
	OrderConfiguration cbOrderConfiguration `json:"order_configuration"`
	FilledSize         string               `json:"filled_size"`
	AverageFilledPrice string               `json:"average_filled_price"`
	TotalFees          string               `json:"total_fees"`
	RejectReason       string               `json:"reject_reason"`
	CreatedTime        string               `json:"created_time"`
}

type cbOrderResponse struct {
	Order cbOrder `json:"order"`
}

type cbOrdersResponse struct {
	Orders []cbOrder `json:"orders"`
}

type cbCancelResponse struct {
	Results []struct {
		Success       bool   `json:"success"`
		FailureReason string `json:"failure_reason"`
		OrderID       string `json:"order_id"`
	} `json:"results"`
}

type cbMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type cbTransaction struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Amount       cbMoney `json:"amount"`
	NativeAmount cbMoney `json:"native_amount"`
	Description  string  `json:"description"`
	CreatedAt    string  `json:"created_at"`
}

type cbTransactionsResponse struct {
	Data []cbTransaction `json:"data"`
}

type cbTransactionResponse struct {
	Data cbTransaction `json:"data"`
}

type cbCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type cbCandlesResponse struct {
	Candles []cbCandle `json:"candles"`
}

type cbTickerResponse struct {
	Trades []struct {
		TradeID   string `json:"trade_id"`
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		Time      string `json:"time"`
		Side      string `json:"side"`
	} `json:"trades"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type cbPriceBook struct {
	ProductID string             `json:"product_id"`
	Bids      []types.PriceLevel `json:"bids"`
	Asks      []types.PriceLevel `json:"asks"`
	Time      string             `json:"time"`
}

type cbBestBidAskResponse struct {
	PriceBooks []cbPriceBook `json:"pricebooks"`
}

type cbTimeResponse struct {
	ISO          string `json:"iso"`
	EpochSeconds string `json:"epochSeconds"`
	EpochMillis  string `json:"epochMillis"`
}

type cbPortfolio struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Type    string `json:"type"`
	Deleted bool   `json:"deleted"`
}

type cbPortfolioResponse struct {
	Portfolio cbPortfolio `json:"portfolio"`
}

type cbMoveFundsRequest struct {
	Funds               cbBalance `json:"funds"`
	SourcePortfolioUUID string    `json:"source_portfolio_uuid"`
	TargetPortfolioUUID string    `json:"target_portfolio_uuid"`
}

type cbMoveFundsResponse struct {
	SourcePortfolioUUID string `json:"source_portfolio_uuid"`
	TargetPortfolioUUID string `json:"target_portfolio_uuid"`
}

type cbConvertQuoteRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      string `json:"amount"`
}

type cbConvertQuoteResponse struct {
	Trade struct {
		ID                string    `json:"id"`
		Status            string    `json:"status"`
		UserEnteredAmount cbBalance `json:"user_entered_amount"`
		Subtotal          cbBalance `json:"subtotal"`
		Total             cbBalance `json:"total"`
		TotalFee          struct {
			Amount cbBalance `json:"amount"`
		} `json:"total_fee"`
		ExchangeRate   cbBalance `json:"exchange_rate"`
		SourceCurrency string    `json:"source_currency"`
		TargetCurrency string    `json:"target_currency"`
	} `json:"trade"`
}

// errorBody covers both the v3 ({error, message}) and v2 ({errors: [{id, message}]}) error shapes
type errorBody struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	ErrorDetails string `json:"error_details"`
	Errors       []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (b *errorBody) code() string {
	if b.Error != "" {
		return b.Error
	}
	if len(b.Errors) > 0 {
		return strings.ToUpper(b.Errors[0].ID)
	}
	return ""
}

func (b *errorBody) message() string {
	switch {
	case b.Message != "":
		return b.Message
	case b.ErrorDetails != "":
		return b.ErrorDetails
	case len(b.Errors) > 0:
		return b.Errors[0].Message
	}
	return ""
}

// parseTime accepts RFC3339 and unix-seconds strings and yields zero on anything else
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

var orderStatuses = map[string]types.OrderStatus{
	"PENDING":              types.StatusPending,
	"QUEUED":               types.StatusPending,
	"UNKNOWN_ORDER_STATUS": types.StatusPending,
	"OPEN":                 types.StatusOpen,
	"CANCEL_QUEUED":        types.StatusOpen,
	"FILLED":               types.StatusFilled,
	"CANCELLED":            types.StatusCancelled,
	"EXPIRED":              types.StatusCancelled,
	"FAILED":               types.StatusRejected,
}

func toOrderStatus(s string) types.OrderStatus {
	if status, ok := orderStatuses[strings.ToUpper(s)]; ok {
		return status
	}
	return types.StatusPending
}

// statusFilters lists the upstream statuses queried for each gateway status, in query order
var statusFilters = map[types.OrderStatus][]string{
	types.StatusPending:   {"PENDING", "QUEUED"},
	types.StatusOpen:      {"OPEN"},
	types.StatusFilled:    {"FILLED"},
	types.StatusCancelled: {"CANCELLED", "EXPIRED"},
	types.StatusRejected:  {"FAILED"},
}

// orderStatusQuery builds the order_status values for statuses. The exchange
// only accepts OPEN as the sole status filter, so ok is false when open is
// combined with anything else.
func orderStatusQuery(statuses []types.OrderStatus) (values []string, ok bool) {
	seen := make(map[types.OrderStatus]bool, len(statuses))
	var distinct []types.OrderStatus
	for _, s := range statuses {
		if !seen[s] {
			seen[s] = true
			distinct = append(distinct, s)
		}
	}
	if seen[types.StatusOpen] && len(distinct) > 1 {
		return nil, false
	}

	for _, s := range distinct {
		values = append(values, statusFilters[s]...)
	}
	return values, true
}

func (a cbAccount) toAccount() types.Account {
	return types.Account{
		UUID:             a.UUID,
		Name:             a.Name,
		Currency:         a.Currency,
		AvailableBalance: types.Balance(a.AvailableBalance),
		Hold:             types.Balance(a.Hold),
		Type:             a.Type,
		Default:          a.Default,
		Active:           a.Active,
		Ready:            a.Ready,
		CreatedAt:        parseTime(a.CreatedAt),
		UpdatedAt:        parseTime(a.UpdatedAt),
	}
}

func (o cbOrder) toOrder() types.Order {
	order := types.Order{
		OrderID:            o.OrderID,
		ClientOrderID:      o.ClientOrderID,
		ProductID:          o.ProductID,
		Side:               types.Side(strings.ToLower(o.Side)),
		OrderType:          types.OrderType(strings.ToLower(o.OrderType)),
		Status:             toOrderStatus(o.Status),
		FilledSize:         o.FilledSize,
		AverageFilledPrice: o.AverageFilledPrice,
		TotalFees:          o.TotalFees,
		RejectReason:       o.RejectReason,
		CreatedTime:        parseTime(o.CreatedTime),
	}
	switch {
	case o.OrderConfiguration.LimitLimitGTC != nil:
		order.BaseSize = o.OrderConfiguration.LimitLimitGTC.BaseSize
		order.LimitPrice = o.OrderConfiguration.LimitLimitGTC.LimitPrice
		if order.OrderType == "" {
			order.OrderType = types.OrderTypeLimit
		}
	case o.OrderConfiguration.MarketMarketIOC != nil:
		order.BaseSize = o.OrderConfiguration.MarketMarketIOC.BaseSize
		if order.OrderType == "" {
			order.OrderType = types.OrderTypeMarket
		}
	}
	return order
}

func (t cbTransaction) toTransaction(accountID string) types.Transaction {
	return types.Transaction{
		ID:          t.ID,
		AccountID:   accountID,
		Type:        t.Type,
		Status:      t.Status,
		Amount:      t.Amount.Amount,
		Currency:    t.Amount.Currency,
		NativeValue: types.Balance{Value: t.NativeAmount.Amount, Currency: t.NativeAmount.Currency},
		Description: t.Description,
		CreatedAt:   parseTime(t.CreatedAt),
	}
}
