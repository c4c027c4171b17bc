package exchange

import (
	"context"
	"fmt"

	"github.com/ksred/klear-gateway/internal/types"
)

// Client is the set of exchange capabilities the gateway depends on.
// Implementations must be safe for concurrent use and must not cache.
type Client interface {
	GetAccounts(ctx context.Context) ([]types.Account, error)
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)

	PlaceMarketOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error)
	PlaceLimitOrder(ctx context.Context, intent types.OrderIntent) (*types.Order, error)
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	ListOrders(ctx context.Context, filter types.OrderFilter) ([]types.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*types.CancelResult, error)

	GetTransactions(ctx context.Context, accountID string) ([]types.Transaction, error)
	GetTransaction(ctx context.Context, accountID, transactionID string) (*types.Transaction, error)

	GetCandles(ctx context.Context, productID string, window types.TimeRange, granularity types.Granularity) ([]types.Candle, error)
	GetMarketTrades(ctx context.Context, productID string, limit int) (*types.MarketTrades, error)
	GetBestBidAsk(ctx context.Context, productIDs []string) ([]types.PriceBook, error)
	GetServerTime(ctx context.Context) (*types.ServerTime, error)

	CreatePortfolio(ctx context.Context, name string) (*types.Portfolio, error)
	MoveFunds(ctx context.Context, transfer types.FundsTransfer) (*types.FundsTransferResult, error)
	CreateConvertQuote(ctx context.Context, fromCurrency, toCurrency, amount string) (*types.ConvertQuote, error)
}

// Upstream error codes the gateway reacts to
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeUnavailable        = "UNAVAILABLE"
	CodeUnknownCancelOrder = "UNKNOWN_CANCEL_ORDER"
)

// APIError is a non-2xx response from the exchange
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Path       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("exchange %s returned %d %s: %s", e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange %s returned %d: %s", e.Path, e.StatusCode, e.Message)
}

// OrderFailure is an order the exchange refused at creation time.
// The HTTP exchange returns these with a 2xx status and success=false.
type OrderFailure struct {
	ClientOrderID string
	Reason        string
	Message       string
}

func (e *OrderFailure) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("order %s rejected: %s (%s)", e.ClientOrderID, e.Message, e.Reason)
	}
	return fmt.Sprintf("order %s rejected: %s", e.ClientOrderID, e.Reason)
}
