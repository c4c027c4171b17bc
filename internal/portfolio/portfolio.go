package portfolio

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/types"
	"github.com/ksred/klear-gateway/pkg/response"
)

// Service manages portfolios, fund transfers and conversion quotes
type Service struct {
	client exchange.Client
}

// NewService creates a portfolio service backed by client
func NewService(client exchange.Client) *Service {
	return &Service{client: client}
}

// CreatePortfolio creates an empty portfolio called name
func (s *Service) CreatePortfolio(ctx context.Context, name string) (*types.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierror.Invalid("name is required")
	}
	portfolio, err := s.client.CreatePortfolio(ctx, name)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	log.Info().Str("component", "portfolio").Str("portfolio_id", portfolio.UUID).Msg("portfolio created")
	return portfolio, nil
}

// MoveFunds transfers an amount between two portfolios. The exchange debits
// and credits atomically.
func (s *Service) MoveFunds(ctx context.Context, transfer types.FundsTransfer) (*types.FundsTransferResult, error) {
	transfer.SourcePortfolioID = strings.TrimSpace(transfer.SourcePortfolioID)
	transfer.DestinationPortfolioID = strings.TrimSpace(transfer.DestinationPortfolioID)
	transfer.Currency = strings.ToUpper(strings.TrimSpace(transfer.Currency))

	if transfer.SourcePortfolioID == "" || transfer.DestinationPortfolioID == "" {
		return nil, apierror.Invalid("source_portfolio_id and destination_portfolio_id are required")
	}
	if transfer.SourcePortfolioID == transfer.DestinationPortfolioID {
		return nil, apierror.Invalid("source and destination portfolios must differ")
	}
	if transfer.Currency == "" {
		return nil, apierror.Invalid("currency is required")
	}
	amount, err := positiveAmount(transfer.Amount)
	if err != nil {
		return nil, err
	}
	transfer.Amount = amount.String()

	result, err := s.client.MoveFunds(ctx, transfer)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	log.Info().
		Str("component", "portfolio").
		Str("source", transfer.SourcePortfolioID).
		Str("destination", transfer.DestinationPortfolioID).
		Str("amount", transfer.Amount).
		Str("currency", transfer.Currency).
		Msg("funds moved")
	return result, nil
}

// CreateConvertQuote prices a conversion without committing it
func (s *Service) CreateConvertQuote(ctx context.Context, fromCurrency, toCurrency, amount string) (*types.ConvertQuote, error) {
	fromCurrency = strings.ToUpper(strings.TrimSpace(fromCurrency))
	toCurrency = strings.ToUpper(strings.TrimSpace(toCurrency))
	if fromCurrency == "" || toCurrency == "" {
		return nil, apierror.Invalid("from_currency and to_currency are required")
	}
	if fromCurrency == toCurrency {
		return nil, apierror.Invalid("from_currency and to_currency must differ")
	}
	value, err := positiveAmount(amount)
	if err != nil {
		return nil, err
	}

	quote, err := s.client.CreateConvertQuote(ctx, fromCurrency, toCurrency, value.String())
	if err != nil {
		return nil, apierror.Translate(err)
	}
	return quote, nil
}

func positiveAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, apierror.Invalid("amount is required")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, apierror.Invalid("amount %q is not a valid decimal", value)
	}
	if !d.IsPositive() {
		return decimal.Zero, apierror.Invalid("amount must be greater than zero")
	}
	return d, nil
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the portfolio HTTP handlers
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type createPortfolioRequest struct {
	Name string `json:"name"`
}

type moveFundsRequest struct {
	SourcePortfolioID      string       `json:"source_portfolio_id"`
	DestinationPortfolioID string       `json:"destination_portfolio_id"`
	Amount                 types.Amount `json:"amount"`
	Currency               string       `json:"currency"`
}

type convertQuoteRequest struct {
	FromCurrency string       `json:"from_currency"`
	ToCurrency   string       `json:"to_currency"`
	Amount       types.Amount `json:"amount"`
}

// CreatePortfolioHandler handles POST /portfolio
func (h *GinHandlers) CreatePortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPortfolioRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
		portfolio, err := h.service.CreatePortfolio(c.Request.Context(), req.Name)
		response.Handle(c, portfolio, err)
	}
}

// MoveFundsHandler handles POST /move_funds
func (h *GinHandlers) MoveFundsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req moveFundsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
		result, err := h.service.MoveFunds(c.Request.Context(), types.FundsTransfer{
			SourcePortfolioID:      req.SourcePortfolioID,
			DestinationPortfolioID: req.DestinationPortfolioID,
			Amount:                 req.Amount.String(),
			Currency:               req.Currency,
		})
		response.Handle(c, result, err)
	}
}

// ConvertQuoteHandler handles POST /convert_quote
func (h *GinHandlers) ConvertQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req convertQuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
		quote, err := h.service.CreateConvertQuote(c.Request.Context(), req.FromCurrency, req.ToCurrency, req.Amount.String())
		response.Handle(c, quote, err)
	}
}
