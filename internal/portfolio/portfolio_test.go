package portfolio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/types"
)

func newPaper(t *testing.T) *exchange.Paper {
	t.Helper()
	paper, err := exchange.NewPaper(exchange.DefaultPaperConfig())
	require.NoError(t, err)
	return paper
}

func TestMoveFundsValidation(t *testing.T) {
	s := NewService(newPaper(t))

	tests := map[string]types.FundsTransfer{
		"missing source":   {DestinationPortfolioID: "b", Amount: "1", Currency: "USD"},
		"same portfolio":   {SourcePortfolioID: "a", DestinationPortfolioID: " a ", Amount: "1", Currency: "USD"},
		"missing currency": {SourcePortfolioID: "a", DestinationPortfolioID: "b", Amount: "1"},
		"missing amount":   {SourcePortfolioID: "a", DestinationPortfolioID: "b", Currency: "USD"},
		"not a number":     {SourcePortfolioID: "a", DestinationPortfolioID: "b", Amount: "ten", Currency: "USD"},
		"zero amount":      {SourcePortfolioID: "a", DestinationPortfolioID: "b", Amount: "0", Currency: "USD"},
		"negative amount":  {SourcePortfolioID: "a", DestinationPortfolioID: "b", Amount: "-5", Currency: "USD"},
	}
	for name, transfer := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.MoveFunds(context.Background(), transfer)
			assert.Equal(t, apierror.InvalidArgument, apierror.KindOf(err))
		})
	}
}

func TestMoveFundsBetweenPortfolios(t *testing.T) {
	paper := newPaper(t)
	s := NewService(paper)
	ctx := context.Background()

	created, err := s.CreatePortfolio(ctx, "  Trading  ")
	require.NoError(t, err)
	assert.Equal(t, "Trading", created.Name)

	_, err = s.MoveFunds(ctx, types.FundsTransfer{
		SourcePortfolioID:      "default",
		DestinationPortfolioID: created.UUID,
		Amount:                 "100.50",
		Currency:               "usd",
	})
	require.NoError(t, err)

	moved, ok := paper.Portfolio(created.UUID)
	require.True(t, ok)
	assert.Equal(t, []types.Balance{{Value: "100.5", Currency: "USD"}}, moved.Funds)

	_, err = s.MoveFunds(ctx, types.FundsTransfer{
		SourcePortfolioID:      "default",
		DestinationPortfolioID: "missing",
		Amount:                 "1",
		Currency:               "USD",
	})
	assert.Equal(t, apierror.NotFound, apierror.KindOf(err))

	_, err = s.CreatePortfolio(ctx, "")
	assert.Equal(t, apierror.InvalidArgument, apierror.KindOf(err))
}

func TestCreateConvertQuote(t *testing.T) {
	s := NewService(newPaper(t))
	ctx := context.Background()

	quote, err := s.CreateConvertQuote(ctx, "usd", "btc", "6500")
	require.NoError(t, err)
	assert.Equal(t, "USD", quote.FromCurrency)
	assert.Equal(t, "0.1", quote.Total.Value)
	assert.Equal(t, "BTC", quote.Total.Currency)

	_, err = s.CreateConvertQuote(ctx, "BTC", "btc", "1")
	assert.Equal(t, apierror.InvalidArgument, apierror.KindOf(err))
	_, err = s.CreateConvertQuote(ctx, "BTC", "", "1")
	assert.Equal(t, apierror.InvalidArgument, apierror.KindOf(err))
	_, err = s.CreateConvertQuote(ctx, "BTC", "USD", "0")
	assert.Equal(t, apierror.InvalidArgument, apierror.KindOf(err))
}

func newRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewGinHandlers(NewService(newPaper(t)))
	router := gin.New()
	router.POST("/portfolio", h.CreatePortfolioHandler())
	router.POST("/move_funds", h.MoveFundsHandler())
	router.POST("/convert_quote", h.ConvertQuoteHandler())
	return router
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPortfolioHandlers(t *testing.T) {
	router := newRouter(t)

	w := post(router, "/portfolio", `{"name":"Savings"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created types.Portfolio
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.UUID)

	w = post(router, "/move_funds", `{"source_portfolio_id":"default","destination_portfolio_id":"`+created.UUID+`","amount":250,"currency":"USD"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), created.UUID)

	w = post(router, "/move_funds", `{"source_portfolio_id":"default","destination_portfolio_id":"`+created.UUID+`","amount":"1000000","currency":"USD"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(router, "/convert_quote", `{"from_currency":"BTC","to_currency":"USD","amount":"0.5"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":"32500"`)

	w = post(router, "/convert_quote", `{"from_currency":"BTC","to_currency":"USD","amount":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(router, "/portfolio", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
