package account

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/exchange"
	"github.com/ksred/klear-gateway/internal/types"
	"github.com/ksred/klear-gateway/pkg/response"
)

// Service reads account and transaction snapshots from the exchange
type Service struct {
	client exchange.Client
}

// NewService creates an account service backed by client
func NewService(client exchange.Client) *Service {
	return &Service{client: client}
}

// GetAccounts lists every account visible to the configured credentials
func (s *Service) GetAccounts(ctx context.Context) ([]types.Account, error) {
	accounts, err := s.client.GetAccounts(ctx)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	if accounts == nil {
		accounts = []types.Account{}
	}
	return accounts, nil
}

// GetAccount returns the account with accountID
func (s *Service) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, apierror.Invalid("account id is required")
	}
	account, err := s.client.GetAccount(ctx, accountID)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	return account, nil
}

// GetTransactions lists the transactions recorded against accountID
func (s *Service) GetTransactions(ctx context.Context, accountID string) ([]types.Transaction, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, apierror.Invalid("account id is required")
	}
	txns, err := s.client.GetTransactions(ctx, accountID)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	if txns == nil {
		txns = []types.Transaction{}
	}
	return txns, nil
}

// GetTransaction returns one transaction of accountID
func (s *Service) GetTransaction(ctx context.Context, accountID, transactionID string) (*types.Transaction, error) {
	accountID = strings.TrimSpace(accountID)
	transactionID = strings.TrimSpace(transactionID)
	if accountID == "" || transactionID == "" {
		return nil, apierror.Invalid("account id and transaction id are required")
	}
	txn, err := s.client.GetTransaction(ctx, accountID, transactionID)
	if err != nil {
		return nil, apierror.Translate(err)
	}
	return txn, nil
}

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the account HTTP handlers
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetAccountsHandler handles GET /accounts
func (h *GinHandlers) GetAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.service.GetAccounts(c.Request.Context())
		response.Handle(c, accounts, err)
	}
}

// GetAccountHandler handles GET /accounts/:id
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.GetAccount(c.Request.Context(), c.Param("id"))
		response.Handle(c, account, err)
	}
}

// TestAccountsHandler handles GET /test_accounts, a smoke check that the
// credentials can see at least one account
func (h *GinHandlers) TestAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.service.GetAccounts(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		if len(accounts) == 0 {
			response.NotFound(c, "No accounts found")
			return
		}
		response.Success(c, accounts)
	}
}

// GetTransactionsHandler handles GET /transactions/:account_id
func (h *GinHandlers) GetTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		txns, err := h.service.GetTransactions(c.Request.Context(), c.Param("account_id"))
		response.Handle(c, txns, err)
	}
}

// GetTransactionHandler handles GET /transactions/:account_id/:txn_id
func (h *GinHandlers) GetTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn, err := h.service.GetTransaction(c.Request.Context(), c.Param("account_id"), c.Param("txn_id"))
		response.Handle(c, txn, err)
	}
}
