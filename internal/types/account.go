package types

import "time"

// Balance is an amount in a single currency
type Balance struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Account is a snapshot of one currency account at the exchange
type Account struct {
	UUID             string    `json:"uuid"`
	Name             string    `json:"name"`
	Currency         string    `json:"currency"`
	AvailableBalance Balance   `json:"available_balance"`
	Hold             Balance   `json:"hold"`
	Type             string    `json:"type"`
	Default          bool      `json:"default"`
	Active           bool      `json:"active"`
	Ready            bool      `json:"ready"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// Transaction is a read-only historical account entry
type Transaction struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	NativeValue Balance   `json:"native_amount"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Portfolio groups fund balances at the exchange
type Portfolio struct {
	UUID    string    `json:"uuid"`
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Deleted bool      `json:"deleted"`
	Funds   []Balance `json:"funds,omitempty"`
}

// FundsTransfer moves an amount from one portfolio to another
type FundsTransfer struct {
	SourcePortfolioID      string `json:"source_portfolio_id"`
	DestinationPortfolioID string `json:"destination_portfolio_id"`
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
}

// FundsTransferResult confirms a completed transfer
type FundsTransferResult struct {
	SourcePortfolioID      string `json:"source_portfolio_uuid"`
	DestinationPortfolioID string `json:"target_portfolio_uuid"`
}

// ConvertQuote is a priced, not yet committed, currency conversion
type ConvertQuote struct {
	TradeID      string  `json:"trade_id"`
	Status       string  `json:"status"`
	FromCurrency string  `json:"from_currency"`
	ToCurrency   string  `json:"to_currency"`
	Amount       Balance `json:"amount"`
	Subtotal     Balance `json:"subtotal"`
	Total        Balance `json:"total"`
	TotalFee     Balance `json:"total_fee"`
	ExchangeRate Balance `json:"exchange_rate"`
}
