package types

import "time"

// Granularity is a candle bucket width as named by the exchange
type Granularity string

const (
	OneMinute     Granularity = "ONE_MINUTE"
	FiveMinute    Granularity = "FIVE_MINUTE"
	FifteenMinute Granularity = "FIFTEEN_MINUTE"
	ThirtyMinute  Granularity = "THIRTY_MINUTE"
	OneHour       Granularity = "ONE_HOUR"
	TwoHour       Granularity = "TWO_HOUR"
	SixHour       Granularity = "SIX_HOUR"
	OneDay        Granularity = "ONE_DAY"
)

var granularityWidths = map[Granularity]time.Duration{
	OneMinute:     time.Minute,
	FiveMinute:    5 * time.Minute,
	FifteenMinute: 15 * time.Minute,
	ThirtyMinute:  30 * time.Minute,
	OneHour:       time.Hour,
	TwoHour:       2 * time.Hour,
	SixHour:       6 * time.Hour,
	OneDay:        24 * time.Hour,
}

// Duration returns the bucket width, or zero for an unknown granularity
func (g Granularity) Duration() time.Duration {
	return granularityWidths[g]
}

// Valid reports whether g is a granularity the exchange accepts
func (g Granularity) Valid() bool {
	_, ok := granularityWidths[g]
	return ok
}

// TimeRange is a half-open [Start, End) interval
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Candle is one OHLCV bucket
type Candle struct {
	Start  time.Time `json:"start"`
	Low    string    `json:"low"`
	High   string    `json:"high"`
	Open   string    `json:"open"`
	Close  string    `json:"close"`
	Volume string    `json:"volume"`
}

// Trade is a public market trade
type Trade struct {
	TradeID   string    `json:"trade_id"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Side      string    `json:"side"`
	Time      time.Time `json:"time"`
}

// MarketTrades is a page of recent trades with the current top of book
type MarketTrades struct {
	Trades  []Trade `json:"trades"`
	BestBid string  `json:"best_bid"`
	BestAsk string  `json:"best_ask"`
}

// PriceLevel is a single price/size pair in a book
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceBook is the best bid and ask for one product
type PriceBook struct {
	ProductID string       `json:"product_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Time      time.Time    `json:"time"`
}

// ServerTime is the exchange clock
type ServerTime struct {
	ISO          string `json:"iso"`
	EpochSeconds int64  `json:"epoch_seconds"`
	EpochMillis  int64  `json:"epoch_millis"`
}
