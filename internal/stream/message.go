package stream

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Exchange side channels that carry no product data
const (
	channelSubscriptions = "subscriptions"
	channelHeartbeats    = "heartbeats"
)

// Ticker is one best bid/ask and last trade update
type Ticker struct {
	ProductID          string `json:"product_id"`
	Price              string `json:"price"`
	Volume24h          string `json:"volume_24_h"`
	Low24h             string `json:"low_24_h"`
	High24h            string `json:"high_24_h"`
	PricePercentChg24h string `json:"price_percent_chg_24_h"`
	BestBid            string `json:"best_bid"`
	BestBidQuantity    string `json:"best_bid_quantity"`
	BestAsk            string `json:"best_ask"`
	BestAskQuantity    string `json:"best_ask_quantity"`
}

// Message is a single product update delivered to a sink
type Message struct {
	Channel   string          `json:"channel"`
	Type      string          `json:"type,omitempty"`
	ProductID string          `json:"product_id"`
	Sequence  int64           `json:"sequence_num"`
	Timestamp time.Time       `json:"timestamp"`
	Ticker    *Ticker         `json:"ticker,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type frame struct {
	Type        string            `json:"type"`
	Message     string            `json:"message"`
	Channel     string            `json:"channel"`
	Timestamp   string            `json:"timestamp"`
	SequenceNum int64             `json:"sequence_num"`
	Events      []json.RawMessage `json:"events"`
}

type frameEvent struct {
	Type      string            `json:"type"`
	ProductID string            `json:"product_id"`
	Tickers   []json.RawMessage `json:"tickers"`
	Trades    []json.RawMessage `json:"trades"`
	Candles   []json.RawMessage `json:"candles"`
}

type productOnly struct {
	ProductID string `json:"product_id"`
}

// remoteError is an error frame sent by the exchange, after which it drops the subscription
type remoteError struct {
	message string
}

func (e *remoteError) Error() string {
	return "exchange stream error: " + e.message
}

// decodeFrame splits one exchange frame into per-product messages.
// Subscription acks and heartbeats decode to no messages.
func decodeFrame(data []byte) ([]Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode stream frame")
	}
	if f.Type == "error" {
		return nil, &remoteError{message: f.Message}
	}
	if f.Channel == channelSubscriptions || f.Channel == channelHeartbeats {
		return nil, nil
	}

	base := Message{Channel: f.Channel, Sequence: f.SequenceNum}
	if f.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, f.Timestamp); err == nil {
			base.Timestamp = ts
		}
	}

	var out []Message
	for _, raw := range f.Events {
		var ev frameEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, errors.Wrap(err, "decode stream event")
		}
		base.Type = ev.Type

		for _, item := range ev.Tickers {
			var t Ticker
			if err := json.Unmarshal(item, &t); err != nil {
				return nil, errors.Wrap(err, "decode ticker")
			}
			msg := base
			msg.ProductID = t.ProductID
			msg.Ticker = &t
			out = append(out, msg)
		}
		for _, items := range [][]json.RawMessage{ev.Trades, ev.Candles} {
			for _, item := range items {
				var p productOnly
				if err := json.Unmarshal(item, &p); err != nil {
					return nil, errors.Wrap(err, "decode stream item")
				}
				msg := base
				msg.ProductID = p.ProductID
				msg.Payload = item
				out = append(out, msg)
			}
		}
		if ev.ProductID != "" && len(ev.Tickers)+len(ev.Trades)+len(ev.Candles) == 0 {
			msg := base
			msg.ProductID = ev.ProductID
			msg.Payload = raw
			out = append(out, msg)
		}
	}
	return out, nil
}
