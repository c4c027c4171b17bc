package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTickerFrame(t *testing.T) {
	msgs, err := decodeFrame([]byte(`{
		"channel": "ticker",
		"timestamp": "2024-05-01T12:00:00.123456Z",
		"sequence_num": 7,
		"events": [{"type": "snapshot", "tickers": [
			{"type": "ticker", "product_id": "BTC-USD", "price": "65000.01", "best_bid": "65000", "best_ask": "65000.02"},
			{"type": "ticker", "product_id": "ETH-USD", "price": "3000"}
		]}]
	}`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	btc := msgs[0]
	assert.Equal(t, "ticker", btc.Channel)
	assert.Equal(t, "snapshot", btc.Type)
	assert.Equal(t, "BTC-USD", btc.ProductID)
	assert.Equal(t, int64(7), btc.Sequence)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC), btc.Timestamp)
	require.NotNil(t, btc.Ticker)
	assert.Equal(t, "65000.01", btc.Ticker.Price)
	assert.Equal(t, "65000.02", btc.Ticker.BestAsk)

	assert.Equal(t, "ETH-USD", msgs[1].ProductID)
	assert.NotSame(t, msgs[0].Ticker, msgs[1].Ticker)
}

func TestDecodeTradesAndCandles(t *testing.T) {
	msgs, err := decodeFrame([]byte(`{"channel":"market_trades","events":[{"type":"update","trades":[
		{"trade_id":"1","product_id":"BTC-USD","price":"65000","size":"0.1","side":"BUY"},
		{"trade_id":"2","product_id":"ETH-USD","price":"3000","size":"1","side":"SELL"}
	]}]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "BTC-USD", msgs[0].ProductID)
	assert.JSONEq(t, `{"trade_id":"1","product_id":"BTC-USD","price":"65000","size":"0.1","side":"BUY"}`, string(msgs[0].Payload))
	assert.Nil(t, msgs[0].Ticker)

	msgs, err = decodeFrame([]byte(`{"channel":"candles","events":[{"type":"update","candles":[{"start":"1714564800","product_id":"BTC-USD","close":"65000"}]}]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "candles", msgs[0].Channel)
	assert.Equal(t, "BTC-USD", msgs[0].ProductID)
}

func TestDecodeProductEvent(t *testing.T) {
	msgs, err := decodeFrame([]byte(`{"channel":"l2_data","events":[{"type":"update","product_id":"BTC-USD","updates":[{"side":"bid","price_level":"65000","new_quantity":"1"}]}]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "BTC-USD", msgs[0].ProductID)
	assert.Contains(t, string(msgs[0].Payload), "price_level")
}

func TestDecodeControlFrames(t *testing.T) {
	for _, frame := range []string{
		`{"channel":"subscriptions","events":[{"subscriptions":{"ticker":["BTC-USD"]}}]}`,
		`{"channel":"heartbeats","events":[{"current_time":"2024-05-01 12:00:00","heartbeat_counter":3}]}`,
	} {
		msgs, err := decodeFrame([]byte(frame))
		assert.NoError(t, err)
		assert.Empty(t, msgs)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := decodeFrame([]byte(`{"type":"error","message":"failure to subscribe"}`))
	var remote *remoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "failure to subscribe", remote.message)

	_, err = decodeFrame([]byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorAs(t, err, &remote)
}
