package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideIsExact(t *testing.T) {
	assert.True(t, SideBuy.Valid())
	assert.True(t, SideSell.Valid())
	for _, s := range []Side{"", "BUY", " buy", "hold"} {
		assert.False(t, s.Valid(), string(s))
	}
}

func TestOrderTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusOpen))
	assert.True(t, StatusPending.CanTransition(StatusRejected))
	assert.True(t, StatusOpen.CanTransition(StatusFilled))
	assert.True(t, StatusOpen.CanTransition(StatusCancelled))

	assert.False(t, StatusPending.CanTransition(StatusFilled))
	assert.False(t, StatusFilled.CanTransition(StatusOpen))
	assert.False(t, StatusCancelled.CanTransition(StatusOpen))

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusOpen.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestAmountAcceptsStringsAndNumbers(t *testing.T) {
	var body struct {
		Size Amount `json:"size"`
	}

	tests := map[string]string{
		`{"size":"0.01"}`:  "0.01",
		`{"size":" 2.5 "}`: "2.5",
		`{"size":0.5}`:     "0.5",
		`{"size":1e-8}`:    "1e-8",
		`{"size":null}`:    "",
		`{}`:               "",
	}
	for in, want := range tests {
		body.Size = ""
		require.NoError(t, json.Unmarshal([]byte(in), &body), in)
		assert.Equal(t, want, body.Size.String(), in)
	}

	assert.Error(t, json.Unmarshal([]byte(`{"size":true}`), &body))
	assert.Error(t, json.Unmarshal([]byte(`{"size":{"value":"1"}}`), &body))
}

func TestGranularity(t *testing.T) {
	assert.True(t, OneHour.Valid())
	assert.False(t, Granularity("ONE_WEEK").Valid())
	assert.Zero(t, Granularity("ONE_WEEK").Duration())
	assert.Equal(t, int64(6*3600), int64(SixHour.Duration().Seconds()))
}
