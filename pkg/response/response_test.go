package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/exchange"
)

func render(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, ErrorBody) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/orders/x", nil)
	handler(c)

	var body ErrorBody
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestErrorClassifiesUpstreamFailures(t *testing.T) {
	w, body := render(t, func(c *gin.Context) {
		Error(c, &exchange.APIError{StatusCode: http.StatusNotFound, Message: "order x not found"})
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apierror.NotFound, body.Kind)
	assert.Contains(t, body.Error, "order x not found")
}

func TestErrorKeepsClassifiedErrors(t *testing.T) {
	w, body := render(t, func(c *gin.Context) {
		Error(c, apierror.New(apierror.StreamDisconnected, "stream dropped"))
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, ErrorBody{Error: "stream dropped", Kind: apierror.StreamDisconnected}, body)
}

func TestErrorUnknown(t *testing.T) {
	w, body := render(t, func(c *gin.Context) {
		Error(c, errors.New("boom"))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apierror.Unknown, body.Kind)
}

func TestHandle(t *testing.T) {
	w, _ := render(t, func(c *gin.Context) {
		Handle(c, gin.H{"server_time": "now"}, nil)
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"server_time":"now"}`, w.Body.String())

	w, body := render(t, func(c *gin.Context) {
		Handle(c, nil, apierror.Invalid("bad side"))
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierror.InvalidArgument, body.Kind)
}

func TestShorthands(t *testing.T) {
	w, _ := render(t, func(c *gin.Context) { BadRequest(c, "nope") })
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = render(t, func(c *gin.Context) { NotFound(c, "nope") })
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = render(t, func(c *gin.Context) { Unauthorized(c, "nope") })
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
