package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/metrics"
)

// ErrorBody is the uniform failure envelope
type ErrorBody struct {
	Error string        `json:"error"`
	Kind  apierror.Kind `json:"kind"`
}

// Handle writes data on success and the error envelope otherwise
func Handle(c *gin.Context, data interface{}, err error) {
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, data)
}

// Success sends data as the response body
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Error classifies err (a no-op for already classified errors) and sends
// the envelope with the kind's status
func Error(c *gin.Context, err error) {
	classified, ok := apierror.Translate(err).(*apierror.Error)
	if !ok || classified == nil {
		classified = apierror.New(apierror.Unknown, "an unexpected error occurred")
	}

	metrics.ErrorsTotal.WithLabelValues(string(classified.Kind)).Inc()

	event := log.Warn()
	if classified.Status() >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Err(classified.Err).
		Str("kind", string(classified.Kind)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg(classified.Message)

	c.JSON(classified.Status(), ErrorBody{Error: classified.Message, Kind: classified.Kind})
}

// BadRequest sends a 400 InvalidArgument envelope
func BadRequest(c *gin.Context, message string) {
	Error(c, apierror.Invalid("%s", message))
}

// NotFound sends a 404 envelope
func NotFound(c *gin.Context, message string) {
	Error(c, apierror.New(apierror.NotFound, "%s", message))
}

// Unauthorized sends a 401 envelope
func Unauthorized(c *gin.Context, message string) {
	Error(c, apierror.New(apierror.Unauthorized, "%s", message))
}
