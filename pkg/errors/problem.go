package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const problemBaseURL = "https://api.troikatech.in/problems"

var problemTypes = map[int]string{
	http.StatusBadRequest:            "/bad-request",
	http.StatusUnauthorized:          "/unauthorized",
	http.StatusForbidden:             "/forbidden",
	http.StatusNotFound:              "/not-found",
	http.StatusRequestEntityTooLarge: "/payload-too-large",
	http.StatusTooManyRequests:       "/rate-limit-exceeded",
	http.StatusInternalServerError:   "/internal-error",
	http.StatusBadGateway:            "/upstream-rejected",
	http.StatusServiceUnavailable:    "/upstream-unavailable",
}

// ProblemDetail represents an RFC 7807 Problem Details response
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ErrorResponse sends a problem+json error response
func ErrorResponse(c *gin.Context, status int, title, detail string) {
	traceID := c.GetString("trace_id")
	if traceID == "" {
		traceID = c.GetString("request_id")
	}

	problem := ProblemDetail{
		Type:     ProblemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		TraceID:  traceID,
		Instance: c.Request.URL.Path,
	}

	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, problem)
}

// InternalError logs and sends a 500 error
func InternalError(c *gin.Context, err error, logger *zap.Logger) {
	logger.Error("Internal server error",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)

	ErrorResponse(c, http.StatusInternalServerError,
		"Internal Server Error",
		"An unexpected error occurred. Please try again later.",
	)
}

func BadRequest(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadRequest, "Bad Request", detail)
}

func Unauthorized(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusUnauthorized, "Unauthorized", detail)
}

func Forbidden(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusForbidden, "Forbidden", detail)
}

func NotFound(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusNotFound, "Not Found", detail)
}

func PayloadTooLarge(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusRequestEntityTooLarge, "Payload Too Large", detail)
}

func TooManyRequests(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusTooManyRequests, "Too Many Requests", detail)
}

// BadGateway reports that the telephony exchange or a speech provider
// rejected the request.
func BadGateway(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadGateway, "Bad Gateway", detail)
}

// ServiceUnavailable reports that an upstream could not be reached at all.
func ServiceUnavailable(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusServiceUnavailable, "Service Unavailable", detail)
}

// ProblemType returns the problem type URI for a status code.
func ProblemType(status int) string {
	if suffix, ok := problemTypes[status]; ok {
		return problemBaseURL + suffix
	}
	return problemBaseURL + "/error"
}
