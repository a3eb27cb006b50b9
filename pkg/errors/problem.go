package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Problem is the JSON error body returned by every handler. Error carries the
// human readable message; the remaining fields follow RFC 7807 naming.
type Problem struct {
	Error    string `json:"error"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	TraceID  string `json:"trace_id,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ErrorResponse writes the error body and aborts the chain.
func ErrorResponse(c *gin.Context, status int, title, detail string) {
	traceID := c.GetString("trace_id")
	if traceID == "" {
		traceID = c.GetString("request_id")
	}
	if detail == "" {
		detail = title
	}

	c.AbortWithStatusJSON(status, Problem{
		Error:    detail,
		Type:     getProblemType(status),
		Title:    title,
		Status:   status,
		TraceID:  traceID,
		Instance: c.Request.URL.Path,
	})
}

// InternalError logs and sends a 500 error
func InternalError(c *gin.Context, err error, logger *zap.Logger) {
	logger.Error("Internal server error",
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("trace_id", c.GetString("trace_id")),
	)

	ErrorResponse(c, http.StatusInternalServerError,
		"Internal Server Error",
		"An unexpected error occurred. Please try again later.",
	)
}

// StatusCarrier is implemented by errors that know which upstream HTTP status produced them.
type StatusCarrier interface {
	error
	StatusCode() int
}

// Vendor maps an upstream error onto the response. Vendor 4xx statuses pass
// through with the vendor message, 5xx and transport failures become 502.
func Vendor(c *gin.Context, vendor string, err error, logger *zap.Logger) {
	var sc StatusCarrier
	if stderrors.As(err, &sc) {
		status := sc.StatusCode()
		if status >= 400 && status < 500 {
			logger.Warn("Vendor rejected request",
				zap.String("vendor", vendor),
				zap.Int("status", status),
				zap.Error(err),
			)
			ErrorResponse(c, status, http.StatusText(status), sc.Error())
			return
		}
	}

	logger.Error("Vendor call failed",
		zap.String("vendor", vendor),
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
	)
	ErrorResponse(c, http.StatusBadGateway, "Bad Gateway", vendor+" request failed")
}

// BadRequest sends a 400 error
func BadRequest(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized sends a 401 error
func Unauthorized(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden sends a 403 error
func Forbidden(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusForbidden, "Forbidden", detail)
}

// NotFound sends a 404 error
func NotFound(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusNotFound, "Not Found", detail)
}

// Conflict sends a 409 error
func Conflict(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusConflict, "Conflict", detail)
}

// TooManyRequests sends a 429 error
func TooManyRequests(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusTooManyRequests, "Too Many Requests", detail)
}

// PaymentRequired is used when a plan limit blocks the action.
func PaymentRequired(c *gin.Context, detail string) {
	ErrorResponse(c, http.StatusPaymentRequired, "Plan Limit Reached", detail)
}

func getProblemType(status int) string {
	baseURL := "https://api.hallcall.app/problems"
	switch status {
	case http.StatusBadRequest:
		return baseURL + "/bad-request"
	case http.StatusUnauthorized:
		return baseURL + "/unauthorized"
	case http.StatusPaymentRequired:
		return baseURL + "/plan-limit"
	case http.StatusForbidden:
		return baseURL + "/forbidden"
	case http.StatusNotFound:
		return baseURL + "/not-found"
	case http.StatusConflict:
		return baseURL + "/conflict"
	case http.StatusTooManyRequests:
		return baseURL + "/rate-limit-exceeded"
	case http.StatusInternalServerError:
		return baseURL + "/internal-error"
	case http.StatusBadGateway:
		return baseURL + "/upstream-error"
	default:
		return baseURL + "/error"
	}
}
