package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error is an HTTP-facing application error.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error.
func New(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

// Wrap returns a copy of e carrying err.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

var (
	ErrBadRequest         = New(http.StatusBadRequest, "bad_request", "Bad request", nil)
	ErrUnauthorized       = New(http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
	ErrForbidden          = New(http.StatusForbidden, "forbidden", "Forbidden", nil)
	ErrNotFound           = New(http.StatusNotFound, "not_found", "Not found", nil)
	ErrPayloadTooLarge    = New(http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large", nil)
	ErrTooManyRequests    = New(http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "service_unavailable", "Service unavailable", nil)
	ErrInvalidSignature   = New(http.StatusUnauthorized, "invalid_signature", "Invalid webhook signature", nil)
)

// Abort writes err as {"error", "code"} and stops the chain.
func Abort(c *gin.Context, err *Error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.Status, gin.H{"error": err.Message, "code": err.Code})
}

// ErrorMiddleware turns panics and errors left on the context without a
// response into a JSON error body.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				if !c.Writer.Written() {
					Abort(c, ErrInternalServer)
				}
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		var appErr *Error
		if !errors.As(err, &appErr) {
			appErr = ErrInternalServer.Wrap(err)
		}
		logger.Warn("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Code})
	}
}
