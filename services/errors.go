package services

import (
	"fmt"
	"net/http"
)

// Machine-readable error codes returned to clients.
const (
	CodeValidation           = "validation_error"
	CodeNotFound             = "not_found"
	CodeOrderNotFound        = "order_not_found"
	CodeInvalidToken         = "invalid_token"
	CodePaymentNotConfirmed  = "payment_not_confirmed"
	CodeLinkExpired          = "link_expired"
	CodePhotoUnavailable     = "photo_unavailable"
	CodeGateway              = "gateway_error"
	CodeStorage              = "storage_error"
	CodeSigning              = "signing_error"
	CodeWatermarkUnavailable = "watermark_unavailable"
	CodeInternal             = "internal_error"
)

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func validationError(msg string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusBadRequest, Code: CodeValidation, Message: msg}
}

func notFound(code, msg string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusNotFound, Code: code, Message: msg}
}

func forbidden(code, msg string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusForbidden, Code: code, Message: msg}
}

func internalError(msg string, err error) *ServiceError {
	return &ServiceError{StatusCode: http.StatusInternalServerError, Code: CodeInternal, Message: msg, Err: err}
}

func upstreamError(code, msg string, err error) *ServiceError {
	return &ServiceError{StatusCode: http.StatusBadGateway, Code: code, Message: msg, Err: err}
}
