package binance

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Binance error codes this package cares about.
const (
	codeOrderNotFound     = -2013
	codeCancelRejected    = -2011
	codeInvalidTimestamp  = -1021
	codeTooManyRequests   = -1003
	codeInsufficientFunds = -2010
)

var (
	// ErrOrderNotFound is returned when an order id referenced by a cancel or
	// cancel-replace no longer exists on the exchange. The caller must re-query
	// the order status instead of assuming the cancel went through.
	ErrOrderNotFound = errors.New("order does not exist on exchange")

	// ErrStaleRequest is returned when the exchange rejects a signed request
	// because the request timestamp fell outside the recv window. This points
	// at local clock drift and is not retried.
	ErrStaleRequest = errors.New("request timestamp outside recv window")
)

// APIError is an exchange-level rejection (HTTP 4xx with a code/msg body).
// These are terminal for the attempt and never retried.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance API error %d: %s", e.Code, e.Message)
}

// Unwrap maps well-known codes onto sentinel errors so callers can use
// errors.Is without switching on raw codes.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case codeOrderNotFound, codeCancelRejected:
		return ErrOrderNotFound
	case codeInvalidTimestamp:
		return ErrStaleRequest
	}
	return nil
}

// parseAPIError decodes an error body. Falls back to a generic APIError when
// the body is not the usual {"code":...,"msg":...} shape.
func parseAPIError(statusCode int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == 0 {
		return &APIError{Code: -statusCode, Message: string(body)}
	}
	return &apiErr
}
