package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
)

// ErrorClass categorizes completion failures for logs, metrics and HTTP
// status mapping.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassBilling         ErrorClass = "BILLING"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	ErrorClassUnknown         ErrorClass = "UNKNOWN"
)

// ClassifyError inspects the API status code when available and falls
// back to matching known phrases in the error text.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrorClassAuth
		case http.StatusTooManyRequests:
			if strings.Contains(strings.ToLower(apiErr.Error()), "quota") {
				return ErrorClassBilling
			}
			return ErrorClassRateLimit
		case http.StatusPaymentRequired:
			return ErrorClassBilling
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return ErrorClassTimeout
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "unauthorized", "invalid key", "invalid api key", "incorrect api key", "forbidden", "403"):
		return ErrorClassAuth
	case containsAny(msg, "billing", "payment", "insufficient funds", "insufficient_quota"):
		return ErrorClassBilling
	case containsAny(msg, "429", "rate limit", "rate_limit", "quota", "too many requests"):
		return ErrorClassRateLimit
	case containsAny(msg, "deadline exceeded", "timeout", "timed out"):
		return ErrorClassTimeout
	case containsAny(msg, "context_length", "context length", "token limit", "max tokens", "maximum context", "context window"):
		return ErrorClassContextOverflow
	}
	return ErrorClassUnknown
}

// HTTPStatus is the status a gateway returns for a failed completion.
func (c ErrorClass) HTTPStatus() int {
	switch c {
	case ErrorClassRateLimit:
		return http.StatusTooManyRequests
	case ErrorClassTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
