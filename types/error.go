package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 统一错误码
type ErrorCode string

// 解析链路错误码
const (
	ErrCacheUnavailable        ErrorCode = "CACHE_UNAVAILABLE"
	ErrStoreUnavailable        ErrorCode = "STORE_UNAVAILABLE"
	ErrRetryableClient         ErrorCode = "RETRYABLE_CLIENT_ERROR"
	ErrAllCredentialsExhausted ErrorCode = "ALL_CREDENTIALS_EXHAUSTED"
	ErrResolutionFailed        ErrorCode = "RESOLUTION_FAILED"
)

// 上游调用错误码
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error 带错误码与元数据的结构化错误
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Key        string    `json:"key,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，errors.Is(err, types.NewError(code, "")) 即可判断类别
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Key == "" || t.Key == e.Key)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithKey 绑定出错的请求键
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// CacheUnavailable 缓存后端传输失败，调用方应跳过缓存
func CacheUnavailable(op string, cause error) *Error {
	return NewError(ErrCacheUnavailable, "cache "+op+" failed").
		WithCause(cause).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}

// StoreUnavailable 持久化存储传输失败，调用方应跳过存储
func StoreUnavailable(op string, cause error) *Error {
	return NewError(ErrStoreUnavailable, "store "+op+" failed").
		WithCause(cause).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}

// AllCredentialsExhausted 一次调用内所有凭证均失败
func AllCredentialsExhausted(attempts int, cause error) *Error {
	return NewError(ErrAllCredentialsExhausted, fmt.Sprintf("all credentials exhausted after %d attempts", attempts)).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway)
}

// ResolutionFailed 单个键的终态失败
func ResolutionFailed(key string, cause error) *Error {
	status := http.StatusBadGateway
	var e *Error
	if errors.As(cause, &e) && e.HTTPStatus != 0 {
		status = e.HTTPStatus
	}
	return NewError(ErrResolutionFailed, fmt.Sprintf("resolution of %q failed", key)).
		WithKey(key).
		WithCause(cause).
		WithHTTPStatus(status)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode 判断错误链中是否存在指定错误码
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
