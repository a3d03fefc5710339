package vk_api

import (
	"errors"
	"fmt"
)

// APIError is an error object returned by a VK API method. Use errors.As or
// IsAPIError to inspect it:
//
//	if vk_api.IsAPIError(err, vk_api.ErrCodeTooManyRequests) { ... }
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
	// Method is the API method that failed.
	Method string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk: %s: error %d: %s", e.Method, e.Code, e.Message)
}

// Temporary reports whether repeating the call later may succeed.
func (e *APIError) Temporary() bool {
	switch e.Code {
	case ErrCodeUnknown, ErrCodeTooManyRequests, ErrCodeTooManySimilarActions, ErrCodeInternalServer:
		return true
	}
	return false
}

// VK API error codes.
const (
	ErrCodeUnknown               = 1
	ErrCodeAppDisabled           = 2
	ErrCodeUnknownMethod         = 3
	ErrCodeInvalidSignature      = 4
	ErrCodeAuthFailed            = 5
	ErrCodeTooManyRequests       = 6
	ErrCodeNoPermission          = 7
	ErrCodeInvalidRequest        = 8
	ErrCodeTooManySimilarActions = 9
	ErrCodeInternalServer        = 10
	ErrCodeCaptchaRequired       = 14
	ErrCodeAccessDenied          = 15
	ErrCodeMethodDisabled        = 23
	ErrCodeInvalidCommunityToken = 27
	ErrCodeRateLimitReached      = 29
	ErrCodeProfilePrivate        = 30
	ErrCodeInvalidParameter      = 100
	ErrCodeInvalidUserID         = 113
	ErrCodeGroupAccessDenied     = 203
	ErrCodeCannotSendToUser      = 901
	ErrCodeChatAccessDenied      = 917
)

// IsAPIError reports whether err is an *APIError with the given code.
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
