package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrFetchTimeout      = errors.New("fetch timed out")
	ErrFetchConnection   = errors.New("fetch connection error")
	ErrClientHTTPError   = errors.New("client HTTP error (4xx)") // Wraps original error/status
	ErrServerHTTPError   = errors.New("server HTTP error (5xx)") // Wraps original error/status
	ErrOtherHTTPError    = errors.New("other HTTP error (non-2xx)")
	ErrRetryFailed       = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrRenderUnavailable = errors.New("rendering unavailable")
	ErrCacheCorrupt      = errors.New("cache entry corrupt") // Treated as a miss by readers
	ErrCacheIO           = errors.New("cache I/O error")     // Surfaced from writes
	ErrRobotsDisallowed  = errors.New("disallowed by robots.txt")
	ErrScopeViolation    = errors.New("URL out of scope")
	ErrParsing           = errors.New("parsing error") // Wraps specific parsing error (HTML, URL, JSON, XML)
	ErrRequestCreation   = errors.New("failed to create HTTP request")
	ErrResponseBodyRead  = errors.New("failed to read response body")
	ErrSemaphoreTimeout  = errors.New("timeout acquiring semaphore")
	ErrConfigValidation  = errors.New("configuration validation error")
)

// CategorizeError maps an error to a predefined category string for logging
// and failed-URL reporting.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrFetchTimeout):
		return "Fetch_Timeout"
	case errors.Is(err, ErrFetchConnection):
		return "Fetch_Connection"
	case errors.Is(err, ErrRetryFailed):
		// The retry error wraps the last underlying failure alongside the
		// sentinel, so inspect the whole chain rather than one Unwrap level
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(errMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(errMsg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		if errMsg == ErrRetryFailed.Error() {
			return "RetryFailed_Unknown"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRenderUnavailable):
		return "Render_Unavailable"
	case errors.Is(err, ErrCacheCorrupt):
		return "Cache_Corrupt"
	case errors.Is(err, ErrCacheIO):
		if errors.Is(err, os.ErrPermission) {
			return "Cache_Permission"
		}
		return "Cache_IO"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		if strings.Contains(errMsg, "XML") {
			return "Content_ParsingXML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	// Network errors (if not wrapped by custom sentinels)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
