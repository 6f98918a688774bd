package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashID(t *testing.T) {
	id := HashID("https://example.com/page")

	assert.Len(t, id, 16)
	assert.Equal(t, id, HashID("https://example.com/page"), "stable across calls")
	assert.NotEqual(t, id, HashID("https://example.com/other"))

	for _, c := range id {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
}

func TestCalculateStringSHA256(t *testing.T) {
	// Known vector for the empty string
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		CalculateStringSHA256(""))
	assert.Len(t, CalculateStringSHA256("content"), 64)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"passthrough", "example.com", "example.com"},
		{"slashes replaced", "a/b\\c", "a_b_c"},
		{"invalid chars collapsed", `a<>:"|?*b`, "a_b"},
		{"trimmed", "_name_", "name"},
		{"empty becomes untitled", "", "untitled"},
		{"only invalid becomes untitled", "///", "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	assert.LessOrEqual(t, len(SanitizeFilename(long)), 100)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "None"},
		{"timeout sentinel", fmt.Errorf("%w: request", ErrFetchTimeout), "Fetch_Timeout"},
		{"connection sentinel", fmt.Errorf("%w: dial", ErrFetchConnection), "Fetch_Connection"},
		{"client 404", fmt.Errorf("%w: status 404 for url", ErrClientHTTPError), "HTTP_404"},
		{"client 403", fmt.Errorf("%w: status 403 for url", ErrClientHTTPError), "HTTP_403"},
		{"client other 4xx", fmt.Errorf("%w: status 418 for url", ErrClientHTTPError), "HTTP_4xx"},
		{"server 5xx", fmt.Errorf("%w: status 503", ErrServerHTTPError), "HTTP_5xx"},
		{"render", fmt.Errorf("%w: chrome not found", ErrRenderUnavailable), "Render_Unavailable"},
		{"cache corrupt", fmt.Errorf("%w: bad gzip", ErrCacheCorrupt), "Cache_Corrupt"},
		{"cache io", fmt.Errorf("%w: disk full", ErrCacheIO), "Cache_IO"},
		{"robots", fmt.Errorf("%w: /admin", ErrRobotsDisallowed), "Policy_Robots"},
		{"scope", fmt.Errorf("%w: offsite", ErrScopeViolation), "Policy_Scope"},
		{"parsing XML", fmt.Errorf("%w: XML is busted", ErrParsing), "Content_ParsingXML"},
		{"config", fmt.Errorf("%w: bad seed", ErrConfigValidation), "Config_Validation"},
		{"context canceled", context.Canceled, "System_ContextCanceled"},
		{"context deadline", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"unknown", errors.New("some novel failure"), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeError(tt.err))
		})
	}
}

func TestCategorizeErrorRetryWrapping(t *testing.T) {
	server := fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 500", ErrServerHTTPError))
	assert.Equal(t, "RetryFailed_HTTPServer", CategorizeError(server))

	conn := fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused"))
	assert.Equal(t, "RetryFailed_ConnectionRefused", CategorizeError(conn))
}
