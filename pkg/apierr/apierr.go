// Package apierr provides structured API error types and HTTP status mapping
// for the gateway's inbound responses.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeUpstreamError     = "upstream_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
	TypeDataMeshError     = "datamesh_error"
)

// Code constants.
const (
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeInternalError       = "internal_error"
	CodeUpstreamError       = "upstream_error"
	CodeRequestTimeout      = "request_timeout"
	CodeNotImplemented      = "not_implemented"
	CodeInvalidRequest      = "invalid_request"
	CodeServiceNotFound     = "service_not_found"
	CodeEndpointNotFound    = "endpoint_not_found"
	CodeDataMeshConfigError = "datamesh_configuration_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteUpstreamError maps an upstream HTTP status to the appropriate gateway status.
//
//	Upstream 429  → 429 + Retry-After: 60
//	Upstream 5xx  → 502
//	Default       → 502
//
// Timeouts are not handled here; use WriteTimeout for a 504.
func WriteUpstreamError(ctx *fasthttp.RequestCtx, upstreamStatus int, msg string) {
	switch {
	case upstreamStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case upstreamStatus >= 500 && upstreamStatus < 600:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeUpstreamError, CodeUpstreamError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeUpstreamError, CodeUpstreamError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out", TypeUpstreamError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteServiceNotFound writes a 404 for an unknown service endpoint name.
func WriteServiceNotFound(ctx *fasthttp.RequestCtx, service string) {
	Write(ctx, fasthttp.StatusNotFound,
		"service \""+service+"\" not found", TypeInvalidRequest, CodeServiceNotFound)
}

// WriteEndpointNotFound writes a 404 for an operation the upstream spec does not define.
func WriteEndpointNotFound(ctx *fasthttp.RequestCtx, method, path string) {
	Write(ctx, fasthttp.StatusNotFound,
		"endpoint not found: "+method+" "+path, TypeInvalidRequest, CodeEndpointNotFound)
}

// WriteDataMeshConfigError writes a 502 for a primary-path DataMesh configuration error
// (e.g. a missing lookup_field_name). Sub-record failures never reach this — they are
// logged and the join slot is omitted instead (see internal/join).
func WriteDataMeshConfigError(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadGateway, msg, TypeDataMeshError, CodeDataMeshConfigError)
}
