// Package errmodel holds the compact, categorized error used across the
// orchestration core. Components return *Error for failures a caller may want
// to branch on (model exhaustion, unknown tools, bad tool arguments) and plain
// wrapped errors for everything else.
package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryTool       = "tool"
	CategoryNetwork    = "network"
	CategoryModel      = "model"
	CategoryMemory     = "memory"
	CategoryPolicy     = "policy"
	CategorySystem     = "system"
)

// Well-known codes.
const (
	CodeAllModelsFailed = "all_models_failed"
	CodeUnknownProvider = "unknown_provider"
	CodeRateLimited     = "rate_limited"
	CodeNotFound        = "not_found"
	CodeInvalidArgs     = "invalid_args"
	CodeDuplicate       = "duplicate"
)

// Error is the compact error payload returned by the ops endpoint and used internally.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err already wraps an *Error it is returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Policy(code, message string, ctx map[string]any) *Error {
	return New(CategoryPolicy, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// Model reports a provider-side failure.
func Model(code, message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryModel, code, message, ctx, causes...)
}

// AllModelsFailed is the terminal error of the model router: every tier it was
// allowed to try has failed.
func AllModelsFailed(ctx map[string]any, causes ...error) *Error {
	return New(CategoryModel, CodeAllModelsFailed,
		"all models failed; the AI uprising has been postponed due to technical difficulties", ctx, causes...)
}

// ToolNotFound reports a tool name that no registered skill provides.
func ToolNotFound(name string) *Error {
	return New(CategoryTool, CodeNotFound, "tool "+name+" not found", map[string]any{"tool": name})
}

// Tool wraps a tool-specific execution failure.
func Tool(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategoryTool, code, message, ctx, cause)
}

// HTTPStatus maps category/code to HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation:
		switch e.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case "conflict", CodeDuplicate:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case CategoryPolicy:
		switch e.Code {
		case "unauthorized":
			return http.StatusUnauthorized
		case "method_not_allowed":
			return http.StatusMethodNotAllowed
		default:
			return http.StatusForbidden
		}
	case CategoryModel:
		if e.Code == CodeRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case CategoryNetwork, CategoryTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes a compact error envelope to the response writer.
// It includes the trace_id if the request context carries a span.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(ce))

	traceID := ""
	if r != nil {
		if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    ce,
		"trace_id": traceID,
	})
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case int, int64, float64, bool:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

// IsCode checks if err carries the given category and code.
func IsCode(err error, category, code string) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return strings.EqualFold(ce.Category, category) && ce.Code == code
}
