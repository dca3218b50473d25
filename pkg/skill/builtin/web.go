package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/claw/pkg/skill"
)

// Web limits.
const (
	DefaultHTTPTimeout = 10 * time.Second
	MaxHTTPTimeout     = 60 * time.Second
	MaxBodyBytes       = 32 << 10
)

// Web returns the "web" skill. A nil client gets an otelhttp-instrumented one.
func Web(client *http.Client) *skill.FuncSkill {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return skill.NewFuncSkill("web", "Outbound HTTP access").
		Add(skill.Tool{
			Name:        "http_get",
			Description: "Performs an HTTP GET request and returns the status and body",
			Parameters: skill.Object(map[string]*skill.Schema{
				"url":        skill.String("absolute http or https URL"),
				"timeout_ms": skill.Number("request timeout in milliseconds, at most 60000"),
			}, "url"),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			raw := stringArg(args, "url")
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return "", fmt.Errorf("invalid url %q", raw)
			}
			timeout := DefaultHTTPTimeout
			if ms := intArg(args, "timeout_ms", 0); ms > 0 {
				timeout = min(time.Duration(ms)*time.Millisecond, MaxHTTPTimeout)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return "", err
			}
			res, err := client.Do(req)
			if err != nil {
				return "", err
			}
			defer func() { _ = res.Body.Close() }()
			b, err := io.ReadAll(io.LimitReader(res.Body, MaxBodyBytes+1))
			if err != nil {
				return "", err
			}
			body := string(b)
			if len(b) > MaxBodyBytes {
				body = string(b[:MaxBodyBytes]) + "\n[truncated]"
			}
			return fmt.Sprintf("HTTP %d\n\n%s", res.StatusCode, body), nil
		})
}
