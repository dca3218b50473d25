package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/wilhg/claw/pkg/errmodel"
)

// RateLimitMessage is the friendlier text logged for throttled providers.
const RateLimitMessage = "rate limited; even free APIs need a lunch break, try again in 60 seconds"

// StatusError converts a non-2xx HTTP status from a provider into a compact error.
func StatusError(provider string, status int, body string) error {
	ctx := map[string]any{"provider": provider, "status": status}
	if status == http.StatusTooManyRequests {
		return errmodel.Model(errmodel.CodeRateLimited, RateLimitMessage, ctx)
	}
	if body != "" {
		ctx["body"] = body
	}
	return errmodel.Model("provider_status", fmt.Sprintf("%s returned status %d", provider, status), ctx)
}

// IsRateLimited reports whether err looks like provider throttling.
// Used only to pick a friendlier log line, never to decide on retries.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errmodel.IsCode(err, errmodel.CategoryModel, errmodel.CodeRateLimited) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit")
}
