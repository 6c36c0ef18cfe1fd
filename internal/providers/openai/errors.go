package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaigo "github.com/sashabaranov/go-openai"

	"storybook/internal/domain"
)

// Classify wraps err in a *domain.UpstreamError tagged with provider.
// Sentinel errors such as domain.ErrProviderUnavailable pass through.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) || errors.Is(err, domain.ErrProviderUnavailable) {
		return err
	}

	kind := domain.UpstreamUnknown
	status := 0
	var apiErr *openaigo.APIError
	var reqErr *openaigo.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		code, _ := apiErr.Code.(string)
		kind = kindFor(code, apiErr.Type, apiErr.Message, status)
		if apiErr.InnerError != nil && apiErr.InnerError.Code == "ResponsibleAIPolicyViolation" {
			kind = domain.UpstreamContentPolicy
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		kind = kindFor("", "", "", status)
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.UpstreamTransient
	default:
		kind = kindFor("", "", err.Error(), 0)
	}
	return &domain.UpstreamError{Provider: provider, Kind: kind, Status: status, Err: err}
}

func kindFor(code, typ, message string, status int) domain.UpstreamKind {
	code = strings.ToLower(code)
	switch {
	case code == "insufficient_quota" || typ == "insufficient_quota":
		return domain.UpstreamQuotaExceeded
	case code == "content_policy_violation" || code == "moderation_blocked" || code == "content_filter":
		return domain.UpstreamContentPolicy
	case code == "rate_limit_exceeded" || status == http.StatusTooManyRequests:
		return domain.UpstreamRateLimited
	case status >= 500 || status == http.StatusRequestTimeout:
		return domain.UpstreamTransient
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection reset"), strings.Contains(lower, "connection refused"):
		return domain.UpstreamTransient
	}
	return domain.UpstreamUnknown
}

func malformed(provider, detail string) error {
	return &domain.UpstreamError{
		Provider: provider,
		Kind:     domain.UpstreamMalformedResponse,
		Err:      fmt.Errorf("openai: %s", detail),
	}
}
