package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrReferenceImageMissing = errors.New("reference image missing")
	ErrPayloadTooLarge       = errors.New("payload too large")
	ErrPersistence           = errors.New("persistence failure")
	ErrAnalysisDisabled      = errors.New("image analysis disabled")
	ErrAsyncDisabled         = errors.New("async illustrations disabled")
)

// UpstreamKind classifies a failure reported by an image or vision provider.
type UpstreamKind string

const (
	UpstreamQuotaExceeded     UpstreamKind = "quota_exceeded"
	UpstreamContentPolicy     UpstreamKind = "content_policy"
	UpstreamRateLimited       UpstreamKind = "rate_limited"
	UpstreamMalformedResponse UpstreamKind = "malformed_response"
	UpstreamTransient         UpstreamKind = "transient"
	UpstreamUnknown           UpstreamKind = "unknown"
)

// UpstreamError wraps a provider failure with its classification.
type UpstreamError struct {
	Provider string
	Kind     UpstreamKind
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UserMessage is the text shown to callers when this error ends a generation.
func (e *UpstreamError) UserMessage() string {
	switch e.Kind {
	case UpstreamQuotaExceeded:
		return "OpenAI API quota exceeded for image generation."
	case UpstreamContentPolicy:
		return "Image request violates OpenAI content policy."
	case UpstreamRateLimited:
		return "Rate limit exceeded. Please try again later."
	}
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return "Image generation failed: " + msg
}

// UserMessage renders any generation error for display. Classified upstream
// errors use their mapped text; everything else is prefixed the same way.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.UserMessage()
	}
	return "Image generation failed: " + err.Error()
}
