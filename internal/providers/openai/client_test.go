package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openaigo "github.com/sashabaranov/go-openai"

	"storybook/internal/domain"
)

func writeReference(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hero.png")
	if err := os.WriteFile(p, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("write reference: %v", err)
	}
	return p
}

func TestGenerateImageSendsDallERequest(t *testing.T) {
	var captured openaigo.ImageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = io.WriteString(w, `{"created":1,"data":[{"url":"https://img.example.com/a.png","revised_prompt":"rp"}]}`)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	img, err := client.GenerateImage(context.Background(), GenerateRequest{Prompt: "a dragon"})
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if img.URL != "https://img.example.com/a.png" {
		t.Fatalf("url = %q", img.URL)
	}
	if captured.Model != "dall-e-3" || captured.Size != "1024x1024" || captured.Quality != "standard" || captured.Style != "vivid" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.ResponseFormat != "url" || captured.N != 1 {
		t.Fatalf("unexpected response format or count: %+v", captured)
	}
}

func TestGenerateImageWithoutKeyIsUnavailable(t *testing.T) {
	client := NewClient(Options{})
	_, err := client.GenerateImage(context.Background(), GenerateRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestGenerateImageClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.UpstreamKind
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"quota","type":"insufficient_quota","code":"insufficient_quota"}}`, domain.UpstreamQuotaExceeded},
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, domain.UpstreamRateLimited},
		{"content policy", http.StatusBadRequest, `{"error":{"message":"nope","type":"invalid_request_error","code":"content_policy_violation"}}`, domain.UpstreamContentPolicy},
		{"server error", http.StatusBadGateway, `{"error":{"message":"upstream","type":"server_error"}}`, domain.UpstreamTransient},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad size","type":"invalid_request_error"}}`, domain.UpstreamUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			client := NewClient(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
			_, err := client.GenerateImage(context.Background(), GenerateRequest{Prompt: "x"})
			var upstream *domain.UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			if upstream.Kind != tc.want {
				t.Fatalf("kind = %s, want %s", upstream.Kind, tc.want)
			}
		})
	}
}

func TestGenerateImageEmptyDataIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"created":1,"data":[]}`)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	_, err := client.GenerateImage(context.Background(), GenerateRequest{Prompt: "x"})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.Kind != domain.UpstreamMalformedResponse {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestDescribeImageSendsDataURL(t *testing.T) {
	var captured struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = io.WriteString(w, `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"  Curly red hair.  "}}]}`)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	text, err := client.DescribeImage(context.Background(), DescribeRequest{
		Model: "gpt-4o", Prompt: "describe", MIME: "image/jpeg", Data: []byte("abc"), Temperature: 0.4, MaxTokens: 250,
	})
	if err != nil {
		t.Fatalf("DescribeImage returned error: %v", err)
	}
	if text != "Curly red hair." {
		t.Fatalf("text = %q", text)
	}
	if captured.MaxTokens != 250 || captured.Model != "gpt-4o" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	parts := captured.Messages[0].Content
	wantURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("abc"))
	if len(parts) != 2 || parts[1].ImageURL.URL != wantURL {
		t.Fatalf("unexpected content parts: %+v", parts)
	}
}

func TestEditorOpenAIRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/edits" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "gpt-image-1" || r.FormValue("size") != "1024x1024" || r.FormValue("n") != "1" {
			t.Errorf("unexpected form: %v", r.MultipartForm.Value)
		}
		if _, ok := r.MultipartForm.Value["response_format"]; ok {
			t.Errorf("response_format must not be sent")
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image part: %v", err)
		} else {
			file.Close()
			if header.Header.Get("Content-Type") != "image/png" {
				t.Errorf("image content type = %q", header.Header.Get("Content-Type"))
			}
		}
		_, _ = io.WriteString(w, `{"created":1,"data":[{"b64_json":"aGVsbG8="}]}`)
	}))
	defer srv.Close()

	editor := NewEditor(EditorOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	img, err := editor.Edit(context.Background(), EditRequest{ImagePath: writeReference(t), Prompt: "transform"})
	if err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	data, err := img.Bytes()
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected bytes %q err=%v", data, err)
	}
	if editor.Name() != "openai-gpt-image-1" {
		t.Fatalf("name = %q", editor.Name())
	}
}

func TestEditorAzureRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-image-1/images/edits" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2025-04-01-preview" {
			t.Errorf("api-version = %q", got)
		}
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key = %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("authorization header must not be set for azure")
		}
		_, _ = io.WriteString(w, `{"data":[{"b64_json":"aGk="}]}`)
	}))
	defer srv.Close()

	editor := NewEditor(EditorOptions{APIKey: "az-key", Azure: &AzureTarget{Endpoint: srv.URL + "/"}})
	if _, err := editor.Edit(context.Background(), EditRequest{ImagePath: writeReference(t), Prompt: "transform"}); err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	if editor.Name() != "azure-gpt-image-1" {
		t.Fatalf("name = %q", editor.Name())
	}
}

func TestEditorFailures(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		editor := NewEditor(EditorOptions{Azure: &AzureTarget{}})
		_, err := editor.Edit(context.Background(), EditRequest{ImagePath: "x", Prompt: "p"})
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			t.Fatalf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("missing reference file", func(t *testing.T) {
		editor := NewEditor(EditorOptions{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
		_, err := editor.Edit(context.Background(), EditRequest{ImagePath: filepath.Join(t.TempDir(), "nope.png"), Prompt: "p"})
		if !errors.Is(err, domain.ErrReferenceImageMissing) {
			t.Fatalf("expected ErrReferenceImageMissing, got %v", err)
		}
	})

	t.Run("plain text error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "overloaded")
		}))
		defer srv.Close()
		editor := NewEditor(EditorOptions{APIKey: "k", BaseURL: srv.URL})
		_, err := editor.Edit(context.Background(), EditRequest{ImagePath: writeReference(t), Prompt: "p"})
		var upstream *domain.UpstreamError
		if !errors.As(err, &upstream) || upstream.Kind != domain.UpstreamTransient || upstream.Status != http.StatusServiceUnavailable {
			t.Fatalf("expected transient upstream error, got %v", err)
		}
		if !strings.Contains(err.Error(), "overloaded") {
			t.Fatalf("error should carry body, got %v", err)
		}
	})

	t.Run("moderation block", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"blocked","type":"image_generation_user_error","code":"moderation_blocked"}}`)
		}))
		defer srv.Close()
		editor := NewEditor(EditorOptions{APIKey: "k", BaseURL: srv.URL})
		_, err := editor.Edit(context.Background(), EditRequest{ImagePath: writeReference(t), Prompt: "p"})
		var upstream *domain.UpstreamError
		if !errors.As(err, &upstream) || upstream.Kind != domain.UpstreamContentPolicy {
			t.Fatalf("expected content policy error, got %v", err)
		}
	})
}

func TestClassifyPassesThroughSentinels(t *testing.T) {
	wrapped := Classify("x", domain.ErrProviderUnavailable)
	if !errors.Is(wrapped, domain.ErrProviderUnavailable) {
		t.Fatalf("sentinel lost: %v", wrapped)
	}
	var upstream *domain.UpstreamError
	if errors.As(wrapped, &upstream) {
		t.Fatalf("sentinel should not be wrapped in UpstreamError")
	}
	if Classify("x", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}
