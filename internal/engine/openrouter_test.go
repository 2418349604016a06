package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/inkwell/internal/proxy"
)

func openRouterServer(t *testing.T, status int, body string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			json.NewDecoder(r.Body).Decode(capture)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenRouter_Generate(t *testing.T) {
	var req map[string]any
	srv := openRouterServer(t, http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"Chapter 2: Storm"},"finish_reason":"stop"}]}`, &req)

	g := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "anthropic/claude-sonnet-4")
	out, err := g.Generate(context.Background(), "sys", "user", Options{Temperature: 0.8, MaxTokens: 5000, Schema: &Schema{Type: "object"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Chapter 2: Storm" {
		t.Errorf("out = %q", out)
	}
	if req["model"] != "anthropic/claude-sonnet-4" || req["max_tokens"] != float64(5000) {
		t.Errorf("request = %v", req)
	}
	if rf, _ := req["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("response_format = %v", req["response_format"])
	}
}

func TestOpenRouter_ContentBlocked(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"moderation refusal", http.StatusForbidden, `{"error":{"code":403,"message":"flagged by moderation"}}`},
		{"content filter finish", http.StatusOK, `{"choices":[{"message":{"content":"partial"},"finish_reason":"content_filter"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := openRouterServer(t, tt.status, tt.body, nil)
			_, err := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "m").Generate(context.Background(), "", "x", Options{})
			if !errors.Is(err, ErrContentBlocked) {
				t.Errorf("err = %v, want ErrContentBlocked", err)
			}
		})
	}
}

func TestOpenRouter_GenericFailure(t *testing.T) {
	srv := openRouterServer(t, http.StatusBadGateway, `upstream down`, nil)
	_, err := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "m").Generate(context.Background(), "", "x", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrContentBlocked) {
		t.Error("generic failure reported as content block")
	}
}

func TestOpenRouter_NoChoices(t *testing.T) {
	srv := openRouterServer(t, http.StatusOK, `{"choices":[]}`, nil)
	if _, err := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "m").Generate(context.Background(), "", "x", Options{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
