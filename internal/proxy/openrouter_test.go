package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testRequest() ChatRequest {
	temp := 0.7
	return ChatRequest{
		Model: "anthropic/claude-sonnet-4",
		Messages: []Message{
			{Role: "system", Content: "You are a novelist."},
			{Role: "user", Content: "Write chapter 1."},
		},
		Temperature: &temp,
		MaxTokens:   4000,
	}
}

func TestComplete(t *testing.T) {
	var got ChatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"index":0,"message":{"role":"assistant","content":"Chapter 1: Dawn"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	resp, err := NewClientWithBaseURL("test-key", srv.URL).Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Chapter 1: Dawn" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if got.MaxTokens != 4000 || got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_RateLimitRetry(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempt.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"gen-1","choices":[]}`)
	}))
	defer srv.Close()

	if _, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), testRequest()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := attempt.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestComplete_RateLimitExhausted(t *testing.T) {
	var attempt atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want rate limited", err)
	}
	if got := attempt.Load(); got != maxRetries {
		t.Errorf("attempts = %d, want %d", got, maxRetries)
	}
}

func TestComplete_ModerationRefusal(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"openrouter moderation", http.StatusForbidden, `{"error":{"code":403,"message":"Input was flagged by moderation"}}`, true},
		{"upstream content policy", http.StatusBadRequest, `{"error":{"code":"content_policy_violation","message":"rejected"}}`, true},
		{"plain bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"max_tokens too large"}}`, false},
		{"server error", http.StatusInternalServerError, `moderation service down`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClientWithBaseURL("k", srv.URL).Complete(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrContentPolicy); got != tt.want {
				t.Errorf("errors.Is(ErrContentPolicy) = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestComplete_ContextCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(handlerStarted)
		<-handlerDone
	}))
	defer srv.Close()
	defer close(handlerDone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClientWithBaseURL("k", srv.URL).Complete(ctx, testRequest())
		done <- err
	}()

	<-handlerStarted
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Complete did not return promptly after context cancellation")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(ModelList{Data: []Model{
			{ID: "anthropic/claude-sonnet-4"},
			{ID: "qwen/qwen-2.5-72b-instruct"},
		}})
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1].ID != "qwen/qwen-2.5-72b-instruct" {
		t.Errorf("models = %+v", models)
	}
}

func TestListModels_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":null}`)
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if models == nil || len(models) != 0 {
		t.Errorf("models = %#v, want empty non-nil", models)
	}
}
