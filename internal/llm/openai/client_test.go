package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument when api key is missing, got %v", err)
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          struct {
			Model       string        `json:"model"`
			Messages    []chatMessage `json:"messages"`
			Temperature float64       `json:"temperature"`
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": ` {"next_agent":"ApolloAgent","message":"go"} `}},
			},
		})
	}))
	defer srv.Close()

	temp := 0.0
	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/", Timeout: time.Second, Temperature: &temp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		System: "You are the supervisor.",
		Messages: []state.Message{
			state.HumanMessage("find leads"),
			state.AssistantMessage("Apollo agent", "found 5"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"next_agent":"ApolloAgent","message":"go"}` {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body.Temperature != 0 {
		t.Fatalf("explicit zero temperature must be sent, got %v", captured.Body.Temperature)
	}
	if captured.Body.Model != defaultModelName {
		t.Fatalf("unexpected model: %q", captured.Body.Model)
	}

	msgs := captured.Body.Messages
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Fatalf("unexpected roles: %+v", msgs)
	}
	if msgs[2].Name != "Apolloagent" {
		t.Fatalf("name must be sanitized, got %q", msgs[2].Name)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Messages: []state.Message{state.HumanMessage("x")}}); !xerrors.HasCode(err, xerrors.CodeBackendFailure) {
		t.Fatalf("expected backend failure, got %v", err)
	}
}

func TestGenerateStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		code      xerrors.Code
		retryable bool
	}{
		{http.StatusUnauthorized, xerrors.CodeSetupFailure, false},
		{http.StatusTooManyRequests, xerrors.CodeBackendFailure, true},
		{http.StatusBadGateway, xerrors.CodeBackendFailure, true},
		{http.StatusUnprocessableEntity, xerrors.CodeBackendFailure, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "invalid_request_error"}}`))
		}))
		client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
		client.httpClient = srv.Client()

		_, err := client.Generate(context.Background(), llm.Request{System: "s"})
		srv.Close()
		if xerrors.CodeOf(err) != tc.code || xerrors.RetryableError(err) != tc.retryable {
			t.Fatalf("status %d: got code %s retryable %v", tc.status, xerrors.CodeOf(err), xerrors.RetryableError(err))
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Fatalf("status %d: error envelope message missing: %v", tc.status, err)
		}
	}
}

func TestGenerateEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{System: "s"}); !xerrors.HasCode(err, xerrors.CodeMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
