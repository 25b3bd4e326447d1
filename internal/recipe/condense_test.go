package recipe_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shgupte/sous/internal/recipe"
)

func TestNewCondenser_MissingAPIKey(t *testing.T) {
	if _, err := recipe.NewCondenser("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestCondenser_Condense(t *testing.T) {
	var gotReq struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature         float64 `json:"temperature"`
		TopP                float64 `json:"top_p"`
		MaxCompletionTokens int64   `json:"max_completion_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   gotReq.Model,
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": "Boil noodles. Toss with sauce.",
					},
				},
			},
		})
	}))
	defer srv.Close()

	c, err := recipe.NewCondenser("sk-test", "", recipe.WithCondenserBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewCondenser: %v", err)
	}

	rambling := strings.Repeat("My grandmother always said the secret is love. ", 40) +
		"Boil the noodles, then toss with the sauce."
	out, err := c.Condense(context.Background(), rambling)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if out != "Boil noodles. Toss with sauce." {
		t.Errorf("condensed = %q", out)
	}

	if gotReq.Model != recipe.DefaultCondenseModel {
		t.Errorf("model = %q, want %q", gotReq.Model, recipe.DefaultCondenseModel)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "Boil the noodles") {
		t.Error("recipe text missing from the prompt")
	}
	if gotReq.Temperature != 0.4 || gotReq.TopP != 0.8 {
		t.Errorf("sampling = temp %v / top_p %v", gotReq.Temperature, gotReq.TopP)
	}
	if want := int64(len(rambling) / 4); gotReq.MaxCompletionTokens != want {
		t.Errorf("max_completion_tokens = %d, want %d", gotReq.MaxCompletionTokens, want)
	}
}

func TestCondenser_MinimumTokenBudget(t *testing.T) {
	var budget int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MaxCompletionTokens int64 `json:"max_completion_tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		budget = req.MaxCompletionTokens
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-2", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop",
					"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c, err := recipe.NewCondenser("sk-test", "", recipe.WithCondenserBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewCondenser: %v", err)
	}
	if _, err := c.Condense(context.Background(), "short recipe"); err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if budget != 256 {
		t.Errorf("token budget = %d, want the 256 floor", budget)
	}
}

func TestCondenser_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-3", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": []map[string]any{},
		})
	}))
	defer srv.Close()

	c, err := recipe.NewCondenser("sk-test", "", recipe.WithCondenserBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewCondenser: %v", err)
	}
	if _, err := c.Condense(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
