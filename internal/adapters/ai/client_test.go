package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minerva/pkg/errors"
)

func newTestClient(url string) *Client {
	return NewClient(ClientOptions{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		RPS:     100,
		Burst:   100,
	})
}

func TestChatRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		resp := openAIResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []openAIChoice{{
				Message:      openAIMessage{Role: "assistant", Content: "BUY with conviction"},
				FinishReason: "stop",
			}},
			Usage: openAIUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			SystemMessage("you are a trader"),
			UserMessage("analyze AAPL"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "BUY with conviction", resp.First().Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatDecodesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIResponse{
			Choices: []openAIChoice{{
				Message: openAIMessage{
					Role: "assistant",
					ToolCalls: []openAIToolCall{{
						ID:   "call_1",
						Type: "function",
						Function: openAIFunctionCall{
							Name:      "market_data",
							Arguments: `{"symbol":"AAPL"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	require.NoError(t, err)

	msg := resp.First()
	require.True(t, msg.HasToolCalls())
	assert.Equal(t, "market_data", msg.ToolCalls[0].Function.Name)
	assert.Equal(t, FinishReasonToolCalls, resp.Choices[0].FinishReason)
}

func TestChatClassifiesServerErrorsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransientModel))
	assert.True(t, errors.IsTransient(err))
}

func TestChatClassifiesClientErrorsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
}

func TestChatWithoutKeyFailsSynchronously(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://localhost:0", Model: "gpt-4o-mini"})

	_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))
}
