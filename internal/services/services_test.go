package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/MegaGrindStone/medigem-relay/internal/models"
	"github.com/MegaGrindStone/medigem-relay/internal/services"
)

var testHistory = []models.Message{
	{Role: models.RoleSystem, Content: "You are MEDI-GEM."},
	{Role: models.RoleUser, Content: "I have a headache"},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultParams() services.LLMParameters {
	return services.LLMParameters{}.WithDefaults()
}

// sseUpstream starts a server that records the decoded request body and answers with the given
// pre-framed events, flushing after each one.
func sseUpstream(t *testing.T, path string, events []string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, ev := range events {
			fmt.Fprint(w, ev)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, seq iter.Seq2[string, error]) []string {
	t.Helper()
	var deltas []string
	for d, err := range seq {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		deltas = append(deltas, d)
	}
	return deltas
}

func requestMessages(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["messages"].([]any)
	if !ok {
		t.Fatalf("request has no messages: %+v", body)
	}
	msgs := make([]map[string]any, len(raw))
	for i, m := range raw {
		msgs[i] = m.(map[string]any)
	}
	return msgs
}

func TestOpenAIChat(t *testing.T) {
	var body map[string]any
	srv := sseUpstream(t, "/v1/chat/completions", []string{
		"data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"I'm\"}}]}\n\n",
		"data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" sorry\"}}]}\n\n",
		"data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[]}\n\n",
		"data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" to hear that.\"}}]}\n\n",
		"data: [DONE]\n\n",
	}, &body)

	o := services.NewOpenAI("test-key", srv.URL+"/v1", services.DefaultOpenAIModel, defaultParams(), discardLogger())
	got := collect(t, o.Chat(context.Background(), testHistory))

	want := []string{"I'm", " sorry", "", " to hear that."}
	if !slices.Equal(got, want) {
		t.Errorf("Chat() deltas = %q, want %q", got, want)
	}

	if body["model"] != services.DefaultOpenAIModel {
		t.Errorf("model = %v, want %v", body["model"], services.DefaultOpenAIModel)
	}
	if body["stream"] != true {
		t.Errorf("stream = %v, want true", body["stream"])
	}
	if body["temperature"] != 0.5 {
		t.Errorf("temperature = %v, want 0.5", body["temperature"])
	}
	if body["top_p"] != 1.0 {
		t.Errorf("top_p = %v, want 1", body["top_p"])
	}
	if body["max_tokens"] != 1024.0 {
		t.Errorf("max_tokens = %v, want 1024", body["max_tokens"])
	}
	msgs := requestMessages(t, body)
	if len(msgs) != 2 || msgs[0]["role"] != "system" || msgs[1]["content"] != "I have a headache" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestOpenAIChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	o := services.NewOpenAI("bad", srv.URL+"/v1", "m", defaultParams(), discardLogger())
	for _, err := range o.Chat(context.Background(), testHistory) {
		if err == nil {
			t.Fatal("Chat() want error for unauthorized upstream")
		}
		return
	}
	t.Fatal("Chat() yielded nothing")
}

func TestOpenRouterChat(t *testing.T) {
	var body map[string]any
	srv := sseUpstream(t, "/chat/completions", []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"I'm\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\" fine\"}}]}\n\n",
		"data: [DONE]\n\n",
	}, &body)

	o := services.NewOpenRouter("key", srv.URL, "some/model", defaultParams(), discardLogger())
	got := collect(t, o.Chat(context.Background(), testHistory))

	want := []string{"I'm", "", " fine"}
	if !slices.Equal(got, want) {
		t.Errorf("Chat() deltas = %q, want %q", got, want)
	}
	if body["max_tokens"] != 1024.0 || body["stream"] != true {
		t.Errorf("request = %+v", body)
	}
	if msgs := requestMessages(t, body); msgs[0]["role"] != "system" {
		t.Errorf("first message role = %v, want system", msgs[0]["role"])
	}
}

func TestAnthropicChat(t *testing.T) {
	var body map[string]any
	srv := sseUpstream(t, "/messages", []string{
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n",
		"event: ping\ndata: {\"type\":\"ping\"}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}, &body)

	a := services.NewAnthropic("key", srv.URL, "claude", defaultParams(), discardLogger())
	got := collect(t, a.Chat(context.Background(), testHistory))

	want := []string{"Hello", " there"}
	if !slices.Equal(got, want) {
		t.Errorf("Chat() deltas = %q, want %q", got, want)
	}
	if body["system"] != "You are MEDI-GEM." {
		t.Errorf("system = %v, want the injected instruction", body["system"])
	}
	if msgs := requestMessages(t, body); len(msgs) != 1 || msgs[0]["role"] != "user" {
		t.Errorf("messages = %+v, want only the user message", msgs)
	}
}

func TestAnthropicChatErrorEvent(t *testing.T) {
	var body map[string]any
	srv := sseUpstream(t, "/messages", []string{
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"Hi\"}}\n\n",
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
	}, &body)

	a := services.NewAnthropic("key", srv.URL, "claude", defaultParams(), discardLogger())

	var deltas []string
	var lastErr error
	for d, err := range a.Chat(context.Background(), testHistory) {
		if err != nil {
			lastErr = err
			break
		}
		deltas = append(deltas, d)
	}
	if !slices.Equal(deltas, []string{"Hi"}) {
		t.Errorf("deltas = %q, want [Hi]", deltas)
	}
	if lastErr == nil {
		t.Error("Chat() want error from error event")
	}
}

func TestOllamaChat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range []string{
			`{"model":"llama3","message":{"role":"assistant","content":"I'm"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":" here"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true}`,
		} {
			fmt.Fprintln(w, line)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	o, err := services.NewOllama(srv.URL, "llama3", defaultParams(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, o.Chat(context.Background(), testHistory))

	want := []string{"I'm", " here", ""}
	if !slices.Equal(got, want) {
		t.Errorf("Chat() deltas = %q, want %q", got, want)
	}
	opts, _ := body["options"].(map[string]any)
	if opts["num_predict"] != 1024.0 || opts["temperature"] != 0.5 {
		t.Errorf("options = %+v", opts)
	}
}

func TestLLMParametersWithDefaults(t *testing.T) {
	temp := float32(0.2)
	p := services.LLMParameters{Temperature: &temp}.WithDefaults()

	if *p.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want configured 0.2", *p.Temperature)
	}
	if *p.TopP != services.DefaultTopP {
		t.Errorf("TopP = %v, want %v", *p.TopP, services.DefaultTopP)
	}
	if *p.MaxTokens != services.DefaultMaxTokens {
		t.Errorf("MaxTokens = %v, want %v", *p.MaxTokens, services.DefaultMaxTokens)
	}
}
