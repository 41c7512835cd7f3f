package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/config"
)

func TestOllama_BatchAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3:latest", req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
		}

		if !req.Stream {
			_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: ollamaMsg{Role: "assistant", Content: "Hello world"}})
			return
		}
		for _, part := range []string{"Hello", " world"} {
			_ = json.NewEncoder(w).Encode(ollamaStreamResp{Message: ollamaMsg{Content: part}})
		}
		_ = json.NewEncoder(w).Encode(ollamaStreamResp{Done: true})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	ctx := context.Background()

	res, err := p.Generate(ctx, "hi", false)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Text)

	res, err = p.Generate(ctx, "hi", true)
	require.NoError(t, err)
	got, err := Collect(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
}

func TestOllama_StreamErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaStreamResp{Message: ollamaMsg{Content: "Hel"}})
		_ = json.NewEncoder(w).Encode(ollamaStreamResp{Error: "model unloaded"})
	}))
	defer srv.Close()

	res, err := NewOllamaProvider(srv.URL, "m").Generate(context.Background(), "hi", true)
	require.NoError(t, err)
	got, err := Collect(res.Stream)
	assert.Equal(t, "Hel", got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGeneration))
}

func TestOpenRouter_BatchAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "studytree", r.Header.Get("X-Title"))

		var req openRouterChatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if !req.Stream {
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"A B"}}]}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" B\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "m", "", "studytree")
	ctx := context.Background()

	res, err := p.Generate(ctx, "q", false)
	require.NoError(t, err)
	assert.Equal(t, "A B", res.Text)

	res, err = p.Generate(ctx, "q", true)
	require.NoError(t, err)
	got, err := Collect(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "A B", got)
}

func TestOpenRouter_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	e := NewEngineWith(NewOpenRouterProvider(srv.URL, "key", "m", "", ""), "openrouter")
	_, err := e.Generate(context.Background(), "q", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGeneration))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestBuiltinRegistry(t *testing.T) {
	cfg := config.Load()
	cfg.AIAPIKey = ""
	reg := BuiltinRegistry(cfg)
	ctx := context.Background()

	assert.Equal(t, []string{"ollama", "openai", "openrouter", "stub"}, reg.Names())

	e, err := NewEngine(ctx, reg, "STUB", "")
	require.NoError(t, err)
	assert.Equal(t, "stub", e.ModelName())

	_, err = NewEngine(ctx, reg, "anthropic", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ai provider")

	_, err = NewEngine(ctx, reg, "openrouter", "")
	require.Error(t, err, "missing api key must fail at startup")
}

func TestEngine_StreamRequested(t *testing.T) {
	e := NewEngineWith(NewStubProvider(), "stub")
	res, err := e.Generate(context.Background(), "p", true)
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	res.Stream.Close()
}
