package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func testEngine(t *testing.T, srvURL string) *Llama {
	t.Helper()
	return &Llama{
		baseURL:    srvURL,
		httpClient: &http.Client{},
		logger:     zaptest.NewLogger(t),
		done:       make(chan struct{}),
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	var gotReq tokenizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokenize" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(tokenizeResponse{Tokens: []int{15339, 1917}})
	}))
	defer srv.Close()

	engine := testEngine(t, srv.URL)
	tokens, err := engine.Encode(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if gotReq.Content != "hello world" {
		t.Errorf("content = %q", gotReq.Content)
	}
	if !gotReq.AddSpecial {
		t.Errorf("add_special should be set so the model sees its usual prefix tokens")
	}
	if !reflect.DeepEqual(tokens, []int{15339, 1917}) {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	var gotReq detokenizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detokenize" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(detokenizeResponse{Content: "hello world"})
	}))
	defer srv.Close()

	engine := testEngine(t, srv.URL)
	text, err := engine.Decode(context.Background(), []int{15339, 1917})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !reflect.DeepEqual(gotReq.Tokens, []int{15339, 1917}) {
		t.Errorf("request tokens = %v", gotReq.Tokens)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
}

func TestGenerateGreedy(t *testing.T) {
	t.Parallel()

	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(completionResponse{
			Content:         " hi there",
			Tokens:          []int{40, 50},
			TokensEvaluated: 3,
			TokensPredicted: 2,
		})
	}))
	defer srv.Close()

	engine := testEngine(t, srv.URL)
	gen, err := engine.Generate(context.Background(), []int{1, 2, 3}, GenerateOptions{
		MaxNewTokens: 16,
		Sample:       false,
		Temperature:  0.7,
		TopP:         0.8,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.Temperature != 0 {
		t.Errorf("temperature = %v, want 0 for greedy decoding", gotReq.Temperature)
	}
	if gotReq.NPredict != 16 {
		t.Errorf("n_predict = %d", gotReq.NPredict)
	}
	if gotReq.TopP != 0.8 {
		t.Errorf("top_p = %v", gotReq.TopP)
	}
	if gotReq.Stream {
		t.Errorf("stream must stay off")
	}
	if !gotReq.ReturnTokens {
		t.Errorf("return_tokens must be set to keep usage accounting token-exact")
	}
	if !reflect.DeepEqual(gotReq.Prompt, []int{1, 2, 3}) {
		t.Errorf("prompt tokens = %v", gotReq.Prompt)
	}

	if !reflect.DeepEqual(gen.Tokens, []int{1, 2, 3, 40, 50}) {
		t.Errorf("tokens = %v", gen.Tokens)
	}
	if gen.PromptTokens != 3 {
		t.Errorf("prompt tokens = %d", gen.PromptTokens)
	}
	if !reflect.DeepEqual(gen.Completion(), []int{40, 50}) {
		t.Errorf("completion = %v", gen.Completion())
	}
}

func TestGenerateSampling(t *testing.T) {
	t.Parallel()

	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(completionResponse{Tokens: []int{7}})
	}))
	defer srv.Close()

	engine := testEngine(t, srv.URL)
	_, err := engine.Generate(context.Background(), []int{1}, GenerateOptions{
		MaxNewTokens: 32,
		Sample:       true,
		Temperature:  0.9,
		TopP:         0.5,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.Temperature != 0.9 {
		t.Errorf("temperature = %v, want 0.9", gotReq.Temperature)
	}
	if gotReq.TopP != 0.5 {
		t.Errorf("top_p = %v, want 0.5", gotReq.TopP)
	}
}

func TestGenerateEngineError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"context size exceeded"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := testEngine(t, srv.URL)
	_, err := engine.Generate(context.Background(), []int{1, 2}, GenerateOptions{MaxNewTokens: 16})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "context size exceeded") {
		t.Errorf("error should carry engine status and body: %v", err)
	}
}

func TestCompletionEmpty(t *testing.T) {
	t.Parallel()

	gen := &Generation{Tokens: []int{1, 2, 3}, PromptTokens: 3}
	if got := gen.Completion(); len(got) != 0 {
		t.Errorf("Completion() = %v, want empty", got)
	}
}

func TestFindWeights(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string) {
		t.Helper()
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("config.json")
	write("model-Q4_K_M.gguf")
	write("model-q8_0.gguf")

	got, err := FindWeights(dir, "*q4_k_m.gguf")
	if err != nil {
		t.Fatalf("FindWeights: %v", err)
	}
	if filepath.Base(got) != "model-Q4_K_M.gguf" {
		t.Errorf("got %s", got)
	}

	if _, err := FindWeights(dir, ""); err == nil || !strings.Contains(err.Error(), "multiple") {
		t.Errorf("expected ambiguity error, got %v", err)
	}

	if _, err := FindWeights(dir, "*q5_k_m.gguf"); err == nil || !strings.Contains(err.Error(), "no GGUF") {
		t.Errorf("expected no-match error, got %v", err)
	}

	if _, err := FindWeights(t.TempDir(), ""); err == nil {
		t.Errorf("expected error for empty dir")
	}
}
