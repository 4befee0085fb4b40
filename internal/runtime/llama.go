package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Options configure the llama-server child process.
type Options struct {
	// Binary is the llama-server executable. A bare name is resolved on
	// PATH.
	Binary string

	// ModelPath is the GGUF weights file to load.
	ModelPath string

	// CtxSize is the context window in tokens.
	CtxSize int

	// Threads is the CPU thread count. Zero lets the engine decide.
	Threads int

	// Port fixes the engine's listen port. Zero picks a free one.
	Port int

	// HealthTimeout bounds how long Start waits for the engine to load
	// the model.
	HealthTimeout time.Duration

	// ExtraArgs are appended verbatim to the command line.
	ExtraArgs []string
}

// Llama implements Runtime by running llama-server as a child process and
// speaking its native HTTP API on loopback.
type Llama struct {
	opts       Options
	binPath    string
	port       int
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	stopped bool
}

// NewLlama resolves the engine binary and reserves a port, but does not
// start the process. Call Start next.
func NewLlama(opts Options, logger *zap.Logger) (*Llama, error) {
	if opts.Binary == "" {
		opts.Binary = "llama-server"
	}
	if opts.CtxSize <= 0 {
		opts.CtxSize = 4096
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	binPath, err := exec.LookPath(opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("llama-server binary %q not found: %w", opts.Binary, err)
	}

	port := opts.Port
	if port == 0 {
		port, err = allocatePort()
		if err != nil {
			return nil, err
		}
	}

	return &Llama{
		opts:       opts,
		binPath:    binPath,
		port:       port,
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{},
		logger:     logger.Named("llama"),
		done:       make(chan struct{}),
	}, nil
}

// allocatePort finds a free TCP port by binding to :0 and releasing it.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// BaseURL returns the engine's HTTP base URL.
func (l *Llama) BaseURL() string {
	return l.baseURL
}

// Done is closed when the child process exits.
func (l *Llama) Done() <-chan struct{} {
	return l.done
}

// WasStopped reports whether Stop was called, distinguishing an ordered
// shutdown from the engine dying on its own.
func (l *Llama) WasStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Start launches the engine and blocks until it reports healthy, meaning
// the model is loaded and the process can serve requests. ctx bounds only
// this wait; the process itself outlives it.
func (l *Llama) Start(ctx context.Context) error {
	args := []string{
		"--model", l.opts.ModelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(l.port),
		"--ctx-size", strconv.Itoa(l.opts.CtxSize),
	}
	if l.opts.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(l.opts.Threads))
	}
	args = append(args, l.opts.ExtraArgs...)

	cmd := exec.Command(l.binPath, args...)
	l.pipeOutput(cmd)

	l.logger.Info("starting llama-server",
		zap.String("bin", l.binPath),
		zap.String("model", l.opts.ModelPath),
		zap.Int("port", l.port),
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llama-server: %w", err)
	}

	l.mu.Lock()
	l.cmd = cmd
	l.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(l.done)
	}()

	if err := l.waitForHealth(ctx); err != nil {
		_ = l.Stop()
		return fmt.Errorf("llama-server failed to become ready: %w", err)
	}

	l.logger.Info("llama-server ready", zap.Int("port", l.port))
	return nil
}

// Stop sends SIGTERM and escalates to SIGKILL when the process does not
// exit within five seconds.
func (l *Llama) Stop() error {
	l.mu.Lock()
	l.stopped = true
	cmd := l.cmd
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	l.logger.Info("stopping llama-server", zap.Int("pid", pid))

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone.
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-time.After(5 * time.Second):
		l.logger.Warn("llama-server ignored SIGTERM, killing", zap.Int("pid", pid))
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill llama-server: %w", err)
		}
		<-l.done
		return nil
	}
}

func (l *Llama) exitCode() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cmd == nil || l.cmd.ProcessState == nil {
		return -1
	}
	return l.cmd.ProcessState.ExitCode()
}

// waitForHealth polls the engine until it answers /health, logging
// progress while the model loads.
func (l *Llama) waitForHealth(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.HealthTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	progress := time.NewTicker(5 * time.Second)
	defer progress.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return fmt.Errorf("llama-server exited during startup (exit code %d)", l.exitCode())
		case <-progress.C:
			l.logger.Info("still loading model",
				zap.Duration("elapsed", time.Since(start).Round(time.Second)),
			)
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("model did not load within %s", l.opts.HealthTimeout)
			}
			if l.healthCheck(ctx) == nil {
				return nil
			}
		}
	}
}

func (l *Llama) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// pipeOutput forwards the engine's stdout and stderr into the logger at
// debug level, one entry per line.
func (l *Llama) pipeOutput(cmd *exec.Cmd) {
	if stdout, err := cmd.StdoutPipe(); err == nil {
		go l.scanLines(stdout)
	}
	if stderr, err := cmd.StderrPipe(); err == nil {
		go l.scanLines(stderr)
	}
}

func (l *Llama) scanLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		l.logger.Debug(scanner.Text())
	}
}

type tokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

type detokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

type completionRequest struct {
	Prompt       []int   `json:"prompt"`
	NPredict     int     `json:"n_predict"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	Stream       bool    `json:"stream"`
	ReturnTokens bool    `json:"return_tokens"`
	CachePrompt  bool    `json:"cache_prompt"`
}

type completionResponse struct {
	Content         string `json:"content"`
	Tokens          []int  `json:"tokens"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	TokensPredicted int    `json:"tokens_predicted"`
}

// Encode implements Runtime.
func (l *Llama) Encode(ctx context.Context, text string) ([]int, error) {
	var out tokenizeResponse
	err := l.post(ctx, "/tokenize", tokenizeRequest{Content: text, AddSpecial: true}, &out)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return out.Tokens, nil
}

// Decode implements Runtime.
func (l *Llama) Decode(ctx context.Context, tokens []int) (string, error) {
	var out detokenizeResponse
	err := l.post(ctx, "/detokenize", detokenizeRequest{Tokens: tokens}, &out)
	if err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	return out.Content, nil
}

// Generate implements Runtime. Greedy decoding is requested through a zero
// temperature, which is how the engine spells "sampling off".
func (l *Llama) Generate(ctx context.Context, promptTokens []int, opts GenerateOptions) (*Generation, error) {
	temperature := opts.Temperature
	if !opts.Sample {
		temperature = 0
	}

	req := completionRequest{
		Prompt:       promptTokens,
		NPredict:     opts.MaxNewTokens,
		Temperature:  temperature,
		TopP:         opts.TopP,
		ReturnTokens: true,
	}

	start := time.Now()
	var resp completionResponse
	if err := l.post(ctx, "/completion", req, &resp); err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	l.logger.Debug("generation finished",
		zap.Int("prompt_tokens", len(promptTokens)),
		zap.Int("new_tokens", len(resp.Tokens)),
		zap.Duration("took", time.Since(start)),
	)

	tokens := make([]int, 0, len(promptTokens)+len(resp.Tokens))
	tokens = append(tokens, promptTokens...)
	tokens = append(tokens, resp.Tokens...)

	return &Generation{Tokens: tokens, PromptTokens: len(promptTokens)}, nil
}

func (l *Llama) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llama-server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
