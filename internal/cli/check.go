package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/spf13/cobra"

	"modelgate/internal/config"
	"modelgate/pkg/api"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Send a test completion to a running gateway",
	Long: `Wait for a running gateway to report healthy, list its models and send
one chat completion through the official OpenAI client. Useful to verify
a deployment end to end.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("url", "", "gateway base URL (default derived from HOST/PORT)")
	checkCmd.Flags().String("prompt", "Say hello in one short sentence.", "prompt to send")
	checkCmd.Flags().Int("max-tokens", 32, "completion token budget")
	checkCmd.Flags().Duration("wait", 30*time.Second, "how long to wait for the gateway to become healthy")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	baseURL, _ := cmd.Flags().GetString("url")
	if baseURL == "" {
		host := cfg.Server.Host
		if host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
	}
	prompt, _ := cmd.Flags().GetString("prompt")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	wait, _ := cmd.Flags().GetDuration("wait")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := waitForHealth(ctx, baseURL+"/health", wait); err != nil {
		return err
	}

	models, err := fetchModels(ctx, baseURL+"/v1/models")
	if err != nil {
		return err
	}
	if len(models.Data) == 0 {
		return errors.New("gateway lists no models")
	}
	fmt.Printf("serving: %s\n", models.Data[0].ID)

	client := openai.NewClient(
		option.WithAPIKey(""),
		option.WithBaseURL(baseURL+"/v1"),
	)

	start := time.Now()
	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:     models.Data[0].ID,
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return fmt.Errorf("chat completion against %s failed: %w", baseURL, err)
	}
	if len(completion.Choices) == 0 {
		return errors.New("gateway returned no choices")
	}

	fmt.Printf("model: %s\n", completion.Model)
	fmt.Printf("reply: %s\n", strings.TrimSpace(completion.Choices[0].Message.Content))
	fmt.Printf("usage: %d prompt + %d completion tokens in %s\n",
		completion.Usage.PromptTokens,
		completion.Usage.CompletionTokens,
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// waitForHealth polls the health endpoint once a second until it answers
// 200 or the budget runs out.
func waitForHealth(ctx context.Context, url string, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gateway at %s not healthy after %s", url, budget)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func fetchModels(ctx context.Context, url string) (*api.ModelListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	var models api.ModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return &models, nil
}
