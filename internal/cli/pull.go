package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"modelgate/internal/config"
	"modelgate/internal/hub"
	"modelgate/internal/runtime"
	"modelgate/pkg/logging"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the configured model without starting the server",
	Long: `Download the configured model's files from the Hugging Face hub.

Examples:
  modelgate pull
  modelgate pull --model-repo Qwen/Qwen2.5-0.5B-Instruct-GGUF
  MODEL_FILE='*q8_0.gguf' modelgate pull

Set HF_TOKEN environment variable for gated models.`,
	RunE: runPull,
}

func init() {
	pullCmd.Flags().String("model-repo", "", "Hugging Face repo to download (overrides MODEL_REPO)")
	pullCmd.Flags().String("dir", "", "target directory (overrides MODEL_CACHE_DIR)")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if repo, _ := cmd.Flags().GetString("model-repo"); repo != "" {
		cfg.Model.Repo = repo
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Model.CacheDir = dir
	}

	logger := logging.DefaultLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := hub.New(hub.Options{
		Endpoint: cfg.Hub.Endpoint,
		Token:    cfg.Hub.Token,
	}, logger)
	client.OnProgress = func(file string, downloaded, total int64) {
		if total > 0 {
			pct := float64(downloaded) / float64(total) * 100
			fmt.Printf("\r%s  %.1f%% (%s / %s)   ", file, pct, formatSize(downloaded), formatSize(total))
		} else {
			fmt.Printf("\r%s  %s downloaded", file, formatSize(downloaded))
		}
	}

	dir := cfg.ModelDir()
	fmt.Printf("Downloading %s to %s...\n", cfg.Model.Repo, dir)

	if err := client.EnsureLocal(ctx, cfg.Model.Repo, cfg.Model.Revision, dir, cfg.Model.File); err != nil {
		return err
	}
	fmt.Println()

	weights, err := runtime.FindWeights(dir, cfg.Model.File)
	if err != nil {
		return err
	}
	fmt.Printf("Weights ready at %s\n", weights)
	return nil
}

func formatSize(bytes int64) string {
	const (
		MB = 1024 * 1024
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
