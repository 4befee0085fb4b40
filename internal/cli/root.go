// Package cli wires the modelgate command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "modelgate",
	Short: "OpenAI-compatible gateway for a local GGUF model",
	Long: `modelgate downloads a GGUF model from the Hugging Face hub, runs it
through a local llama-server process and exposes it over an
OpenAI-compatible chat completions API.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./config.yaml)")
}
