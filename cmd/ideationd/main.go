// Package main implements the ideationd CLI for running problem
// evaluation sessions and inspecting past ones.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/othentic-ai/ideationd/internal/config"
	"github.com/othentic-ai/ideationd/internal/embeddings"
	"github.com/othentic-ai/ideationd/internal/logging"
	"github.com/othentic-ai/ideationd/internal/memory"
	"github.com/othentic-ai/ideationd/internal/vectorstore"
)

var (
	// configPath is the optional YAML config file passed via --config.
	configPath string
	// version information, set at build time.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ideationd",
	Short: "Staged evaluation pipeline for problem statements",
	Long: `ideationd evaluates problem statements through a staged research
pipeline: problem research, problem scoring, an elimination decision,
solution research and scoring, and a final report artifact. Session
records accumulate in a local context store so later sessions can
reference earlier ones.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (YAML)")
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// buildStore wires the embedding provider, vector store backend, and
// context store from config. The returned cleanup closes all three.
func buildStore(cfg *config.Config, logger *logging.Logger) (*memory.Store, func(), error) {
	provider, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	backend, err := vectorstore.NewStore(cfg.Store, provider, logger.Underlying())
	if err != nil {
		provider.Close()
		return nil, nil, fmt.Errorf("initializing vector store: %w", err)
	}

	store, err := memory.NewStore(backend, memory.Config{
		MaxRetries:        cfg.Store.MaxRetries,
		VisibilityTimeout: time.Duration(cfg.Pipeline.VisibilityTimeout),
	}, logger.Underlying().Named("memory"))
	if err != nil {
		backend.Close()
		provider.Close()
		return nil, nil, fmt.Errorf("initializing context store: %w", err)
	}

	cleanup := func() {
		if err := backend.Close(); err != nil {
			logger.Underlying().Warn("closing vector store: " + err.Error())
		}
		if err := provider.Close(); err != nil {
			logger.Underlying().Warn("closing embeddings provider: " + err.Error())
		}
	}
	return store, cleanup, nil
}
