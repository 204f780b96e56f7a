package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chanpod/agent-sessions-sub001/internal/api"
	"github.com/chanpod/agent-sessions-sub001/internal/cache"
	"github.com/chanpod/agent-sessions-sub001/internal/config"
	"github.com/chanpod/agent-sessions-sub001/internal/review"
	"github.com/chanpod/agent-sessions-sub001/internal/runner"
)

var (
	serveListen   string
	serveProvider string
	serveModel    string
	serveRules    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the review API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]string{
			"listen":    serveListen,
			"provider":  serveProvider,
			"model":     serveModel,
			"rulesFile": serveRules,
		}
		cfg, err := config.Load(overrides)
		if err != nil {
			exitCode = ExitRuntimeError
			return err
		}

		rules, err := review.LoadRules(cfg.RulesFile)
		if err != nil {
			exitCode = ExitRuntimeError
			return err
		}

		run, err := runner.New(cfg.Provider, cfg.Model)
		if err != nil {
			exitCode = ExitAuthError
			return err
		}

		store, err := cache.New(cfg.Cache.Enabled, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
		if err != nil {
			exitCode = ExitRuntimeError
			return fmt.Errorf("opening cache: %w", err)
		}

		hub := api.NewHub()
		orch := review.NewOrchestrator(cfg, rules, run, store, nil, hub)
		srv := api.New(cfg.Listen, orch, hub)

		if err := srv.ListenAndServe(); err != nil {
			exitCode = ExitRuntimeError
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "LLM provider (anthropic, ollama)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "model name")
	serveCmd.Flags().StringVar(&serveRules, "rules", "", "path to a YAML rules pack")
}
