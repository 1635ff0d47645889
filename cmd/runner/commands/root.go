// Package commands provides the runner process's CLI.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/llm/fake"
	"github.com/agentrelay/agentrelay/internal/logging"
	"github.com/agentrelay/agentrelay/internal/runnerapi"
	"github.com/agentrelay/agentrelay/internal/session"
)

var (
	printLogs bool
	logLevel  string
)

const (
	// Version is set at build time in a production release; left a fixed
	// string here since this module carries no release pipeline of its own.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "runner",
	Short:   "Sandboxed agent-session host: LLM driver, approval-gated tool permission callback",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: printLogs,
		}
		if !printLogs {
			logCfg.Level = logging.InfoLevel
		}
		logging.Init(logCfg)
	},
	RunE: runRunner,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr in pretty form")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR); applies with --print-logs, otherwise INFO")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runRunner(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadRunner()
	if err != nil {
		return fmt.Errorf("load runner config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The concrete LLM backend (provider API, token billing, model weights)
	// is an external collaborator per spec — only its internal/llm.Driver
	// shape is this module's concern. fake.Driver is the pluggable stand-in;
	// a production deployment supplies a real Driver implementation here
	// without touching anything else in this command.
	var script *fake.Script
	if cfg.LLMScript != "" {
		script, err = fake.LoadScript(cfg.LLMScript)
		if err != nil {
			return fmt.Errorf("load LLM script %s: %w", cfg.LLMScript, err)
		}
	}
	driver := fake.New(script)

	store := jobstore.New(cfg.JobsRoot)
	sink := runnerapi.NewHTTPEventSink(cfg.CallbackURL)
	supervisor := session.New(driver, sink, store)

	apiSrv := runnerapi.New(runnerapi.Config{
		Port:         cfg.Port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, supervisor, sink)

	go func() {
		logging.Info().Int("port", cfg.Port).Msg("runner: listening")
		if err := apiSrv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("runner: HTTP server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("runner: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiSrv.Shutdown(shutdownCtx)
}
