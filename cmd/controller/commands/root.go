// Package commands provides the controller process's CLI.
package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"

	"github.com/agentrelay/agentrelay/internal/approval"
	"github.com/agentrelay/agentrelay/internal/chatops"
	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/controllerapi"
	"github.com/agentrelay/agentrelay/internal/eventbus"
	"github.com/agentrelay/agentrelay/internal/jobstore"
	"github.com/agentrelay/agentrelay/internal/logging"
	"github.com/agentrelay/agentrelay/internal/queue"
)

var (
	printLogs      bool
	logLevel       string
	watchJobsRoot  bool
	modelAliasFile string
)

var rootCmd = &cobra.Command{
	Use:     "controller",
	Short:   "Chat-facing job orchestrator: queue, approval broker, Slack front-end",
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
	RunE: runController,
}

const (
	// Version is set at build time in a production release; left a fixed
	// string here since this module carries no release pipeline of its own.
	Version   = "0.1.0"
	BuildTime = "dev"
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr in pretty form")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR); applies with --print-logs, otherwise INFO")
	rootCmd.Flags().BoolVar(&watchJobsRoot, "watch", false, "Log filesystem-level job-state changes as they happen")
	rootCmd.Flags().StringVar(&modelAliasFile, "model-aliases", "", "Optional YAML file overriding the !poc run --model alias table")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadController()
	if err != nil {
		return fmt.Errorf("load controller config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := jobstore.New(cfg.JobsRoot)
	recovered, err := store.Recover()
	if err != nil {
		return fmt.Errorf("recover job state from %s: %w", cfg.JobsRoot, err)
	}
	for _, jobID := range recovered {
		logging.Warn().Str("job_id", jobID).Msg("controller: recovered job left in a non-terminal phase at startup")
	}

	if watchJobsRoot {
		if err := jobstore.Watch(ctx, cfg.JobsRoot); err != nil {
			logging.Warn().Err(err).Msg("controller: --watch failed to start")
		}
	}

	if modelAliasFile != "" {
		if err := chatops.LoadModelAliases(modelAliasFile); err != nil {
			return fmt.Errorf("load model aliases: %w", err)
		}
	}

	bus := eventbus.New()
	runnerClient := controllerapi.NewRunnerClient(cfg.RunnerBaseURL)
	q := queue.New(store, runnerClient, bus)

	slackAPI := slack.New(cfg.ChatBotToken, slack.OptionAppLevelToken(cfg.ChatAppToken))
	bridge := chatops.NewSlackBridge(slackAPI)
	broker := approval.New(runnerClient, bridge, store)

	processor := controllerapi.NewJobProcessor(store, q, broker, bus)
	apiSrv := controllerapi.New(controllerapi.Config{
		Port:         cfg.Port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, processor)

	socketClient := socketmode.New(slackAPI)
	app := chatops.New(slackAPI, socketClient, store, q, broker, runnerClient, chatops.Options{
		DefaultModel:           cfg.DefaultModel,
		DefaultMaxTurns:        cfg.DefaultMaxTurns,
		ApprovalTimeoutSeconds: cfg.ApprovalTimeoutSeconds,
		CallbackURL:            fmt.Sprintf("http://localhost:%d/events", cfg.Port),
	})

	go func() {
		logging.Info().Int("port", cfg.Port).Msg("controller: listening")
		if err := apiSrv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("controller: HTTP server failed")
		}
	}()

	go func() {
		if err := app.Run(ctx); err != nil {
			logging.Error().Err(err).Msg("controller: chat front-end stopped")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("controller: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiSrv.Shutdown(shutdownCtx)
}
