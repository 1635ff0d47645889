// Package config loads the controller's and runner's process configuration
// from the environment, the idiom a long-running service with
// environment-supplied secrets uses rather than an editor's JSONC/XDG config
// file — see doc.go for the full variable list.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ControllerConfig is the controller process's full configuration.
type ControllerConfig struct {
	ChatBotToken     string
	ChatAppToken     string
	ContainerRuntime string

	JobsRoot      string
	Port          int
	RunnerBaseURL string

	ApprovalTimeoutSeconds int
	DefaultMaxTurns        int
	DefaultModel           string
}

// RunnerConfig is the runner process's full configuration.
type RunnerConfig struct {
	LLMAPIKey  string
	LLMBaseURL string
	LLMScript  string

	JobsRoot    string
	Port        int
	CallbackURL string
}

// LoadController reads and validates the controller's environment per spec
// §6: chat-bot token, chat-app token, and a present container runtime are
// required; a missing or empty .env file is not an error (godotenv.Load
// failing just means the process relies on real environment variables).
func LoadController() (*ControllerConfig, error) {
	_ = godotenv.Load()

	cfg := &ControllerConfig{
		ChatBotToken:     getEnv("AGENTRELAY_CHAT_BOT_TOKEN", ""),
		ChatAppToken:     getEnv("AGENTRELAY_CHAT_APP_TOKEN", ""),
		ContainerRuntime: getEnv("AGENTRELAY_CONTAINER_RUNTIME", ""),
		JobsRoot:         getEnv("AGENTRELAY_JOBS_ROOT", "./jobs"),
		RunnerBaseURL:    getEnv("AGENTRELAY_RUNNER_BASE_URL", "http://localhost:8081"),
		DefaultModel:     getEnv("AGENTRELAY_DEFAULT_MODEL", "claude-sonnet-4-5-20250929"),
	}

	var missing []string
	if cfg.ChatBotToken == "" {
		missing = append(missing, "AGENTRELAY_CHAT_BOT_TOKEN must be set")
	}
	if cfg.ChatAppToken == "" {
		missing = append(missing, "AGENTRELAY_CHAT_APP_TOKEN must be set")
	}
	if cfg.ContainerRuntime == "" {
		missing = append(missing, "AGENTRELAY_CONTAINER_RUNTIME must be set")
	}
	if len(missing) > 0 {
		return nil, errors.New(strings.Join(missing, "\n"))
	}

	if _, err := exec.LookPath(cfg.ContainerRuntime); err != nil {
		return nil, fmt.Errorf("AGENTRELAY_CONTAINER_RUNTIME %q not found on PATH: %w", cfg.ContainerRuntime, err)
	}

	var err error
	cfg.Port, err = getEnvInt("AGENTRELAY_CONTROLLER_PORT", 8001)
	if err != nil {
		return nil, fmt.Errorf("AGENTRELAY_CONTROLLER_PORT: %w", err)
	}

	cfg.ApprovalTimeoutSeconds, err = getEnvInt("AGENTRELAY_APPROVAL_TIMEOUT_SECONDS", 600)
	if err != nil {
		return nil, fmt.Errorf("AGENTRELAY_APPROVAL_TIMEOUT_SECONDS: %w", err)
	}
	if cfg.ApprovalTimeoutSeconds < 1 {
		return nil, errors.New("AGENTRELAY_APPROVAL_TIMEOUT_SECONDS must be > 0")
	}

	cfg.DefaultMaxTurns, err = getEnvInt("AGENTRELAY_DEFAULT_MAX_TURNS", 50)
	if err != nil {
		return nil, fmt.Errorf("AGENTRELAY_DEFAULT_MAX_TURNS: %w", err)
	}
	if cfg.DefaultMaxTurns < 1 {
		return nil, errors.New("AGENTRELAY_DEFAULT_MAX_TURNS must be > 0")
	}

	return cfg, nil
}

// LoadRunner reads and validates the runner's environment per spec §6: the
// runner reads LLM credentials and an optional base URL.
func LoadRunner() (*RunnerConfig, error) {
	_ = godotenv.Load()

	cfg := &RunnerConfig{
		LLMAPIKey:   getEnv("AGENTRELAY_LLM_API_KEY", ""),
		LLMBaseURL:  getEnv("AGENTRELAY_LLM_BASE_URL", ""),
		LLMScript:   getEnv("AGENTRELAY_LLM_SCRIPT", ""),
		JobsRoot:    getEnv("AGENTRELAY_JOBS_ROOT", "./jobs"),
		CallbackURL: getEnv("AGENTRELAY_CALLBACK_URL", "http://localhost:8001/events"),
	}
	if cfg.LLMAPIKey == "" {
		return nil, errors.New("AGENTRELAY_LLM_API_KEY must be set")
	}

	var err error
	cfg.Port, err = getEnvInt("AGENTRELAY_RUNNER_PORT", 8081)
	if err != nil {
		return nil, fmt.Errorf("AGENTRELAY_RUNNER_PORT: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
