// Package config loads the controller's and runner's configuration
// straight from the environment, following 12-factor practice for a pair of
// long-running services: no config files, no XDG directories, a required
// variable missing is a startup failure rather than a silent fallback.
//
// # Loading
//
// LoadController and LoadRunner each start by calling godotenv.Load so a
// local .env file is picked up in development, then read and validate their
// own set of AGENTRELAY_* variables. Required fields (chat credentials and
// container runtime for the controller, the LLM API key for the runner)
// produce a startup error rather than a zero value; every other field has a
// documented default.
//
// # Controller variables
//
//	AGENTRELAY_CHAT_BOT_TOKEN            required
//	AGENTRELAY_CHAT_APP_TOKEN            required
//	AGENTRELAY_CONTAINER_RUNTIME         required
//	AGENTRELAY_JOBS_ROOT                 default "./jobs"
//	AGENTRELAY_CONTROLLER_PORT           default 8001
//	AGENTRELAY_RUNNER_BASE_URL           default "http://localhost:8081"
//	AGENTRELAY_APPROVAL_TIMEOUT_SECONDS  default 600
//	AGENTRELAY_DEFAULT_MAX_TURNS         default 50
//	AGENTRELAY_DEFAULT_MODEL             default "claude-sonnet-4-5-20250929"
//
// AGENTRELAY_APPROVAL_TIMEOUT_SECONDS is read and validated (at least 1) but
// is not forwarded to the runner: start requests carry no approval timeout,
// so the runner applies its own 600-second default.
//
// # Runner variables
//
//	AGENTRELAY_LLM_API_KEY     required
//	AGENTRELAY_LLM_BASE_URL    optional, empty means the provider's default
//	AGENTRELAY_LLM_SCRIPT      optional path to a fake.Script YAML file
//	AGENTRELAY_JOBS_ROOT       default "./jobs" (shared mount with the controller)
//	AGENTRELAY_RUNNER_PORT     default 8081
//	AGENTRELAY_CALLBACK_URL    default "http://localhost:8001/events"
package config
