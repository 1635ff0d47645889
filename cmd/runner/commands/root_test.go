package commands

import (
	"os"
	"testing"
)

func TestRunRunnerFailsFastOnMissingAPIKey(t *testing.T) {
	old, had := os.LookupEnv("AGENTRELAY_LLM_API_KEY")
	os.Unsetenv("AGENTRELAY_LLM_API_KEY")
	if had {
		defer os.Setenv("AGENTRELAY_LLM_API_KEY", old)
	}

	if err := runRunner(rootCmd, nil); err == nil {
		t.Fatal("expected an error when AGENTRELAY_LLM_API_KEY is unset")
	}
}
