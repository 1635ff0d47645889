package commands

import (
	"os"
	"testing"
)

func TestRunControllerFailsFastOnMissingConfig(t *testing.T) {
	for _, k := range []string{"AGENTRELAY_CHAT_BOT_TOKEN", "AGENTRELAY_CHAT_APP_TOKEN", "AGENTRELAY_CONTAINER_RUNTIME"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		if had {
			defer os.Setenv(k, old)
		}
	}

	if err := runController(rootCmd, nil); err == nil {
		t.Fatal("expected an error when required environment variables are unset")
	}
}
