package cmd

import (
	"testing"

	"github.com/spf13/viper"
)

// TestPersistentPreRunBindsRootFlags runs the root pre-run hook the way a
// subcommand invocation would and checks that the persistent flags end up
// bound in viper.
func TestPersistentPreRunBindsRootFlags(t *testing.T) {
	if err := RootCmd.PersistentPreRunE(versionCmd, nil); err != nil {
		t.Fatalf("PersistentPreRunE failed: %v", err)
	}
	if got := viper.GetString("db"); got != "ember.db" {
		t.Fatalf("db bound as %q, want default %q", got, "ember.db")
	}
	if got := viper.GetString("log-level"); got != "warning" {
		t.Fatalf("log-level bound as %q, want default %q", got, "warning")
	}
}
