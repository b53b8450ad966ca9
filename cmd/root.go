package cmd

import (
	"fmt"
	"os"

	"github.com/emberdb/ember/cmd/perf"
	"github.com/emberdb/ember/cmd/util"
	"github.com/emberdb/ember/cmd/watch"
	"github.com/emberdb/ember/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ember",
		Short: "embedded reactive object store",
		Long: fmt.Sprintf(`ember (v%s)

An embedded, versioned object store library written in Go, with live
query views, change notifications and off-goroutine async queries.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.InitConfig()
			// cmd.Root() instead of the RootCmd variable: referencing the
			// variable from its own initializer is an initialization cycle.
			if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
				return err
			}
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return logging.Setup(viper.GetString("log-level"))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ember",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ember v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(watch.WatchCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "db"
	RootCmd.PersistentFlags().String(key, "ember.db", util.WrapString("path to the database snapshot file"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warning", util.WrapString("log level (debug, info, warning, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
