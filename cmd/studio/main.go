// Command studio is the developer CLI harness for the Studio runtime: a
// thin cobra front end over pkg/facade used to exercise a project file
// from a terminal without embedding the engine in a host application.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/systemsculpt/studio/pkg/log"
)

var (
	// Version information, set via ldflags during build.
	Version = "dev"
	Commit  = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Studio - node-graph generative workflow runtime",
	Long: `Studio runs a project's node graph end to end: text and image
generation, transcription, media ingest and local CLI tooling, scheduled
under per-capability concurrency limits with fingerprint-based result
caching and an append-only run journal.

This binary is a development harness over the embeddable pkg/facade API,
not the only way to run Studio: hosts normally link the engine directly.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("studio version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.studio.yaml)")

	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(recentCmd)
}

// initConfig loads $HOME/.studio.yaml (or --config) and STUDIO_*
// environment variables, the precedence order flags > env > file spec.md
// §8's embedding hosts are expected to honor for their own configuration.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".studio")
		}
	}
	viper.SetEnvPrefix("studio")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // absent config file is not an error
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}
