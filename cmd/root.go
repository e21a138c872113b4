package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flagwatch",
	Short: "Feature flag evaluation and change notification service",
	Long: `flagwatch evaluates feature flags over HTTP and pushes flag changes to
clients connected over websockets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging(viper.GetString(logLevelFlagName), viper.GetString(logFormatFlagName))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String(logLevelFlagName, "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String(logFormatFlagName, "json", "log format: json or text")
	_ = viper.BindPFlag(logLevelFlagName, rootCmd.PersistentFlags().Lookup(logLevelFlagName))
	_ = viper.BindPFlag(logFormatFlagName, rootCmd.PersistentFlags().Lookup(logFormatFlagName))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("FLAGWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("unable to read config file %s: %v", cfgFile, err)
	}
}

func configureLogging(level string, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json", "":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
