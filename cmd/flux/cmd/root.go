// Package cmd implements the CLI commands for flux.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxmedia/flux/internal/config"
)

var version = "dev"

var fluxViper = viper.New()

var rootCmd = &cobra.Command{
	Use:     "flux",
	Short:   "Adaptive media streaming engine",
	Version: version,
	Long: `flux ingests media over TCP, SRT, and QUIC, runs it through
staged video and audio pipelines, and adapts bitrate and chunking to
client network telemetry.

Configuration comes from a config file, FLUX_* environment variables,
and flags, in ascending precedence:
  FLUX_SERVER_LISTEN_ADDR  - TCP frame-ingest listener
  FLUX_SERVER_SRT_ADDR     - SRT publish listener (empty disables)
  FLUX_SERVER_QUIC_ADDR    - QUIC ingest listener (empty disables)
  FLUX_SERVER_API_ADDR     - admin/telemetry HTTP listener

Example:
  FLUX_SERVER_LISTEN_ADDR=:8090 flux serve`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().String("config", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

func initConfig() {
	fluxViper.SetEnvPrefix("FLUX")
	fluxViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	fluxViper.AutomaticEnv()

	config.SetDefaults(fluxViper)

	if path, _ := rootCmd.PersistentFlags().GetString("config"); path != "" {
		fluxViper.SetConfigFile(path)
	} else {
		fluxViper.SetConfigName("flux")
		fluxViper.SetConfigType("yaml")
		fluxViper.AddConfigPath(".")
		fluxViper.AddConfigPath("/etc/flux")
	}
	if err := fluxViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}
}

func initLogging() error {
	level := fluxViper.GetString("logging.level")
	format := fluxViper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
