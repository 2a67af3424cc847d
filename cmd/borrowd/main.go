package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "borrowd"
	version = "1.0.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(os.Stderr)

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Short-sale borrow rate and locate fee pricing service",
		Version: version,
		Long: `borrowd prices short-sale locates: it combines the base borrow rate for a
security with volatility and event-risk adjustments, then derives the broker
markup and transaction fees a client owes over a loan period.

Rates come from three upstream feeds (borrow rates, volatility, event
calendar), each behind a circuit breaker with retries and deterministic
fallbacks, so a pricing request keeps answering while a feed is down.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (env vars override)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pricing HTTP server",
		Long:  "Start the HTTP API: POST /api/v1/calculate-fee, GET /api/v1/rates/{ticker}, plus health, readiness, and metrics endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "checkconfig",
		Short: "Load and validate configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckConfig(configPath)
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
