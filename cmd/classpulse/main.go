package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classpulse/internal/app"
	"classpulse/internal/auth"
	"classpulse/internal/config"
	"classpulse/internal/logging"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logging.Error().Err(err).Msg("classpulse exited with error")
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("classpulse", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv(config.ConfigPathEnvVar), "path to a YAML config file")
	issueFor := flags.String("issue-token", "", "print a signed token for this user id and exit")
	role := flags.String("role", "student", "role claim for -issue-token")
	ttl := flags.Duration("ttl", time.Hour, "lifetime of a token from -issue-token")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// STEP 1: Load configuration with precedence (env > file > defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if *issueFor != "" {
		return issueToken(stdout, cfg.Auth.JWTSecret, *issueFor, *role, *ttl)
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Signal handling cancels the supervisor tree
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

// issueToken prints a development token signed with the configured secret
func issueToken(w io.Writer, secret, userID, role string, ttl time.Duration) error {
	token, err := auth.NewIssuer(secret, ttl).Issue(userID, role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
