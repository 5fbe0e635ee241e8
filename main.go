package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/raine/walletfront/config"
	"github.com/raine/walletfront/internal/gateway"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFileName = "walletfront.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("WALLET_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	closeLog := setupLogging()
	defer closeLog()

	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(usage())
		return
	}
	cmd, ok := findCommand(os.Args[1])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage())
		os.Exit(2)
	}

	// Try to load existing config file
	config.LoadEnvFile()

	if missing := config.MissingRequired(); len(missing) > 0 {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				os.Exit(1)
			}
		} else {
			fatal("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("invalid config: %v", err)
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	err = cmd.run(ctx, a, os.Args[2:])

	// an expired session opens the login modal while the command runs; the
	// prompt is shown once the command is done with the terminal
	if promptErr := a.modal.Prompt(ctx, a); promptErr != nil {
		log.Warn().Err(promptErr).Msg("login prompt failed")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, gateway.ErrUnauthorized) {
			log.Debug().Err(err).Msg("command failed with an expired session")
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

// setupLogging logs to stderr, and to a file in the config directory unless
// running under systemd. JOURNAL_STREAM is set by systemd when running as a
// service; journald keeps the logs there.
func setupLogging() (closeFn func()) {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = log.Output(consoleWriter)

	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		return func() {}
	}

	dir, err := config.Dir()
	if err != nil {
		return func() {}
	}
	logPath := filepath.Join(dir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Warn().Err(err).Str("logFile", logPath).Msg("failed to open log file")
		return func() {}
	}

	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	return func() { logFile.Close() }
}

// fatal logs an error and exits.
func fatal(format string, args ...any) {
	log.Error().Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
