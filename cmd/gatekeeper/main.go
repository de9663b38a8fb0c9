// Package main is the entry point for the Gatekeeper security service.
//
// Gatekeeper authenticates users, enforces role permissions, screens
// request bodies for injection payloads and keeps a security audit trail.
// It runs as a single binary next to the applications it protects.
//
// Usage:
//
//	gatekeeper [serve] [--config path]
//	gatekeeper hash-password < password.txt
//	gatekeeper seed-admin [--config path]
//	gatekeeper version
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when neither --config nor GATEKEEPER_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancelled on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root with no subcommand
// starts the server.
func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), resolveConfigPath(configPath))
	}

	root := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Authentication, authorisation and security audit service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config (default $GATEKEEPER_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "seed-admin",
			Short: "Create the first ADMIN account if no users exist",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return seedAdmin(cmd.Context(), resolveConfigPath(configPath), cmd.OutOrStdout())
			},
		},
		newHashPasswordCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "gatekeeper %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)

	return root
}

// newHashPasswordCmd reads one password from stdin and prints its PHC hash.
// Useful for provisioning accounts by hand.
func newHashPasswordCmd() *cobra.Command {
	var params auth.HashParams

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin with Argon2id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !auth.IsStrongPassword(password) {
				return errors.New("password does not meet the strength policy")
			}
			hash, err := auth.NewHasher(params).Hash(password)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&params.Time, "time", 0, "Argon2id iterations (0 uses the default)")
	cmd.Flags().Uint32Var(&params.Memory, "memory-kib", 0, "Argon2id memory in KiB (0 uses the default)")
	cmd.Flags().Uint8Var(&params.Threads, "threads", 0, "Argon2id parallelism (0 uses the default)")

	return cmd
}

// readPassword returns the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("no password on stdin")
	}
	return password, nil
}

// resolveConfigPath picks the --config flag, then GATEKEEPER_CONFIG, then
// the default path.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("GATEKEEPER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
