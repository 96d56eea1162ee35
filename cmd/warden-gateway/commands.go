// ABOUTME: Operator subcommands: check-config, hash-password, history and health
// ABOUTME: Each loads the same config file as serve

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/store"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and load every configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig()
			if err != nil {
				return err
			}
			providers, err := auth.NewProviders(cfg.Auth, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
			if err != nil {
				return fmt.Errorf("configuring identity providers: %w", err)
			}

			out := cmd.OutOrStdout()
			green := color.New(color.FgGreen)
			green.Fprintf(out, "  ✓ %s\n", path)
			fmt.Fprintf(out, "    issuers:      %s\n", strings.Join(providers.Registry.Issuers(), ", "))
			if sc := cfg.LoginSigning(); sc != nil {
				fmt.Fprintf(out, "    login issuer: %s (access %s, refresh %s)\n", sc.Issuer, sc.AccessTokenAge, sc.RefreshTokenAge)
			} else {
				fmt.Fprintln(out, "    login:        disabled")
			}
			for _, t := range providers.Mapper.Tables() {
				fmt.Fprintf(out, "    user table:   %s (%d entries)\n", t.Path(), t.Len())
			}
			fmt.Fprintf(out, "    ports:        %d-%d\n", cfg.Backend.Ports.Min, cfg.Backend.Ports.Max-1)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for auth.dummy.password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

// readPassword prompts without echo on a terminal, otherwise reads one line from stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newHistoryCmd() *cobra.Command {
	var (
		username string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backend lifecycle events for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Path == "" {
				return errors.New("database.path is not configured")
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path, setupLogger(cfg.Logging))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer s.Close()

			events, err := s.ListBackendEvents(cmd.Context(), username, limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "execution identity to show")
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultHistoryLimit, "maximum number of events")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printHistory(out io.Writer, events []store.BackendEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "no events")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tPID\tPORT\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), colorKind(e.Kind), e.PID, e.Port, e.Detail)
	}
	return tw.Flush()
}

func colorKind(kind string) string {
	switch kind {
	case "started":
		return color.GreenString(kind)
	case "start_failed", "killed":
		return color.RedString(kind)
	case "exited":
		return color.YellowString(kind)
	default:
		return kind
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running gateway's readiness endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), cfg.Server.HTTPAddr)
		},
	}
}

func runHealth(ctx context.Context, out io.Writer, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, strings.TrimSpace(string(body)))
	return nil
}
