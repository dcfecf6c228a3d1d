// Package main implements arbctl, the operator CLI for the arb-relay admin
// API: leadership inspection, cache maintenance, forced resignation, and
// admin token minting.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosslane/arb-relay/pkg/admin"
)

var (
	serverURL string
	authToken string
	timeout   time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arbctl",
		Short:         "Operator CLI for the arb-relay admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("ARBCTL_SERVER", "http://localhost:8080"), "Base URL of the relay admin API")
	root.PersistentFlags().StringVar(&authToken, "token", os.Getenv("ARBCTL_TOKEN"), "Bearer token for the admin API")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	root.AddCommand(
		newStatusCmd(),
		newInstancesCmd(),
		newCacheCmd(),
		newCleanupCmd(),
		newResignCmd(),
		newTokenCmd(),
	)
	return root
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this instance's election state, epoch, and cache size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, http.MethodGet, "/api/status")
		},
	}
}

func newInstancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List all live relay instances across regions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, http.MethodGet, "/api/instances")
		},
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the dedupe cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, http.MethodGet, "/api/cache")
		},
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every dedupe cache entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, http.MethodPost, "/api/cache/clear")
		},
	})
	return cacheCmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run an immediate TTL and size eviction pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, http.MethodPost, "/api/maintenance/cleanup")
		},
	}
}

func newResignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resign",
		Short: "Make the instance release the leader lease",
		Long: "Make the instance release the leader lease and sit out the holdoff " +
			"window. Safe against followers, where it is a no-op.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, http.MethodPost, "/api/election/resign")
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
		static  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token from the shared admin secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("ARB_RELAY_ADMIN_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("admin secret required (--secret or ARB_RELAY_ADMIN_SECRET)")
			}
			if static {
				cmd.Println(admin.MintStaticToken(secret))
				return nil
			}
			token, err := admin.MintJWT(secret, subject, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Admin secret (defaults to ARB_RELAY_ADMIN_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "arbctl", "JWT subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "JWT lifetime")
	cmd.Flags().BoolVar(&static, "static", false, "Mint the non-expiring static token instead of a JWT")
	return cmd
}

// callAndPrint performs one admin API request and pretty prints the JSON
// response body.
func callAndPrint(cmd *cobra.Command, method, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), method, serverURL+path, nil)
	if err != nil {
		return err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		cmd.Println(string(body))
		return nil
	}
	cmd.Println(pretty.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
