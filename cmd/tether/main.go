package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/celerix-dev/tether/pkg/sdk"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "tether",
	Short:         "Operate a running tetherd",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("url", envOr("TETHER_URL", "http://localhost:8080"), "server base URL")
	pf.String("cron-secret", os.Getenv("TETHER_CRON_SECRET"), "bearer for the sweep route")
	pf.String("token", os.Getenv("TETHER_ADMIN_TOKEN"), "admin access token")
	pf.StringP("output", "o", "json", "output format: json or yaml")
	pf.Duration("timeout", 5*time.Minute, "overall request timeout")

	cohortsCmd.Flags().Int("weeks", 0, "number of weekly cohorts (default 8, max 26)")

	rootCmd.AddCommand(healthCmd, sweepCmd, cohortsCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client(cmd *cobra.Command) (*sdk.Client, context.Context, context.CancelFunc, error) {
	url, _ := cmd.Flags().GetString("url")
	cron, _ := cmd.Flags().GetString("cron-secret")
	token, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := sdk.New(sdk.Options{BaseURL: url, CronSecret: cron, AdminToken: token, Timeout: timeout})
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return c, ctx, cancel, nil
}

// render prints v in the requested format. YAML is re-read from the JSON
// encoding so field names match the API.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := yaml.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show liveness and readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := client(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		if err := c.Live(ctx); err != nil {
			return fmt.Errorf("not live: %w", err)
		}
		r, err := c.Ready(ctx)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		if err := render(cmd.OutOrStdout(), format, r); err != nil {
			return err
		}
		if !r.Ready() {
			return fmt.Errorf("not ready: %v", r.Failing)
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger the recovery sweep over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := client(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		res, err := c.Sweep(ctx)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		return render(cmd.OutOrStdout(), format, res)
	},
}

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "Print weekly signup cohorts with retention, lapse and recovery rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := client(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		weeks, _ := cmd.Flags().GetInt("weeks")
		cohorts, err := c.Cohorts(ctx, weeks)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		return render(cmd.OutOrStdout(), format, cohorts)
	},
}
