package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/celerix-dev/tether/internal/api"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	devMode    bool
	tlsCert    string
	tlsKey     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tetherd",
	Short: "tether backend-for-frontend",
	Long: `tetherd serves the recovery companion's API. It fronts the Supabase
database and auth, OpenAI report generation and Stripe billing.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tetherd %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file; environment variables take precedence")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "dev mode: in-memory store when SUPABASE_URL is unset")

	serveCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tetherd %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func loadConfig() (*config.Config, error) {
	if devMode {
		os.Setenv("DEV_MODE", "true")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.ParseLevel(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, flush, err := wire(cfg)
		if err != nil {
			return err
		}
		defer flush()

		srv := server.New(api.New(h), server.Options{
			Addr:            cfg.Server.Addr,
			MaxConns:        cfg.Server.MaxConns,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		})
		if tlsCert != "" || tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("load TLS key pair: %w", err)
			}
			srv.SetCertificate(cert)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Logger.Info().Str("version", Version).Bool("dev", cfg.Dev).
			Bool("llm", cfg.OpenAI.APIKey != "").
			Bool("billing", h.Billing.Configured()).
			Msg("Starting tetherd")
		return srv.Run(ctx)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one recovery sweep in-process and print the result",
	Long: `Runs lapse detection, session expiry and nudging once over every profile,
without going through the HTTP route. Useful from a cron job on the same host.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, flush, err := wire(cfg)
		if err != nil {
			return err
		}
		defer flush()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := h.Recovery.Sweep(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}
