package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zereker/oscipc"
	"github.com/Zereker/oscipc/internal/config"
	"github.com/Zereker/oscipc/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "oscipc",
	Short: "Local OSC gateway",
	Long: `oscipc accepts OSC command messages from local client processes over a
unix socket or loopback TCP port and dispatches them to a single shared
command processor. Responses go back to the client that asked.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (YAML)")
	rootCmd.Flags().String("network", "", "Listen network: unix or tcp")
	rootCmd.Flags().String("address", "", "Socket path or loopback host:port")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().Int("max-connections", 0, "Maximum concurrent clients, 0 for no limit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bindFlags makes explicitly set flags override file and environment values.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	bindings := map[string]string{
		"network":         "network",
		"address":         "address",
		"log-level":       "log.level",
		"max-connections": "max_connections",
	}
	for flag, key := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if err := bindFlags(cmd, v); err != nil {
		return err
	}

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}

	logger, closer, err := logging.Open(cfg.Log.FilePath, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer closer.Close()

	gw := &gateway{}
	router, err := newRouter(gw)
	if err != nil {
		return err
	}

	opts := append(cfg.Options(), oscipc.LoggerOption(logger))
	srv, err := oscipc.New(cfg.Network, cfg.Address, router, opts...)
	if err != nil {
		return err
	}
	gw.srv = srv

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("listening", "network", cfg.Network, "addr", srv.Addr())
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, oscipc.ErrServerClosed) {
		return err
	}
	logger.Info("bye")
	return nil
}
