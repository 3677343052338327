package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmorsell/headsetd/internal/config"
	"github.com/vmorsell/headsetd/internal/handlers"
	"github.com/vmorsell/headsetd/internal/storage"
	"go.uber.org/zap"
)

// Set at build time.
var version = "dev"

const stateRequestTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "headsetd",
		Short:         "Tracks the default audio device and serves per-device volume profiles",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default headsetd.yaml if present)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newStateCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon and its HTTP/WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func newStateCmd(configPath *string) *cobra.Command {
	var stored bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the state of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if stored {
				return printStored(cmd.Context(), cmd.OutOrStdout(), cfg)
			}
			return printLive(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().BoolVar(&stored, "stored", false, "print the persisted snapshot instead of querying the daemon")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printLive(ctx context.Context, w io.Writer, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, stateRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stateURL(cfg.Server.Addr), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query daemon: unexpected status %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func printStored(ctx context.Context, w io.Writer, cfg *config.Config) error {
	s, err := storage.Open(ctx, zap.NewNop(), storageOptions(cfg))
	if err != nil {
		return err
	}
	mem, err := s.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(mem)
}

// stateURL points at the local daemon even when it listens on all
// interfaces.
func stateURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + handlers.RouteState
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + handlers.RouteState
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Backend:        cfg.Storage.Backend,
		File:           cfg.Data.File,
		DynamoDBTable:  cfg.Storage.DynamoDB.Table,
		DynamoDBRegion: cfg.Storage.DynamoDB.Region,
	}
}
