// crystalball — observation pipeline for AI coding sessions.
//
// Watches assistant processes on the host, classifies each one into a
// lifecycle state, tracks how long sessions sit waiting for a human, and
// serves the resulting snapshot over HTTP. An optional relay merges
// snapshots from many hosts into one combined view.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/config"
	diffpkg "github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/diff"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/discovery"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/health"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/logging"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/output"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/poll"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/publish"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/relay"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/server"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/sidecar"
	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/store"
)

var (
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crystalball",
		Short: "Observe AI coding sessions on this host",
		Long: `crystalball — single Go binary observing AI coding assistants.

Enumerates assistant processes, classifies each session as active,
awaiting, idle, stale, or blocked, accumulates waiting-time economics,
and serves an immutable per-tick snapshot over HTTP.

serve: local observer (poll loop + API, optional relay publishing)
relay: central federation point merging snapshots from many hosts
mcp:   expose the live snapshot to AI tooling over stdio`,
		Version:            version,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}

	// --- serve command ---
	var (
		servePort     int
		serveInterval int
		serveSimulate bool
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local observer",
		Long:  "Poll for assistant processes and serve the latest snapshot over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(observerOverrides(servePort, serveInterval, serveSimulate))
			return runServe(cfg)
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Observer HTTP port (default 3000)")
	serveCmd.Flags().IntVar(&serveInterval, "poll-interval", 0, "Poll interval in milliseconds (default 2000)")
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "Use the simulator backend instead of OS discovery")

	// --- relay command ---
	var (
		relayPort   int
		relayToken  string
		relayExpiry int
	)

	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the federation relay",
		Long:  "Accept snapshots from remote observers and serve the merged combined view.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(relayOverrides(relayPort, relayToken, relayExpiry))
			return runRelay(cfg)
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}
	relayCmd.Flags().IntVar(&relayPort, "port", 0, "Relay HTTP port (default 3001)")
	relayCmd.Flags().StringVar(&relayToken, "token", "", "Bearer token required on all relay routes")
	relayCmd.Flags().IntVar(&relayExpiry, "expiry", 0, "Snapshot expiry in milliseconds (default 30000)")

	// --- dump command ---
	var (
		dumpOutput   string
		dumpSimulate bool
	)

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Run one observation tick and print the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(observerOverrides(0, 0, dumpSimulate))
			return runDump(cmd.Context(), cfg, dumpOutput)
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "-", "Output file path (- for stdout)")
	dumpCmd.Flags().BoolVar(&dumpSimulate, "simulate", false, "Use the simulator backend instead of OS discovery")

	// --- diff command ---
	var diffOutput string

	diffCmd := &cobra.Command{
		Use:   "diff <baseline.json> <current.json>",
		Short: "Compare two dumped snapshots",
		Long:  "Show sessions added and removed, state transitions, and idle-economics deltas.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(args[0], args[1], diffOutput)
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}
	diffCmd.Flags().StringVarP(&diffOutput, "output", "o", "-", "Output diff file path (- for human-readable stdout)")

	rootCmd.AddCommand(serveCmd, relayCmd, dumpCmd, diffCmd, mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// observerOverrides turns serve/dump flag values into a config overlay.
// Zero values mean "not set" and defer to env, file, or defaults.
func observerOverrides(port, pollInterval int, simulate bool) *config.Config {
	return &config.Config{
		Port:           port,
		PollIntervalMs: pollInterval,
		Simulate:       simulate,
	}
}

// relayOverrides turns relay flag values into a config overlay.
func relayOverrides(port int, token string, expiry int) *config.Config {
	return &config.Config{
		RelayPort:     port,
		RelayToken:    token,
		RelayExpiryMs: expiry,
	}
}

// buildPipeline assembles the observation components shared by serve,
// dump, and mcp: discovery backend, sidecar reader, and session store.
func buildPipeline(cfg *config.Config) (discovery.Backend, *store.Store) {
	backend := discovery.Select(discovery.Config{Simulate: cfg.Simulate})
	reader := sidecar.NewReader(cfg.SessionsDir(), nil)
	return backend, store.New(nil, reader, nil)
}

// runServe handles the `serve` command: poll loop, local API, optional
// relay publishing. Blocks until SIGINT or SIGTERM.
func runServe(cfg *config.Config) error {
	log := logging.NewLogger("main")
	logging.SetLevel(cfg.LogLevel)

	if err := cfg.EnsureStateDir(); err != nil {
		log.WithError(err).Warn("State directory unavailable; sidecars and sharing disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, st := buildPipeline(cfg)

	srv := server.New(st, health.NewProbe(nil), cfg.Port)
	if err := srv.Start(); err != nil {
		log.WithError(err).Error("Cannot start observer API")
		return err
	}

	var publisher poll.Publisher
	if cfg.RelayURL != "" {
		pub := publish.New(publish.Options{
			URL:          cfg.RelayURL,
			User:         cfg.ResolveUser(),
			Color:        cfg.ShareColor,
			Token:        cfg.RelayToken,
			SettingsPath: cfg.SharingPath(),
		})
		pub.Watch(ctx)
		publisher = pub
	}

	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	poller := poll.New(backend, st, publisher, interval, nil)
	if err := poller.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// runRelay handles the `relay` command. Blocks until SIGINT or SIGTERM.
func runRelay(cfg *config.Config) error {
	log := logging.NewLogger("main")
	logging.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	expiry := time.Duration(cfg.RelayExpiryMs) * time.Millisecond
	snapStore := relay.NewSnapshotStore(expiry, nil)
	srv := relay.NewServer(snapStore, cfg.RelayPort, cfg.RelayToken, nil)
	if err := srv.Start(); err != nil {
		log.WithError(err).Error("Cannot start relay")
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// runDump handles the `dump` command: one discover-and-update pass, then
// the snapshot as indented JSON.
func runDump(ctx context.Context, cfg *config.Config, outputPath string) error {
	backend, st := buildPipeline(cfg)

	raw, err := backend.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	return output.WriteJSON(st.Update(ctx, raw), outputPath)
}

// runDiff handles the `diff` command.
func runDiff(baselinePath, currentPath, outputPath string) error {
	baseline, err := diffpkg.LoadSnapshot(baselinePath)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	current, err := diffpkg.LoadSnapshot(currentPath)
	if err != nil {
		return fmt.Errorf("load current: %w", err)
	}

	result := diffpkg.Compare(baseline, current)

	if outputPath == "-" {
		fmt.Print(diffpkg.FormatDiff(result))
		return nil
	}
	return output.WriteJSON(result, outputPath)
}
