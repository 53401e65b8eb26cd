// ============================================================================
// nuncd CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Command line interface for the nuncd demo host, built on Cobra.
//
// Command Structure:
//   nuncd                    # Root command
//   ├── --config, -c         # Specify host config file (run and status)
//   ├── run                  # Start a pool and run a small demo job set
//   ├── status                # Print the loaded host config
//   └── --version             # Display version information
//
// Configuration Management:
//   Uses YAML config (default: configs/default.yaml). This is host
//   plumbing around the dispatcher, not the dispatcher's own API surface
//   — nunc.Pool itself takes no config file, no wire format (see
//   SPEC_FULL.md §9, preserving the library's "no CLI" Non-goal for its
//   own surface).
//
// run Command:
//   1. Load host config
//   2. Build a nunc.Pool
//   3. Start the Prometheus metrics HTTP server (if enabled)
//   4. Register a demo job pair: a persistent timer heartbeat, and a
//      SIGUSR1 signal watch
//   5. Block on SIGINT/SIGTERM and shut the pool down gracefully
//
// Signal Handling:
//   The host itself listens for SIGINT/SIGTERM the conventional Go way
//   (os/signal.Notify) to drive its own shutdown. The dispatcher's own
//   AddSignalJob is demonstrated separately against SIGUSR1, purely to
//   exercise the adapter's signalfd path; see the note on pthread_sigmask
//   in runDemo for why the two are kept apart.
// ============================================================================

package cli

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/nunc-stans/internal/metrics"
	"github.com/ChuLiYu/nunc-stans/pkg/nunc"
)

// HostConfig is the demo host's own YAML configuration, distinct from
// nunc.Config (which is built in code via nunc.DefaultConfig, per the
// init_flag sentinel in spec.md §6).
type HostConfig struct {
	Pool struct {
		MaxThreads int `yaml:"max_threads"`
	} `yaml:"pool"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Demo struct {
		HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`
	} `yaml:"demo"`
}

var configFile string

// BuildCLI assembles the nuncd command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "nuncd",
		Short:   "nuncd: a demo host for the nunc-stans job dispatcher",
		Version: "0.1.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "host config file path")
	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a pool and run the demo job set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(configFile)
		},
	}
}

func loadHostConfig(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host config: %w", err)
	}
	var cfg HostConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse host config: %w", err)
	}
	if cfg.Pool.MaxThreads <= 0 {
		cfg.Pool.MaxThreads = 4
	}
	if cfg.Demo.HeartbeatIntervalMs <= 0 {
		cfg.Demo.HeartbeatIntervalMs = 1000
	}
	return &cfg, nil
}

func runDemo(path string) error {
	hostCfg, err := loadHostConfig(path)
	if err != nil {
		return err
	}

	collector := metrics.New()
	poolCfg := nunc.DefaultConfig()
	poolCfg.MaxThreads = hostCfg.Pool.MaxThreads
	poolCfg.Metrics = collector

	pool, err := nunc.NewPool(poolCfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}

	if hostCfg.Metrics.Enabled {
		go serveMetrics(collector, hostCfg.Metrics.Port)
	}

	if _, err := pool.AddTimeoutJob(
		time.Duration(hostCfg.Demo.HeartbeatIntervalMs)*time.Millisecond,
		nunc.TimerBit|nunc.Persist,
		func(j *nunc.Job) { fmt.Println("nuncd: heartbeat") },
		nil,
		nil,
	); err != nil {
		return fmt.Errorf("arm heartbeat job: %w", err)
	}

	// Demonstrates the SIGNAL trigger kind against SIGUSR1 rather than
	// the process-terminating signals the host itself listens for below.
	// pthread_sigmask blocks a signal only for the OS thread that calls
	// it, and the event thread's goroutine is not pinned to one OS
	// thread across its life, so a signalfd watch here is not a reliable
	// way to catch a signal that can arrive on any thread of a
	// multi-threaded process — fine for a demo trigger, not a substitute
	// for os/signal.Notify-based shutdown handling.
	if _, err := pool.AddSignalJob(
		int(syscall.SIGUSR1),
		nunc.SignalBit|nunc.Persist,
		func(j *nunc.Job) { fmt.Println("nuncd: received SIGUSR1") },
		nil,
		nil,
	); err != nil {
		return fmt.Errorf("arm signal job: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("nuncd: shutting down")
	pool.Shutdown()
	if err := pool.Wait(); err != nil {
		return err
	}
	return pool.Destroy()
}

func serveMetrics(c *metrics.Collector, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		fmt.Printf("nuncd: metrics listen failed: %v\n", err)
		return
	}
	_ = srv.Serve(ln)
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the loaded host config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadHostConfig(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("config file:        %s\n", configFile)
			fmt.Printf("pool.max_threads:   %d\n", cfg.Pool.MaxThreads)
			fmt.Printf("metrics.enabled:    %v\n", cfg.Metrics.Enabled)
			fmt.Printf("metrics.port:       %d\n", cfg.Metrics.Port)
			fmt.Printf("demo.heartbeat_ms:  %d\n", cfg.Demo.HeartbeatIntervalMs)
			return nil
		},
	}
}
