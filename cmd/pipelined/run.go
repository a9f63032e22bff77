package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/pipelined/internal/app"
	"github.com/aristath/pipelined/internal/persistence"
	"github.com/aristath/pipelined/internal/scheduler"
	"github.com/aristath/pipelined/internal/tui"
)

type runOptions struct {
	*globalOptions
	useTUI     bool
	outputJSON bool
	input      map[string]string
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{globalOptions: g}

	cmd := &cobra.Command{
		Use:   "run [pipeline]",
		Short: "Run a pipeline",
		Long: `Run a pipeline once and record the result in the run history.

Without an argument the configured default_pipeline runs. Input values given
with --input override the pipeline's declared input.

Examples:
  # Run the default pipeline
  pipelined run

  # Run a named pipeline with input and a live view
  pipelined run fullstack-app --input app_type=crud --tui

  # Machine-readable result
  pipelined run --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline := ""
			if len(args) == 1 {
				pipeline = args[0]
			}
			return runPipeline(cmd, opts, pipeline)
		},
	}

	cmd.Flags().BoolVar(&opts.useTUI, "tui", false, "show a live view of the run")
	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "print the finished run as JSON")
	cmd.Flags().StringToStringVarP(&opts.input, "input", "i", nil, "input values as key=value pairs")
	return cmd
}

func runPipeline(cmd *cobra.Command, opts *runOptions, pipeline string) error {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if opts.useTUI && cfg.Logging.Output == "" {
		// stderr output would tear the alternate screen
		logger = zap.NewNop()
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	promReg := prometheus.NewRegistry()
	engine, err := app.Build(cfg, pipeline, logger, app.WithStore(store), app.WithPrometheusRegistry(promReg))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()
	engine.Background(ctx)

	if cfg.Metrics.ListenAddr != "" {
		shutdown := serveMetrics(cfg.Metrics.ListenAddr, promReg, logger)
		defer shutdown()
	}

	input := make(map[string]any, len(opts.input))
	for k, v := range opts.input {
		input[k] = v
	}

	var (
		snap   scheduler.RunSnapshot
		runErr error
	)
	if opts.useTUI {
		snap, runErr = runWithTUI(ctx, stop, engine, input, logger)
	} else {
		snap, runErr = engine.Run(ctx, input)
	}

	out := cmd.OutOrStdout()
	if opts.outputJSON {
		if err := outputJSON(out, persistence.FromSnapshot(snap)); err != nil {
			return err
		}
	} else {
		printSnapshot(out, snap)
	}

	if runErr != nil {
		return fmt.Errorf("run %s %s: %w", snap.ID, snap.Status, runErr)
	}
	return nil
}

// runWithTUI shows the live view while the run executes. The view stays
// open after the run finishes until the user quits or a signal arrives.
func runWithTUI(ctx context.Context, stop context.CancelFunc, engine *app.Engine, input map[string]any, logger *zap.Logger) (scheduler.RunSnapshot, error) {
	// The model must subscribe before the run publishes its first event.
	model := tui.New(engine.Bus, engine.Pipeline)
	p := tea.NewProgram(model, tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	handle := engine.Start(runCtx, input)

	// Handle shutdown
	select {
	case err := <-errChan:
		// Normal TUI exit (user pressed 'q'); a run still going is cancelled
		if err != nil {
			logger.Error("tui exited with error", zap.Error(err))
		}
		cancelRun()
		return engine.Wait(ctx, handle)

	case <-ctx.Done():
		// Call stop() to restore default signal handling (double Ctrl+C = force exit)
		stop()
		if err := engine.Processes.KillAll(); err != nil {
			logger.Warn("failed to kill subprocesses", zap.Error(err))
		}
		p.Quit()

		snap, runErr := engine.Wait(ctx, handle)
		waitForTUI(errChan, logger)
		return snap, runErr

	case <-handle.Done():
		snap, runErr := engine.Wait(ctx, handle)
		select {
		case err := <-errChan:
			if err != nil {
				logger.Error("tui exited with error", zap.Error(err))
			}
		case <-ctx.Done():
			stop()
			p.Quit()
			waitForTUI(errChan, logger)
		}
		return snap, runErr
	}
}

func waitForTUI(errChan <-chan error, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("tui exit error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
}

// serveMetrics exposes reg on addr under /metrics until the returned
// function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printSnapshot(w io.Writer, snap scheduler.RunSnapshot) {
	fmt.Fprintf(w, "Run %s (%s): %s in %v, %.0f%% settled\n",
		snap.ID, snap.Pipeline, snap.Status, snap.FinishedAt.Sub(snap.StartedAt).Round(time.Millisecond), snap.Progress)
	printModules(w, persistence.FromSnapshot(snap).Modules)
	if snap.Err != nil {
		fmt.Fprintf(w, "\nError: %v\n", snap.Err)
	}
}
