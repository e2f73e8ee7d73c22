package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/cinema-etl/internal/adapters/driving/http"
	"github.com/custodia-labs/cinema-etl/internal/config"
	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/worker"
)

// rootOptions are the persistent flags
type rootOptions struct {
	configFile string
	envLoaded  bool
}

func newRootCmd(envLoaded bool) *cobra.Command {
	opts := &rootOptions{envLoaded: envLoaded}

	root := &cobra.Command{
		Use:   "cinema-etl",
		Short: "Incremental PostgreSQL to Elasticsearch sync for the movie catalogue",
		Long: `cinema-etl polls the content schema for rows changed since a stored
checkpoint, rebuilds the affected movie, person and genre documents and
upserts them into Elasticsearch. Delivery is at-least-once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "settings file (default: ./settings.{yaml,ini,json})")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newAllCmd(opts),
		newIndicesCmd(opts),
		newCheckpointsCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// setup loads configuration and installs the process logger.
func (o *rootOptions) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Options{File: o.configFile})
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	if !o.envLoaded {
		logger.Debug("no .env file found, using process environment")
	}
	return cfg, logger, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger, needs{source: true, index: true, checkpoints: true, lock: !once})
			if err != nil {
				return err
			}
			defer a.Close()

			if once {
				return runOnce(cmd.Context(), a)
			}
			return runWorker(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "make a single pass over every stream and exit")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API without running the extraction loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger, needs{source: true, index: true, checkpoints: true})
			if err != nil {
				return err
			}
			defer a.Close()

			server := http.NewServer(a.httpConfig(), a.authService, a.coordinator, a.dependencies(), logger)
			return server.Start(cmd.Context())
		},
	}
}

func newAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run the extraction loop and the status API in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger, needs{source: true, index: true, checkpoints: true, lock: true})
			if err != nil {
				return err
			}
			defer a.Close()

			server := http.NewServer(a.httpConfig(), a.authService, a.coordinator, a.dependencies(), logger)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return runWorker(ctx, a) })
			g.Go(func() error { return server.Start(ctx) })
			return g.Wait()
		},
	}
}

func newIndicesCmd(opts *rootOptions) *cobra.Command {
	indices := &cobra.Command{
		Use:   "indices",
		Short: "Manage the search indices",
	}

	var attempts int
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create every missing index with its settings and mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if attempts > 0 {
				cfg.Retry.MaxAttempts = attempts
			}

			a, err := newApp(cmd.Context(), cfg, logger, needs{index: true})
			if err != nil {
				return err
			}
			defer a.Close()

			for _, index := range indexNames() {
				if err := ensureWithRetry(cmd.Context(), a, index); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), index, "ok")
			}
			return nil
		},
	}
	ensure.Flags().IntVar(&attempts, "attempts", 5, "give up after this many attempts per index (0 keeps the configured policy)")

	indices.AddCommand(ensure)
	return indices
}

func newCheckpointsCmd(opts *rootOptions) *cobra.Command {
	checkpoints := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect stored checkpoints",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the checkpoint of every stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, logger, needs{checkpoints: true})
			if err != nil {
				return err
			}
			defer a.Close()

			values, err := a.checkpoints.All(cmd.Context())
			if err != nil {
				return err
			}
			return printCheckpoints(cmd, values)
		},
	}

	checkpoints.AddCommand(list)
	return checkpoints
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if cfg.HTTP.JWTSecret == config.DevelopmentJWTSecret {
				logger.Warn("signing with the development secret, set JWT_SECRET")
			}

			a, err := newApp(cmd.Context(), cfg, logger, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.authService.IssueToken(cmd.Context(), subject, domain.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the dashboard or operator name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleViewer), "viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token validity")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// runWorker holds the coordinator lock and runs the loop until ctx ends.
func runWorker(ctx context.Context, a *app) error {
	w := worker.NewWorker(worker.WorkerConfig{
		Coordinator: a.coordinator,
		Lock:        a.lock,
		LockName:    a.cfg.LockName(),
		LockTTL:     a.cfg.Lock.TTL,
		Logger:      a.logger,
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	w.Stop()
	return nil
}

func runOnce(ctx context.Context, a *app) error {
	results, err := a.coordinator.RunCycle(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for _, r := range results {
		a.logger.Info("stream synced",
			"stream", r.Stream.CheckpointKey,
			"checkpoint", r.Checkpoint,
			"published", r.Stats.DocumentsPublished,
			"stalled", r.Stalled,
		)
	}
	return nil
}

func ensureWithRetry(ctx context.Context, a *app, index string) error {
	policy := retryPolicy(a)
	return policy.Do(ctx, "ensure index "+index, func(ctx context.Context) error {
		return a.publisher.EnsureIndex(ctx, index)
	})
}

func indexNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range domain.DefaultStreams() {
		if !seen[s.TargetIndex] {
			seen[s.TargetIndex] = true
			out = append(out, s.TargetIndex)
		}
	}
	return out
}

// printCheckpoints lists every stream key, marking those never written.
func printCheckpoints(cmd *cobra.Command, values map[string]string) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Key", "Stream", "Checkpoint"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	known := make(map[string]bool)
	for _, s := range domain.DefaultStreams() {
		known[s.CheckpointKey] = true
		value, ok := values[s.CheckpointKey]
		if !ok {
			value = "(unset)"
		}
		table.Append([]string{s.CheckpointKey, s.SourceTable + " -> " + s.TargetIndex, value})
	}

	var extra []string
	for key := range values {
		if !known[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		table.Append([]string{key, "(unknown)", values[key]})
	}
	table.Render()
	return nil
}
