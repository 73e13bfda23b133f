package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/services"
)

// pushJob is the Pushgateway job name of one-shot sweeps.
const pushJob = "medreminder_run"

func newRunCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one dispatch sweep and exit",
		Long: `run sends every due reminder once and marks it delivered, whatever the
channels reported. Exit status: 0 completed, 1 fatal error, 2 another sweep
holds the run claim.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				if err := config.CheckRunTimeout(timeout, cfg.Claim); err != nil {
					return fmt.Errorf("--timeout: %w", err)
				}
				cfg.Dispatch.RunTimeout = timeout
			}

			a, err := newApp(cmd.Context(), cfg, opts.stdout, opts.stderr)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(context.Background()); cerr != nil {
					a.logger.Warn().Err(cerr).Msg("shutdown")
				}
			}()
			return runOnce(cmd.Context(), a)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound the sweep (overrides RUN_TIMEOUT)")
	return cmd
}

// runOnce performs the sweep and pushes its metrics when a Pushgateway is
// configured. A failed push is logged and does not change the exit code.
func runOnce(ctx context.Context, a *app) error {
	runCtx := ctx
	if a.cfg.Dispatch.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.Dispatch.RunTimeout)
		defer cancel()
	}

	_, err := a.dispatcher.Run(runCtx)

	if url := a.cfg.Dispatch.PushgatewayURL; url != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if perr := a.metrics.Push(pctx, url, pushJob); perr != nil {
			a.logger.Warn().Err(perr).Str("pushgateway", url).Msg("metrics push failed")
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrRunInProgress):
		return &exitError{code: exitRunHeld, err: err}
	default:
		return &exitError{code: exitFatal, err: err}
	}
}
