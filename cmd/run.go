package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/upsample-dispatch/internal/adapters/batchfile"
	"github.com/bnema/upsample-dispatch/internal/adapters/render/report"
	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/spf13/cobra"
)

var errItemsFailed = errors.New("batch finished with failed items")

func newRunCmd(app *app) *cobra.Command {
	var checkpoint string
	var progress bool
	var asJSON bool
	var strict bool

	cmd := &cobra.Command{
		Use:   "run <batch-file>",
		Short: "Dispatch a batch of prompts to the remote upsampler",
		Long:  "Run every prompt of a batch file (.toml, .yaml or .yml) through the remote upsampler. Items already recorded in the checkpoint are skipped; SIGINT or SIGTERM stops the batch according to remote.cancel_policy.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.wire(cmd); err != nil {
				return err
			}
			defer app.close()

			return runBatch(cmd, app, args[0], runOptions{
				checkpoint: checkpoint,
				progress:   progress,
				asJSON:     asJSON,
				strict:     strict,
			})
		},
	}

	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint file (default: run.checkpoint from config)")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a live progress spinner")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any item failed")

	return cmd
}

type runOptions struct {
	checkpoint string
	progress   bool
	asJSON     bool
	strict     bool
}

func runBatch(cmd *cobra.Command, app *app, batchPath string, opts runOptions) error {
	specs, err := batchfile.Load(batchPath)
	if err != nil {
		return err
	}
	if err := app.cfg.RequireRemote(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openCheckpoint(app.checkpointPath(opts.checkpoint))
	if err != nil {
		return err
	}
	defer store.Close()

	orch, err := app.orchestrator(ctx, store)
	if err != nil {
		return err
	}

	var result domain.BatchResult
	var runErr error
	run := func(ctx context.Context, onEvent func(application.Event)) error {
		orch.OnEvent(onEvent)
		result, runErr = orch.RunBatch(ctx, specs)
		return nil
	}

	if opts.progress && !opts.asJSON {
		if err := runBatchSpinner(ctx, cmd.ErrOrStderr(), len(specs), run); err != nil {
			return err
		}
	} else {
		_ = run(ctx, func(application.Event) {})
	}

	if err := writeBatchResult(cmd, result, opts.asJSON); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if opts.strict && len(result.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errItemsFailed, len(result.Failed), result.Total())
	}

	return nil
}

func writeBatchResult(cmd *cobra.Command, result domain.BatchResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(newBatchJSON(result))
	}

	rendered, err := report.RenderBatch(result)
	if err != nil {
		return fmt.Errorf("render batch: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
