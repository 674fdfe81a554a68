package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/bnema/upsample-dispatch/internal/adapters/batchfile"
	"github.com/bnema/upsample-dispatch/internal/adapters/render/report"
	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/spf13/cobra"
)

func newEstimateCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "estimate <batch-file>",
		Short: "Show the token estimate and downsampling decision per item",
		Long:  "Estimate the upsampler token cost of every item in a batch file and show whether it proceeds as-is or gets a downsampled hint. Nothing is uploaded or executed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.wire(cmd); err != nil {
				return err
			}
			defer app.close()

			specs, err := batchfile.Load(args[0])
			if err != nil {
				return err
			}
			budget, err := app.cfg.TokenBudget()
			if err != nil {
				return err
			}

			rows, err := application.EstimateBatch(cmd.Context(), budget, app.media, specs)
			if err != nil {
				return err
			}

			if asJSON {
				out := make([]estimateJSON, 0, len(rows))
				for _, row := range rows {
					out = append(out, newEstimateJSON(row))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			rendered, err := report.RenderEstimates(rows, budget)
			if err != nil {
				return fmt.Errorf("render estimate: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}
