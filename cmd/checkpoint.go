package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bnema/upsample-dispatch/internal/adapters/render/report"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/spf13/cobra"
)

func newCheckpointCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect batch checkpoints",
	}

	cmd.AddCommand(newCheckpointListCmd(app))

	return cmd
}

func newCheckpointListCmd(app *app) *cobra.Command {
	var checkpoint string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the outcomes recorded in a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.wire(cmd); err != nil {
				return err
			}
			defer app.close()

			path := app.checkpointPath(checkpoint)
			store, err := openCheckpoint(path)
			if err != nil {
				return err
			}
			defer store.Close()

			loaded, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			records := sortedRecords(loaded)

			if asJSON {
				out := make([]recordJSON, 0, len(records))
				for _, record := range records {
					out = append(out, newRecordJSON(record))
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			rendered, err := report.RenderRecords(path, records)
			if err != nil {
				return fmt.Errorf("render checkpoint: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint file (default: run.checkpoint from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

// sortedRecords orders records by completion time, then identifier.
func sortedRecords(loaded map[string]domain.CheckpointRecord) []domain.CheckpointRecord {
	records := make([]domain.CheckpointRecord, 0, len(loaded))
	for _, record := range loaded {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CompletedAt.Equal(records[j].CompletedAt) {
			return records[i].CompletedAt.Before(records[j].CompletedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records
}
