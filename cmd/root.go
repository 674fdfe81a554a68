package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "upd",
		Short:         "Upsample dispatch (upd): run prompt-upsampling batches on a remote GPU host",
		Long:          "upd (upsample dispatch) fits each video prompt into the upsampler's token budget, generates downsampled hints where needed, runs the upsampler on a remote host over SSH one job at a time, and checkpoints every outcome so an interrupted batch resumes where it stopped.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Config file (default: ./upd.toml or ~/.config/upd/upd.toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(app),
		newEstimateCmd(app),
		newCheckpointCmd(app),
		newSecretCmd(app),
	)

	return rootCmd
}
