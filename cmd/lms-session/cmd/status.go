package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local session state",
	Long: `Show whether a session is stored, token fingerprints, the last recorded
activity, the time left before an inactivity logout and the live class flag.

Tokens are never printed, only a short fingerprint of each.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	addOutputFlag(statusCmd, &statusOutput)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		st, err := a.svc.Status(ctx)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), statusOutput, st)
	})
}
