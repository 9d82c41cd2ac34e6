package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Mark a live class as started or stopped",
	Long: `While a live class is marked as started, a running "lms-session monitor"
does not log the user out for inactivity. Stopping it resumes the idle
countdown, and a session already idle past the timeout ends at once.`,
}

var liveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Mark a live class as in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.svc.StartLive(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Live class started; inactivity logout suspended.")
			return nil
		})
	},
}

var liveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Clear the live class flag",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.svc.EndLive(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Live class stopped.")
			return nil
		})
	},
}

func init() {
	liveCmd.AddCommand(liveStartCmd, liveStopCmd)
	rootCmd.AddCommand(liveCmd)
}
