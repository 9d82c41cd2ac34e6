// Package cmd provides the CLI commands for lms-session.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectm/lms-session/internal/config"
)

var (
	cfgFile string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "lms-session",
	Short: "lms-session - LMS client session manager",
	Long: `lms-session keeps an LMS API session alive from the terminal.

It stores the access and refresh tokens issued at login, attaches them to
API calls, refreshes an expired access token once no matter how many calls
fail together, and logs the user out after a period of inactivity unless a
live class is in progress.

Quick start:
  1. Create a config file: lms-session.yaml (api.base_url at minimum)
  2. Run: lms-session login --email you@example.com
  3. Run: lms-session call GET /api/courses

Configuration:
  Config is loaded from lms-session.yaml in the current directory,
  $HOME/.lms-session/, or /etc/lms-session/.

  Environment variables can override config values with the LMS_SESSION_ prefix.
  Example: LMS_SESSION_API_BASE_URL=https://lms.example.com

Commands:
  login       Sign in and store the session tokens
  register    Create an account and sign in
  logout      End the session
  whoami      Show the signed-in user
  call        Send an authenticated API request
  status      Show the local session state
  live        Mark a live class as started or stopped
  monitor     Watch for inactivity and log out when idle
  reset       Remove all persisted session state
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./lms-session.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, local backend default)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
