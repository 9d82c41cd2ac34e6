package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectm/lms-session/internal/adapter/outbound/state"
	"github.com/projectm/lms-session/internal/config"
	"github.com/projectm/lms-session/internal/service"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all persisted session state",
	Long: `Remove the session store and its companion files.

For the file driver this is the session file with its backup, lock and
temporary files. For the sqlite driver it is the database with its WAL and
shared-memory files. The memory driver keeps nothing on disk.

Unlike "logout", reset works without a valid configuration for the API and
removes the store even when it is corrupt.

Examples:
  # Reset with interactive confirmation
  lms-session reset

  # Reset without prompting
  lms-session reset --force`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

// resetTargets lists the files a store driver may leave behind.
func resetTargets(driver, path string) []resetTarget {
	switch driver {
	case service.DriverFile, "":
		return []resetTarget{
			{path, "session file"},
			{path + ".bak", "session backup"},
			{path + ".lock", "lock file"},
			{path + ".tmp", "partial write"},
		}
	case service.DriverSQLite:
		return []resetTarget{
			{path, "session database"},
			{path + "-wal", "write-ahead log"},
			{path + "-shm", "shared memory index"},
		}
	default:
		return nil
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	stderr := cmd.ErrOrStderr()

	// The API section may be incomplete; only storage matters here.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return err
	}

	var existing []resetTarget
	for _, t := range resetTargets(cfg.Storage.Driver, cfg.Storage.Path) {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(stderr, "Nothing to reset: no session files found.")
		return nil
	}

	fmt.Fprintln(stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce && !confirm(cmd.InOrStdin(), stderr) {
		fmt.Fprintln(stderr, "Aborted.")
		return nil
	}

	if cfg.Storage.Driver == service.DriverFile {
		// The store knows every companion file it writes.
		if err := state.NewFileStore(cfg.Storage.Path, nil).Remove(); err != nil {
			return fmt.Errorf("remove session files: %w", err)
		}
		for _, t := range existing {
			fmt.Fprintf(stderr, "  Removed %s\n", t.path)
		}
	} else {
		var failed int
		for _, t := range existing {
			if err := os.Remove(t.path); err != nil {
				fmt.Fprintf(stderr, "  ERROR removing %s: %v\n", t.path, err)
				failed++
			} else {
				fmt.Fprintf(stderr, "  Removed %s\n", t.path)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d file(s) could not be removed", failed)
		}
	}

	fmt.Fprintln(stderr, "\nReset complete.")
	return nil
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "\nProceed? [y/N] ")
	var answer string
	fmt.Fscanln(in, &answer) //nolint:errcheck // interactive prompt, error irrelevant
	return answer == "y" || answer == "Y"
}
