package app

import (
	"fmt"

	"github.com/spf13/cobra"

	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
)

func init() { //nolint: gochecknoinits
	syncCmd.Flags().StringVar(&syncSubsystem, "subsystem", "", "limit the sync to one subsystem")
	syncCmd.Flags().BoolVar(&syncImport, "import", false, "import directory keys into the database instead")
	syncCmd.Flags().BoolVar(&runNow, "now", false, "process the outbox before returning")

	rootCmd.AddCommand(syncCmd)
}

var (
	syncSubsystem string
	syncImport    bool
	runNow        bool

	syncCmd = &cobra.Command{
		Use:   "sync <username>",
		Short: "Schedule an ssh key reconciliation for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			if syncSubsystem != "" && !d.Registry.Has(syncSubsystem) {
				return fmt.Errorf("unknown subsystem %q", syncSubsystem)
			}

			u, err := userctl.GetByUsername(d.DB, args[0])
			if err != nil {
				return err
			}

			schedule := userctl.ScheduleSync
			if syncImport {
				schedule = userctl.ScheduleImport
			}

			if err = schedule(d.DB, u.ID, syncSubsystem); err != nil {
				return err
			}

			cmd.Printf("scheduled for %s\n", u.Username)

			return drain(cmd, d)
		},
	}
)
