package app

import (
	"github.com/spf13/cobra"

	signupctl "github.com/bitu-idm/dirsync/internal/db/controller/signup"
)

func init() { //nolint: gochecknoinits
	provisionCmd.Flags().BoolVar(&runNow, "now", false, "process the outbox before returning")

	rootCmd.AddCommand(provisionCmd)
}

var provisionCmd = &cobra.Command{
	Use:   "provision <signup-id>",
	Short: "Confirm a signup and schedule the account creation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon()
		if err != nil {
			return err
		}

		s, err := signupctl.Activate(d.DB, args[0])
		if err != nil {
			return err
		}

		cmd.Printf("signup %s for %s activated\n", s.ID, s.UID)

		return drain(cmd, d)
	},
}
