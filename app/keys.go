package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bitu-idm/dirsync/internal/db/controller/keys"
	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
)

func init() { //nolint: gochecknoinits
	keysAddCmd.Flags().StringVar(&keyComment, "comment", "", "comment stored with the key")
	keysAddCmd.Flags().StringVar(&keySubsystem, "activate", "", "activate the key in this subsystem")
	keysAddCmd.Flags().BoolVar(&runNow, "now", false, "process the outbox before returning")

	keysCmd.AddCommand(keysAddCmd, keysListCmd)
	rootCmd.AddCommand(keysCmd)
}

var (
	keyComment   string
	keySubsystem string

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Manage ssh public keys",
	}

	keysAddCmd = &cobra.Command{
		Use:   "add <username> <public-key-file>",
		Short: "Upload an ssh public key for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			u, err := userctl.GetByUsername(d.DB, args[0])
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			k, err := keys.Create(d.DB, u.ID, string(raw), keyComment, d.KeyPolicy())
			if err != nil {
				return err
			}

			if keySubsystem != "" {
				if k, err = keys.Activate(d.DB, k.ID, keySubsystem); err != nil {
					return err
				}
			}

			cmd.Printf("key %d %s stored\n", k.ID, k.Fingerprint)

			return drain(cmd, d)
		},
	}

	keysListCmd = &cobra.Command{
		Use:   "list <username>",
		Short: "List the ssh public keys of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			u, err := userctl.GetByUsername(d.DB, args[0])
			if err != nil {
				return err
			}

			all, err := keys.ListForUser(d.DB, u.ID)
			if err != nil {
				return err
			}

			for _, k := range all {
				state := "unclaimed"

				switch {
				case k.Active:
					state = "active in " + k.Subsystem
				case k.Subsystem != "":
					state = "retired from " + k.Subsystem
				}

				cmd.Printf("%d\t%s\t%s\t%s\n", k.ID, k.Fingerprint, state, k.Comment)
			}

			return nil
		},
	}
)
