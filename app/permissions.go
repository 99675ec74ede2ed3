package app

import (
	"time"

	"github.com/spf13/cobra"

	userctl "github.com/bitu-idm/dirsync/internal/db/controller/user"
	"github.com/bitu-idm/dirsync/internal/permissions"
	"github.com/bitu-idm/dirsync/internal/subsystem"
)

func init() { //nolint: gochecknoinits
	permissionsExpireCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the requests without cancelling them")
	permissionsExpireCmd.Flags().IntVar(&expireDays, "days", 0, "age in days, defaults to permissions.expireAfterDays")

	permissionsRequestCmd.Flags().StringVar(&requestComment, "comment", "", "justification for the request")
	permissionsRequestCmd.Flags().StringVar(&requestTicket, "ticket", "", "reference to an external ticket")
	permissionsDecideCmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	permissionsDecideCmd.Flags().StringVar(&requestComment, "comment", "", "comment stored with the decision")

	permissionsCmd.AddCommand(
		permissionsListCmd,
		permissionsRequestCmd,
		permissionsDecideCmd,
		permissionsExpireCmd,
		permissionsValidateCmd,
	)
	rootCmd.AddCommand(permissionsCmd)
}

var (
	dryRun         bool
	expireDays     int
	requestComment string
	requestTicket  string
	reject         bool

	permissionsCmd = &cobra.Command{
		Use:   "permissions",
		Short: "Maintain permission requests",
	}

	permissionsListCmd = &cobra.Command{
		Use:   "list <username>",
		Short: "List held and requestable permissions of a user",
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

			set := permissions.NewSet(d.Registry)

			existing, err := set.Existing(cmd.Context(), u)
			if err != nil {
				return err
			}

			available, err := set.Available(cmd.Context(), u)
			if err != nil {
				return err
			}

			show := func(title string, perms []subsystem.Permission) {
				cmd.Println(title)

				for _, p := range perms {
					cmd.Printf("  %s/%s\t%s\t%s\n", p.Subsystem, p.Key, p.State, p.Description)
				}
			}

			show("member of:", existing)
			show("requestable:", available)

			return nil
		},
	}

	permissionsRequestCmd = &cobra.Command{
		Use:   "request <username> <subsystem> <group>",
		Short: "File a permission request on behalf of a user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			u, err := userctl.GetByUsername(d.DB, args[0])
			if err != nil {
				return err
			}

			r, err := d.Permissions.Submit(cmd.Context(), u, args[1], args[2], requestComment, requestTicket)
			if err != nil {
				return err
			}

			cmd.Printf("request %s filed\n", r.ID)

			return nil
		},
	}

	permissionsDecideCmd = &cobra.Command{
		Use:   "decide <request-id> <manager>",
		Short: "Record the approval or rejection of a manager",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			if err = d.Permissions.Log(cmd.Context(), args[0], args[1], !reject, requestComment); err != nil {
				return err
			}

			cmd.Printf("decision of %s recorded\n", args[1])

			return nil
		},
	}

	permissionsExpireCmd = &cobra.Command{
		Use:   "expire",
		Short: "Cancel pending permission requests older than the configured lifetime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			days := expireDays
			if days == 0 {
				days = cfg.Permissions.ExpireAfterDays
			}

			expired, err := d.Permissions.ExpirePending(cmd.Context(), time.Duration(days)*24*time.Hour, dryRun)
			if err != nil {
				return err
			}

			for _, r := range expired {
				cmd.Printf("%s\t%s/%s\tuser %d\t%s\n", r.ID, r.Subsystem, r.Key, r.UserID, r.CreatedAt.Format(time.DateOnly))
			}

			verb := "cancelled"
			if dryRun {
				verb = "would be cancelled"
			}

			cmd.Printf("%d requests %s\n", len(expired), verb)

			return nil
		},
	}

	permissionsValidateCmd = &cobra.Command{
		Use:   "validate <request-id>",
		Short: "Evaluate the rules of a pending request now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			status, err := d.Permissions.Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cmd.Printf("request %s is %s\n", args[0], status)

			return nil
		},
	}
)
