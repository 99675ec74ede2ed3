package app

import (
	"github.com/spf13/cobra"

	"github.com/bitu-idm/dirsync/internal/daemon"
	"github.com/bitu-idm/dirsync/internal/db/controller/outbox"
)

func init() { //nolint: gochecknoinits
	eventsCmd.AddCommand(eventsStatsCmd, eventsRequeueCmd)
	rootCmd.AddCommand(eventsCmd)
}

var (
	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Inspect and repair the outbox",
	}

	eventsStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print the number of pending and parked events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			pending, parked, err := outbox.Counts(d.DB)
			if err != nil {
				return err
			}

			cmd.Printf("pending: %d\nparked:  %d\n", pending, parked)

			return nil
		},
	}

	eventsRequeueCmd = &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Reset a parked event so the runner picks it up again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDaemon()
			if err != nil {
				return err
			}

			if err = outbox.Requeue(d.DB, args[0]); err != nil {
				return err
			}

			cmd.Printf("event %s requeued\n", args[0])

			return nil
		},
	}
)

// drain runs the outbox until it is empty when --now was given.
func drain(cmd *cobra.Command, d *daemon.Daemon) error {
	if !runNow {
		return nil
	}

	total := 0

	for {
		n, err := d.Runner.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		total += n

		// retried events are not due yet and end the loop
		if n == 0 {
			break
		}

		pending, _, err := outbox.Counts(d.DB)
		if err != nil {
			return err
		}

		if pending == 0 {
			break
		}
	}

	cmd.Printf("%d events processed\n", total)

	return nil
}
