package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"car-assistant/internal/sessions"
)

func newReconcileCommand(opts *options) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair remote storage after failed uploads and deletes",
		Long: `Deletes remote chats that were removed on this device but whose remote
delete failed, and uploads local chats the remote mirror never received.
Remote chats this device never saved, such as those from another device,
are listed and kept unless --prune is given. The local list is never
changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, display, err := opts.openScope(cmd)
			if err != nil {
				return err
			}
			defer scope.Close()

			report, err := scope.Sessions.Reconcile(cmd.Context(), sessions.ReconcileOptions{Prune: prune})
			if errors.Is(err, sessions.ErrNoRemote) {
				return fmt.Errorf("%w: sign in with --user and configure --backend", err)
			}
			if err != nil {
				return err
			}

			for _, id := range report.Uploaded {
				display.PrintInfo("uploaded " + id)
			}
			for _, id := range report.Deleted {
				display.PrintInfo("deleted orphan " + id)
			}
			for _, id := range report.Kept {
				display.PrintInfo("kept remote-only " + id)
			}

			failed := make([]string, 0, len(report.Failed))
			for id := range report.Failed {
				failed = append(failed, id)
			}
			sort.Strings(failed)
			for _, id := range failed {
				display.PrintWarning(fmt.Sprintf("%s: %v", id, report.Failed[id]))
			}

			display.PrintSuccess(fmt.Sprintf("Reconciled: %d uploaded, %d deleted, %d kept, %d failed",
				len(report.Uploaded), len(report.Deleted), len(report.Kept), len(report.Failed)))
			if len(failed) > 0 {
				return fmt.Errorf("%d remote operations failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "also delete remote chats missing on this device, including chats saved elsewhere")
	return cmd
}
