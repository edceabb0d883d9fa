package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
)

var syncJSON bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation for a user and provider",
	Long: `Run one reconciliation between the local store and the provider.

The run takes the same lock as the web app and the job queue, so it fails
with "sync already in progress" while another run is active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !integrations.IsSupported(flagProvider) {
			return fmt.Errorf("unsupported provider %q", flagProvider)
		}
		reg, err := setup(cmd.Context())
		if err != nil {
			return err
		}

		res := reg.Sync.Sync(cmd.Context(), flagUser, flagProvider)
		if syncJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			s := res.Stats
			fmt.Printf("status:    %s\n", res.Status)
			fmt.Printf("duration:  %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
			fmt.Printf("lists:     %d pulled, %d pushed, %d updated, %d deleted\n", s.ListsPulled, s.ListsPushed, s.ListsUpdated, s.ListsDeleted)
			fmt.Printf("tasks:     %d pulled, %d pushed, %d updated, %d deleted\n", s.TasksPulled, s.TasksPushed, s.TasksUpdated, s.TasksDeleted)
			fmt.Printf("conflicts: %d, skipped: %d, errors: %d\n", s.Conflicts, s.Skipped, s.Errors)
		}
		if !res.OK() {
			return fmt.Errorf("sync failed: %s", res.Error)
		}
		return nil
	},
}

func init() {
	addUserFlag(syncCmd)
	addProviderFlag(syncCmd)
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the run result as JSON")
}
