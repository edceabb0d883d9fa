package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	conflictStatus   string
	conflictProvider string
	resolveUse     string
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's conflicts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		conflicts, err := reg.Sync.ListConflicts(cmd.Context(), flagUser, conflictProvider, conflictStatus)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tEXTERNAL ID\tLOCAL ID\tSTATUS\tDETECTED")
		for _, c := range conflicts {
			local := "-"
			if c.LocalID != nil {
				local = fmt.Sprint(*c.LocalID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.PublicID, c.Provider, c.ExternalID, local, c.Status, c.DetectedAt.UTC().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Apply the local or remote version of a pending conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		res, err := reg.Sync.ResolveConflict(cmd.Context(), flagUser, args[0], resolveUse)
		if err != nil {
			return err
		}
		fmt.Printf("Conflict %s resolved with the %s version (task %d).\n", res.Conflict.PublicID, resolveUse, res.Task.ID)
		return nil
	},
}

func init() {
	addUserFlag(conflictsListCmd)
	conflictsListCmd.Flags().StringVar(&conflictProvider, "provider", "", "filter by provider")
	conflictsListCmd.Flags().StringVar(&conflictStatus, "status", "pending", "filter by status (pending, resolved, or empty for all)")

	addUserFlag(conflictsResolveCmd)
	conflictsResolveCmd.Flags().StringVar(&resolveUse, "use", "", "version to keep: local or remote")
	_ = conflictsResolveCmd.MarkFlagRequired("use")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
}
