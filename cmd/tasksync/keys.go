package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage credential encryption keys",
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt every stored credential with the active key",
	Long: `Re-encrypt every integration whose tokens were sealed with an older key.

Add the new key to ENCRYPTION_KEYS, point ENCRYPTION_ACTIVE_KEY at it, run
this command, then remove the old key once it reports nothing left to rotate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		n, err := reg.Credentials.Rotate(cmd.Context())
		fmt.Printf("Rotated %d integration(s) to key %s.\n", n, reg.Keys.ActiveKeyID())
		return err
	},
}

func init() {
	keysCmd.AddCommand(keysRotateCmd)
}
