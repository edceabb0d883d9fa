// Command tasksync runs sync, conflict and key maintenance tasks against the
// TaskFox database without the web server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/database"
	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
	"github.com/ManuelReschke/TaskFox/internal/pkg/integrations"
)

var (
	flagUser     uint
	flagProvider string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:           "tasksync",
	Short:         "TaskFox external task sync tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			log.SetLevel(log.LevelDebug)
		} else {
			log.SetLevel(log.LevelWarn)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show info and debug logs")
	rootCmd.AddCommand(syncCmd, conflictsCmd, keysCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup connects the database and wires the sync services.
func setup(ctx context.Context) (*integrations.Registry, error) {
	env.SetupEnvFile()
	database.SetupDatabase()
	return integrations.Setup(ctx, database.GetDB())
}

func addUserFlag(cmd *cobra.Command) {
	cmd.Flags().UintVar(&flagUser, "user", 0, "local user id")
	_ = cmd.MarkFlagRequired("user")
}

func addProviderFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagProvider, "provider", models.ExternalProviderGoogleTasks, "external provider")
}
