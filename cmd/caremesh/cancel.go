package caremesh

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a router task and every agent call it started",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := routerClient(cfg).CancelTask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("canceling %s: %w", args[0], err)
	}
	fmt.Printf("task %s: %s\n", task.ID, task.State())
	return nil
}
