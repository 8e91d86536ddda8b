package caremesh

import (
	"context"

	"github.com/igorsilveira/caremesh/pkg/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive TUI chat session with the router",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := routerClient(cfg)

	return tui.Run(func(input string, progress func(string)) (string, error) {
		task, err := ask(context.Background(), c, input, progress)
		if err != nil {
			return "", err
		}
		if task.Result == nil {
			if task.Error != nil {
				return "", task.Error
			}
			return "", nil
		}
		return task.Result.Text(), nil
	})
}
