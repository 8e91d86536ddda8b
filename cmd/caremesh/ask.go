package caremesh

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/config"
	"github.com/igorsilveira/caremesh/pkg/router"
	"github.com/igorsilveira/caremesh/pkg/tui"
	"github.com/spf13/cobra"
)

var (
	taskStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	stepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one request to the router and print the merged answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var (
	askTimeout time.Duration
	askQuiet   bool
)

func init() {
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "give up after this long")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "only print the final answer")
}

func routerClient(cfg *config.Config) *a2a.Client {
	return a2a.NewClient(a2a.ClientConfig{
		Name:      router.Name,
		BaseURL:   gatewayURL(cfg),
		AuthToken: cfg.Gateway.AuthToken,
	})
}

// ask streams one request through the router. Interrupting cancels the
// router task and with it every agent call.
func ask(ctx context.Context, c *a2a.Client, text string, progress func(string)) (a2a.Task, error) {
	msg := a2a.NewTextMessage(a2a.RoleUser, text)
	return a2a.SendStreamed(ctx, c, msg, "", func(task a2a.Task) {
		if task.State() == a2a.TaskStateWorking && task.Status.Message != nil {
			progress(task.Status.Message.Text())
		}
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, askTimeout)
	defer cancelTimeout()

	progress := func(p string) {
		if !askQuiet {
			fmt.Println(stepStyle.Render("… " + p))
		}
	}
	task, err := ask(ctx, routerClient(cfg), strings.Join(args, " "), progress)
	if task.ID != "" && !askQuiet {
		fmt.Println(taskStyle.Render(fmt.Sprintf("task %s: %s", task.ID, task.State())))
	}
	if err != nil {
		return err
	}

	switch {
	case task.Result != nil:
		fmt.Println(tui.RenderAnswer(task.Result.Text()))
	case task.Error != nil:
		return task.Error
	}
	return nil
}
