package caremesh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of the CareMesh gateway",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := gatewayURL(cfg)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(base + "/health")
	if err != nil {
		fmt.Println("status: gateway is not running")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("status: gateway returned %s\n", resp.Status)
		return nil
	}
	var health struct {
		Agents []string `json:"agents"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	fmt.Printf("status: gateway is healthy (local agents: %s)\n", strings.Join(health.Agents, ", "))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	card, err := routerClient(cfg).FetchCard(ctx)
	if err != nil {
		fmt.Printf("router: card unavailable: %v\n", err)
		return nil
	}
	fmt.Printf("router: %s v%s (streaming=%t)\n", card.Name, card.Version, card.Capabilities.Streaming)
	return nil
}
