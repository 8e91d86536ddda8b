package caremesh

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/igorsilveira/caremesh/pkg/a2a"
	"github.com/igorsilveira/caremesh/pkg/config"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the CareMesh installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("CareMesh Doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checks := []checkResult{
		checkDataDir(),
		checkConfig(),
		checkDatabase(cfg),
		checkBackend(cfg),
		checkGatewayHealth(cfg),
	}
	checks = append(checks, checkRemoteAgents(cfg)...)

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() checkResult {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return checkResult{"Config file", true, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	return checkResult{"Config file", true, path}
}

func checkDatabase(cfg *config.Config) checkResult {
	info, err := os.Stat(cfg.Store.DSN)
	if err != nil {
		return checkResult{"Database", false, fmt.Sprintf("%s not found (will be created on first start)", cfg.Store.DSN)}
	}
	return checkResult{"Database", true, fmt.Sprintf("%s (%d KB)", cfg.Store.DSN, info.Size()/1024)}
}

func checkBackend(cfg *config.Config) checkResult {
	switch cfg.Backend.Mode {
	case config.BackendHTTP:
		return checkResult{"Record backend", true, "streamable HTTP at " + cfg.Backend.URL}
	case config.BackendCommand:
		return checkResult{"Record backend", true, "subprocess " + cfg.Backend.Command}
	default:
		return checkResult{"Record backend", true, "in process"}
	}
}

func checkGatewayHealth(cfg *config.Config) checkResult {
	url := gatewayURL(cfg) + "/readyz"

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return checkResult{"Gateway", false, "not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Gateway", true, fmt.Sprintf("ready at %s", gatewayURL(cfg))}
	}
	return checkResult{"Gateway", false, fmt.Sprintf("not ready (status %d)", resp.StatusCode)}
}

func checkRemoteAgents(cfg *config.Config) []checkResult {
	names := make([]string, 0, len(cfg.Agents))
	for name, a := range cfg.Agents {
		if a.URL != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var out []checkResult
	for _, name := range names {
		a := cfg.Agents[name]
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		card, err := a2a.NewClient(a2a.ClientConfig{Name: name, BaseURL: a.URL, AuthToken: a.AuthToken}).FetchCard(ctx)
		cancel()
		label := "Agent " + name
		if err != nil {
			out = append(out, checkResult{label, false, fmt.Sprintf("%s unreachable: %v", a.URL, err)})
			continue
		}
		out = append(out, checkResult{label, true, fmt.Sprintf("%s v%s at %s", card.Name, card.Version, a.URL)})
	}
	return out
}
