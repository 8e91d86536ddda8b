package caremesh

import (
	"fmt"

	"github.com/igorsilveira/caremesh/pkg/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "caremesh",
	Short: "CareMesh - a router and specialist agents speaking the agent task protocol",
	Long:  "CareMesh routes patient requests to data, triage and insurance agents over JSON-RPC, streams their progress and merges their answers.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.caremesh/caremesh.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(recordsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of CareMesh",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("caremesh v%s\n", version)
	},
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func gatewayURL(cfg *config.Config) string {
	if cfg.Gateway.ExternalURL != "" {
		return cfg.Gateway.ExternalURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
}
