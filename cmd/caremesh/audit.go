package caremesh

import (
	"context"
	"fmt"
	"time"

	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/store"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	RunE:  runAudit,
}

var (
	auditEventType string
	auditTaskID    string
	auditAgent     string
	auditLimit     int
	auditSince     string
)

func init() {
	auditCmd.Flags().StringVar(&auditEventType, "type", "", "filter by event type")
	auditCmd.Flags().StringVar(&auditTaskID, "task", "", "filter by task ID")
	auditCmd.Flags().StringVar(&auditAgent, "agent", "", "filter by agent name")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show entries since (e.g. 2024-01-01)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = db.Close() }()

	auditLog, err := audit.New(db.DB())
	if err != nil {
		return fmt.Errorf("initializing audit logger: %w", err)
	}

	filter := audit.Filter{
		EventType: auditEventType,
		TaskID:    auditTaskID,
		Agent:     auditAgent,
		Limit:     auditLimit,
	}

	if auditSince != "" {
		t, err := time.Parse("2006-01-02", auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use YYYY-MM-DD): %w", err)
		}
		filter.Since = t
	}

	entries, err := auditLog.Query(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp.Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %-16s task=%-36s agent=%-10s actor=%-11s %s\n",
			ts, e.EventType, e.TaskID, e.Agent, e.Actor, e.Detail,
		)
	}

	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}
