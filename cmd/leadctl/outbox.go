package main

import (
	"fmt"
	"sort"

	"engagement_backend/internal/outbox"

	"github.com/spf13/cobra"
)

func newOutboxCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the escalation outbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Count outbox rows by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			counts, err := outbox.New(pool).CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", s, counts[outbox.Status(s)])
			}
			return nil
		},
	})
	return cmd
}
